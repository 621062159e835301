package wireproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyIsStableAcrossFilterOrdering(t *testing.T) {
	a := Subscription{View: "v/list", Filters: map[string]string{"a": "1", "b": "2"}}
	b := Subscription{View: "v/list", Filters: map[string]string{"b": "2", "a": "1"}}
	require.Equal(t, Key(a), Key(b))
}

func TestKeyDistinguishesKeyPartitionAndFilters(t *testing.T) {
	base := Subscription{View: "v/list"}
	withKey := Subscription{View: "v/list", Key: "m1"}
	withPartition := Subscription{View: "v/list", Partition: "p1"}
	withFilter := Subscription{View: "v/list", Filters: map[string]string{"x": "1"}}

	keys := map[string]bool{}
	for _, s := range []Subscription{base, withKey, withPartition, withFilter} {
		keys[Key(s)] = true
	}
	require.Len(t, keys, 4)
}

func TestKeyTreatsEmptyKeyAsWildcard(t *testing.T) {
	require.Contains(t, Key(Subscription{View: "v/list"}), "\x1f*\x1f")
}

func TestNewSubscribeMessageRoundTripsFields(t *testing.T) {
	take := 1
	msg := NewSubscribeMessage(Subscription{View: "v/list", Key: "m1", Take: &take})
	require.Equal(t, "subscribe", msg.Type)
	require.Equal(t, "v/list", msg.View)
	require.Equal(t, "m1", msg.Key)
	require.NotNil(t, msg.Take)
	require.Equal(t, 1, *msg.Take)
}
