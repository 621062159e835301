package client

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"hyperstack/client/connection/connectiontest"
)

type entity struct {
	N     int      `json:"n"`
	Tags  []string `json:"tags"`
	Extra int      `json:"extra"`
}

func testStack(url string) Stack {
	return Stack{
		Name: "test",
		URL:  url,
		Views: map[string]map[string]ViewDef{
			"widgets": {
				"byID": {Mode: ModeState, View: "widgets/byID"},
				"all":  {Mode: ModeList, View: "widgets/all"},
			},
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "condition not met before timeout")
}

func TestConnectFailsFastWithoutURL(t *testing.T) {
	_, err := Connect(context.Background(), Stack{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConnectUsesStackURLWhenOptsURLAbsent(t *testing.T) {
	srv := connectiontest.New()
	defer srv.Close()

	c, err := Connect(context.Background(), testStack(srv.URL()))
	require.NoError(t, err)
	defer c.Disconnect()

	require.Equal(t, "connected", string(c.State()))
}

func TestStateViewSnapshotThenPatchAppendsArray(t *testing.T) {
	srv := connectiontest.New()
	defer srv.Close()

	c, err := Connect(context.Background(), testStack(srv.URL()), WithFlushInterval(0))
	require.NoError(t, err)
	defer c.Disconnect()

	view, err := State[entity](c, "widgets", "byID")
	require.NoError(t, err)

	srv.Broadcast([]byte(`{"mode":"state","entity":"widgets/byID","op":"snapshot","data":[{"key":"w1","data":{"n":1,"tags":["a"]}}]}`))
	waitFor(t, time.Second, func() bool {
		v, ok, _ := view.Get("w1")
		return ok && v.N == 1
	})

	srv.Broadcast([]byte(`{"mode":"state","entity":"widgets/byID","op":"patch","key":"w1","data":{"tags":["b"]},"append":["tags"]}`))
	waitFor(t, time.Second, func() bool {
		v, _, _ := view.Get("w1")
		return len(v.Tags) == 2
	})

	v, ok, err := view.Get("w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"a", "b"}, v.Tags)
}

func TestListViewGetReflectsUpserts(t *testing.T) {
	srv := connectiontest.New()
	defer srv.Close()

	c, err := Connect(context.Background(), testStack(srv.URL()), WithFlushInterval(0))
	require.NoError(t, err)
	defer c.Disconnect()

	view, err := List[entity](c, "widgets", "all")
	require.NoError(t, err)

	srv.Broadcast([]byte(`{"mode":"list","entity":"widgets/all","op":"upsert","key":"w1","data":{"n":1}}`))
	waitFor(t, time.Second, func() bool {
		got, _ := view.Get()
		return len(got) == 1
	})

	got, err := view.Get()
	require.NoError(t, err)
	require.Equal(t, 1, got[0].N)
}

func TestUnknownViewReturnsError(t *testing.T) {
	srv := connectiontest.New()
	defer srv.Close()

	c, err := Connect(context.Background(), testStack(srv.URL()))
	require.NoError(t, err)
	defer c.Disconnect()

	_, err = State[entity](c, "widgets", "nope")
	require.ErrorIs(t, err, ErrUnknownView)
}

func TestViewModeMismatchReturnsError(t *testing.T) {
	srv := connectiontest.New()
	defer srv.Close()

	c, err := Connect(context.Background(), testStack(srv.URL()))
	require.NoError(t, err)
	defer c.Disconnect()

	_, err = List[entity](c, "widgets", "byID")
	require.ErrorIs(t, err, ErrViewModeMismatch)
}

func TestDisconnectClearsRegistryAndConnection(t *testing.T) {
	srv := connectiontest.New()
	defer srv.Close()

	c, err := Connect(context.Background(), testStack(srv.URL()))
	require.NoError(t, err)

	view, err := State[entity](c, "widgets", "byID")
	require.NoError(t, err)
	seq := view.Watch("w1")
	waitFor(t, time.Second, func() bool { return len(srv.Received()) >= 1 })

	c.Disconnect()
	waitFor(t, time.Second, func() bool { return len(srv.Received()) >= 2 })
	require.Equal(t, "disconnected", string(c.State()))

	seq.Cancel()
}

func TestClearStoreEmptiesAdapterWithoutUnsubscribing(t *testing.T) {
	srv := connectiontest.New()
	defer srv.Close()

	c, err := Connect(context.Background(), testStack(srv.URL()), WithFlushInterval(0))
	require.NoError(t, err)
	defer c.Disconnect()

	view, err := State[entity](c, "widgets", "byID")
	require.NoError(t, err)

	srv.Broadcast([]byte(`{"mode":"state","entity":"widgets/byID","op":"upsert","key":"w1","data":{"n":1}}`))
	waitFor(t, time.Second, func() bool {
		_, ok, _ := view.Get("w1")
		return ok
	})

	c.ClearStore()
	_, ok, err := view.Get("w1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithMetricsRegistererRegistersAgainstCallerSuppliedRegistry(t *testing.T) {
	srv := connectiontest.New()
	defer srv.Close()

	reg := prometheus.NewRegistry()
	c, err := Connect(context.Background(), testStack(srv.URL()), WithMetricsRegisterer(reg), WithFlushInterval(0))
	require.NoError(t, err)
	defer c.Disconnect()

	srv.Broadcast([]byte(`{"mode":"state","entity":"widgets/byID","op":"upsert","key":"w1","data":{"n":1}}`))
	view, err := State[entity](c, "widgets", "byID")
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		_, ok, _ := view.Get("w1")
		return ok
	})

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
