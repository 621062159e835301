package views

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hyperstack/client/internal/wireproto"
	"hyperstack/client/registry"
	"hyperstack/client/store"
)

type fakeConn struct {
	subscribes   []wireproto.Subscription
	unsubscribes [][2]string
}

func (f *fakeConn) Subscribe(sub wireproto.Subscription) { f.subscribes = append(f.subscribes, sub) }
func (f *fakeConn) Unsubscribe(view, key string) {
	f.unsubscribes = append(f.unsubscribes, [2]string{view, key})
}

type widget struct {
	N int `json:"n"`
}

func TestStateGetReturnsValueOrAbsent(t *testing.T) {
	adapter := store.New(0, nil)
	reg := registry.New(&fakeConn{}, nil)
	s := NewState[widget]("v/state", adapter, reg, nil)

	_, ok, err := s.Get("a")
	require.NoError(t, err)
	require.False(t, ok)

	adapter.Set("v/state", "a", map[string]any{"n": 7})
	v, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, widget{N: 7}, v)
}

func TestStateUseStreamsDecodedValueOnUpdate(t *testing.T) {
	adapter := store.New(0, nil)
	reg := registry.New(&fakeConn{}, nil)
	s := NewState[widget]("v/state", adapter, reg, nil)

	seq := s.Use("a")
	defer seq.Cancel()

	adapter.Set("v/state", "a", map[string]any{"n": 1})
	adapter.NotifyUpdate("v/state", store.SimpleUpdate{Kind: store.UpdateUpsert, Key: "a", Value: map[string]any{"n": 1}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := seq.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, widget{N: 1}, v)
}

func TestStateUseIgnoresUpdatesForOtherKeys(t *testing.T) {
	adapter := store.New(0, nil)
	reg := registry.New(&fakeConn{}, nil)
	s := NewState[widget]("v/state", adapter, reg, nil)

	seq := s.Use("a")
	defer seq.Cancel()

	adapter.Set("v/state", "b", map[string]any{"n": 9})
	adapter.NotifyUpdate("v/state", store.SimpleUpdate{Kind: store.UpdateUpsert, Key: "b", Value: map[string]any{"n": 9}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := seq.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStateWatchStreamsSimpleUpdatesFilteredByKey(t *testing.T) {
	adapter := store.New(0, nil)
	reg := registry.New(&fakeConn{}, nil)
	s := NewState[widget]("v/state", adapter, reg, nil)

	seq := s.Watch("a")
	defer seq.Cancel()

	adapter.NotifyUpdate("v/state", store.SimpleUpdate{Kind: store.UpdatePatch, Key: "a", Value: map[string]any{"n": 2}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	u, err := seq.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, store.UpdatePatch, u.Kind)
}

func TestStateSchemaFailureSurfacesAsSequenceError(t *testing.T) {
	adapter := store.New(0, nil)
	reg := registry.New(&fakeConn{}, nil)
	s := NewState[widget]("v/state", adapter, reg, nil)

	boom := errors.New("schema rejected value")
	seq := s.Use("a", StateOpts[widget]{Schema: func(any) (widget, error) { return widget{}, boom }})
	defer seq.Cancel()

	adapter.Set("v/state", "a", map[string]any{"n": 1})
	adapter.NotifyUpdate("v/state", store.SimpleUpdate{Kind: store.UpdateUpsert, Key: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := seq.Next(ctx)
	require.ErrorIs(t, err, boom)
}

func TestStateCancelReleasesRegistrySubscription(t *testing.T) {
	conn := &fakeConn{}
	adapter := store.New(0, nil)
	reg := registry.New(conn, nil)
	s := NewState[widget]("v/state", adapter, reg, nil)

	seq := s.Watch("a")
	require.Len(t, conn.subscribes, 1)

	seq.Cancel()
	require.Len(t, conn.unsubscribes, 1)
}

func TestListGetReturnsAllInOrder(t *testing.T) {
	adapter := store.New(0, nil)
	adapter.SetViewConfig("v/list", store.ViewConfig{Sort: &store.SortConfig{Field: []string{"n"}, Order: store.SortAsc}})
	reg := registry.New(&fakeConn{}, nil)
	l := NewList[widget]("v/list", adapter, reg, nil)

	adapter.Set("v/list", "b", map[string]any{"n": 2})
	adapter.Set("v/list", "a", map[string]any{"n": 1})

	got, err := l.Get()
	require.NoError(t, err)
	require.Equal(t, []widget{{N: 1}, {N: 2}}, got)
}

func TestListUseWindowsByTakeSkip(t *testing.T) {
	adapter := store.New(0, nil)
	adapter.SetViewConfig("v/list", store.ViewConfig{Sort: &store.SortConfig{Field: []string{"n"}, Order: store.SortAsc}})
	reg := registry.New(&fakeConn{}, nil)
	l := NewList[widget]("v/list", adapter, reg, nil)

	adapter.Set("v/list", "a", map[string]any{"n": 1})
	adapter.Set("v/list", "b", map[string]any{"n": 2})
	adapter.Set("v/list", "c", map[string]any{"n": 3})

	one := 1
	seq := l.Use(ListOpts[widget]{Take: &one})
	defer seq.Cancel()

	adapter.NotifyUpdate("v/list", store.SimpleUpdate{Kind: store.UpdateUpsert, Key: "c"})
	adapter.NotifyUpdate("v/list", store.SimpleUpdate{Kind: store.UpdateUpsert, Key: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := seq.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, widget{N: 1}, v)
}

func TestListWatchRichFiltersByWindow(t *testing.T) {
	adapter := store.New(0, nil)
	adapter.SetViewConfig("v/list", store.ViewConfig{Sort: &store.SortConfig{Field: []string{"n"}, Order: store.SortAsc}})
	reg := registry.New(&fakeConn{}, nil)
	l := NewList[widget]("v/list", adapter, reg, nil)

	adapter.Set("v/list", "a", map[string]any{"n": 1})
	adapter.Set("v/list", "b", map[string]any{"n": 2})

	zero := 0
	one := 1
	seq := l.WatchRich(ListWatchOpts{Skip: &one, Take: &zero})
	defer seq.Cancel()

	adapter.NotifyRichUpdate("v/list", store.RichUpdate{Kind: store.RichCreated, Key: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := seq.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
