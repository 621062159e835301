package views

import (
	"hyperstack/client/internal/metrics"
	"hyperstack/client/internal/wireproto"
	"hyperstack/client/registry"
	"hyperstack/client/store"
	"hyperstack/client/stream"
)

// ListOpts configures List.Use. Take narrows the stream to updates whose
// key currently ranks within [Skip, Skip+Take) of the view's display
// order; Take == 1 is the "first value" narrowing spec.md calls out.
type ListOpts[T any] struct {
	Schema Schema[T]
	Take   *int
	Skip   *int
}

// ListWatchOpts configures List.Watch/List.WatchRich; it carries the same
// windowing as ListOpts but no schema, since the element type there is
// fixed to the adapter's own update shape.
type ListWatchOpts struct {
	Take *int
	Skip *int
}

// List is the typed surface over a `mode: list` view: a single subscription
// covers the whole view, and reads return every entry in display order.
type List[T any] struct {
	view     string
	adapter  *store.Adapter
	registry *registry.Registry
	metrics  *metrics.Recorder
}

// NewList builds a List view over path. rec may be nil.
func NewList[T any](path string, adapter *store.Adapter, reg *registry.Registry, rec *metrics.Recorder) *List[T] {
	if rec == nil {
		rec = metrics.NewNop()
	}
	return &List[T]{view: path, adapter: adapter, registry: reg, metrics: rec}
}

// Get returns every entry currently held by the view, in display order.
func (l *List[T]) Get() ([]T, error) {
	raws := l.adapter.GetAll(l.view)
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := decodeInto[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// inWindow reports whether key's current rank within the view's display
// order falls inside [skip, skip+take). A key no longer present (e.g. a
// delete notification arriving after the key left the ordered set) is
// always let through, since it cannot be ranked.
func (l *List[T]) inWindow(key string, take, skip *int) bool {
	if take == nil && skip == nil {
		return true
	}
	keys := l.adapter.Keys(l.view)
	idx := -1
	for i, k := range keys {
		if k == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return true
	}
	skipN := 0
	if skip != nil {
		skipN = *skip
	}
	takeN := len(keys)
	if take != nil {
		takeN = *take
	}
	return idx >= skipN && idx < skipN+takeN
}

// Use subscribes to the whole view and returns a sequence of each changed
// entry's current value, decoded (and optionally schema-validated) and
// windowed per opts.
func (l *List[T]) Use(opts ...ListOpts[T]) *ValueSequence[T] {
	var opt ListOpts[T]
	if len(opts) > 0 {
		opt = opts[0]
	}

	release := l.registry.Subscribe(wireproto.Subscription{View: l.view})

	var unregisterUpdate func()
	seq, push := stream.New[valueItem[T]](l.metrics, func() {
		unregisterUpdate()
		release()
	})
	unregisterUpdate = l.adapter.OnUpdate(l.view, func(u store.SimpleUpdate) {
		if !l.inWindow(u.Key, opt.Take, opt.Skip) {
			return
		}
		raw, ok := l.adapter.Get(l.view, u.Key)
		if !ok {
			push(valueItem[T]{})
			return
		}
		v, err := decodeWith(raw, opt.Schema)
		push(valueItem[T]{val: v, err: err})
	})

	return newValueSequence(seq)
}

// Watch subscribes to the whole view and returns a sequence of simple
// updates, windowed per opts.
func (l *List[T]) Watch(opts ...ListWatchOpts) *stream.Sequence[store.SimpleUpdate] {
	var opt ListWatchOpts
	if len(opts) > 0 {
		opt = opts[0]
	}

	release := l.registry.Subscribe(wireproto.Subscription{View: l.view})

	var unregisterUpdate func()
	seq, push := stream.New[store.SimpleUpdate](l.metrics, func() {
		unregisterUpdate()
		release()
	})
	unregisterUpdate = l.adapter.OnUpdate(l.view, func(u store.SimpleUpdate) {
		if !l.inWindow(u.Key, opt.Take, opt.Skip) {
			return
		}
		push(u)
	})
	return seq
}

// WatchRich subscribes to the whole view and returns a sequence of rich
// updates, windowed per opts.
func (l *List[T]) WatchRich(opts ...ListWatchOpts) *stream.Sequence[store.RichUpdate] {
	var opt ListWatchOpts
	if len(opts) > 0 {
		opt = opts[0]
	}

	release := l.registry.Subscribe(wireproto.Subscription{View: l.view})

	var unregisterUpdate func()
	seq, push := stream.New[store.RichUpdate](l.metrics, func() {
		unregisterUpdate()
		release()
	})
	unregisterUpdate = l.adapter.OnRichUpdate(l.view, func(u store.RichUpdate) {
		if !l.inWindow(u.Key, opt.Take, opt.Skip) {
			return
		}
		push(u)
	})
	return seq
}
