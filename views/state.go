package views

import (
	"hyperstack/client/internal/metrics"
	"hyperstack/client/internal/wireproto"
	"hyperstack/client/registry"
	"hyperstack/client/store"
	"hyperstack/client/stream"
)

// StateOpts configures State.Use. The zero value decodes with a plain JSON
// round-trip and applies no schema.
type StateOpts[T any] struct {
	Schema Schema[T]
}

// State is the typed surface over a `mode: state` view: lookups and
// subscriptions are always scoped to a single key.
type State[T any] struct {
	view     string
	adapter  *store.Adapter
	registry *registry.Registry
	metrics  *metrics.Recorder
}

// NewState builds a State view over path, backed by adapter for reads and
// registry for subscription lifecycle. rec may be nil.
func NewState[T any](path string, adapter *store.Adapter, reg *registry.Registry, rec *metrics.Recorder) *State[T] {
	if rec == nil {
		rec = metrics.NewNop()
	}
	return &State[T]{view: path, adapter: adapter, registry: reg, metrics: rec}
}

// Get returns the current value at key, or the zero value and false if
// absent.
func (s *State[T]) Get(key string) (T, bool, error) {
	var zero T
	raw, ok := s.adapter.Get(s.view, key)
	if !ok {
		return zero, false, nil
	}
	v, err := decodeInto[T](raw)
	return v, true, err
}

// Use subscribes to key and returns a sequence of its current value each
// time it changes, decoded (and optionally schema-validated) per opts.
func (s *State[T]) Use(key string, opts ...StateOpts[T]) *ValueSequence[T] {
	var opt StateOpts[T]
	if len(opts) > 0 {
		opt = opts[0]
	}

	release := s.registry.Subscribe(wireproto.Subscription{View: s.view, Key: key})

	var unregisterUpdate func()
	seq, push := stream.New[valueItem[T]](s.metrics, func() {
		unregisterUpdate()
		release()
	})
	unregisterUpdate = s.adapter.OnUpdate(s.view, func(u store.SimpleUpdate) {
		if u.Key != key {
			return
		}
		raw, ok := s.adapter.Get(s.view, key)
		if !ok {
			push(valueItem[T]{})
			return
		}
		v, err := decodeWith(raw, opt.Schema)
		push(valueItem[T]{val: v, err: err})
	})

	return newValueSequence(seq)
}

// Watch subscribes to key and returns a sequence of simple updates as they
// arrive, unchanged from what the storage adapter notified.
func (s *State[T]) Watch(key string) *stream.Sequence[store.SimpleUpdate] {
	release := s.registry.Subscribe(wireproto.Subscription{View: s.view, Key: key})

	var unregisterUpdate func()
	seq, push := stream.New[store.SimpleUpdate](s.metrics, func() {
		unregisterUpdate()
		release()
	})
	unregisterUpdate = s.adapter.OnUpdate(s.view, func(u store.SimpleUpdate) {
		if u.Key != key {
			return
		}
		push(u)
	})
	return seq
}

// WatchRich subscribes to key and returns a sequence of rich updates
// (created/updated/deleted with before/after/patch detail; an eviction
// arrives as deleted) as they arrive.
func (s *State[T]) WatchRich(key string) *stream.Sequence[store.RichUpdate] {
	release := s.registry.Subscribe(wireproto.Subscription{View: s.view, Key: key})

	var unregisterUpdate func()
	seq, push := stream.New[store.RichUpdate](s.metrics, func() {
		unregisterUpdate()
		release()
	})
	unregisterUpdate = s.adapter.OnRichUpdate(s.view, func(u store.RichUpdate) {
		if u.Key != key {
			return
		}
		push(u)
	})
	return seq
}
