// Package registry reference-counts logical subscriptions and multiplexes
// them onto a single connection, forwarding only the first subscribe and
// the last unsubscribe for any given subscription identity.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"hyperstack/client/internal/metrics"
	"hyperstack/client/internal/wireproto"
)

// Connection is the subset of the connection manager the registry drives.
// It is an interface so tests can substitute a recording fake.
type Connection interface {
	Subscribe(sub wireproto.Subscription)
	Unsubscribe(view, key string)
}

type tracker struct {
	sub      wireproto.Subscription
	refCount int
	traceID  string
}

// Registry deduplicates subscription intent across independent consumers.
// Every exported method is safe for concurrent use.
type Registry struct {
	conn    Connection
	metrics *metrics.Recorder

	mu       sync.Mutex
	trackers map[string]*tracker
}

// New builds a Registry forwarding to conn. rec may be nil.
func New(conn Connection, rec *metrics.Recorder) *Registry {
	if rec == nil {
		rec = metrics.NewNop()
	}
	return &Registry{conn: conn, metrics: rec, trackers: make(map[string]*tracker)}
}

// Subscribe registers interest in sub and returns a release thunk. Calling
// the thunk more than once is a no-op after the first call.
func (r *Registry) Subscribe(sub wireproto.Subscription) (release func()) {
	key := wireproto.Key(sub)

	r.mu.Lock()
	t, exists := r.trackers[key]
	if !exists {
		t = &tracker{sub: sub, traceID: uuid.NewString()}
		r.trackers[key] = t
	}
	t.refCount++
	count := len(r.trackers)
	r.mu.Unlock()

	if !exists {
		r.conn.Subscribe(sub)
	}
	r.metrics.SetActiveSubscriptions(count)

	var once sync.Once
	return func() {
		once.Do(func() { r.release(key, sub) })
	}
}

func (r *Registry) release(key string, sub wireproto.Subscription) {
	r.mu.Lock()
	t, ok := r.trackers[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	t.refCount--
	last := t.refCount <= 0
	if last {
		delete(r.trackers, key)
	}
	count := len(r.trackers)
	r.mu.Unlock()

	if last {
		r.conn.Unsubscribe(sub.View, sub.Key)
	}
	r.metrics.SetActiveSubscriptions(count)
}

// RefCount returns the current reference count for sub's identity, or 0 if
// untracked. Exposed for tests and diagnostics.
func (r *Registry) RefCount(sub wireproto.Subscription) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[wireproto.Key(sub)]
	if !ok {
		return 0
	}
	return t.refCount
}

// Clear releases every tracked subscription, issuing an unsubscribe for
// each, and resets the registry. Used by the client facade on teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	subs := make([]wireproto.Subscription, 0, len(r.trackers))
	for _, t := range r.trackers {
		subs = append(subs, t.sub)
	}
	r.trackers = make(map[string]*tracker)
	r.mu.Unlock()

	for _, sub := range subs {
		r.conn.Unsubscribe(sub.View, sub.Key)
	}
	r.metrics.SetActiveSubscriptions(0)
}
