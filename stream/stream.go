// Package stream adapts storage-adapter push callbacks into bounded,
// pull-based sequences of updates, one per consumer.
package stream

import (
	"context"
	"errors"
	"iter"
	"sync"

	"hyperstack/client/internal/metrics"
)

const defaultBacklog = 1000

// ErrClosed is returned by Next once the sequence has been cancelled or the
// source callback has been unregistered.
var ErrClosed = errors.New("stream: sequence closed")

// Sequence is one logical consumer's pull-based view onto a stream of
// updates of type T. It is not safe to share across goroutines: "one async
// sequence = one logical consumer".
type Sequence[T any] struct {
	metrics *metrics.Recorder

	mu       sync.Mutex
	backlog  []T
	waiter   chan T
	waiting  bool
	closed   bool
	unregister func()
}

// New builds a Sequence. unregister is called exactly once, on the first
// Cancel; nothing calls it when the sequence is merely dropped.
// Callers feed values in by calling the returned push function; register
// that function with whatever adapter callback or registry subscription
// backs this sequence before returning it to the consumer.
func New[T any](rec *metrics.Recorder, unregister func()) (*Sequence[T], func(T)) {
	if rec == nil {
		rec = metrics.NewNop()
	}
	s := &Sequence[T]{metrics: rec, unregister: unregister}
	return s, s.push
}

func (s *Sequence[T]) push(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.waiting {
		// The waiter channel is buffered (capacity 1), so this never blocks
		// while s.mu is held.
		s.waiting = false
		s.waiter <- v
		s.waiter = nil
		return
	}
	if len(s.backlog) >= defaultBacklog {
		// Drop the oldest queued update; favors recency for UI consumers.
		s.backlog = s.backlog[1:]
		s.metrics.BacklogDropped()
	}
	s.backlog = append(s.backlog, v)
}

// Next blocks until an update is available, ctx is cancelled, or the
// sequence is closed.
func (s *Sequence[T]) Next(ctx context.Context) (T, error) {
	var zero T

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zero, ErrClosed
	}
	if len(s.backlog) > 0 {
		v := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()
		return v, nil
	}
	ch := make(chan T, 1)
	s.waiter = ch
	s.waiting = true
	s.mu.Unlock()

	select {
	case v, ok := <-ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.waiting = false
		s.waiter = nil
		s.mu.Unlock()
		return zero, ctx.Err()
	}
}

// All returns a range-over-func iterator yielding (value, nil) for each
// update and stopping (with a final (_, err) pair when err != nil) once ctx
// is cancelled or the sequence is closed.
func (s *Sequence[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := s.Next(ctx)
			if err != nil {
				yield(v, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Cancel terminates the sequence: any blocked Next call returns ErrClosed,
// future pushes are discarded, and the backing registration is released.
// Safe to call more than once.
func (s *Sequence[T]) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	waiter := s.waiter
	s.waiter = nil
	s.waiting = false
	unregister := s.unregister
	s.mu.Unlock()

	if waiter != nil {
		close(waiter)
	}
	if unregister != nil {
		unregister()
	}
}
