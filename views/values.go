// Package views turns a declarative stack definition into typed state and
// list views over the storage adapter, using generics to parameterize the
// decoded value type per view.
package views

import (
	"context"
	"encoding/json"
	"iter"

	"hyperstack/client/stream"
)

// Schema is an optional transform/validation function applied to a raw
// decoded value before it is handed to the caller. The core makes no
// assumptions about its success or failure; any side effects are the
// caller's responsibility.
type Schema[T any] func(any) (T, error)

// decodeInto converts a raw adapter value (typically map[string]any,
// []any, or a primitive, as produced by frame.Decode/json.Unmarshal) into
// T via a JSON round-trip, mirroring the adapter's own copy-on-read
// strategy. If raw already satisfies T directly (e.g. T is any or
// map[string]any), the round-trip is skipped.
func decodeInto[T any](raw any) (T, error) {
	var zero T
	if raw == nil {
		return zero, nil
	}
	if v, ok := raw.(T); ok {
		return v, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, err
	}
	return out, nil
}

func decodeWith[T any](raw any, schema Schema[T]) (T, error) {
	if schema != nil {
		return schema(raw)
	}
	return decodeInto[T](raw)
}

type valueItem[T any] struct {
	val T
	err error
}

// ValueSequence adapts a stream.Sequence carrying decode/schema errors
// per item into the plain (T, error) shape consumers expect from Next/All,
// folding stream-level errors (cancellation, context) and per-item schema
// failures into the same error channel.
type ValueSequence[T any] struct {
	inner *stream.Sequence[valueItem[T]]
}

func newValueSequence[T any](inner *stream.Sequence[valueItem[T]]) *ValueSequence[T] {
	return &ValueSequence[T]{inner: inner}
}

// Next blocks until a value is available, the sequence is cancelled, or ctx
// is cancelled. A schema failure on the underlying item is returned as err
// with a zero value, per the "failing schema surfaces as a sequence error"
// rule.
func (s *ValueSequence[T]) Next(ctx context.Context) (T, error) {
	item, err := s.inner.Next(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if item.err != nil {
		var zero T
		return zero, item.err
	}
	return item.val, nil
}

// All returns a range-over-func iterator equivalent to repeated Next calls.
func (s *ValueSequence[T]) All(ctx context.Context) iter.Seq2[T, error] {
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

// Cancel releases the underlying subscription and storage-adapter listener.
// Safe to call more than once.
func (s *ValueSequence[T]) Cancel() {
	s.inner.Cancel()
}
