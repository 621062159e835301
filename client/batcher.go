package client

import (
	"sync"
	"time"

	"hyperstack/client/frame"
)

// frameBatcher coalesces frames arriving from the connection's read pump
// into flush-interval windows before handing them to the processor, per
// spec.md §6's optional flushIntervalMs config. An interval of 0 applies
// every frame immediately with no batching.
type frameBatcher struct {
	interval time.Duration
	apply    func(frame.Frame)

	mu      sync.Mutex
	pending []frame.Frame

	stop chan struct{}
	done chan struct{}
}

func newFrameBatcher(interval time.Duration, apply func(frame.Frame)) *frameBatcher {
	b := &frameBatcher{interval: interval, apply: apply}
	if interval > 0 {
		b.stop = make(chan struct{})
		b.done = make(chan struct{})
		go b.loop()
	}
	return b
}

func (b *frameBatcher) push(f frame.Frame) {
	if b.interval <= 0 {
		b.apply(f)
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, f)
	b.mu.Unlock()
}

func (b *frameBatcher) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stop:
			b.flush()
			return
		}
	}
}

func (b *frameBatcher) flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, f := range pending {
		b.apply(f)
	}
}

// Close stops the batching goroutine, flushing anything still pending.
// Safe to call on a non-batching (interval == 0) instance.
func (b *frameBatcher) Close() {
	if b.stop == nil {
		return
	}
	close(b.stop)
	<-b.done
}
