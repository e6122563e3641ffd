// Package throttle bounds how often a value is pushed to a consumer.
// Updates arriving faster than the allowed rate are coalesced: the newest
// value replaces any unemitted one, so the consumer always converges on the
// latest state provided Flush is called periodically.
package throttle

import (
	"sync"
	"time"
)

// to allow testing without real time
var timeNow = time.Now

// Throttle is one coalescing gate. The emit function is injected at
// construction and invoked synchronously from TryEmit or Flush.
type Throttle[T any] struct {
	// emitMu serializes whole emissions so a concurrent Flush of an older
	// pending value cannot land after a newer TryEmit emission. mu only
	// guards the state fields and is never held across an emit call.
	emitMu      sync.Mutex
	mu          sync.Mutex
	minInterval time.Duration
	lastEmit    time.Time
	pending     T
	hasPending  bool
	emit        func(T)
}

func New[T any](minInterval time.Duration, emit func(T)) *Throttle[T] {
	return &Throttle[T]{
		minInterval: minInterval,
		emit:        emit,
	}
}

// TryEmit emits v immediately if at least minInterval has elapsed since the
// last emission, otherwise stores it as pending (latest wins). Returns
// whether it emitted.
func (t *Throttle[T]) TryEmit(v T) bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	now := timeNow()
	if now.Sub(t.lastEmit) >= t.minInterval {
		t.lastEmit = now
		t.hasPending = false
		var zero T
		t.pending = zero
		t.mu.Unlock()
		t.emit(v)
		return true
	}
	t.pending = v
	t.hasPending = true
	t.mu.Unlock()
	return false
}

// Flush emits the pending value, if any, unconditionally.
func (t *Throttle[T]) Flush() bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.mu.Lock()
	if !t.hasPending {
		t.mu.Unlock()
		return false
	}
	v := t.pending
	t.hasPending = false
	var zero T
	t.pending = zero
	t.lastEmit = timeNow()
	t.mu.Unlock()
	t.emit(v)
	return true
}

func (t *Throttle[T]) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasPending
}
