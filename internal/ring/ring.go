// Package ring provides a fixed-capacity append-only buffer that evicts
// its oldest entries once full. It backs the bounded in-memory histories
// kept by long-running components (execution records, fallback events).
package ring

import "sync"

// Ring holds the most recent values appended to it, up to a fixed
// capacity. Safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	head  int // index of the oldest element
	count int
}

// New returns a ring holding at most capacity elements. Capacities below
// one are raised to one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append adds v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Append(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// Snapshot returns the buffered values, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Last returns the most recently appended value, or the zero value and
// false when the ring is empty.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// Len returns the number of buffered values.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the maximum number of buffered values.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}
