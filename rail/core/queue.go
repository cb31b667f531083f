package core

import "sync/atomic"

// Queue is a bounded single-producer queue with a serialized consumer,
// as used between an upstream delivery thread and a rail's drain loop.
// The capacity is rounded up to a power of two so that slot lookups are
// a mask instead of a modulo. Head and tail advance through atomic
// loads and stores only; neither side ever blocks the other.
type Queue[T any] struct {
	buf  []T
	mask int64
	head atomic.Int64 // producer position
	tail atomic.Int64 // consumer position
}

// NewQueue creates a queue that holds at least capacity elements.
// capacity must be positive; callers validate.
func NewQueue[T any](capacity int) *Queue[T] {
	actual := 1
	for actual < capacity {
		actual <<= 1
	}
	return &Queue[T]{
		buf:  make([]T, actual),
		mask: int64(actual - 1),
	}
}

// Offer appends v and reports whether there was room. A false return
// means the producer overran its granted credit.
func (q *Queue[T]) Offer(v T) bool {
	head := q.head.Load()
	tail := q.tail.Load()
	if head-tail > q.mask {
		return false
	}
	q.buf[head&q.mask] = v
	q.head.Store(head + 1)
	return true
}

// Poll removes and returns the oldest element, if any.
func (q *Queue[T]) Poll() (T, bool) {
	tail := q.tail.Load()
	if tail >= q.head.Load() {
		var zero T
		return zero, false
	}
	v := q.buf[tail&q.mask]
	var zero T
	q.buf[tail&q.mask] = zero
	q.tail.Store(tail + 1)
	return v, true
}

// IsEmpty reports whether the queue holds no elements.
func (q *Queue[T]) IsEmpty() bool {
	return q.tail.Load() >= q.head.Load()
}

// Clear drops all queued elements and releases their references.
// Only the consumer side may call it.
func (q *Queue[T]) Clear() {
	for {
		if _, ok := q.Poll(); !ok {
			return
		}
	}
}
