package core

import "sync/atomic"

// FromSlice creates a Publisher that emits the elements of items in
// order, honoring demand, then completes. Each subscriber gets its own
// cursor; the slice itself is shared and must not be mutated.
func FromSlice[T any](items []T) Publisher[T] {
	return &slicePublisher[T]{items: items}
}

// Error creates a Publisher that signals err to every subscriber
// without emitting any element.
func Error[T any](err error) Publisher[T] {
	return errorPublisher[T]{err: err}
}

// Empty creates a Publisher that completes immediately.
func Empty[T any]() Publisher[T] {
	return emptyPublisher[T]{}
}

type slicePublisher[T any] struct {
	items []T
}

func (p *slicePublisher[T]) Subscribe(s Subscriber[T]) {
	sub := &sliceSubscription[T]{actual: s, items: p.items}
	s.OnSubscribe(sub)
}

type sliceSubscription[T any] struct {
	actual Subscriber[T]
	items  []T
	demand Demand

	index     int64 // drain-owned
	wip       atomic.Int32
	cancelled atomic.Bool
}

func (s *sliceSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	s.demand.Add(n)
	s.drain()
}

func (s *sliceSubscription[T]) Cancel() {
	s.cancelled.Store(true)
}

func (s *sliceSubscription[T]) drain() {
	if s.wip.Add(1) != 1 {
		return
	}
	missed := int32(1)
	for {
		outstanding := s.demand.Get()
		var produced int64
		for produced < outstanding {
			if s.cancelled.Load() {
				return
			}
			if s.index == int64(len(s.items)) {
				break
			}
			s.actual.OnNext(s.items[s.index])
			s.index++
			produced++
		}
		if s.index == int64(len(s.items)) && !s.cancelled.Load() {
			s.cancelled.Store(true)
			s.actual.OnComplete()
			return
		}
		if produced > 0 {
			s.demand.Produced(produced)
		}
		missed = s.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

type errorPublisher[T any] struct {
	err error
}

func (p errorPublisher[T]) Subscribe(s Subscriber[T]) {
	ErrorTo(s, p.err)
}

type emptyPublisher[T any] struct{}

func (emptyPublisher[T]) Subscribe(s Subscriber[T]) {
	CompleteTo(s)
}
