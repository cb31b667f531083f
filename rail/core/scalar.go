package core

import "sync/atomic"

// States of a ScalarSubscription. The value is delivered on the CAS
// that observes both a stored value and outstanding demand, whichever
// side arrives second.
const (
	scalarNone      = iota // neither value nor request yet
	scalarRequested        // request arrived, value pending
	scalarHasValue         // value stored, request pending
	scalarDelivered        // terminal signal issued
	scalarCancelled
)

// ScalarSubscription delivers at most one value to its subscriber,
// honoring demand: the value is emitted only once the subscriber has
// requested and the producing side has completed. Used by stages that
// collapse a whole sequence into one result.
type ScalarSubscription[T any] struct {
	actual Subscriber[T]
	value  T
	state  atomic.Int32
}

// NewScalarSubscription creates a subscription bound to s. The caller
// is responsible for passing it to s.OnSubscribe.
func NewScalarSubscription[T any](s Subscriber[T]) *ScalarSubscription[T] {
	return &ScalarSubscription[T]{actual: s}
}

// Request makes the stored value deliverable. Any positive n suffices;
// there is only one element.
func (s *ScalarSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	for {
		switch st := s.state.Load(); st {
		case scalarNone:
			if s.state.CompareAndSwap(scalarNone, scalarRequested) {
				return
			}
		case scalarHasValue:
			if s.state.CompareAndSwap(scalarHasValue, scalarDelivered) {
				s.actual.OnNext(s.value)
				s.actual.OnComplete()
				return
			}
		default:
			return
		}
	}
}

// Cancel discards the pending value; a later Complete becomes a no-op.
func (s *ScalarSubscription[T]) Cancel() {
	for {
		st := s.state.Load()
		if st == scalarDelivered || st == scalarCancelled {
			return
		}
		if s.state.CompareAndSwap(st, scalarCancelled) {
			return
		}
	}
}

// Complete stores the single result and emits it if demand has already
// arrived.
func (s *ScalarSubscription[T]) Complete(v T) {
	s.value = v
	for {
		switch st := s.state.Load(); st {
		case scalarNone:
			if s.state.CompareAndSwap(scalarNone, scalarHasValue) {
				return
			}
		case scalarRequested:
			if s.state.CompareAndSwap(scalarRequested, scalarDelivered) {
				s.actual.OnNext(s.value)
				s.actual.OnComplete()
				return
			}
		default:
			return
		}
	}
}

// CompleteEmpty terminates without a value, regardless of demand.
func (s *ScalarSubscription[T]) CompleteEmpty() {
	for {
		st := s.state.Load()
		if st == scalarDelivered || st == scalarCancelled {
			return
		}
		if s.state.CompareAndSwap(st, scalarDelivered) {
			s.actual.OnComplete()
			return
		}
	}
}

// Error terminates with err, regardless of demand.
func (s *ScalarSubscription[T]) Error(err error) {
	for {
		st := s.state.Load()
		if st == scalarDelivered || st == scalarCancelled {
			return
		}
		if s.state.CompareAndSwap(st, scalarDelivered) {
			s.actual.OnError(err)
			return
		}
	}
}

// Cancelled reports whether Cancel has been observed.
func (s *ScalarSubscription[T]) Cancelled() bool {
	return s.state.Load() == scalarCancelled
}
