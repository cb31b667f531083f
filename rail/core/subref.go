package core

import "sync/atomic"

// SubscriptionRef is an atomically published Subscription slot. It lets
// a stage accept requests and cancellation before its upstream
// subscription has arrived: a cancel observed before Set is replayed
// onto the subscription once it lands. Each ref is set at most once.
type SubscriptionRef struct {
	sub       atomic.Value // Subscription
	cancelled atomic.Bool
}

// Set publishes the upstream subscription. If the ref was cancelled
// first, the subscription is cancelled immediately.
func (r *SubscriptionRef) Set(s Subscription) {
	r.sub.Store(s)
	if r.cancelled.Load() {
		s.Cancel()
	}
}

// Request forwards to the subscription if it has arrived; otherwise the
// call is dropped, which is safe because the setter requests its own
// initial credit.
func (r *SubscriptionRef) Request(n int64) {
	if s, ok := r.sub.Load().(Subscription); ok {
		s.Request(n)
	}
}

// Cancel cancels the subscription now or as soon as it is set.
func (r *SubscriptionRef) Cancel() {
	r.cancelled.Store(true)
	if s, ok := r.sub.Load().(Subscription); ok {
		s.Cancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (r *SubscriptionRef) Cancelled() bool {
	return r.cancelled.Load()
}
