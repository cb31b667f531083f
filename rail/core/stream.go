// Package core defines the pull-based streaming contract that the rail
// operators are built on: a Publisher delivers elements to a Subscriber
// only up to the amount of demand the Subscriber has signalled through
// its Subscription. Backpressure is implemented by withholding requests,
// never by blocking.
//
// NOTE: this package should have no dependencies outside the standard
// library, including other rail packages.
package core

// Subscription is the link between one Subscriber and one Publisher.
// It is handed to the Subscriber exactly once, before any other signal.
type Subscription interface {
	// Request signals that the Subscriber is willing to accept n more
	// elements. Demand is cumulative and saturates at math.MaxInt64.
	// Calls with n <= 0 are ignored.
	Request(n int64)

	// Cancel stops the flow of signals. Idempotent; signals already in
	// flight may still be delivered.
	Cancel()
}

// Subscriber receives the signals of one subscription: OnSubscribe once,
// then zero or more OnNext calls never exceeding the cumulative
// requested amount, then at most one of OnError or OnComplete.
// Signals for one subscription are never issued concurrently.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Publisher produces a sequence of elements for each Subscriber that
// subscribes to it. Subscribe never blocks; all signalling happens
// through the Subscriber's callbacks.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}
