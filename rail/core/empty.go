package core

// emptySubscription grants no demand and carries no elements. It exists
// so a Subscriber can be given a terminal signal while still seeing the
// contractual OnSubscribe first.
type emptySubscription struct{}

func (emptySubscription) Request(int64) {}
func (emptySubscription) Cancel()       {}

// ErrorTo delivers err as s's only signal, preceded by a subscription
// that never produces.
func ErrorTo[T any](s Subscriber[T], err error) {
	s.OnSubscribe(emptySubscription{})
	s.OnError(err)
}

// CompleteTo signals immediate completion to s.
func CompleteTo[T any](s Subscriber[T]) {
	s.OnSubscribe(emptySubscription{})
	s.OnComplete()
}
