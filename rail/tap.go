package rail

import "github.com/lguimbarda/min-rail/rail/core"

// TapHooks bundles every observation point a rail offers. Any subset
// may be set; nil hooks cost nothing. One Tap stage replaces a family
// of single-purpose peek operators.
type TapHooks[T any] struct {
	// OnSubscribe runs when the rail's subscription is established.
	OnSubscribe func(core.Subscription)
	// OnNext runs before each element is passed downstream.
	OnNext func(T)
	// AfterNext runs after each element returned from downstream.
	AfterNext func(T)
	// OnError runs before an error signal is passed downstream.
	OnError func(error)
	// OnComplete runs before a completion signal is passed downstream.
	OnComplete func()
	// AfterTerminate runs after either terminal signal was delivered.
	// A panic here has nowhere to go and is discarded.
	AfterTerminate func()
	// OnRequest observes downstream demand before it is forwarded.
	OnRequest func(int64)
	// OnCancel observes cancellation before it is forwarded.
	OnCancel func()
}

// Tap attaches hooks to every rail. A panic in OnNext becomes that
// rail's error signal and cancels its upstream; a panic in OnError or
// OnComplete is folded into the terminal signal.
func Tap[T any](r Rails[T], hooks TapHooks[T]) (Rails[T], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	return &tapRails[T]{source: r, hooks: hooks}, nil
}

type tapRails[T any] struct {
	source Rails[T]
	hooks  TapHooks[T]
}

func (p *tapRails[T]) Parallelism() int {
	return p.source.Parallelism()
}

func (p *tapRails[T]) Subscribe(subscribers []core.Subscriber[T]) {
	if !validate[T](p, subscribers) {
		return
	}
	parents := make([]core.Subscriber[T], len(subscribers))
	for i := range subscribers {
		parents[i] = &tapSubscriber[T]{actual: subscribers[i], hooks: &p.hooks}
	}
	p.source.Subscribe(parents)
}

type tapSubscriber[T any] struct {
	actual   core.Subscriber[T]
	hooks    *TapHooks[T]
	upstream core.Subscription
	done     bool
}

func (t *tapSubscriber[T]) OnSubscribe(s core.Subscription) {
	t.upstream = s
	if t.hooks.OnSubscribe != nil {
		t.hooks.OnSubscribe(s)
	}
	if t.hooks.OnRequest == nil && t.hooks.OnCancel == nil {
		t.actual.OnSubscribe(s)
	} else {
		t.actual.OnSubscribe(&tapSubscription[T]{upstream: s, hooks: t.hooks})
	}
}

func (t *tapSubscriber[T]) OnNext(v T) {
	if t.done {
		return
	}
	if t.hooks.OnNext != nil {
		if err := safeHook(func() { t.hooks.OnNext(v) }); err != nil {
			t.done = true
			t.upstream.Cancel()
			t.actual.OnError(err)
			return
		}
	}
	t.actual.OnNext(v)
	if t.hooks.AfterNext != nil {
		if err := safeHook(func() { t.hooks.AfterNext(v) }); err != nil {
			t.done = true
			t.upstream.Cancel()
			t.actual.OnError(err)
		}
	}
}

func (t *tapSubscriber[T]) OnError(err error) {
	if t.done {
		return
	}
	t.done = true
	if t.hooks.OnError != nil {
		if hookErr := safeHook(func() { t.hooks.OnError(err) }); hookErr != nil {
			err = core.Composite([]error{err, hookErr})
		}
	}
	t.actual.OnError(err)
	t.afterTerminate()
}

func (t *tapSubscriber[T]) OnComplete() {
	if t.done {
		return
	}
	t.done = true
	if t.hooks.OnComplete != nil {
		if err := safeHook(t.hooks.OnComplete); err != nil {
			t.actual.OnError(err)
			t.afterTerminate()
			return
		}
	}
	t.actual.OnComplete()
	t.afterTerminate()
}

func (t *tapSubscriber[T]) afterTerminate() {
	if t.hooks.AfterTerminate != nil {
		_ = safeHook(t.hooks.AfterTerminate)
	}
}

// tapSubscription intercepts the demand-side hooks.
type tapSubscription[T any] struct {
	upstream core.Subscription
	hooks    *TapHooks[T]
}

func (t *tapSubscription[T]) Request(n int64) {
	if t.hooks.OnRequest != nil {
		_ = safeHook(func() { t.hooks.OnRequest(n) })
	}
	t.upstream.Request(n)
}

func (t *tapSubscription[T]) Cancel() {
	if t.hooks.OnCancel != nil {
		_ = safeHook(t.hooks.OnCancel)
	}
	t.upstream.Cancel()
}
