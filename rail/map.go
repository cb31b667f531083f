package rail

import "github.com/lguimbarda/min-rail/rail/core"

// Map transforms every element on every rail in place. A mapper error
// or panic becomes that rail's error signal and cancels its upstream;
// sibling rails are unaffected.
func Map[T, R any](r Rails[T], mapper func(T) (R, error)) (Rails[R], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if mapper == nil {
		return nil, core.NewConfigError("mapper is nil")
	}
	return &mapRails[T, R]{source: r, mapper: mapper}, nil
}

type mapRails[T, R any] struct {
	source Rails[T]
	mapper func(T) (R, error)
}

func (p *mapRails[T, R]) Parallelism() int {
	return p.source.Parallelism()
}

func (p *mapRails[T, R]) Subscribe(subscribers []core.Subscriber[R]) {
	if !validate[R](p, subscribers) {
		return
	}
	parents := make([]core.Subscriber[T], len(subscribers))
	for i := range subscribers {
		parents[i] = &mapSubscriber[T, R]{actual: subscribers[i], mapper: p.mapper}
	}
	p.source.Subscribe(parents)
}

// mapSubscriber is stateless apart from the terminal latch; demand maps
// one to one, so the upstream subscription is handed straight through.
type mapSubscriber[T, R any] struct {
	actual   core.Subscriber[R]
	mapper   func(T) (R, error)
	upstream core.Subscription
	done     bool
}

func (m *mapSubscriber[T, R]) OnSubscribe(s core.Subscription) {
	m.upstream = s
	m.actual.OnSubscribe(s)
}

func (m *mapSubscriber[T, R]) OnNext(v T) {
	if m.done {
		return
	}
	out, err := safeMapValue(m.mapper, v)
	if err != nil {
		m.done = true
		m.upstream.Cancel()
		m.actual.OnError(err)
		return
	}
	m.actual.OnNext(out)
}

func (m *mapSubscriber[T, R]) OnError(err error) {
	if m.done {
		return
	}
	m.done = true
	m.actual.OnError(err)
}

func (m *mapSubscriber[T, R]) OnComplete() {
	if m.done {
		return
	}
	m.done = true
	m.actual.OnComplete()
}

// Filter drops elements failing the predicate. Every dropped element
// renews one upstream credit so the rail's demand never runs dry. A
// predicate error or panic becomes that rail's error signal.
func Filter[T any](r Rails[T], pred func(T) (bool, error)) (Rails[T], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if pred == nil {
		return nil, core.NewConfigError("predicate is nil")
	}
	return &filterRails[T]{source: r, pred: pred}, nil
}

type filterRails[T any] struct {
	source Rails[T]
	pred   func(T) (bool, error)
}

func (p *filterRails[T]) Parallelism() int {
	return p.source.Parallelism()
}

func (p *filterRails[T]) Subscribe(subscribers []core.Subscriber[T]) {
	if !validate[T](p, subscribers) {
		return
	}
	parents := make([]core.Subscriber[T], len(subscribers))
	for i := range subscribers {
		parents[i] = &filterSubscriber[T]{actual: subscribers[i], pred: p.pred}
	}
	p.source.Subscribe(parents)
}

type filterSubscriber[T any] struct {
	actual   core.Subscriber[T]
	pred     func(T) (bool, error)
	upstream core.Subscription
	done     bool
}

func (f *filterSubscriber[T]) OnSubscribe(s core.Subscription) {
	f.upstream = s
	f.actual.OnSubscribe(s)
}

func (f *filterSubscriber[T]) OnNext(v T) {
	if f.done {
		return
	}
	keep, err := safePredicate(f.pred, v)
	if err != nil {
		f.done = true
		f.upstream.Cancel()
		f.actual.OnError(err)
		return
	}
	if !keep {
		f.upstream.Request(1)
		return
	}
	f.actual.OnNext(v)
}

func (f *filterSubscriber[T]) OnError(err error) {
	if f.done {
		return
	}
	f.done = true
	f.actual.OnError(err)
}

func (f *filterSubscriber[T]) OnComplete() {
	if f.done {
		return
	}
	f.done = true
	f.actual.OnComplete()
}
