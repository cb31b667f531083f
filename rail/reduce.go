package rail

import (
	"math"
	"sync"

	"go.uber.org/atomic"

	"github.com/lguimbarda/min-rail/rail/core"
)

// Reduce folds each rail into a single value: initial produces a fresh
// accumulator per rail, reducer folds every element of that rail into
// it, and the rail emits exactly one result when its input completes.
func Reduce[T, R any](r Rails[T], initial func() R, reducer func(R, T) R) (Rails[R], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if initial == nil {
		return nil, core.NewConfigError("initial is nil")
	}
	if reducer == nil {
		return nil, core.NewConfigError("reducer is nil")
	}
	return &foldRails[T, R]{source: r, supplier: initial, fold: reducer}, nil
}

// Collect is Reduce for container accumulators: supplier creates one
// container per rail and collector folds each element into it, for
// example appending to a slice. The distinction from Reduce is purely
// one of intent; the mechanics are identical.
func Collect[T, C any](r Rails[T], supplier func() C, collector func(C, T) C) (Rails[C], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if supplier == nil {
		return nil, core.NewConfigError("supplier is nil")
	}
	if collector == nil {
		return nil, core.NewConfigError("collector is nil")
	}
	return &foldRails[T, C]{source: r, supplier: supplier, fold: collector}, nil
}

type foldRails[T, R any] struct {
	source   Rails[T]
	supplier func() R
	fold     func(R, T) R
}

func (p *foldRails[T, R]) Parallelism() int {
	return p.source.Parallelism()
}

func (p *foldRails[T, R]) Subscribe(subscribers []core.Subscriber[R]) {
	if !validate[R](p, subscribers) {
		return
	}
	parents := make([]core.Subscriber[T], len(subscribers))
	for i := range subscribers {
		parents[i] = &foldSubscriber[T, R]{
			fold:   p.fold,
			acc:    p.supplier(),
			scalar: core.NewScalarSubscription(subscribers[i]),
			actual: subscribers[i],
		}
	}
	p.source.Subscribe(parents)
}

// foldSubscriber consumes one rail without bound and hands the folded
// result to a scalar subscription, which defers emission until the
// downstream has requested.
type foldSubscriber[T, R any] struct {
	fold   func(R, T) R
	acc    R
	scalar *core.ScalarSubscription[R]
	actual core.Subscriber[R]

	upstream core.Subscription
	done     bool
}

func (f *foldSubscriber[T, R]) OnSubscribe(s core.Subscription) {
	f.upstream = s
	f.actual.OnSubscribe(f)
	s.Request(math.MaxInt64)
}

func (f *foldSubscriber[T, R]) OnNext(v T) {
	if f.done {
		return
	}
	acc, err := safeAccumulate(f.fold, f.acc, v)
	if err != nil {
		f.done = true
		f.upstream.Cancel()
		f.scalar.Error(err)
		return
	}
	f.acc = acc
}

func (f *foldSubscriber[T, R]) OnError(err error) {
	if f.done {
		return
	}
	f.done = true
	f.scalar.Error(err)
}

func (f *foldSubscriber[T, R]) OnComplete() {
	if f.done {
		return
	}
	f.done = true
	f.scalar.Complete(f.acc)
}

func (f *foldSubscriber[T, R]) Request(n int64) {
	f.scalar.Request(n)
}

func (f *foldSubscriber[T, R]) Cancel() {
	f.scalar.Cancel()
	f.upstream.Cancel()
}

// ReduceAll folds the entire set of rails into one value. Each rail
// folds its own elements first, using its first element as the seed,
// then the per-rail results are combined pairwise as rails finish. A
// fully empty input completes without a value.
func ReduceAll[T any](r Rails[T], combiner func(T, T) T) (core.Publisher[T], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if combiner == nil {
		return nil, core.NewConfigError("combiner is nil")
	}
	return &reduceAllPublisher[T]{source: r, combiner: combiner}, nil
}

type reduceAllPublisher[T any] struct {
	source   Rails[T]
	combiner func(T, T) T
}

func (p *reduceAllPublisher[T]) Subscribe(s core.Subscriber[T]) {
	n := p.source.Parallelism()
	c := &reduceAllCoordinator[T]{
		combiner: p.combiner,
		scalar:   core.NewScalarSubscription(s),
	}
	c.remaining.Store(int32(n))

	rails := make([]*reduceAllRail[T], n)
	subscribers := make([]core.Subscriber[T], n)
	for i := range rails {
		rails[i] = &reduceAllRail[T]{parent: c}
		subscribers[i] = rails[i]
	}
	c.rails = rails

	s.OnSubscribe(c)
	p.source.Subscribe(subscribers)
}

// reduceAllCoordinator merges per-rail results. It doubles as the
// downstream subscription, forwarding demand to the scalar and fanning
// cancellation out to every rail.
type reduceAllCoordinator[T any] struct {
	combiner func(T, T) T
	scalar   *core.ScalarSubscription[T]
	rails    []*reduceAllRail[T]

	remaining atomic.Int32
	errOnce   atomic.Bool

	mu       sync.Mutex
	acc      T
	hasValue bool
}

func (c *reduceAllCoordinator[T]) Request(n int64) {
	c.scalar.Request(n)
}

func (c *reduceAllCoordinator[T]) Cancel() {
	c.scalar.Cancel()
	c.cancelRails()
}

func (c *reduceAllCoordinator[T]) cancelRails() {
	for _, r := range c.rails {
		r.sub.Cancel()
	}
}

func (c *reduceAllCoordinator[T]) railDone(v T, has bool) {
	if has {
		c.mu.Lock()
		if c.hasValue {
			merged, err := safeCombine(c.combiner, c.acc, v)
			if err != nil {
				c.mu.Unlock()
				c.railError(err)
				return
			}
			c.acc = merged
		} else {
			c.acc = v
			c.hasValue = true
		}
		c.mu.Unlock()
	}
	if c.remaining.Dec() == 0 {
		c.mu.Lock()
		acc, ok := c.acc, c.hasValue
		c.mu.Unlock()
		if ok {
			c.scalar.Complete(acc)
		} else {
			c.scalar.CompleteEmpty()
		}
	}
}

func (c *reduceAllCoordinator[T]) railError(err error) {
	if c.errOnce.CAS(false, true) {
		c.cancelRails()
		c.scalar.Error(err)
	}
}

// reduceAllRail folds one rail locally, seeding from the first element.
type reduceAllRail[T any] struct {
	parent *reduceAllCoordinator[T]
	sub    core.SubscriptionRef
	acc    T
	has    bool
	done   bool
}

func (r *reduceAllRail[T]) OnSubscribe(s core.Subscription) {
	r.sub.Set(s)
	s.Request(math.MaxInt64)
}

func (r *reduceAllRail[T]) OnNext(v T) {
	if r.done {
		return
	}
	if !r.has {
		r.acc = v
		r.has = true
		return
	}
	acc, err := safeCombine(r.parent.combiner, r.acc, v)
	if err != nil {
		r.done = true
		r.sub.Cancel()
		r.parent.railError(err)
		return
	}
	r.acc = acc
}

func (r *reduceAllRail[T]) OnError(err error) {
	if r.done {
		return
	}
	r.done = true
	r.parent.railError(err)
}

func (r *reduceAllRail[T]) OnComplete() {
	if r.done {
		return
	}
	r.done = true
	r.parent.railDone(r.acc, r.has)
}
