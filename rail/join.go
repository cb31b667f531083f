package rail

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/lguimbarda/min-rail/rail/core"
)

// Join merges the rails back into a single sequence, round-robin among
// the rails that currently hold a queued element, with no cross-rail
// ordering. Errors are reported immediately and cancel all sibling
// rails. Uses DefaultPrefetch per rail.
func Join[T any](r Rails[T]) (core.Publisher[T], error) {
	return JoinBuffered(r, DefaultPrefetch)
}

// JoinBuffered is Join with an explicit per-rail prefetch.
func JoinBuffered[T any](r Rails[T], prefetch int) (core.Publisher[T], error) {
	return newJoin(r, prefetch, false)
}

// JoinDelayed is Join, but errors are withheld until every rail has
// finished and every queue has drained; all accumulated errors are then
// reported together.
func JoinDelayed[T any](r Rails[T], prefetch int) (core.Publisher[T], error) {
	return newJoin(r, prefetch, true)
}

func newJoin[T any](r Rails[T], prefetch int, delayed bool) (core.Publisher[T], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if prefetch <= 0 {
		return nil, core.NewConfigError("prefetch > 0 required but it was %d", prefetch)
	}
	return &joinPublisher[T]{source: r, prefetch: prefetch, delayed: delayed}, nil
}

type joinPublisher[T any] struct {
	source   Rails[T]
	prefetch int
	delayed  bool
}

func (p *joinPublisher[T]) Subscribe(s core.Subscriber[T]) {
	n := p.source.Parallelism()
	c := &joinCoordinator[T]{actual: s, delayed: p.delayed}
	c.remaining.Store(int32(n))

	rails := make([]*joinRail[T], n)
	subscribers := make([]core.Subscriber[T], n)
	for i := range rails {
		jr := &joinRail[T]{
			parent:   c,
			queue:    core.NewQueue[T](p.prefetch),
			prefetch: p.prefetch,
		}
		rails[i] = jr
		subscribers[i] = jr
	}
	c.rails = rails

	s.OnSubscribe(c)
	p.source.Subscribe(subscribers)
}

// joinCoordinator drains N rail queues into one subscriber. All
// delivery happens inside the wip-gated drain; terminal paths return
// without releasing the gate, which permanently seals it.
type joinCoordinator[T any] struct {
	actual  core.Subscriber[T]
	rails   []*joinRail[T]
	delayed bool

	requested core.Demand
	wip       atomic.Int32
	cancelled atomic.Bool
	remaining atomic.Int32 // rails that have not terminated

	errOnce  atomic.Bool
	firstErr error // written before errored
	errored  atomic.Bool

	mu   sync.Mutex
	errs []error // delayed mode accumulation

	index int // drain-owned round-robin cursor
}

func (c *joinCoordinator[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	c.requested.Add(n)
	c.drain()
}

func (c *joinCoordinator[T]) Cancel() {
	if !c.cancelled.CAS(false, true) {
		return
	}
	c.cancelRails()
	if c.wip.Inc() == 1 {
		c.clearAll()
	}
}

func (c *joinCoordinator[T]) cancelRails() {
	for _, r := range c.rails {
		r.cancel()
	}
}

func (c *joinCoordinator[T]) clearAll() {
	for _, r := range c.rails {
		r.queue.Clear()
	}
}

func (c *joinCoordinator[T]) allEmpty() bool {
	for _, r := range c.rails {
		if !r.queue.IsEmpty() {
			return false
		}
	}
	return true
}

func (c *joinCoordinator[T]) railError(err error) {
	if c.delayed {
		c.mu.Lock()
		c.errs = append(c.errs, err)
		c.mu.Unlock()
		c.remaining.Dec()
		c.drain()
		return
	}
	if c.errOnce.CAS(false, true) {
		c.firstErr = err
		c.errored.Store(true)
		c.cancelRails()
		c.drain()
	}
}

func (c *joinCoordinator[T]) takeErrors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs
}

func (c *joinCoordinator[T]) drain() {
	if c.wip.Inc() != 1 {
		return
	}
	missed := int32(1)
	n := len(c.rails)
	idx := c.index
	for {
		if c.errored.Load() {
			c.clearAll()
			c.actual.OnError(c.firstErr)
			return
		}
		if c.cancelled.Load() {
			c.clearAll()
			return
		}

		outstanding := c.requested.Get()
		var produced int64
		notReady := 0
		for produced < outstanding && notReady < n {
			if c.cancelled.Load() {
				c.clearAll()
				return
			}
			if c.errored.Load() {
				break
			}
			rail := c.rails[idx]
			if v, ok := rail.queue.Poll(); ok {
				c.actual.OnNext(v)
				produced++
				rail.request(1)
				notReady = 0
			} else {
				notReady++
			}
			idx++
			if idx == n {
				idx = 0
			}
		}

		// terminal check: sample the done-count before sweeping the
		// queues so a rail completing concurrently with the sweep
		// cannot be missed
		finished := c.remaining.Load() == 0
		if finished && c.allEmpty() && !c.errored.Load() {
			if err := core.Composite(c.takeErrors()); err != nil {
				c.actual.OnError(err)
			} else {
				c.actual.OnComplete()
			}
			return
		}

		if produced > 0 {
			c.requested.Produced(produced)
		}
		c.index = idx
		missed = c.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// joinRail buffers one rail's elements for the coordinator.
type joinRail[T any] struct {
	parent   *joinCoordinator[T]
	queue    *core.Queue[T]
	prefetch int
	upstream core.SubscriptionRef
}

func (r *joinRail[T]) OnSubscribe(s core.Subscription) {
	r.upstream.Set(s)
	s.Request(int64(r.prefetch))
}

func (r *joinRail[T]) OnNext(v T) {
	if !r.queue.Offer(v) {
		r.upstream.Cancel()
		r.parent.railError(core.ErrMissingBackpressure)
		return
	}
	r.parent.drain()
}

func (r *joinRail[T]) OnError(err error) {
	r.parent.railError(err)
}

func (r *joinRail[T]) OnComplete() {
	r.parent.remaining.Dec()
	r.parent.drain()
}

func (r *joinRail[T]) request(n int64) {
	r.upstream.Request(n)
}

func (r *joinRail[T]) cancel() {
	r.upstream.Cancel()
}
