package rail

import (
	"go.uber.org/atomic"

	"github.com/lguimbarda/min-rail/rail/core"
)

// From prepares a single publisher for consumption on parallel rails.
// Elements are handed out round-robin among the rails that currently
// hold demand; when no rail has demand the source simply stops
// replenishing its upstream request. Construction fails with a
// ConfigError if source is nil or an option value is non-positive.
func From[T any](source core.Publisher[T], opts ...Option) (Rails[T], error) {
	if source == nil {
		return nil, core.NewConfigError("source publisher is nil")
	}
	c := newConfig(opts)
	if c.parallelism <= 0 {
		return nil, core.NewConfigError("parallelism > 0 required but it was %d", c.parallelism)
	}
	if c.prefetch <= 0 {
		return nil, core.NewConfigError("prefetch > 0 required but it was %d", c.prefetch)
	}
	return &railSource[T]{source: source, parallelism: c.parallelism, prefetch: c.prefetch}, nil
}

type railSource[T any] struct {
	source      core.Publisher[T]
	parallelism int
	prefetch    int
}

func (p *railSource[T]) Parallelism() int {
	return p.parallelism
}

func (p *railSource[T]) Subscribe(subscribers []core.Subscriber[T]) {
	if !validate[T](p, subscribers) {
		return
	}
	p.source.Subscribe(newDispatcher(subscribers, p.prefetch))
}

// dispatcher consumes the upstream sequence and feeds N rails. The
// drain loop is the only place that delivers rail signals; concurrent
// wake-ups (upstream delivery, rail requests, cancellation) coalesce
// through the wip counter.
type dispatcher[T any] struct {
	subscribers []core.Subscriber[T]
	prefetch    int
	limit       int64

	requests  []core.Demand // cumulative requested, per rail
	emissions []int64       // cumulative delivered, drain-owned
	cancels   []atomic.Bool
	active    atomic.Int32 // rails not yet cancelled

	queue    *core.Queue[T]
	upstream core.Subscription

	err       error // written before done
	done      atomic.Bool
	cancelled atomic.Bool
	wip       atomic.Int32

	index    int   // drain-owned round-robin cursor
	consumed int64 // drain-owned, elements taken since last replenish
}

func newDispatcher[T any](subscribers []core.Subscriber[T], prefetch int) *dispatcher[T] {
	d := &dispatcher[T]{
		subscribers: subscribers,
		prefetch:    prefetch,
		limit:       int64(prefetch - (prefetch >> 2)),
		requests:    make([]core.Demand, len(subscribers)),
		emissions:   make([]int64, len(subscribers)),
		cancels:     make([]atomic.Bool, len(subscribers)),
		queue:       core.NewQueue[T](prefetch),
	}
	d.active.Store(int32(len(subscribers)))
	return d
}

func (d *dispatcher[T]) OnSubscribe(s core.Subscription) {
	d.upstream = s
	for i := range d.subscribers {
		d.subscribers[i].OnSubscribe(&railSubscription[T]{parent: d, index: i})
	}
	s.Request(int64(d.prefetch))
}

func (d *dispatcher[T]) OnNext(v T) {
	if !d.queue.Offer(v) {
		d.upstream.Cancel()
		d.OnError(core.ErrMissingBackpressure)
		return
	}
	d.drain()
}

func (d *dispatcher[T]) OnError(err error) {
	if d.done.Load() {
		return
	}
	d.err = err
	d.done.Store(true)
	d.drain()
}

func (d *dispatcher[T]) OnComplete() {
	d.done.Store(true)
	d.drain()
}

func (d *dispatcher[T]) request(index int, n int64) {
	d.requests[index].Add(n)
	d.drain()
}

func (d *dispatcher[T]) cancelRail(index int) {
	if !d.cancels[index].CAS(false, true) {
		return
	}
	if d.active.Dec() == 0 {
		d.cancelled.Store(true)
		d.upstream.Cancel()
		d.drain()
	}
}

func (d *dispatcher[T]) drain() {
	if d.wip.Inc() != 1 {
		return
	}
	missed := int32(1)
	n := len(d.subscribers)
	idx := d.index
	consumed := d.consumed
	for {
		notReady := 0
		for {
			if d.cancelled.Load() {
				d.queue.Clear()
				return
			}
			done := d.done.Load()
			if done && d.err != nil {
				d.queue.Clear()
				err := d.err
				for i, s := range d.subscribers {
					if !d.cancels[i].Load() {
						s.OnError(err)
					}
				}
				return
			}
			empty := d.queue.IsEmpty()
			if done && empty {
				for i, s := range d.subscribers {
					if !d.cancels[i].Load() {
						s.OnComplete()
					}
				}
				return
			}
			if empty {
				break
			}
			if !d.cancels[idx].Load() && d.requests[idx].Get() != d.emissions[idx] {
				v, ok := d.queue.Poll()
				if !ok {
					break
				}
				d.subscribers[idx].OnNext(v)
				d.emissions[idx]++
				consumed++
				if consumed == d.limit {
					d.upstream.Request(consumed)
					consumed = 0
				}
				notReady = 0
			} else {
				notReady++
			}
			idx++
			if idx == n {
				idx = 0
			}
			if notReady == n {
				break
			}
		}
		d.index = idx
		d.consumed = consumed
		missed = d.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// railSubscription is one rail's view of the dispatcher.
type railSubscription[T any] struct {
	parent *dispatcher[T]
	index  int
}

func (s *railSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	s.parent.request(s.index, n)
}

func (s *railSubscription[T]) Cancel() {
	s.parent.cancelRail(s.index)
}
