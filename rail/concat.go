package rail

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/lguimbarda/min-rail/rail/core"
)

// ConcatOption configures ConcatMap.
type ConcatOption func(*concatConfig)

type concatConfig struct {
	prefetch int
	mode     ErrorMode
}

// WithConcatPrefetch sets how many outer elements are generated ahead
// of the nested producer currently being drained.
func WithConcatPrefetch(n int) ConcatOption {
	return func(c *concatConfig) { c.prefetch = n }
}

// WithConcatErrorMode selects how nested-producer errors are surfaced.
func WithConcatErrorMode(m ErrorMode) ConcatOption {
	return func(c *concatConfig) { c.mode = m }
}

// ConcatMap maps every element of every rail to a nested producer and
// concatenates the nested sequences onto the same rail in order: at
// most one nested producer is active per rail, and the next one starts
// only after the previous finished. Outer elements are generated ahead
// up to the prefetch (default DefaultConcatPrefetch) so the next
// producer can start without a round trip.
func ConcatMap[T, R any](r Rails[T], mapper func(T) core.Publisher[R], opts ...ConcatOption) (Rails[R], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if mapper == nil {
		return nil, core.NewConfigError("mapper is nil")
	}
	cfg := concatConfig{prefetch: DefaultConcatPrefetch, mode: ErrorModeImmediate}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.prefetch <= 0 {
		return nil, core.NewConfigError("prefetch > 0 required but it was %d", cfg.prefetch)
	}
	if cfg.mode != ErrorModeImmediate && cfg.mode != ErrorModeBoundary && cfg.mode != ErrorModeEnd {
		return nil, core.NewConfigError("unknown error mode %d", cfg.mode)
	}
	return &concatRails[T, R]{source: r, mapper: mapper, cfg: cfg}, nil
}

type concatRails[T, R any] struct {
	source Rails[T]
	mapper func(T) core.Publisher[R]
	cfg    concatConfig
}

func (p *concatRails[T, R]) Parallelism() int {
	return p.source.Parallelism()
}

func (p *concatRails[T, R]) Subscribe(subscribers []core.Subscriber[R]) {
	if !validate[R](p, subscribers) {
		return
	}
	parents := make([]core.Subscriber[T], len(subscribers))
	for i := range subscribers {
		parents[i] = &concatSubscriber[T, R]{
			actual: subscribers[i],
			mapper: p.mapper,
			cfg:    p.cfg,
			outer:  core.NewQueue[T](p.cfg.prefetch),
		}
	}
	p.source.Subscribe(parents)
}

// concatSubscriber runs one rail's concatenation. Outer elements queue
// up to the prefetch; the drain starts one nested producer at a time
// and renews one outer credit per element it consumes.
type concatSubscriber[T, R any] struct {
	actual core.Subscriber[R]
	mapper func(T) core.Publisher[R]
	cfg    concatConfig
	outer  *core.Queue[T]

	upstream  core.Subscription
	requested core.Demand
	wip       atomic.Int32
	cancelled atomic.Bool
	outerDone atomic.Bool

	errored atomic.Bool // written after the first append to errs
	errMu   sync.Mutex
	errs    []error

	mu    sync.Mutex
	inner *concatInner[T, R]
}

func (c *concatSubscriber[T, R]) OnSubscribe(s core.Subscription) {
	c.upstream = s
	c.actual.OnSubscribe(c)
	s.Request(int64(c.cfg.prefetch))
}

func (c *concatSubscriber[T, R]) OnNext(v T) {
	if c.cancelled.Load() {
		return
	}
	if !c.outer.Offer(v) {
		c.upstream.Cancel()
		c.outerError(core.ErrMissingBackpressure)
		return
	}
	c.drain()
}

func (c *concatSubscriber[T, R]) OnError(err error) {
	c.outerError(err)
}

func (c *concatSubscriber[T, R]) OnComplete() {
	c.outerDone.Store(true)
	c.drain()
}

func (c *concatSubscriber[T, R]) Request(n int64) {
	if n <= 0 {
		return
	}
	c.requested.Add(n)
	c.drain()
}

func (c *concatSubscriber[T, R]) Cancel() {
	if !c.cancelled.CAS(false, true) {
		return
	}
	c.upstream.Cancel()
	if in := c.current(); in != nil {
		in.sub.Cancel()
	}
	if c.wip.Inc() == 1 {
		c.clearAll()
	}
}

func (c *concatSubscriber[T, R]) outerError(err error) {
	c.recordError(err)
	c.outerDone.Store(true)
	c.drain()
}

func (c *concatSubscriber[T, R]) innerError(err error) {
	c.recordError(err)
	c.drain()
}

func (c *concatSubscriber[T, R]) recordError(err error) {
	c.errMu.Lock()
	c.errs = append(c.errs, err)
	c.errMu.Unlock()
	c.errored.Store(true)
}

func (c *concatSubscriber[T, R]) firstError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errs[0]
}

func (c *concatSubscriber[T, R]) takeErrors() []error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errs
}

func (c *concatSubscriber[T, R]) current() *concatInner[T, R] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner
}

func (c *concatSubscriber[T, R]) setCurrent(in *concatInner[T, R]) {
	c.mu.Lock()
	c.inner = in
	c.mu.Unlock()
}

func (c *concatSubscriber[T, R]) clearAll() {
	c.outer.Clear()
	if in := c.current(); in != nil {
		in.queue.Clear()
	}
}

func (c *concatSubscriber[T, R]) drain() {
	if c.wip.Inc() != 1 {
		return
	}
	missed := int32(1)
	for {
		if c.cancelled.Load() {
			c.clearAll()
			return
		}
		if c.cfg.mode == ErrorModeImmediate && c.errored.Load() {
			c.upstream.Cancel()
			if in := c.current(); in != nil {
				in.sub.Cancel()
			}
			c.clearAll()
			c.actual.OnError(c.firstError())
			return
		}

		in := c.current()
		if in == nil {
			// boundary errors surface between nested producers
			if c.cfg.mode == ErrorModeBoundary && c.errored.Load() {
				c.upstream.Cancel()
				c.outer.Clear()
				c.actual.OnError(core.Composite(c.takeErrors()))
				return
			}
			if v, ok := c.outer.Poll(); ok {
				pub, err := safePublisher(c.mapper, v)
				if err != nil {
					c.recordError(err)
					if c.cfg.mode == ErrorModeEnd {
						c.upstream.Request(1)
					} else {
						c.upstream.Cancel()
					}
					continue
				}
				in = &concatInner[T, R]{parent: c, queue: core.NewQueue[R](DefaultPrefetch)}
				c.setCurrent(in)
				pub.Subscribe(in)
				c.upstream.Request(1)
			} else if c.outerDone.Load() {
				if err := core.Composite(c.takeErrors()); err != nil {
					c.actual.OnError(err)
				} else {
					c.actual.OnComplete()
				}
				return
			}
		}

		if in != nil {
			outstanding := c.requested.Get()
			var produced int64
			for produced < outstanding {
				if c.cancelled.Load() {
					c.clearAll()
					return
				}
				if c.cfg.mode == ErrorModeImmediate && c.errored.Load() {
					break
				}
				v, ok := in.queue.Poll()
				if !ok {
					break
				}
				c.actual.OnNext(v)
				produced++
				in.sub.Request(1)
			}
			if produced > 0 {
				c.requested.Produced(produced)
			}
			if in.done.Load() && in.queue.IsEmpty() {
				c.setCurrent(nil)
				continue
			}
		}

		missed = c.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// concatInner receives the active nested producer's elements.
type concatInner[T, R any] struct {
	parent *concatSubscriber[T, R]
	queue  *core.Queue[R]
	sub    core.SubscriptionRef
	done   atomic.Bool
}

func (in *concatInner[T, R]) OnSubscribe(s core.Subscription) {
	in.sub.Set(s)
	s.Request(int64(DefaultPrefetch))
}

func (in *concatInner[T, R]) OnNext(v R) {
	if !in.queue.Offer(v) {
		in.sub.Cancel()
		in.done.Store(true)
		in.parent.innerError(core.ErrMissingBackpressure)
		return
	}
	in.parent.drain()
}

func (in *concatInner[T, R]) OnError(err error) {
	in.done.Store(true)
	in.parent.innerError(err)
}

func (in *concatInner[T, R]) OnComplete() {
	in.done.Store(true)
	in.parent.drain()
}
