package rail

import (
	"math"
	"sync"

	"go.uber.org/atomic"

	"github.com/lguimbarda/min-rail/rail/core"
)

// DefaultConcatPrefetch is the generate-ahead depth used by ConcatMap
// when no explicit prefetch is given.
const DefaultConcatPrefetch = 2

// FlattenOption configures FlatMap.
type FlattenOption func(*flattenConfig)

type flattenConfig struct {
	maxConcurrency int // 0 means unbounded
	innerPrefetch  int
	mode           ErrorMode
}

// WithMaxConcurrency caps how many nested producers a rail keeps active
// at once. Zero (the default) means unbounded.
func WithMaxConcurrency(n int) FlattenOption {
	return func(c *flattenConfig) { c.maxConcurrency = n }
}

// WithInnerPrefetch sets the per-nested-producer prefetch.
func WithInnerPrefetch(n int) FlattenOption {
	return func(c *flattenConfig) { c.innerPrefetch = n }
}

// WithFlattenErrorMode selects how nested-producer errors are surfaced.
func WithFlattenErrorMode(m ErrorMode) FlattenOption {
	return func(c *flattenConfig) { c.mode = m }
}

// FlatMap maps every element of every rail to a nested producer and
// flattens the nested sequences back onto the same rail, interleaved in
// arrival order with no ordering guarantee. Each rail runs its own
// flattener; rails never exchange elements.
func FlatMap[T, R any](r Rails[T], mapper func(T) core.Publisher[R], opts ...FlattenOption) (Rails[R], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if mapper == nil {
		return nil, core.NewConfigError("mapper is nil")
	}
	cfg := flattenConfig{innerPrefetch: DefaultPrefetch, mode: ErrorModeImmediate}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxConcurrency < 0 {
		return nil, core.NewConfigError("maxConcurrency >= 0 required but it was %d", cfg.maxConcurrency)
	}
	if cfg.innerPrefetch <= 0 {
		return nil, core.NewConfigError("innerPrefetch > 0 required but it was %d", cfg.innerPrefetch)
	}
	if cfg.mode != ErrorModeImmediate && cfg.mode != ErrorModeBoundary && cfg.mode != ErrorModeEnd {
		return nil, core.NewConfigError("unknown error mode %d", cfg.mode)
	}
	return &flattenRails[T, R]{source: r, mapper: mapper, cfg: cfg}, nil
}

type flattenRails[T, R any] struct {
	source Rails[T]
	mapper func(T) core.Publisher[R]
	cfg    flattenConfig
}

func (p *flattenRails[T, R]) Parallelism() int {
	return p.source.Parallelism()
}

func (p *flattenRails[T, R]) Subscribe(subscribers []core.Subscriber[R]) {
	if !validate[R](p, subscribers) {
		return
	}
	parents := make([]core.Subscriber[T], len(subscribers))
	for i := range subscribers {
		f := &flattenSubscriber[T, R]{
			actual: subscribers[i],
			mapper: p.mapper,
			cfg:    p.cfg,
		}
		if p.cfg.maxConcurrency > 0 {
			f.slots = make([]*flattenInner[T, R], p.cfg.maxConcurrency)
		}
		parents[i] = f
	}
	p.source.Subscribe(parents)
}

// flattenSubscriber is one rail's flattener. The outer rail and every
// nested producer feed it concurrently; the wip-gated drain is the only
// code that touches the downstream subscriber. Active nested producers
// occupy numbered slots so a bounded flattener reuses a fixed arena.
type flattenSubscriber[T, R any] struct {
	actual core.Subscriber[R]
	mapper func(T) core.Publisher[R]
	cfg    flattenConfig

	upstream  core.Subscription
	requested core.Demand
	wip       atomic.Int32
	cancelled atomic.Bool
	outerDone atomic.Bool

	errored atomic.Bool // written after the first append to errs
	errMu   sync.Mutex
	errs    []error

	slotMu sync.Mutex
	slots  []*flattenInner[T, R]
	active atomic.Int32
}

func (f *flattenSubscriber[T, R]) OnSubscribe(s core.Subscription) {
	f.upstream = s
	f.actual.OnSubscribe(f)
	if f.cfg.maxConcurrency == 0 {
		s.Request(math.MaxInt64)
	} else {
		s.Request(int64(f.cfg.maxConcurrency))
	}
}

func (f *flattenSubscriber[T, R]) OnNext(v T) {
	if f.cancelled.Load() {
		return
	}
	// after an error only END mode keeps starting nested producers
	if f.errored.Load() && f.cfg.mode != ErrorModeEnd {
		return
	}
	pub, err := safePublisher(f.mapper, v)
	if err != nil {
		f.upstream.Cancel()
		f.outerError(err)
		return
	}
	inner := &flattenInner[T, R]{
		parent: f,
		queue:  core.NewQueue[R](f.cfg.innerPrefetch),
	}
	f.addInner(inner)
	pub.Subscribe(inner)
}

func (f *flattenSubscriber[T, R]) OnError(err error) {
	f.outerError(err)
}

func (f *flattenSubscriber[T, R]) OnComplete() {
	f.outerDone.Store(true)
	f.drain()
}

func (f *flattenSubscriber[T, R]) Request(n int64) {
	if n <= 0 {
		return
	}
	f.requested.Add(n)
	f.drain()
}

func (f *flattenSubscriber[T, R]) Cancel() {
	if !f.cancelled.CAS(false, true) {
		return
	}
	f.cancelAll()
	if f.wip.Inc() == 1 {
		f.clearAll()
	}
}

func (f *flattenSubscriber[T, R]) outerError(err error) {
	f.recordError(err)
	f.outerDone.Store(true)
	f.drain()
}

func (f *flattenSubscriber[T, R]) innerError(in *flattenInner[T, R], err error) {
	f.recordError(err)
	in.done.Store(true)
	f.drain()
}

func (f *flattenSubscriber[T, R]) recordError(err error) {
	f.errMu.Lock()
	f.errs = append(f.errs, err)
	f.errMu.Unlock()
	f.errored.Store(true)
}

func (f *flattenSubscriber[T, R]) firstError() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.errs[0]
}

func (f *flattenSubscriber[T, R]) takeErrors() []error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.errs
}

func (f *flattenSubscriber[T, R]) addInner(in *flattenInner[T, R]) {
	f.slotMu.Lock()
	placed := false
	for i, s := range f.slots {
		if s == nil {
			f.slots[i] = in
			in.slot = i
			placed = true
			break
		}
	}
	if !placed {
		f.slots = append(f.slots, in)
		in.slot = len(f.slots) - 1
	}
	f.slotMu.Unlock()
	f.active.Inc()
}

func (f *flattenSubscriber[T, R]) removeInner(in *flattenInner[T, R]) {
	f.slotMu.Lock()
	f.slots[in.slot] = nil
	f.slotMu.Unlock()
	f.active.Dec()
}

func (f *flattenSubscriber[T, R]) snapshot() []*flattenInner[T, R] {
	f.slotMu.Lock()
	defer f.slotMu.Unlock()
	out := make([]*flattenInner[T, R], 0, len(f.slots))
	for _, s := range f.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f *flattenSubscriber[T, R]) cancelAll() {
	f.upstream.Cancel()
	for _, in := range f.snapshot() {
		in.sub.Cancel()
	}
}

func (f *flattenSubscriber[T, R]) clearAll() {
	for _, in := range f.snapshot() {
		in.queue.Clear()
	}
}

func (f *flattenSubscriber[T, R]) drain() {
	if f.wip.Inc() != 1 {
		return
	}
	missed := int32(1)
	for {
		if f.cancelled.Load() {
			f.clearAll()
			return
		}
		if f.cfg.mode == ErrorModeImmediate && f.errored.Load() {
			f.cancelAll()
			f.clearAll()
			f.actual.OnError(f.firstError())
			return
		}

		outstanding := f.requested.Get()
		var produced int64
		progress := true
		for produced < outstanding && progress {
			progress = false
			for _, in := range f.snapshot() {
				if produced >= outstanding {
					break
				}
				if f.cancelled.Load() {
					f.clearAll()
					return
				}
				if f.cfg.mode == ErrorModeImmediate && f.errored.Load() {
					progress = false
					break
				}
				if v, ok := in.queue.Poll(); ok {
					f.actual.OnNext(v)
					produced++
					in.sub.Request(1)
					progress = true
				}
			}
		}

		// retire finished nested producers; each freed slot pulls the
		// next outer element unless errors have stopped admission
		errored := f.errored.Load()
		for _, in := range f.snapshot() {
			if in.done.Load() && in.queue.IsEmpty() {
				f.removeInner(in)
				if f.cfg.maxConcurrency > 0 && !f.cancelled.Load() &&
					(!errored || f.cfg.mode == ErrorModeEnd) {
					f.upstream.Request(1)
				}
			}
		}

		// sample the outer's state before sweeping the slots so an
		// inner finishing concurrently cannot be missed
		outerDone := f.outerDone.Load()
		noActive := f.active.Load() == 0
		if noActive && (outerDone || (errored && f.cfg.mode == ErrorModeBoundary)) {
			if !outerDone {
				f.upstream.Cancel()
			}
			if err := core.Composite(f.takeErrors()); err != nil {
				f.actual.OnError(err)
			} else {
				f.actual.OnComplete()
			}
			return
		}

		if produced > 0 {
			f.requested.Produced(produced)
		}
		missed = f.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// flattenInner receives one nested producer's elements.
type flattenInner[T, R any] struct {
	parent *flattenSubscriber[T, R]
	queue  *core.Queue[R]
	sub    core.SubscriptionRef
	slot   int
	done   atomic.Bool
}

func (in *flattenInner[T, R]) OnSubscribe(s core.Subscription) {
	in.sub.Set(s)
	s.Request(int64(in.parent.cfg.innerPrefetch))
}

func (in *flattenInner[T, R]) OnNext(v R) {
	if !in.queue.Offer(v) {
		in.sub.Cancel()
		in.parent.innerError(in, core.ErrMissingBackpressure)
		return
	}
	in.parent.drain()
}

func (in *flattenInner[T, R]) OnError(err error) {
	in.parent.innerError(in, err)
}

func (in *flattenInner[T, R]) OnComplete() {
	in.done.Store(true)
	in.parent.drain()
}
