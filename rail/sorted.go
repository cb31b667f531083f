package rail

import (
	"math"
	"sort"

	"go.uber.org/atomic"

	"github.com/lguimbarda/min-rail/rail/core"
)

// SortedOption configures the sorted merges.
type SortedOption func(*sortedConfig)

type sortedConfig struct {
	capacityHint int
}

// WithCapacityHint sizes each rail's collection buffer for an expected
// total element count, split evenly across the rails. Zero (the
// default) leaves the buffers growing from empty.
func WithCapacityHint(n int) SortedOption {
	return func(c *sortedConfig) { c.capacityHint = n }
}

// Sorted merges the rails into one globally ordered sequence. Each rail
// first collects and sorts its own elements; once every rail has
// delivered its sorted run, the runs are merged k-way under downstream
// demand. Ties across rails resolve to the lowest rail index, making
// the output deterministic for equal keys. cmp follows the usual
// three-way contract: negative when a orders before b.
func Sorted[T any](r Rails[T], cmp func(a, b T) int, opts ...SortedOption) (core.Publisher[T], error) {
	runs, err := sortedRuns(r, cmp, opts)
	if err != nil {
		return nil, err
	}
	return &sortedJoinPublisher[T]{source: runs, cmp: cmp}, nil
}

// SortedSlice is Sorted collapsed into a single slice, emitted as one
// element once every rail has finished.
func SortedSlice[T any](r Rails[T], cmp func(a, b T) int, opts ...SortedOption) (core.Publisher[[]T], error) {
	runs, err := sortedRuns(r, cmp, opts)
	if err != nil {
		return nil, err
	}
	return &sortedSlicePublisher[T]{source: runs, cmp: cmp}, nil
}

// sortedRuns builds the per-rail collect-then-sort phase shared by both
// sorted merges.
func sortedRuns[T any](r Rails[T], cmp func(a, b T) int, opts []SortedOption) (Rails[[]T], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if cmp == nil {
		return nil, core.NewConfigError("comparator is nil")
	}
	var cfg sortedConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.capacityHint < 0 {
		return nil, core.NewConfigError("capacityHint >= 0 required but it was %d", cfg.capacityHint)
	}
	perRail := 0
	if cfg.capacityHint > 0 {
		perRail = cfg.capacityHint/r.Parallelism() + 1
	}
	collected, err := Collect(r,
		func() []T { return make([]T, 0, perRail) },
		func(acc []T, v T) []T { return append(acc, v) })
	if err != nil {
		return nil, err
	}
	return Map(collected, func(run []T) ([]T, error) {
		sort.Slice(run, func(i, j int) bool { return cmp(run[i], run[j]) < 0 })
		return run, nil
	})
}

// nextRun picks the run whose head orders first; equal heads go to the
// lowest index. Returns -1 when every run is exhausted.
func nextRun[T any](runs [][]T, at []int, cmp func(a, b T) int) int {
	min := -1
	for i, run := range runs {
		if at[i] >= len(run) {
			continue
		}
		if min < 0 || cmp(run[at[i]], runs[min][at[min]]) < 0 {
			min = i
		}
	}
	return min
}

type sortedJoinPublisher[T any] struct {
	source Rails[[]T]
	cmp    func(a, b T) int
}

func (p *sortedJoinPublisher[T]) Subscribe(s core.Subscriber[T]) {
	n := p.source.Parallelism()
	c := &sortedJoinCoordinator[T]{
		actual: s,
		cmp:    p.cmp,
		runs:   make([][]T, n),
		at:     make([]int, n),
	}
	c.remaining.Store(int32(n))

	rails := make([]*sortedRail[T], n)
	subscribers := make([]core.Subscriber[[]T], n)
	for i := range rails {
		rails[i] = &sortedRail[T]{index: i, deliver: c.railRun, fail: c.railError, finish: c.railDone}
		subscribers[i] = rails[i]
	}
	c.rails = rails

	s.OnSubscribe(c)
	p.source.Subscribe(subscribers)
}

// sortedJoinCoordinator holds every rail's sorted run and merges them
// inside the wip-gated drain once the last run has arrived.
type sortedJoinCoordinator[T any] struct {
	actual core.Subscriber[T]
	cmp    func(a, b T) int
	rails  []*sortedRail[T]

	runs [][]T
	at   []int // drain-owned merge positions

	requested core.Demand
	wip       atomic.Int32
	cancelled atomic.Bool
	remaining atomic.Int32

	errOnce  atomic.Bool
	firstErr error // written before errored
	errored  atomic.Bool
}

func (c *sortedJoinCoordinator[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	c.requested.Add(n)
	c.drain()
}

func (c *sortedJoinCoordinator[T]) Cancel() {
	if !c.cancelled.CAS(false, true) {
		return
	}
	c.cancelRails()
}

func (c *sortedJoinCoordinator[T]) cancelRails() {
	for _, r := range c.rails {
		r.sub.Cancel()
	}
}

func (c *sortedJoinCoordinator[T]) railRun(index int, run []T) {
	c.runs[index] = run
}

func (c *sortedJoinCoordinator[T]) railDone() {
	c.remaining.Dec()
	c.drain()
}

func (c *sortedJoinCoordinator[T]) railError(err error) {
	if c.errOnce.CAS(false, true) {
		c.firstErr = err
		c.errored.Store(true)
		c.cancelRails()
		c.drain()
	}
}

func (c *sortedJoinCoordinator[T]) drain() {
	if c.wip.Inc() != 1 {
		return
	}
	missed := int32(1)
	for {
		if c.cancelled.Load() {
			return
		}
		if c.errored.Load() {
			c.actual.OnError(c.firstErr)
			return
		}
		// emission starts only after every rail's run has landed
		if c.remaining.Load() == 0 {
			outstanding := c.requested.Get()
			var produced int64
			for produced < outstanding {
				if c.cancelled.Load() {
					return
				}
				i := nextRun(c.runs, c.at, c.cmp)
				if i < 0 {
					c.actual.OnComplete()
					return
				}
				c.actual.OnNext(c.runs[i][c.at[i]])
				c.at[i]++
				produced++
			}
			if produced == outstanding && nextRun(c.runs, c.at, c.cmp) < 0 {
				c.actual.OnComplete()
				return
			}
			if produced > 0 {
				c.requested.Produced(produced)
			}
		}
		missed = c.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// sortedRail receives one rail's sorted run.
type sortedRail[T any] struct {
	index   int
	sub     core.SubscriptionRef
	deliver func(int, []T)
	fail    func(error)
	finish  func()
	done    bool
}

func (r *sortedRail[T]) OnSubscribe(s core.Subscription) {
	r.sub.Set(s)
	s.Request(math.MaxInt64)
}

func (r *sortedRail[T]) OnNext(run []T) {
	r.deliver(r.index, run)
}

func (r *sortedRail[T]) OnError(err error) {
	if r.done {
		return
	}
	r.done = true
	r.fail(err)
}

func (r *sortedRail[T]) OnComplete() {
	if r.done {
		return
	}
	r.done = true
	r.finish()
}

type sortedSlicePublisher[T any] struct {
	source Rails[[]T]
	cmp    func(a, b T) int
}

func (p *sortedSlicePublisher[T]) Subscribe(s core.Subscriber[[]T]) {
	n := p.source.Parallelism()
	c := &sortedSliceCoordinator[T]{
		cmp:    p.cmp,
		scalar: core.NewScalarSubscription(s),
		runs:   make([][]T, n),
	}
	c.remaining.Store(int32(n))

	rails := make([]*sortedRail[T], n)
	subscribers := make([]core.Subscriber[[]T], n)
	for i := range rails {
		rails[i] = &sortedRail[T]{index: i, deliver: c.railRun, fail: c.railError, finish: c.railDone}
		subscribers[i] = rails[i]
	}
	c.rails = rails

	s.OnSubscribe(c)
	p.source.Subscribe(subscribers)
}

type sortedSliceCoordinator[T any] struct {
	cmp    func(a, b T) int
	scalar *core.ScalarSubscription[[]T]
	rails  []*sortedRail[T]

	runs      [][]T
	remaining atomic.Int32
	errOnce   atomic.Bool
}

func (c *sortedSliceCoordinator[T]) Request(n int64) {
	c.scalar.Request(n)
}

func (c *sortedSliceCoordinator[T]) Cancel() {
	c.scalar.Cancel()
	for _, r := range c.rails {
		r.sub.Cancel()
	}
}

func (c *sortedSliceCoordinator[T]) railRun(index int, run []T) {
	c.runs[index] = run
}

func (c *sortedSliceCoordinator[T]) railDone() {
	if c.remaining.Dec() != 0 {
		return
	}
	total := 0
	for _, run := range c.runs {
		total += len(run)
	}
	merged := make([]T, 0, total)
	at := make([]int, len(c.runs))
	for {
		i := nextRun(c.runs, at, c.cmp)
		if i < 0 {
			break
		}
		merged = append(merged, c.runs[i][at[i]])
		at[i]++
	}
	c.scalar.Complete(merged)
}

func (c *sortedSliceCoordinator[T]) railError(err error) {
	if c.errOnce.CAS(false, true) {
		for _, r := range c.rails {
			r.sub.Cancel()
		}
		c.scalar.Error(err)
	}
}
