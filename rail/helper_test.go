package rail_test

import (
	"sync"
	"testing"
	"time"

	"github.com/lguimbarda/min-rail/rail"
	"github.com/lguimbarda/min-rail/rail/core"
)

// collector records everything one rail (or one joined sequence)
// delivers. A positive request is issued once at subscribe time; zero
// leaves demand under the test's control via requestN.
type collector[T any] struct {
	request int64

	mu        sync.Mutex
	sub       core.Subscription
	values    []T
	err       error
	completed bool
	done      chan struct{}
}

func newCollector[T any](request int64) *collector[T] {
	return &collector[T]{request: request, done: make(chan struct{})}
}

func (c *collector[T]) OnSubscribe(s core.Subscription) {
	c.mu.Lock()
	c.sub = s
	c.mu.Unlock()
	if c.request > 0 {
		s.Request(c.request)
	}
}

func (c *collector[T]) OnNext(v T) {
	c.mu.Lock()
	c.values = append(c.values, v)
	c.mu.Unlock()
}

func (c *collector[T]) OnError(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}

func (c *collector[T]) OnComplete() {
	c.mu.Lock()
	c.completed = true
	c.mu.Unlock()
	close(c.done)
}

func (c *collector[T]) requestN(n int64) {
	c.mu.Lock()
	s := c.sub
	c.mu.Unlock()
	s.Request(n)
}

func (c *collector[T]) cancel() {
	c.mu.Lock()
	s := c.sub
	c.mu.Unlock()
	s.Cancel()
}

func (c *collector[T]) await(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal signal")
	}
}

func (c *collector[T]) snapshot() ([]T, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.values...), c.err, c.completed
}

func (c *collector[T]) mustValues(t *testing.T) []T {
	t.Helper()
	values, err, completed := c.snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Fatal("sequence did not complete")
	}
	return values
}

// subscribeRails attaches one collector per rail and starts the chain.
func subscribeRails[T any](t *testing.T, r rail.Rails[T], request int64) []*collector[T] {
	t.Helper()
	n := r.Parallelism()
	cols := make([]*collector[T], n)
	subs := make([]core.Subscriber[T], n)
	for i := range cols {
		cols[i] = newCollector[T](request)
		subs[i] = cols[i]
	}
	r.Subscribe(subs)
	return cols
}

func awaitAll[T any](t *testing.T, cols []*collector[T]) {
	t.Helper()
	for _, c := range cols {
		c.await(t)
	}
}

// gather flattens the per-rail value sets after completion.
func gather[T any](t *testing.T, cols []*collector[T]) []T {
	t.Helper()
	var all []T
	for _, c := range cols {
		all = append(all, c.mustValues(t)...)
	}
	return all
}

// manualPub lets a test drive the upstream side directly: elements are
// pushed with emit regardless of pacing, and the test can observe what
// the stage under test requested or cancelled.
type manualPub[T any] struct {
	mu        sync.Mutex
	sub       core.Subscriber[T]
	requested int64
	cancelled bool
}

func (m *manualPub[T]) Subscribe(s core.Subscriber[T]) {
	m.mu.Lock()
	m.sub = s
	m.mu.Unlock()
	s.OnSubscribe(&manualSub[T]{pub: m})
}

func (m *manualPub[T]) emit(v T)       { m.sub.OnNext(v) }
func (m *manualPub[T]) fail(err error) { m.sub.OnError(err) }
func (m *manualPub[T]) complete()      { m.sub.OnComplete() }

func (m *manualPub[T]) totalRequested() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requested
}

func (m *manualPub[T]) isCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

type manualSub[T any] struct {
	pub *manualPub[T]
}

func (s *manualSub[T]) Request(n int64) {
	s.pub.mu.Lock()
	s.pub.requested += n
	s.pub.mu.Unlock()
}

func (s *manualSub[T]) Cancel() {
	s.pub.mu.Lock()
	s.pub.cancelled = true
	s.pub.mu.Unlock()
}

// failAfter emits its values and then errors. It leans on the prefetch
// credit the consumer grants upfront, so values must stay below that.
type failAfter[T any] struct {
	values []T
	err    error
}

func (p failAfter[T]) Subscribe(s core.Subscriber[T]) {
	s.OnSubscribe(nopSubscription{})
	for _, v := range p.values {
		s.OnNext(v)
	}
	s.OnError(p.err)
}

type nopSubscription struct{}

func (nopSubscription) Request(int64) {}
func (nopSubscription) Cancel()       {}

func intRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}
