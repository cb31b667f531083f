package observe_test

import (
	"bytes"
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lguimbarda/min-rail/rail"
	"github.com/lguimbarda/min-rail/rail/core"
	"github.com/lguimbarda/min-rail/rail/observe"
)

type sink[T any] struct {
	mu        sync.Mutex
	values    []T
	err       error
	completed bool
	done      chan struct{}
}

func newSink[T any]() *sink[T] { return &sink[T]{done: make(chan struct{})} }

func (s *sink[T]) OnSubscribe(sub core.Subscription) { sub.Request(math.MaxInt64) }

func (s *sink[T]) OnNext(v T) {
	s.mu.Lock()
	s.values = append(s.values, v)
	s.mu.Unlock()
}

func (s *sink[T]) OnError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

func (s *sink[T]) OnComplete() {
	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()
	close(s.done)
}

func (s *sink[T]) await(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal signal")
	}
}

// Demonstrates wiring a pipeline to OpenTelemetry counters and
// structured logging through a single tap stage.
func TestMeterAndLogTapIntegration(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("minrail/observability")
	metrics, err := observe.NewMetrics(meter)
	if err != nil {
		t.Fatalf("create metrics: %v", err)
	}

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	var seen atomic.Int64
	counting := rail.TapHooks[int]{OnNext: func(int) { seen.Add(1) }}

	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	r, err := rail.From(core.FromSlice(items), rail.WithParallelism(2))
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	tapped, err := rail.Tap(r, observe.Combine(
		observe.MeterTap[int](context.Background(), metrics),
		observe.LogTap[int](logger),
		counting,
	))
	if err != nil {
		t.Fatalf("Tap: %v", err)
	}
	joined, err := rail.Join(tapped)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	out := newSink[int]()
	joined.Subscribe(out)
	out.await(t)

	if len(out.values) != len(items) {
		t.Fatalf("expected %d elements, got %d", len(items), len(out.values))
	}
	if got := seen.Load(); got != int64(len(items)) {
		t.Fatalf("expected %d next hooks, got %d", len(items), got)
	}
	logged := buf.String()
	if !strings.Contains(logged, "rail completed") {
		t.Fatalf("expected completion log lines, got %q", logged)
	}
	if !strings.Contains(logged, "stage") {
		t.Fatalf("expected a stage id in log lines, got %q", logged)
	}
}

func TestCombineMergesHooksInOrder(t *testing.T) {
	var order []string
	merged := observe.Combine(
		rail.TapHooks[int]{OnNext: func(int) { order = append(order, "a") }},
		rail.TapHooks[int]{OnNext: func(int) { order = append(order, "b") }},
		rail.TapHooks[int]{OnComplete: func() { order = append(order, "c") }},
	)

	merged.OnNext(1)
	merged.OnComplete()

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}
