package rail_test

import (
	"errors"
	"math"
	"testing"

	"github.com/lguimbarda/min-rail/rail"
	"github.com/lguimbarda/min-rail/rail/core"
)

func TestFromSplitsAcrossRails(t *testing.T) {
	r, err := rail.From(core.FromSlice(intRange(1, 100)), rail.WithParallelism(4), rail.WithPrefetch(16))
	if err != nil {
		t.Fatalf("From: %v", err)
	}

	cols := subscribeRails(t, r, math.MaxInt64)
	awaitAll(t, cols)

	all := gather(t, cols)
	if len(all) != 100 {
		t.Fatalf("expected 100 elements across rails, got %d", len(all))
	}
	if got := sum(all); got != 5050 {
		t.Fatalf("expected sum 5050, got %d", got)
	}
	for i, c := range cols {
		if len(c.mustValues(t)) == 0 {
			t.Errorf("rail %d received nothing", i)
		}
	}
}

func TestFromSkipsRailsWithoutDemand(t *testing.T) {
	r, err := rail.From(core.FromSlice(intRange(1, 10)), rail.WithParallelism(2))
	if err != nil {
		t.Fatalf("From: %v", err)
	}

	eager := newCollector[int](math.MaxInt64)
	idle := newCollector[int](0)
	r.Subscribe([]core.Subscriber[int]{eager, idle})

	eager.await(t)
	idle.await(t)

	if got := eager.mustValues(t); len(got) != 10 {
		t.Fatalf("expected the demanding rail to receive all 10 elements, got %v", got)
	}
	if got := idle.mustValues(t); len(got) != 0 {
		t.Fatalf("expected the idle rail to receive nothing, got %v", got)
	}
}

func TestFromHonorsPerRailDemand(t *testing.T) {
	r, err := rail.From(core.FromSlice(intRange(1, 10)), rail.WithParallelism(1))
	if err != nil {
		t.Fatalf("From: %v", err)
	}

	col := newCollector[int](1)
	r.Subscribe([]core.Subscriber[int]{col})

	if values, _, _ := col.snapshot(); len(values) != 1 {
		t.Fatalf("expected exactly 1 element under demand 1, got %v", values)
	}
	col.requestN(3)
	if values, _, _ := col.snapshot(); len(values) != 4 {
		t.Fatalf("expected 4 elements after topping up, got %v", values)
	}
	col.requestN(math.MaxInt64)
	col.await(t)
	if got := col.mustValues(t); len(got) != 10 {
		t.Fatalf("expected all 10 elements, got %v", got)
	}
}

func TestFromSubscriberCountMismatch(t *testing.T) {
	r, err := rail.From(core.FromSlice(intRange(1, 10)), rail.WithParallelism(2))
	if err != nil {
		t.Fatalf("From: %v", err)
	}

	cols := []*collector[int]{newCollector[int](1), newCollector[int](1), newCollector[int](1)}
	r.Subscribe([]core.Subscriber[int]{cols[0], cols[1], cols[2]})

	for i, c := range cols {
		c.await(t)
		_, err, _ := c.snapshot()
		var mismatch *core.MismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("subscriber %d: expected MismatchError, got %v", i, err)
		}
		if mismatch.Parallelism != 2 || mismatch.Subscribers != 3 {
			t.Fatalf("subscriber %d: unexpected mismatch %+v", i, mismatch)
		}
	}
}

func TestFromConfigValidation(t *testing.T) {
	if _, err := rail.From[int](nil); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := rail.From(core.FromSlice([]int{1}), rail.WithParallelism(0)); err == nil {
		t.Error("expected error for zero parallelism")
	}
	if _, err := rail.From(core.FromSlice([]int{1}), rail.WithPrefetch(-1)); err == nil {
		t.Error("expected error for negative prefetch")
	}
}

func TestFromErrorReachesEveryRail(t *testing.T) {
	boom := errors.New("boom")
	pub := &manualPub[int]{}
	r, err := rail.From[int](pub, rail.WithParallelism(2), rail.WithPrefetch(8))
	if err != nil {
		t.Fatalf("From: %v", err)
	}

	cols := subscribeRails(t, r, math.MaxInt64)
	pub.emit(1)
	pub.fail(boom)
	awaitAll(t, cols)

	for i, c := range cols {
		_, gotErr, _ := c.snapshot()
		if !errors.Is(gotErr, boom) {
			t.Errorf("rail %d: expected boom, got %v", i, gotErr)
		}
	}
}

func TestFromCancelAllRailsCancelsUpstream(t *testing.T) {
	pub := &manualPub[int]{}
	r, err := rail.From[int](pub, rail.WithParallelism(2), rail.WithPrefetch(8))
	if err != nil {
		t.Fatalf("From: %v", err)
	}

	cols := subscribeRails(t, r, 0)
	if pub.isCancelled() {
		t.Fatal("upstream cancelled before any rail cancelled")
	}
	cols[0].cancel()
	if pub.isCancelled() {
		t.Fatal("upstream cancelled while a rail is still active")
	}
	cols[1].cancel()
	if !pub.isCancelled() {
		t.Fatal("upstream not cancelled after the last rail cancelled")
	}
}

func TestFromOverflowSignalsMissingBackpressure(t *testing.T) {
	pub := &manualPub[int]{}
	r, err := rail.From[int](pub, rail.WithParallelism(1), rail.WithPrefetch(4))
	if err != nil {
		t.Fatalf("From: %v", err)
	}

	// no rail demand, so nothing leaves the shared queue
	cols := subscribeRails(t, r, 0)
	for i := 0; i < 5; i++ {
		pub.emit(i)
	}
	awaitAll(t, cols)

	_, gotErr, _ := cols[0].snapshot()
	if !errors.Is(gotErr, core.ErrMissingBackpressure) {
		t.Fatalf("expected ErrMissingBackpressure, got %v", gotErr)
	}
	if !pub.isCancelled() {
		t.Fatal("upstream not cancelled on overflow")
	}
}

func TestFromReplenishesUpstreamInBatches(t *testing.T) {
	pub := &manualPub[int]{}
	r, err := rail.From[int](pub, rail.WithParallelism(1), rail.WithPrefetch(8))
	if err != nil {
		t.Fatalf("From: %v", err)
	}

	cols := subscribeRails(t, r, math.MaxInt64)
	if got := pub.totalRequested(); got != 8 {
		t.Fatalf("expected initial prefetch request of 8, got %d", got)
	}

	// 75% of the prefetch consumed triggers one replenish batch
	for i := 0; i < 6; i++ {
		pub.emit(i)
	}
	if got := pub.totalRequested(); got != 14 {
		t.Fatalf("expected replenish to 14 after six elements, got %d", got)
	}
	pub.complete()
	awaitAll(t, cols)
	if got := cols[0].mustValues(t); len(got) != 6 {
		t.Fatalf("expected 6 elements, got %v", got)
	}
}
