package rail_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/lguimbarda/min-rail/rail"
	"github.com/lguimbarda/min-rail/rail/core"
)

func TestMapTransformsEveryElement(t *testing.T) {
	r, err := rail.From(core.FromSlice(intRange(1, 10)), rail.WithParallelism(2))
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	doubled, err := rail.Map(r, func(v int) (int, error) { return v * 2, nil })
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	joined, err := rail.Join(doubled)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	col := newCollector[int](math.MaxInt64)
	joined.Subscribe(col)
	col.await(t)

	values := col.mustValues(t)
	if len(values) != 10 {
		t.Fatalf("expected 10 elements, got %d", len(values))
	}
	if got := sum(values); got != 110 {
		t.Fatalf("expected sum 110, got %d", got)
	}
}

func TestMapErrorFailsTheRail(t *testing.T) {
	boom := errors.New("boom")
	r, err := rail.From(core.FromSlice(intRange(1, 10)), rail.WithParallelism(1))
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	mapped, err := rail.Map(r, func(v int) (int, error) {
		if v == 5 {
			return 0, boom
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	cols := subscribeRails(t, mapped, math.MaxInt64)
	awaitAll(t, cols)

	values, gotErr, _ := cols[0].snapshot()
	if !errors.Is(gotErr, boom) {
		t.Fatalf("expected boom, got %v", gotErr)
	}
	if len(values) != 4 {
		t.Fatalf("expected the elements before the failure, got %v", values)
	}
}

func TestMapPanicBecomesRailError(t *testing.T) {
	r, err := rail.From(core.FromSlice([]int{1}), rail.WithParallelism(1))
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	mapped, err := rail.Map(r, func(int) (int, error) {
		panic("kaput")
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	cols := subscribeRails(t, mapped, math.MaxInt64)
	awaitAll(t, cols)

	_, gotErr, _ := cols[0].snapshot()
	var pe core.PanicError
	if !errors.As(gotErr, &pe) {
		t.Fatalf("expected PanicError, got %v", gotErr)
	}
}

func TestFilterRenewsCreditForDroppedElements(t *testing.T) {
	// small prefetches everywhere: a filter that fails to renew credit
	// for dropped elements would stall long before 100 elements
	r, err := rail.From(core.FromSlice(intRange(1, 100)), rail.WithParallelism(2), rail.WithPrefetch(4))
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	evens, err := rail.Filter(r, func(v int) (bool, error) { return v%2 == 0, nil })
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	joined, err := rail.JoinBuffered(evens, 4)
	if err != nil {
		t.Fatalf("JoinBuffered: %v", err)
	}

	col := newCollector[int](math.MaxInt64)
	joined.Subscribe(col)
	col.await(t)

	values := col.mustValues(t)
	if len(values) != 50 {
		t.Fatalf("expected 50 even elements, got %d", len(values))
	}
	for _, v := range values {
		if v%2 != 0 {
			t.Fatalf("odd element %d passed the filter", v)
		}
	}
}

func TestFilterPredicateError(t *testing.T) {
	r, err := rail.From(core.FromSlice(intRange(1, 10)), rail.WithParallelism(1))
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	filtered, err := rail.Filter(r, func(v int) (bool, error) {
		if v == 3 {
			return false, fmt.Errorf("reject %d", v)
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	cols := subscribeRails(t, filtered, math.MaxInt64)
	awaitAll(t, cols)

	values, gotErr, _ := cols[0].snapshot()
	if gotErr == nil {
		t.Fatal("expected predicate error")
	}
	if len(values) != 2 {
		t.Fatalf("expected [1 2] before the failure, got %v", values)
	}
}

func TestMapConfigValidation(t *testing.T) {
	r, err := rail.From(core.FromSlice([]int{1}), rail.WithParallelism(1))
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	if _, err := rail.Map[int, int](nil, func(v int) (int, error) { return v, nil }); err == nil {
		t.Error("expected error for nil rails")
	}
	if _, err := rail.Map[int, int](r, nil); err == nil {
		t.Error("expected error for nil mapper")
	}
	if _, err := rail.Filter[int](r, nil); err == nil {
		t.Error("expected error for nil predicate")
	}
}
