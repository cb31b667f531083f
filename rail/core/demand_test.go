package core

import (
	"math"
	"sync"
	"testing"
)

func TestDemandAddReturnsPrevious(t *testing.T) {
	var d Demand
	if prev := d.Add(5); prev != 0 {
		t.Fatalf("expected previous 0, got %d", prev)
	}
	if prev := d.Add(3); prev != 5 {
		t.Fatalf("expected previous 5, got %d", prev)
	}
	if got := d.Get(); got != 8 {
		t.Fatalf("expected 8 outstanding, got %d", got)
	}
}

func TestDemandSaturates(t *testing.T) {
	var d Demand
	d.Add(math.MaxInt64 - 1)
	d.Add(10)
	if got := d.Get(); got != math.MaxInt64 {
		t.Fatalf("expected saturation, got %d", got)
	}
	// saturated demand is permanent
	if remaining := d.Produced(100); remaining != math.MaxInt64 {
		t.Fatalf("expected saturation to survive Produced, got %d", remaining)
	}
	if prev := d.Add(1); prev != math.MaxInt64 {
		t.Fatalf("expected saturated previous, got %d", prev)
	}
}

func TestDemandProducedClampsAtZero(t *testing.T) {
	var d Demand
	d.Add(3)
	if remaining := d.Produced(2); remaining != 1 {
		t.Fatalf("expected 1 remaining, got %d", remaining)
	}
	if remaining := d.Produced(5); remaining != 0 {
		t.Fatalf("expected clamp at 0, got %d", remaining)
	}
}

func TestDemandConcurrentAdd(t *testing.T) {
	var d Demand
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				d.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := d.Get(); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
}
