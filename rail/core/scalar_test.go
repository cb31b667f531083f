package core

import (
	"errors"
	"testing"
)

func TestScalarCompleteThenRequest(t *testing.T) {
	rec := &recordingSub[int]{}
	s := NewScalarSubscription[int](rec)
	rec.OnSubscribe(s)

	s.Complete(42)
	if len(rec.values) != 0 {
		t.Fatal("value delivered without demand")
	}
	s.Request(1)
	if len(rec.values) != 1 || rec.values[0] != 42 || !rec.completed {
		t.Fatalf("expected [42] and completion, got %v completed=%v", rec.values, rec.completed)
	}
}

func TestScalarRequestThenComplete(t *testing.T) {
	rec := &recordingSub[int]{}
	s := NewScalarSubscription[int](rec)
	s.Request(1)
	s.Complete(7)
	if len(rec.values) != 1 || rec.values[0] != 7 || !rec.completed {
		t.Fatalf("expected [7] and completion, got %v completed=%v", rec.values, rec.completed)
	}
}

func TestScalarDeliversOnce(t *testing.T) {
	rec := &recordingSub[int]{}
	s := NewScalarSubscription[int](rec)
	s.Request(1)
	s.Complete(1)
	s.Complete(2)
	s.Request(1)
	if len(rec.values) != 1 {
		t.Fatalf("expected a single delivery, got %v", rec.values)
	}
}

func TestScalarCancelDiscardsValue(t *testing.T) {
	rec := &recordingSub[int]{}
	s := NewScalarSubscription[int](rec)
	s.Cancel()
	if !s.Cancelled() {
		t.Fatal("Cancelled not observed")
	}
	s.Complete(5)
	s.Request(1)
	if len(rec.values) != 0 || rec.completed {
		t.Fatalf("signal delivered after cancel: %v completed=%v", rec.values, rec.completed)
	}
}

func TestScalarCompleteEmpty(t *testing.T) {
	rec := &recordingSub[int]{}
	s := NewScalarSubscription[int](rec)
	s.CompleteEmpty()
	if !rec.completed || len(rec.values) != 0 {
		t.Fatalf("expected empty completion, got %v completed=%v", rec.values, rec.completed)
	}
}

func TestScalarError(t *testing.T) {
	boom := errors.New("boom")
	rec := &recordingSub[int]{}
	s := NewScalarSubscription[int](rec)
	s.Error(boom)
	if !errors.Is(rec.err, boom) {
		t.Fatalf("expected boom, got %v", rec.err)
	}
	// terminal state is final
	s.Complete(1)
	s.Request(1)
	if len(rec.values) != 0 {
		t.Fatalf("value delivered after error: %v", rec.values)
	}
}
