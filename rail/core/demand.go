package core

import (
	"math"
	"sync/atomic"
)

// Demand tracks the request credit outstanding for one consumer.
// All updates are lock-free compare-and-swap loops; a producer and a
// consumer may update the counter concurrently without ever blocking
// each other.
//
// Once the counter saturates at math.MaxInt64 it stays saturated:
// unbounded demand never becomes bounded again.
type Demand struct {
	n atomic.Int64
}

// Add adds n credits, saturating at math.MaxInt64, and returns the
// value before the addition. n must be positive; callers validate.
func (d *Demand) Add(n int64) int64 {
	for {
		cur := d.n.Load()
		if cur == math.MaxInt64 {
			return cur
		}
		next := cur + n
		if next < 0 {
			next = math.MaxInt64
		}
		if d.n.CompareAndSwap(cur, next) {
			return cur
		}
	}
}

// Produced subtracts n delivered elements from the outstanding credit
// and returns the remaining amount. Saturated demand is left untouched.
// The counter never goes below zero: delivering more than was requested
// is a contract violation on the producer side, not a state this
// counter represents.
func (d *Demand) Produced(n int64) int64 {
	for {
		cur := d.n.Load()
		if cur == math.MaxInt64 {
			return cur
		}
		next := cur - n
		if next < 0 {
			next = 0
		}
		if d.n.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Get returns the current outstanding credit.
func (d *Demand) Get() int64 {
	return d.n.Load()
}
