// Package rail provides a parallel fan-out engine over the pull-based
// streaming contract in rail/core. A source sequence is split into N
// independent lanes ("rails") that demand elements individually, run
// their operators concurrently, and can be joined back into a single
// sequence either unordered or in comparator order.
//
// Operators are free functions that take and return a Rails value, in
// the usual generic-pipeline style:
//
//	r, err := rail.From(source, rail.WithParallelism(4))
//	r, err = rail.RunOn(r, pool, 64)
//	out, err := rail.Join(r)
package rail

import (
	"runtime"

	"github.com/lguimbarda/min-rail/rail/core"
)

// DefaultPrefetch is the per-rail request credit used when no explicit
// prefetch is given.
const DefaultPrefetch = 128

// Rails is a sequence split into Parallelism independent lanes. Calling
// Subscribe with exactly Parallelism subscribers starts the whole
// chain; each subscriber owns one rail and demands elements for it
// individually.
type Rails[T any] interface {
	// Subscribe attaches one subscriber per rail and triggers the
	// execution chain. len(subscribers) must equal Parallelism.
	Subscribe(subscribers []core.Subscriber[T])

	// Parallelism returns the fixed number of rails.
	Parallelism() int
}

// validate checks the offered subscriber count against the rails'
// parallelism. On mismatch every offered subscriber receives exactly
// one mismatch error and nothing is subscribed.
func validate[T any](r Rails[T], subscribers []core.Subscriber[T]) bool {
	p := r.Parallelism()
	if len(subscribers) != p {
		err := &core.MismatchError{Parallelism: p, Subscribers: len(subscribers)}
		for _, s := range subscribers {
			core.ErrorTo(s, err)
		}
		return false
	}
	return true
}

// Option configures From.
type Option func(*config)

type config struct {
	parallelism int
	prefetch    int
}

// WithParallelism sets the number of rails. Defaults to
// runtime.NumCPU().
func WithParallelism(n int) Option {
	return func(c *config) {
		c.parallelism = n
	}
}

// WithPrefetch sets how many elements are requested from the source in
// advance. Defaults to DefaultPrefetch.
func WithPrefetch(n int) Option {
	return func(c *config) {
		c.prefetch = n
	}
}

func newConfig(opts []Option) config {
	c := config{
		parallelism: runtime.NumCPU(),
		prefetch:    DefaultPrefetch,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
