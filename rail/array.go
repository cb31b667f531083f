package rail

import "github.com/lguimbarda/min-rail/rail/core"

// FromPublishers wraps already-independent publishers as rails, one
// publisher per rail, unordered. At least one publisher is required.
func FromPublishers[T any](publishers ...core.Publisher[T]) (Rails[T], error) {
	if len(publishers) == 0 {
		return nil, core.NewConfigError("zero publishers not supported")
	}
	for i, p := range publishers {
		if p == nil {
			return nil, core.NewConfigError("publisher %d is nil", i)
		}
	}
	return &railArray[T]{publishers: publishers}, nil
}

type railArray[T any] struct {
	publishers []core.Publisher[T]
}

func (p *railArray[T]) Parallelism() int {
	return len(p.publishers)
}

func (p *railArray[T]) Subscribe(subscribers []core.Subscriber[T]) {
	if !validate[T](p, subscribers) {
		return
	}
	for i, pub := range p.publishers {
		pub.Subscribe(subscribers[i])
	}
}
