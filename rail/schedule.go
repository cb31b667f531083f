package rail

import (
	"go.uber.org/atomic"

	"github.com/lguimbarda/min-rail/rail/core"
	"github.com/lguimbarda/min-rail/rail/scheduler"
)

// RunOn moves each rail's delivery onto its own worker obtained from
// sched. Exactly Parallelism workers are requested, one per rail, each
// living as long as its rail. No assumption is made about the
// scheduler's own exclusivity: the per-rail trampoline guarantees at
// most one drain loop per rail even when workers are shared.
//
// Each rail requests prefetch elements upfront and renews one credit
// per element it delivers downstream.
func RunOn[T any](r Rails[T], sched scheduler.Scheduler, prefetch int) (Rails[T], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if sched == nil {
		return nil, core.NewConfigError("scheduler is nil")
	}
	if prefetch <= 0 {
		return nil, core.NewConfigError("prefetch > 0 required but it was %d", prefetch)
	}
	return &runOnRails[T]{source: r, sched: sched, prefetch: prefetch}, nil
}

type runOnRails[T any] struct {
	source   Rails[T]
	sched    scheduler.Scheduler
	prefetch int
}

func (p *runOnRails[T]) Parallelism() int {
	return p.source.Parallelism()
}

func (p *runOnRails[T]) Subscribe(subscribers []core.Subscriber[T]) {
	if !validate[T](p, subscribers) {
		return
	}
	parents := make([]core.Subscriber[T], len(subscribers))
	for i := range subscribers {
		parents[i] = &runOnSubscriber[T]{
			actual:   subscribers[i],
			prefetch: p.prefetch,
			worker:   p.sched.CreateWorker(),
			queue:    core.NewQueue[T](p.prefetch),
		}
	}
	p.source.Subscribe(parents)
}

// runOnSubscriber pumps one rail through a worker. Any wake-up (new
// element, downstream request, terminal, cancel) bumps wip; only the
// 0->1 transition schedules the drain task, everything else coalesces
// into the already-pending run.
type runOnSubscriber[T any] struct {
	actual   core.Subscriber[T]
	prefetch int
	worker   scheduler.Worker
	queue    *core.Queue[T]

	upstream  core.Subscription
	requested core.Demand
	wip       atomic.Int32
	cancelled atomic.Bool

	err  error // written before done
	done atomic.Bool
}

func (r *runOnSubscriber[T]) OnSubscribe(s core.Subscription) {
	r.upstream = s
	r.actual.OnSubscribe(r)
	s.Request(int64(r.prefetch))
}

func (r *runOnSubscriber[T]) OnNext(v T) {
	if r.done.Load() || r.cancelled.Load() {
		return
	}
	if !r.queue.Offer(v) {
		r.upstream.Cancel()
		r.OnError(core.ErrMissingBackpressure)
		return
	}
	r.schedule()
}

func (r *runOnSubscriber[T]) OnError(err error) {
	if r.done.Load() {
		return
	}
	r.err = err
	r.done.Store(true)
	r.schedule()
}

func (r *runOnSubscriber[T]) OnComplete() {
	if r.done.Load() {
		return
	}
	r.done.Store(true)
	r.schedule()
}

func (r *runOnSubscriber[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	r.requested.Add(n)
	r.schedule()
}

func (r *runOnSubscriber[T]) Cancel() {
	if !r.cancelled.CAS(false, true) {
		return
	}
	r.upstream.Cancel()
	r.worker.Dispose()
	// if no drain is in flight, nothing else will clear the queue
	if r.wip.Inc() == 1 {
		r.queue.Clear()
	}
}

func (r *runOnSubscriber[T]) schedule() {
	if r.wip.Inc() == 1 {
		r.worker.Schedule(r.run)
	}
}

func (r *runOnSubscriber[T]) run() {
	missed := int32(1)
	for {
		outstanding := r.requested.Get()
		var produced int64
		for produced < outstanding {
			if r.cancelled.Load() {
				r.queue.Clear()
				return
			}
			done := r.done.Load()
			if done && r.err != nil {
				r.queue.Clear()
				r.actual.OnError(r.err)
				r.worker.Dispose()
				return
			}
			v, ok := r.queue.Poll()
			if done && !ok {
				r.actual.OnComplete()
				r.worker.Dispose()
				return
			}
			if !ok {
				break
			}
			r.actual.OnNext(v)
			produced++
			r.upstream.Request(1)
		}
		if produced == outstanding {
			if r.cancelled.Load() {
				r.queue.Clear()
				return
			}
			if r.done.Load() {
				if r.err != nil {
					r.queue.Clear()
					r.actual.OnError(r.err)
					r.worker.Dispose()
					return
				}
				if r.queue.IsEmpty() {
					r.actual.OnComplete()
					r.worker.Dispose()
					return
				}
			}
		}
		if produced > 0 {
			r.requested.Produced(produced)
		}
		missed = r.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}
