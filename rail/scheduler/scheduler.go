// Package scheduler defines where rail drain loops run. The engine
// itself never starts goroutines; stages that need asynchrony ask a
// Scheduler for workers and hand them tasks.
package scheduler

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Worker executes tasks one at a time, in submission order. Schedule
// never blocks the caller.
type Worker interface {
	Schedule(task func())

	// Dispose releases the worker. Tasks already submitted may still
	// run; new submissions are dropped. Idempotent.
	Dispose()
}

// Scheduler hands out workers. A rail stage requests exactly one
// worker per rail and disposes it when the rail terminates.
type Scheduler interface {
	CreateWorker() Worker
}

// Pool is a Scheduler backed by one goroutine per worker. Each worker
// serializes its tasks through its own run loop, so two tasks given to
// the same worker never execute concurrently.
type Pool struct {
	mu      sync.Mutex
	group   errgroup.Group
	workers []*poolWorker
	closed  bool
}

// NewPool creates an empty pool. Workers are spawned on demand by
// CreateWorker.
func NewPool() *Pool {
	return &Pool{}
}

// CreateWorker starts a new worker goroutine. After Close it returns a
// worker that drops every task.
func (p *Pool) CreateWorker() Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return deadWorker{}
	}
	w := &poolWorker{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	p.workers = append(p.workers, w)
	p.group.Go(w.loop)
	return w
}

// Close disposes every worker and waits for their goroutines to exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := p.workers
	p.mu.Unlock()

	for _, w := range workers {
		w.Dispose()
	}
	return p.group.Wait()
}

type poolWorker struct {
	mu       sync.Mutex
	tasks    []func()
	wake     chan struct{}
	quit     chan struct{}
	disposed atomic.Bool
}

func (w *poolWorker) Schedule(task func()) {
	if w.disposed.Load() {
		return
	}
	w.mu.Lock()
	w.tasks = append(w.tasks, task)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *poolWorker) Dispose() {
	if w.disposed.CompareAndSwap(false, true) {
		close(w.quit)
	}
}

func (w *poolWorker) loop() error {
	for {
		select {
		case <-w.quit:
			return nil
		case <-w.wake:
			for {
				w.mu.Lock()
				if len(w.tasks) == 0 {
					w.mu.Unlock()
					break
				}
				task := w.tasks[0]
				w.tasks = w.tasks[1:]
				w.mu.Unlock()
				task()
			}
		}
	}
}

type deadWorker struct{}

func (deadWorker) Schedule(func()) {}
func (deadWorker) Dispose()        {}

// Immediate returns a Scheduler whose workers run every task inline on
// the calling goroutine. Useful in tests and for single-threaded
// assembly; the trampoline in each rail stage keeps delivery
// serialized regardless.
func Immediate() Scheduler {
	return immediateScheduler{}
}

type immediateScheduler struct{}

func (immediateScheduler) CreateWorker() Worker {
	return &immediateWorker{}
}

type immediateWorker struct {
	disposed atomic.Bool
}

func (w *immediateWorker) Schedule(task func()) {
	if w.disposed.Load() {
		return
	}
	task()
}

func (w *immediateWorker) Dispose() {
	w.disposed.Store(true)
}
