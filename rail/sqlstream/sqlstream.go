// Package sqlstream adapts database/sql to the pull protocol: queries
// become demand-driven publishers whose rows are read only as credit
// arrives, and inserts become a sink that batches elements into
// transactions. Feed a Query into rail.From to fan rows out across
// rails.
package sqlstream

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/atomic"

	"github.com/lguimbarda/min-rail/rail/core"
)

// Scanner converts the current row into a value.
type Scanner[T any] func(*sql.Rows) (T, error)

// Query returns a publisher that executes the query on first demand and
// emits one scanned value per row. Rows are advanced only under
// outstanding credit, so a slow consumer holds the cursor open rather
// than buffering the result set.
func Query[T any](ctx context.Context, db *sql.DB, query string, scan Scanner[T], args ...any) core.Publisher[T] {
	return &queryPublisher[T]{ctx: ctx, db: db, query: query, scan: scan, args: args}
}

type queryPublisher[T any] struct {
	ctx   context.Context
	db    *sql.DB
	query string
	scan  Scanner[T]
	args  []any
}

func (p *queryPublisher[T]) Subscribe(s core.Subscriber[T]) {
	sub := &querySubscription[T]{
		ctx:    p.ctx,
		db:     p.db,
		query:  p.query,
		scan:   p.scan,
		args:   p.args,
		actual: s,
	}
	s.OnSubscribe(sub)
}

// querySubscription owns the cursor. All row access happens inside the
// wip-gated drain; terminal paths return without releasing the gate.
type querySubscription[T any] struct {
	ctx    context.Context
	db     *sql.DB
	query  string
	scan   Scanner[T]
	args   []any
	actual core.Subscriber[T]

	requested core.Demand
	wip       atomic.Int32
	cancelled atomic.Bool

	rows   *sql.Rows // drain-owned, opened on first drain
	opened bool
}

func (q *querySubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	q.requested.Add(n)
	q.drain()
}

func (q *querySubscription[T]) Cancel() {
	if !q.cancelled.CAS(false, true) {
		return
	}
	// no drain in flight means nothing else will release the cursor
	if q.wip.Inc() == 1 {
		q.closeRows()
	}
}

func (q *querySubscription[T]) closeRows() {
	if q.rows != nil {
		q.rows.Close()
		q.rows = nil
	}
}

func (q *querySubscription[T]) drain() {
	if q.wip.Inc() != 1 {
		return
	}
	missed := int32(1)
	for {
		if q.cancelled.Load() {
			q.closeRows()
			return
		}
		if !q.opened {
			rows, err := q.db.QueryContext(q.ctx, q.query, q.args...)
			if err != nil {
				q.actual.OnError(err)
				return
			}
			q.rows = rows
			q.opened = true
		}

		outstanding := q.requested.Get()
		var produced int64
		for produced < outstanding {
			if q.cancelled.Load() {
				q.closeRows()
				return
			}
			if err := q.ctx.Err(); err != nil {
				q.closeRows()
				q.actual.OnError(err)
				return
			}
			if !q.rows.Next() {
				err := q.rows.Err()
				q.closeRows()
				if err != nil {
					q.actual.OnError(err)
				} else {
					q.actual.OnComplete()
				}
				return
			}
			v, err := q.scan(q.rows)
			if err != nil {
				q.closeRows()
				q.actual.OnError(err)
				return
			}
			q.actual.OnNext(v)
			produced++
		}

		if produced > 0 {
			q.requested.Produced(produced)
		}
		missed = q.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// ExecResult reports one executed statement.
type ExecResult struct {
	LastInsertId int64
	RowsAffected int64
}

// InsertSink consumes a sequence by executing a bind-parameterized
// statement for each element, batched into one transaction per
// batchSize elements. Credit is renewed one batch at a time so the
// producer never runs ahead of the database.
type InsertSink[T any] struct {
	ctx   context.Context
	db    *sql.DB
	query string
	bind  func(T) []any
	batch int

	upstream core.SubscriptionRef
	pending  []T

	mu       sync.Mutex
	affected int64
	err      error
	done     chan struct{}
	once     sync.Once
}

// NewInsertSink creates a sink executing query once per element, with
// bind supplying the statement arguments.
func NewInsertSink[T any](ctx context.Context, db *sql.DB, query string, bind func(T) []any, batchSize int) (*InsertSink[T], error) {
	if db == nil {
		return nil, core.NewConfigError("db is nil")
	}
	if bind == nil {
		return nil, core.NewConfigError("bind is nil")
	}
	if batchSize <= 0 {
		return nil, core.NewConfigError("batchSize > 0 required but it was %d", batchSize)
	}
	return &InsertSink[T]{
		ctx:   ctx,
		db:    db,
		query: query,
		bind:  bind,
		batch: batchSize,
		done:  make(chan struct{}),
	}, nil
}

func (k *InsertSink[T]) OnSubscribe(s core.Subscription) {
	k.upstream.Set(s)
	s.Request(int64(k.batch))
}

func (k *InsertSink[T]) OnNext(v T) {
	k.pending = append(k.pending, v)
	if len(k.pending) < k.batch {
		return
	}
	if err := k.flush(); err != nil {
		k.upstream.Cancel()
		k.finish(err)
		return
	}
	k.upstream.Request(int64(k.batch))
}

func (k *InsertSink[T]) OnError(err error) {
	// the batch in hand predates the failure; keep it
	if ferr := k.flush(); ferr != nil {
		err = core.Composite([]error{err, ferr})
	}
	k.finish(err)
}

func (k *InsertSink[T]) OnComplete() {
	k.finish(k.flush())
}

// flush writes the pending batch in one transaction.
func (k *InsertSink[T]) flush() error {
	if len(k.pending) == 0 {
		return nil
	}
	batch := k.pending
	k.pending = nil

	tx, err := k.db.BeginTx(k.ctx, nil)
	if err != nil {
		return err
	}
	var affected int64
	for _, v := range batch {
		res, err := tx.ExecContext(k.ctx, k.query, k.bind(v)...)
		if err != nil {
			tx.Rollback()
			return err
		}
		n, _ := res.RowsAffected()
		affected += n
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	k.mu.Lock()
	k.affected += affected
	k.mu.Unlock()
	return nil
}

func (k *InsertSink[T]) finish(err error) {
	k.once.Do(func() {
		k.mu.Lock()
		k.err = err
		k.mu.Unlock()
		close(k.done)
	})
}

// Wait blocks until the sequence has terminated and every batch is
// written, returning the first error encountered.
func (k *InsertSink[T]) Wait() error {
	select {
	case <-k.done:
	case <-k.ctx.Done():
		k.upstream.Cancel()
		return k.ctx.Err()
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.err
}

// RowsAffected reports the rows written so far.
func (k *InsertSink[T]) RowsAffected() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.affected
}
