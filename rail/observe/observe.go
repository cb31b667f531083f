// Package observe provides ready-made tap hooks for instrumenting
// rails: OpenTelemetry counters for throughput and demand, and
// structured lifecycle logging. Hooks returned here are shared by all
// rails of the stage they are attached to and are safe for concurrent
// use.
package observe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/lguimbarda/min-rail/rail"
	"github.com/lguimbarda/min-rail/rail/core"
)

// Metrics bundles the instruments a metered stage reports to.
type Metrics struct {
	elements metric.Int64Counter
	errors   metric.Int64Counter
	requests metric.Int64Counter
	cancels  metric.Int64Counter
}

// NewMetrics creates the rail instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	elements, err := meter.Int64Counter("rail.elements",
		metric.WithDescription("count of elements delivered downstream"))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("rail.errors",
		metric.WithDescription("count of rail error signals"))
	if err != nil {
		return nil, err
	}
	requests, err := meter.Int64Counter("rail.requested",
		metric.WithDescription("credits requested by the downstream"))
	if err != nil {
		return nil, err
	}
	cancels, err := meter.Int64Counter("rail.cancels",
		metric.WithDescription("count of downstream cancellations"))
	if err != nil {
		return nil, err
	}
	return &Metrics{elements: elements, errors: errs, requests: requests, cancels: cancels}, nil
}

// MeterTap returns hooks that feed the instruments. Attach with
// rail.Tap.
func MeterTap[T any](ctx context.Context, m *Metrics) rail.TapHooks[T] {
	return rail.TapHooks[T]{
		OnNext:    func(T) { m.elements.Add(ctx, 1) },
		OnError:   func(error) { m.errors.Add(ctx, 1) },
		OnRequest: func(n int64) { m.requests.Add(ctx, n) },
		OnCancel:  func() { m.cancels.Add(ctx, 1) },
	}
}

// LogTap returns hooks that log the stage's lifecycle. Each call mints
// a stage id so interleaved pipelines stay distinguishable in the
// output.
func LogTap[T any](log zerolog.Logger) rail.TapHooks[T] {
	lg := log.With().Str("stage", uuid.NewString()).Logger()
	start := time.Now()
	return rail.TapHooks[T]{
		OnSubscribe: func(core.Subscription) {
			lg.Debug().Msg("rail subscribed")
		},
		OnError: func(err error) {
			lg.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("rail failed")
		},
		OnComplete: func() {
			lg.Debug().Dur("elapsed", time.Since(start)).Msg("rail completed")
		},
		OnCancel: func() {
			lg.Debug().Dur("elapsed", time.Since(start)).Msg("rail cancelled")
		},
	}
}

// Combine merges hook sets so a stage can report to several sinks
// through a single Tap. Hooks run in argument order.
func Combine[T any](hooks ...rail.TapHooks[T]) rail.TapHooks[T] {
	var out rail.TapHooks[T]
	for _, h := range hooks {
		out = merge(out, h)
	}
	return out
}

func merge[T any](a, b rail.TapHooks[T]) rail.TapHooks[T] {
	return rail.TapHooks[T]{
		OnSubscribe:    chain1(a.OnSubscribe, b.OnSubscribe),
		OnNext:         chain1(a.OnNext, b.OnNext),
		AfterNext:      chain1(a.AfterNext, b.AfterNext),
		OnError:        chain1(a.OnError, b.OnError),
		OnComplete:     chain0(a.OnComplete, b.OnComplete),
		AfterTerminate: chain0(a.AfterTerminate, b.AfterTerminate),
		OnRequest:      chain1(a.OnRequest, b.OnRequest),
		OnCancel:       chain0(a.OnCancel, b.OnCancel),
	}
}

func chain0(a, b func()) func() {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func() { a(); b() }
}

func chain1[A any](a, b func(A)) func(A) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(v A) { a(v); b(v) }
}
