// Package observability holds the logging, metrics and tracing hooks shared
// by the enrollment, reconciliation and deletion services.
package observability

import (
	"context"
	"time"
)

// Logger is the structured logger used across services. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder observes the outcome of a service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns UTC wall-clock time.
func SystemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger discards every entry.
func NoopLogger() Logger { return noopLogger{} }

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// NoopMetrics discards every observation.
func NoopMetrics() MetricsRecorder { return noopMetrics{} }

type noopTracer struct{}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

// NoopTracer starts spans that record nothing.
func NoopTracer() Tracer { return noopTracer{} }

// Hooks bundles the observability dependencies of a service.
type Hooks struct {
	Logger  Logger
	Metrics MetricsRecorder
	Tracer  Tracer
	Clock   Clock
}

// WithDefaults fills unset hooks with no-op implementations.
func (h Hooks) WithDefaults() Hooks {
	if h.Logger == nil {
		h.Logger = NoopLogger()
	}
	if h.Metrics == nil {
		h.Metrics = NoopMetrics()
	}
	if h.Tracer == nil {
		h.Tracer = NoopTracer()
	}
	if h.Clock == nil {
		h.Clock = SystemClock()
	}
	return h
}

// Run wraps fn with a span, a metrics observation and a debug/error log
// line keyed by operation.
func (h Hooks) Run(ctx context.Context, operation string, fn func(context.Context) error) error {
	h = h.WithDefaults()
	start := h.Clock.Now()
	ctx, span := h.Tracer.Start(ctx, operation)
	h.Logger.Debug("operation started", "operation", operation)
	err := fn(ctx)
	span.End(err)
	h.Metrics.Observe(ctx, operation, err == nil, h.Clock.Now().Sub(start))
	if err != nil {
		h.Logger.Error("operation failed", "operation", operation, "error", err)
		return err
	}
	h.Logger.Debug("operation completed", "operation", operation)
	return nil
}
