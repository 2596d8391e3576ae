package core

import (
	"conservatory/internal/cascade"
	"conservatory/internal/enrollment"
	"conservatory/internal/observability"
)

type (
	// Logger is the structured logger used by the service.
	Logger = observability.Logger
	// MetricsRecorder observes operation outcomes.
	MetricsRecorder = observability.MetricsRecorder
	// Tracer starts spans around operations.
	Tracer = observability.Tracer
	// TraceSpan is ended once per operation.
	TraceSpan = observability.TraceSpan
	// Clock supplies timestamps.
	Clock = observability.Clock
	// ClockFunc adapts a function to Clock.
	ClockFunc = observability.ClockFunc
)

type serviceOptions struct {
	clock    Clock
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	policy   cascade.Policy
	notifier cascade.Notifier
	retry    *enrollment.RetryPolicy
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   observability.SystemClock(),
		logger:  observability.NoopLogger(),
		audit:   noopAuditRecorder{},
		metrics: observability.NoopMetrics(),
		tracer:  observability.NoopTracer(),
		policy:  cascade.DefaultPolicy(),
	}
}

// ServiceOption configures optional behaviour for the service.
type ServiceOption func(*serviceOptions)

// WithClock overrides the clock used for timestamps.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithPolicy sets the cascade deletion policy. Its retry policy also drives
// the enrollment gateway unless WithRetryPolicy is given.
func WithPolicy(policy cascade.Policy) ServiceOption {
	return func(o *serviceOptions) { o.policy = policy }
}

// WithNotifier sets the deletion notification sink.
func WithNotifier(n cascade.Notifier) ServiceOption {
	return func(o *serviceOptions) { o.notifier = n }
}

// WithRetryPolicy overrides the enrollment gateway's retry policy.
func WithRetryPolicy(p enrollment.RetryPolicy) ServiceOption {
	return func(o *serviceOptions) { o.retry = &p }
}

func (o serviceOptions) hooks() observability.Hooks {
	return observability.Hooks{Logger: o.logger, Metrics: o.metrics, Tracer: o.tracer, Clock: o.clock}
}
