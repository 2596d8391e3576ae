package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder exports operation counters and latency
// histograms. Register it on a dedicated registry in tests.
type PrometheusMetricsRecorder struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the collectors on reg; a nil reg
// uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conservatory",
			Name:      "operations_total",
			Help:      "Enrollment, reconciliation and deletion operations by result",
		}, []string{"operation", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conservatory",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"operation"}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.total.WithLabelValues(operation, statusLabel(success)).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// MultiRecorder fans observations out to several recorders.
type MultiRecorder []MetricsRecorder

// Observe implements MetricsRecorder.
func (m MultiRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		if r != nil {
			r.Observe(ctx, operation, success, duration)
		}
	}
}
