package observability

import (
	"context"
	"expvar"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// OperationStats aggregates the outcomes of one operation or subsystem.
type OperationStats struct {
	Succeeded int64   `json:"succeeded"`
	Failed    int64   `json:"failed"`
	TotalMS   float64 `json:"total_ms"`
	MaxMS     float64 `json:"max_ms"`
}

func (s *OperationStats) add(success bool, ms float64) {
	if success {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.TotalMS += ms
	if ms > s.MaxMS {
		s.MaxMS = ms
	}
}

// Area returns the subsystem of an operation name: "enrollment" for
// "enrollment.add", "cascade" for "cascade.execute".
func Area(operation string) string {
	if i := strings.IndexByte(operation, '.'); i > 0 {
		return operation[:i]
	}
	return operation
}

// ExpvarMetricsRecorder publishes per-operation and per-subsystem outcome
// counters via expvar, for sweeps run without a Prometheus scraper.
type ExpvarMetricsRecorder struct {
	name  string
	mu    sync.Mutex
	ops   map[string]*OperationStats
	areas map[string]*OperationStats
}

// ExpvarMetricsSnapshot is a read-only copy of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	Operations map[string]OperationStats `json:"operations"`
	// Areas rolls operations up by subsystem (enrollment, reconcile, cascade).
	Areas      map[string]OperationStats `json:"areas"`
	RecordedAt time.Time                 `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, generating a
// unique name when empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("conservatory_operations_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarMetricsRecorder{
		name:  name,
		ops:   make(map[string]*OperationStats),
		areas: make(map[string]*OperationStats),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ExpvarMetricsSnapshot{
		Operations: copyStats(r.ops),
		Areas:      copyStats(r.areas),
		RecordedAt: time.Now().UTC(),
	}
}

func copyStats(in map[string]*OperationStats) map[string]OperationStats {
	out := make(map[string]OperationStats, len(in))
	for k, v := range in {
		out[k] = *v
	}
	return out
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	statsFor(r.ops, operation).add(success, ms)
	statsFor(r.areas, Area(operation)).add(success, ms)
}

func statsFor(m map[string]*OperationStats, key string) *OperationStats {
	s, ok := m[key]
	if !ok {
		s = &OperationStats{}
		m[key] = s
	}
	return s
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
