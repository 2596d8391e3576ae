package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"conservatory/pkg/domain"
)

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	calls []metricsCall
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

type captureLogger struct {
	errors []string
}

func (c *captureLogger) Debug(string, ...any) {}
func (c *captureLogger) Info(string, ...any)  {}
func (c *captureLogger) Warn(string, ...any)  {}
func (c *captureLogger) Error(msg string, _ ...any) {
	c.errors = append(c.errors, msg)
}

func TestNoopHooks(_ *testing.T) {
	logger := NoopLogger()
	logger.Debug("debug", "key", "value")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	NoopMetrics().Observe(context.Background(), "op", true, time.Millisecond)
	_, span := NoopTracer().Start(context.Background(), "op")
	span.End(nil)
}

func TestHooksRunRecordsOutcome(t *testing.T) {
	metrics := &captureMetrics{}
	logger := &captureLogger{}
	tracer := NewJSONTracer(nil)
	hooks := Hooks{Logger: logger, Metrics: metrics, Tracer: tracer}

	if err := hooks.Run(context.Background(), "enrollment.add", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	boom := errors.New("boom")
	if err := hooks.Run(context.Background(), "enrollment.remove", func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if len(metrics.calls) != 2 || !metrics.calls[0].success || metrics.calls[1].success {
		t.Fatalf("unexpected metrics calls: %+v", metrics.calls)
	}
	if len(logger.errors) != 1 {
		t.Fatalf("expected one error log, got %v", logger.errors)
	}
	entries := tracer.Entries()
	if len(entries) != 2 || entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("unexpected trace entries: %+v", entries)
	}
}

func TestHooksWithDefaults(t *testing.T) {
	var hooks Hooks
	if err := hooks.Run(context.Background(), "op", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fixed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := Hooks{Clock: ClockFunc(func() time.Time { return fixed })}.WithDefaults()
	if !h.Clock.Now().Equal(fixed) {
		t.Fatalf("expected injected clock to survive defaults")
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected %s to be published", rec.Name())
	}
	rec.Observe(context.Background(), "cascade.execute", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "cascade.execute", false, 3*time.Millisecond)
	rec.Observe(context.Background(), "cascade.preview", true, 7*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)

	snap := rec.Snapshot()
	exec := snap.Operations["cascade.execute"]
	if exec.Succeeded != 1 || exec.Failed != 1 || exec.TotalMS != 5 || exec.MaxMS != 3 {
		t.Fatalf("unexpected execute stats: %+v", exec)
	}
	area := snap.Areas["cascade"]
	if area.Succeeded != 2 || area.Failed != 1 || area.MaxMS != 7 {
		t.Fatalf("unexpected cascade area stats: %+v", area)
	}
	if _, ok := snap.Operations[""]; ok {
		t.Fatalf("empty operation should be ignored")
	}

	other := NewExpvarMetricsRecorder("")
	if other.Name() == rec.Name() {
		t.Fatalf("expected unique generated names")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	rec.Observe(context.Background(), "reconcile", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "reconcile", true, 20*time.Millisecond)
	rec.Observe(context.Background(), "reconcile", false, 5*time.Millisecond)

	if got := testutil.ToFloat64(rec.total.WithLabelValues("reconcile", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.total.WithLabelValues("reconcile", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}

func TestMultiRecorderFansOut(t *testing.T) {
	a, b := &captureMetrics{}, &captureMetrics{}
	MultiRecorder{a, nil, b}.Observe(context.Background(), "op", true, 0)
	if len(a.calls) != 1 || len(b.calls) != 1 {
		t.Fatalf("expected both recorders to observe, got %d and %d", len(a.calls), len(b.calls))
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "cascade.preview")
	span.End(nil)

	line := strings.TrimSpace(buf.String())
	var entry JSONTraceEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode trace line: %v", err)
	}
	if entry.Operation != "cascade.preview" || entry.Area != "cascade" || entry.Status != "success" || entry.ErrorKind != "" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestJSONTracerClassifiesFailures(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), "enrollment.remove")
	span.End(fmt.Errorf("remove: %w", &domain.PartialWriteError{Operation: "removeMember", Attempts: 3, Err: errors.New("timeout")}))
	_, span = tracer.Start(context.Background(), "enrollment.add")
	span.End(&domain.CapacityError{Relation: domain.RelationOrchestra, AuthorityID: "O", PersonID: "S", Capacity: 1, Members: 1})

	partial := tracer.Failures(domain.KindPartialWrite)
	if len(partial) != 1 || partial[0].Operation != "enrollment.remove" || partial[0].Area != "enrollment" {
		t.Fatalf("unexpected partial write spans %+v", partial)
	}
	if got := tracer.Failures(domain.KindCapacity); len(got) != 1 {
		t.Fatalf("expected one capacity span, got %+v", got)
	}
}

func TestArea(t *testing.T) {
	cases := map[string]string{"reconcile.sweep": "reconcile", "cascade.restore": "cascade", "plain": "plain", ".odd": ".odd"}
	for op, want := range cases {
		if got := Area(op); got != want {
			t.Fatalf("Area(%q) = %q, want %q", op, got, want)
		}
	}
}

func TestWritePrometheusTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	rec.Observe(context.Background(), "reconcile.sweep", true, 10*time.Millisecond)
	path := filepath.Join(t.TempDir(), "conservatory.prom")
	if err := WritePrometheusTextfile(path, reg); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `conservatory_operations_total{operation="reconcile.sweep",result="success"} 1`) {
		t.Fatalf("unexpected exposition:\n%s", data)
	}
	if err := WritePrometheusTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"), reg); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
