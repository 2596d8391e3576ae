package observability

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"conservatory/pkg/domain"
)

// JSONTraceEntry is one finished operation. Failed spans carry the
// classified error kind so a partial write can be told apart from a
// capacity rejection without parsing messages.
type JSONTraceEntry struct {
	Operation  string           `json:"operation"`
	Area       string           `json:"area"`
	Status     string           `json:"status"`
	ErrorKind  domain.ErrorKind `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMS float64          `json:"duration_ms"`
	StartedAt  time.Time        `json:"started_at"`
}

// JSONTraceTracer writes spans as JSON lines and keeps them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer writes spans to w; a nil writer only retains them.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Failures returns the spans that ended with an error of kind.
func (t *JSONTraceTracer) Failures(kind domain.ErrorKind) []JSONTraceEntry {
	var out []JSONTraceEntry
	for _, e := range t.Entries() {
		if e.ErrorKind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Area:       Area(s.operation),
		Status:     statusLabel(err == nil),
		StartedAt:  s.started,
		DurationMS: float64(time.Since(s.started)) / float64(time.Millisecond),
	}
	if err != nil {
		entry.ErrorKind = domain.KindOf(err)
		entry.Error = err.Error()
	}

	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
}
