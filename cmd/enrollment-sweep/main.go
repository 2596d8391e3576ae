// Command enrollment-sweep reconciles person enrollments against the group
// and lesson records that own them, and prints a JSON report. With -restore
// it re-inserts the records captured in a deletion snapshot instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"conservatory/internal/blob"
	"conservatory/internal/core"
	"conservatory/internal/observability"
	"conservatory/internal/reconcile"
	"conservatory/pkg/domain"
)

var (
	exitFunc    = os.Exit
	openBackend = core.OpenBackend
	openBlobs   = blob.Open
)

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type config struct {
	personID    string
	relations   string
	kind        string
	concurrency int
	rate        float64
	trace       bool
	restoreKey  string
	promFile    string
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("enrollment-sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cfg config
	fs.StringVar(&cfg.personID, "person", "", "reconcile a single person instead of sweeping")
	fs.StringVar(&cfg.relations, "relation", "orchestra,theoryLesson", "comma separated relations to reconcile")
	fs.StringVar(&cfg.kind, "kind", "", "restrict the sweep to persons of this kind")
	fs.IntVar(&cfg.concurrency, "concurrency", 4, "persons reconciled in parallel")
	fs.Float64Var(&cfg.rate, "rate", 0, "maximum persons per second (0 = unlimited)")
	fs.BoolVar(&cfg.trace, "trace", false, "write JSON trace spans to stderr")
	fs.StringVar(&cfg.promFile, "prom-textfile", "", "write Prometheus metrics in text format to this file on exit")
	fs.StringVar(&cfg.restoreKey, "restore", "", "restore the deletion snapshot stored under this key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	relations, err := parseRelations(cfg.relations)
	if err != nil {
		fmt.Fprintf(stderr, "enrollment-sweep: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stderr, nil))
	ctx := context.Background()
	backend, closeBackend, err := openBackend(ctx)
	if err != nil {
		logger.Error("open backend", "error", err)
		return 1
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}()

	metrics := observability.MultiRecorder{observability.NewExpvarMetricsRecorder("")}
	if cfg.promFile != "" {
		reg := prometheus.NewRegistry()
		metrics = append(metrics, observability.NewPrometheusMetricsRecorder(reg))
		defer func() {
			if err := observability.WritePrometheusTextfile(cfg.promFile, reg); err != nil {
				logger.Warn("write metrics", "path", cfg.promFile, "error", err)
			}
		}()
	}
	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
	}
	if cfg.trace {
		opts = append(opts, core.WithTracer(observability.NewJSONTracer(stderr)))
	}
	policy, err := core.LoadPolicy()
	if err != nil {
		logger.Error("load policy", "error", err)
		return 1
	}
	opts = append(opts, core.WithPolicy(policy))
	var blobs blob.Store
	if cfg.restoreKey != "" {
		if blobs, err = openBlobs(ctx); err != nil {
			logger.Error("open blob store", "error", err)
			return 1
		}
	}
	svc := core.NewService(backend, blobs, opts...)

	var out any
	switch {
	case cfg.restoreKey != "":
		snap, err := svc.RestoreSnapshot(ctx, cfg.restoreKey)
		if err != nil {
			logger.Error("restore", "key", cfg.restoreKey, "error", err)
			return 1
		}
		out = map[string]any{
			"snapshot": snap.ID,
			"root":     snap.Root.String(),
			"takenAt":  snap.TakenAt,
			"persons":  len(snap.Persons),
			"groups":   len(snap.Groups),
			"lessons":  len(snap.Lessons),
		}
	case cfg.personID != "":
		reports := make([]reconcile.Report, 0, len(relations))
		for _, rel := range relations {
			report, err := svc.Reconcile(ctx, cfg.personID, rel)
			if err != nil {
				logger.Error("reconcile", "person", cfg.personID, "relation", string(rel), "error", err)
				return 1
			}
			reports = append(reports, report)
		}
		out = reports
	default:
		report, err := svc.Sweep(ctx, reconcile.SweepOptions{
			Relations:     relations,
			Kind:          domain.PersonKind(cfg.kind),
			Concurrency:   cfg.concurrency,
			RatePerSecond: cfg.rate,
		})
		if err != nil {
			logger.Error("sweep", "error", err)
			return 1
		}
		out = report
		if len(report.Failures) > 0 {
			logger.Warn("sweep finished with failures", "failures", len(report.Failures))
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("write report", "error", err)
		return 1
	}
	return 0
}

func parseRelations(raw string) ([]domain.RelationKind, error) {
	var out []domain.RelationKind
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind := domain.RelationKind(part)
		if err := kind.Validate(); err != nil {
			return nil, err
		}
		out = append(out, kind)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one relation is required")
	}
	return out, nil
}
