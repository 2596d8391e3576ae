package reconcile

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"conservatory/internal/enrollment"
	"conservatory/pkg/domain"
)

// SweepOptions bound the load a sweep puts on the backend.
type SweepOptions struct {
	// Relations to reconcile; empty means all.
	Relations []domain.RelationKind
	// Kind restricts the persons swept; empty means everyone.
	Kind domain.PersonKind
	// Concurrency caps in-flight persons. Zero means 4.
	Concurrency int
	// RatePerSecond caps reconcile calls per second. Zero means unlimited.
	RatePerSecond float64
}

// SweepFailure records a person the sweep could not reconcile.
type SweepFailure struct {
	PersonID string              `json:"personId"`
	Relation domain.RelationKind `json:"relation"`
	Error    string              `json:"error"`
}

// SweepReport summarises an integrity sweep.
type SweepReport struct {
	Scanned   int            `json:"scanned"`
	Corrected int            `json:"corrected"`
	Reports   []Report       `json:"reports"`
	Failures  []SweepFailure `json:"failures,omitempty"`
}

// Sweep reconciles every person. A failure for one person is recorded and
// the sweep continues; only cancellation aborts it.
func (s *Service) Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	var out SweepReport
	err := s.hooks.Run(ctx, "reconcile.sweep", func(ctx context.Context) error {
		var err error
		out, err = s.sweep(ctx, opts)
		return err
	})
	return out, err
}

func (s *Service) sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	relations := opts.Relations
	if len(relations) == 0 {
		relations = domain.Relations()
	}
	for _, kind := range relations {
		if err := kind.Validate(); err != nil {
			return SweepReport{}, err
		}
	}
	persons, err := enrollment.RetryRead(ctx, s.retry, s.sleep, func(ctx context.Context) ([]domain.Person, error) {
		return s.backend.ListPersons(ctx, domain.PersonFilter{Kind: opts.Kind})
	})
	if err != nil {
		return SweepReport{}, err
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	type job struct {
		personID string
		kind     domain.RelationKind
	}
	jobs := make([]job, 0, len(persons)*len(relations))
	for _, p := range persons {
		for _, kind := range relations {
			jobs = append(jobs, job{personID: p.ID, kind: kind})
		}
	}
	reports := make([]Report, len(jobs))
	errs := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			reports[i], errs[i] = s.reconcile(gctx, j.personID, j.kind)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return SweepReport{}, err
	}

	out := SweepReport{Scanned: len(persons)}
	for i, j := range jobs {
		if errs[i] != nil {
			out.Failures = append(out.Failures, SweepFailure{PersonID: j.personID, Relation: j.kind, Error: errs[i].Error()})
			s.hooks.Logger.Warn("reconcile failed", "person", j.personID, "relation", string(j.kind), "error", errs[i])
			continue
		}
		if reports[i].Changed {
			out.Corrected++
		}
		out.Reports = append(out.Reports, reports[i])
	}
	return out, nil
}
