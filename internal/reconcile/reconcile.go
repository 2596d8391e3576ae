// Package reconcile repairs drift between authority records and person
// enrollments. The authority side is always treated as ground truth.
package reconcile

import (
	"context"
	"fmt"

	"conservatory/internal/cache"
	"conservatory/internal/enrollment"
	"conservatory/internal/observability"
	"conservatory/pkg/domain"
)

// Backend is the read and write surface reconciliation needs.
type Backend interface {
	domain.GroupStore
	domain.LessonStore
	domain.PersonStore
}

// Report describes one reconcile run for a single person and relation.
type Report struct {
	PersonID string              `json:"personId"`
	Relation domain.RelationKind `json:"relation"`
	// SyncedCount is the number of authority records inspected.
	SyncedCount int `json:"syncedCount"`
	// MatchedCount is the number of those records listing the person.
	MatchedCount int      `json:"matchedCount"`
	CorrectedIDs []string `json:"correctedIds"`
	Changed      bool     `json:"changed"`
	Added        []string `json:"added,omitempty"`
	Removed      []string `json:"removed,omitempty"`
}

// Service reconciles person enrollments against authority records.
type Service struct {
	backend Backend
	cache   *cache.Cache
	retry   enrollment.RetryPolicy
	sleep   enrollment.Sleeper
	hooks   observability.Hooks
}

// Option configures a Service.
type Option func(*Service)

// WithCache keeps the given cache current with corrected persons.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithRetryPolicy bounds the retries of reads failing with a NetworkError.
func WithRetryPolicy(p enrollment.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithSleeper replaces the timer used between read retries.
func WithSleeper(sleep enrollment.Sleeper) Option {
	return func(s *Service) { s.sleep = sleep }
}

// WithHooks sets the logger, metrics recorder and tracer.
func WithHooks(h observability.Hooks) Option {
	return func(s *Service) { s.hooks = h.WithDefaults() }
}

// NewService constructs a reconciliation service.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		retry:   enrollment.DefaultRetryPolicy(),
		hooks:   observability.Hooks{}.WithDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile recomputes the person's enrollments for kind from the authority
// records and overwrites them in a single write when they differ. Running it
// twice in a row performs no write the second time.
func (s *Service) Reconcile(ctx context.Context, personID string, kind domain.RelationKind) (Report, error) {
	var report Report
	err := s.hooks.Run(ctx, "reconcile.person", func(ctx context.Context) error {
		var err error
		report, err = s.reconcile(ctx, personID, kind)
		return err
	})
	return report, err
}

func (s *Service) reconcile(ctx context.Context, personID string, kind domain.RelationKind) (Report, error) {
	if err := kind.Validate(); err != nil {
		return Report{}, err
	}
	person, err := enrollment.RetryRead(ctx, s.retry, s.sleep, func(ctx context.Context) (domain.Person, error) {
		return s.backend.GetPerson(ctx, personID)
	})
	if err != nil {
		return Report{}, err
	}
	correct, inspected, err := s.authoritySet(ctx, kind, personID)
	if err != nil {
		return Report{}, err
	}
	current := domain.EnrollmentsOf(person, kind)
	report := Report{
		PersonID:     personID,
		Relation:     kind,
		SyncedCount:  inspected,
		MatchedCount: correct.Len(),
		CorrectedIDs: correct.Slice(),
	}
	if current.Equal(correct) {
		return report, nil
	}
	report.Added, report.Removed = current.Diff(correct)
	enrollments := person.Enrollments.WithEnrollments(kind, correct)
	updated, err := s.backend.UpdatePerson(ctx, personID, domain.PersonPatch{Enrollments: &enrollments})
	if err != nil {
		return report, fmt.Errorf("write corrected %s enrollments for %s: %w", kind, personID, err)
	}
	report.Changed = true
	if s.cache != nil {
		s.cache.StorePerson(updated)
	}
	s.hooks.Logger.Info("enrollments reconciled",
		"person", personID, "relation", string(kind), "added", report.Added, "removed", report.Removed)
	return report, nil
}

// authoritySet reads every authority record of kind and returns the ids of
// those listing personID together with the number of records inspected.
func (s *Service) authoritySet(ctx context.Context, kind domain.RelationKind, personID string) (domain.IDSet, int, error) {
	var ids []string
	switch kind {
	case domain.RelationOrchestra:
		groups, err := enrollment.RetryRead(ctx, s.retry, s.sleep, func(ctx context.Context) ([]domain.Group, error) {
			return s.backend.GetGroups(ctx, domain.GroupFilter{})
		})
		if err != nil {
			return domain.IDSet{}, 0, err
		}
		for _, g := range groups {
			if domain.IsMember(g, personID) {
				ids = append(ids, g.ID)
			}
		}
		return domain.NewIDSet(ids...), len(groups), nil
	default:
		lessons, err := enrollment.RetryRead(ctx, s.retry, s.sleep, s.backend.GetLessons)
		if err != nil {
			return domain.IDSet{}, 0, err
		}
		for _, l := range lessons {
			if domain.IsStudent(l, personID) {
				ids = append(ids, l.ID)
			}
		}
		return domain.NewIDSet(ids...), len(lessons), nil
	}
}
