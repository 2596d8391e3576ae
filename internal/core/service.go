// Package core wires the enrollment gateway, reconciliation service and
// cascade planner over one backend and exposes them as a single service.
package core

import (
	"context"

	"conservatory/internal/blob"
	"conservatory/internal/cache"
	"conservatory/internal/cascade"
	"conservatory/internal/enrollment"
	"conservatory/internal/reconcile"
	"conservatory/pkg/domain"
)

// Service is the programmatic surface of the subsystem.
type Service struct {
	backend    domain.Backend
	cache      *cache.Cache
	gateway    *enrollment.Gateway
	reconciler *reconcile.Service
	planner    *cascade.Planner
	restorer   *cascade.Restorer
	opts       serviceOptions
}

// NewService builds a service over backend. blobs holds deletion snapshots
// and may be nil when snapshots are not used.
func NewService(backend domain.Backend, blobs blob.Store, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	retry := o.policy.Retry
	if o.retry != nil {
		retry = *o.retry
	}
	hooks := o.hooks()
	c := cache.New()
	gateway := enrollment.NewGateway(backend,
		enrollment.WithCache(c),
		enrollment.WithRetryPolicy(retry),
		enrollment.WithHooks(hooks),
	)
	var restorer *cascade.Restorer
	if blobs != nil {
		restorer = cascade.NewRestorer(backend, blobs, o.policy, c, hooks)
	}
	return &Service{
		backend:    backend,
		cache:      c,
		gateway:    gateway,
		reconciler: reconcile.NewService(backend,
			reconcile.WithCache(c),
			reconcile.WithRetryPolicy(retry),
			reconcile.WithHooks(hooks),
		),
		planner: cascade.NewPlanner(backend, gateway, blobs,
			cascade.WithPolicy(o.policy),
			cascade.WithNotifier(o.notifier),
			cascade.WithCache(c),
			cascade.WithHooks(hooks),
		),
		restorer: restorer,
		opts:     o,
	}
}

// Backend returns the underlying backend.
func (s *Service) Backend() domain.Backend { return s.backend }

// Cache returns the shared entity cache.
func (s *Service) Cache() *cache.Cache { return s.cache }

func (s *Service) run(ctx context.Context, op string, ref domain.EntityRef, fn func(context.Context) error) error {
	start := s.opts.clock.Now()
	err := fn(ctx)
	s.recordAudit(ctx, op, ref, s.opts.clock.Now().Sub(start), err)
	return err
}

// AddMember enrolls a person in a group or lesson.
func (s *Service) AddMember(ctx context.Context, kind domain.RelationKind, authorityID, personID string, opts ...enrollment.MemberOption) error {
	return s.run(ctx, "add_member", domain.EntityRef{Type: domain.EntityPerson, ID: personID}, func(ctx context.Context) error {
		return s.gateway.AddMember(ctx, kind, authorityID, personID, opts...)
	})
}

// RemoveMember withdraws a person from a group or lesson.
func (s *Service) RemoveMember(ctx context.Context, kind domain.RelationKind, authorityID, personID string) error {
	return s.run(ctx, "remove_member", domain.EntityRef{Type: domain.EntityPerson, ID: personID}, func(ctx context.Context) error {
		return s.gateway.RemoveMember(ctx, kind, authorityID, personID)
	})
}

// Reconcile repairs one person's enrollments for a relation.
func (s *Service) Reconcile(ctx context.Context, personID string, kind domain.RelationKind) (reconcile.Report, error) {
	var report reconcile.Report
	err := s.run(ctx, "reconcile_person", domain.EntityRef{Type: domain.EntityPerson, ID: personID}, func(ctx context.Context) error {
		var err error
		report, err = s.reconciler.Reconcile(ctx, personID, kind)
		return err
	})
	return report, err
}

// Sweep reconciles every person.
func (s *Service) Sweep(ctx context.Context, opts reconcile.SweepOptions) (reconcile.SweepReport, error) {
	var report reconcile.SweepReport
	err := s.run(ctx, "reconcile_sweep", domain.EntityRef{Type: domain.EntityPerson}, func(ctx context.Context) error {
		var err error
		report, err = s.reconciler.Sweep(ctx, opts)
		return err
	})
	return report, err
}

// PreviewDeletion returns the deletion plan for root.
func (s *Service) PreviewDeletion(ctx context.Context, root domain.EntityRef) (domain.DeletionPlan, error) {
	return s.planner.Preview(ctx, root)
}

// NewDeletionAttempt starts a step-by-step deletion of root.
func (s *Service) NewDeletionAttempt(root domain.EntityRef) *cascade.Attempt {
	return s.planner.NewAttempt(root)
}

// ExecuteDeletion runs a cascade against the plan the operator reviewed.
func (s *Service) ExecuteDeletion(ctx context.Context, root domain.EntityRef, seen domain.DeletionPlan, opts domain.DeletionOptions) (domain.DeletionOutcome, error) {
	var outcome domain.DeletionOutcome
	err := s.run(ctx, "execute_deletion", root, func(ctx context.Context) error {
		var err error
		outcome, err = s.planner.Execute(ctx, root, seen, opts)
		return err
	})
	return outcome, err
}

// RestoreSnapshot re-inserts the records captured under key.
func (s *Service) RestoreSnapshot(ctx context.Context, key string) (cascade.Snapshot, error) {
	if s.restorer == nil {
		return cascade.Snapshot{}, blob.ErrUnsupported
	}
	var snap cascade.Snapshot
	err := s.run(ctx, "restore_snapshot", domain.EntityRef{}, func(ctx context.Context) error {
		var err error
		snap, err = s.restorer.Restore(ctx, key)
		return err
	})
	return snap, err
}

// Snapshots lists the snapshots taken for root.
func (s *Service) Snapshots(ctx context.Context, root domain.EntityRef) ([]blob.Info, error) {
	if s.restorer == nil {
		return nil, blob.ErrUnsupported
	}
	return s.restorer.List(ctx, root)
}
