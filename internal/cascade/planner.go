// Package cascade previews and executes deletions of a person, group or
// lesson together with every record that references it. The backend has no
// transactions: a pre-delete snapshot is the only recovery path.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"conservatory/internal/blob"
	"conservatory/internal/cache"
	"conservatory/internal/enrollment"
	"conservatory/internal/observability"
	"conservatory/pkg/domain"
)

// RelationRemover strips a person from one relation on both sides.
// *enrollment.Gateway satisfies it.
type RelationRemover interface {
	RemoveMember(ctx context.Context, kind domain.RelationKind, authorityID, personID string) error
}

// Planner previews and executes cascade deletions.
type Planner struct {
	backend  domain.Backend
	remover  RelationRemover
	blobs    blob.Store
	cache    *cache.Cache
	notifier Notifier
	policy   Policy
	sleep    enrollment.Sleeper
	hooks    observability.Hooks
}

// Option configures a Planner.
type Option func(*Planner)

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(pl *Planner) { pl.policy = p }
}

// WithNotifier sets the notification sink used when notifyUsers is set.
func WithNotifier(n Notifier) Option {
	return func(pl *Planner) {
		if n != nil {
			pl.notifier = n
		}
	}
}

// WithCache evicts deleted records from c.
func WithCache(c *cache.Cache) Option {
	return func(pl *Planner) { pl.cache = c }
}

// WithSleeper replaces the timer used between read retries.
func WithSleeper(s enrollment.Sleeper) Option {
	return func(pl *Planner) { pl.sleep = s }
}

// WithHooks sets the logger, metrics recorder, tracer and clock.
func WithHooks(h observability.Hooks) Option {
	return func(pl *Planner) { pl.hooks = h.WithDefaults() }
}

// NewPlanner constructs a planner. blobs may be nil when snapshots are never
// requested.
func NewPlanner(backend domain.Backend, remover RelationRemover, blobs blob.Store, opts ...Option) *Planner {
	p := &Planner{
		backend: backend,
		remover: remover,
		blobs:   blobs,
		policy:  DefaultPolicy(),
		hooks:   observability.Hooks{}.WithDefaults(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.notifier == nil {
		p.notifier = LogNotifier(p.hooks.Logger)
	}
	return p
}

// Policy returns the effective policy.
func (p *Planner) Policy() Policy { return p.policy }

// Preview walks the relation graph from root and returns the deletion plan.
// It never mutates anything.
func (p *Planner) Preview(ctx context.Context, root domain.EntityRef) (domain.DeletionPlan, error) {
	var plan domain.DeletionPlan
	err := p.hooks.Run(ctx, "cascade.preview", func(ctx context.Context) error {
		g, err := p.collect(ctx, root)
		if err != nil {
			return err
		}
		plan = g.plan(p.policy, p.hooks.Clock.Now())
		return nil
	})
	return plan, err
}

// Execute runs a cascade against the plan the operator reviewed. It is the
// one-shot form of NewAttempt, Confirm and Attempt.Execute.
func (p *Planner) Execute(ctx context.Context, root domain.EntityRef, seen domain.DeletionPlan, opts domain.DeletionOptions) (domain.DeletionOutcome, error) {
	a := p.NewAttempt(root)
	a.state, a.plan = StatePreviewReady, &seen
	if err := a.Confirm(); err != nil {
		return domain.DeletionOutcome{}, err
	}
	return a.Execute(ctx, opts)
}

// Attempt is one operator-driven deletion from preview to outcome.
type Attempt struct {
	ID      string
	Root    domain.EntityRef
	planner *Planner

	mu    sync.Mutex
	state State
	plan  *domain.DeletionPlan
}

// NewAttempt starts an idle deletion attempt for root.
func (p *Planner) NewAttempt(root domain.EntityRef) *Attempt {
	return &Attempt{ID: uuid.NewString(), Root: root, planner: p, state: StateIdle}
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Plan returns the plan last shown to the operator.
func (a *Attempt) Plan() (domain.DeletionPlan, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.plan == nil {
		return domain.DeletionPlan{}, false
	}
	return *a.plan, true
}

func (a *Attempt) move(to State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.state.next(to); err != nil {
		return err
	}
	a.state = to
	return nil
}

// Preview requests a fresh plan. A failed read returns the attempt to idle.
func (a *Attempt) Preview(ctx context.Context) (domain.DeletionPlan, error) {
	if err := a.move(StatePreviewRequested); err != nil {
		return domain.DeletionPlan{}, err
	}
	plan, err := a.planner.Preview(ctx, a.Root)
	if err != nil {
		_ = a.move(StateIdle)
		return domain.DeletionPlan{}, err
	}
	a.mu.Lock()
	a.plan = &plan
	a.mu.Unlock()
	return plan, a.move(StatePreviewReady)
}

// Confirm records the operator's approval. A plan with blockers cannot be
// confirmed.
func (a *Attempt) Confirm() error {
	a.mu.Lock()
	plan := a.plan
	a.mu.Unlock()
	if plan != nil && !plan.CanProceed {
		return &domain.ValidationFailedError{Root: a.Root, Blockers: plan.Blockers}
	}
	return a.move(StateConfirmed)
}

// Cancel abandons the attempt before execution.
func (a *Attempt) Cancel() error {
	return a.move(StateCancelled)
}

// Execute runs the confirmed cascade.
func (a *Attempt) Execute(ctx context.Context, opts domain.DeletionOptions) (domain.DeletionOutcome, error) {
	if err := a.move(StateExecuting); err != nil {
		return domain.DeletionOutcome{}, err
	}
	a.mu.Lock()
	seen := *a.plan
	a.mu.Unlock()

	var outcome domain.DeletionOutcome
	err := a.planner.hooks.Run(ctx, "cascade.execute", func(ctx context.Context) error {
		var err error
		outcome, err = a.planner.execute(ctx, a.Root, seen, opts)
		return err
	})
	if err != nil {
		_ = a.move(StateFailed)
		return outcome, err
	}
	return outcome, a.move(StateCompleted)
}

// phase is one deletion step; its name is reported in partial failures.
type phase struct {
	name string
	run  func(ctx context.Context) (int, error)
}

func (p *Planner) execute(ctx context.Context, root domain.EntityRef, seen domain.DeletionPlan, opts domain.DeletionOptions) (domain.DeletionOutcome, error) {
	outcome := domain.DeletionOutcome{Root: root, Affected: map[string]int{}}
	if err := validate.Struct(opts); err != nil {
		return outcome, fmt.Errorf("invalid deletion options: %w", err)
	}
	g, err := p.collect(ctx, root)
	if err != nil {
		return outcome, err
	}
	current := g.plan(p.policy, p.hooks.Clock.Now())
	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	// Past this point the cascade runs to completion or partial failure.
	ctx = context.WithoutCancel(ctx)

	if opts.CreateSnapshot && !opts.SkipValidation {
		key, err := p.writeSnapshot(ctx, g, current, opts.Reason)
		if err != nil {
			return outcome, err
		}
		outcome.SnapshotKey = key
	}
	if !opts.SkipValidation {
		if err := p.checkStale(root, seen, current); err != nil {
			return outcome, err
		}
	}

	var deleted []domain.EntityRef
	phases := p.phases(g, opts, &deleted, &outcome)
	for i, ph := range phases {
		n, err := ph.run(ctx)
		if n > 0 {
			outcome.Affected[ph.name] += n
		}
		if err != nil {
			failure := &domain.PartialCascadeFailureError{
				Root:        root,
				Failed:      ph.name,
				DeletedIDs:  deleted,
				SnapshotKey: outcome.SnapshotKey,
				Err:         err,
			}
			for _, done := range phases[:i] {
				failure.Completed = append(failure.Completed, done.name)
			}
			for _, rest := range phases[i:] {
				failure.Remaining = append(failure.Remaining, rest.name)
			}
			p.hooks.Logger.Error("cascade stopped part way",
				"root", root.String(), "failed", ph.name, "deleted", len(deleted), "snapshot", outcome.SnapshotKey, "error", err)
			return outcome, failure
		}
	}
	outcome.Completed = true
	if p.cache != nil {
		for _, ref := range deleted {
			p.cache.Evict(ref)
		}
	}
	if opts.NotifyUsers {
		p.notify(ctx, g, opts.Reason, &outcome)
	}
	p.hooks.Logger.Info("cascade completed", "root", root.String(), "affected", outcome.Affected, "snapshot", outcome.SnapshotKey)
	return outcome, nil
}

// checkStale compares the reviewed plan with the current one.
func (p *Planner) checkStale(root domain.EntityRef, seen, current domain.DeletionPlan) error {
	names := map[string]bool{}
	for _, c := range seen.AffectedCollections {
		names[c.Name] = true
	}
	for _, c := range current.AffectedCollections {
		names[c.Name] = true
	}
	var divergences []domain.CollectionDivergence
	for _, name := range []string{
		CollectionEnrollments, CollectionMembers, CollectionTeacherAssignments,
		CollectionAttendance, CollectionRehearsals, CollectionAssessments, CollectionDocuments,
	} {
		if !names[name] {
			continue
		}
		prev, cur := seen.Count(name), current.Count(name)
		diff := cur - prev
		if diff < 0 {
			diff = -diff
		}
		if diff > p.policy.Tolerance.Allowed(prev) {
			divergences = append(divergences, domain.CollectionDivergence{Collection: name, Previous: prev, Current: cur})
		}
	}
	if len(divergences) == 0 && current.CanProceed {
		return nil
	}
	return &domain.ValidationFailedError{Root: root, Divergences: divergences, Blockers: current.Blockers}
}

// phases orders the cascade: leaves, then relations, then the root.
func (p *Planner) phases(g *graph, opts domain.DeletionOptions, deleted *[]domain.EntityRef, outcome *domain.DeletionOutcome) []phase {
	deleteAll := func(refs []domain.EntityRef) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) {
			n := 0
			for _, ref := range refs {
				if err := p.backend.Delete(ctx, ref); err != nil && !domain.IsNotFound(err) {
					return n, fmt.Errorf("delete %s: %w", ref, err)
				}
				*deleted = append(*deleted, ref)
				n++
			}
			return n, nil
		}
	}

	var out []phase
	for _, name := range p.policy.LeafOrder(g.root.Type) {
		refs := g.leafRefs(name)
		if len(refs) == 0 {
			continue
		}
		if name == CollectionDocuments && !opts.DeleteDocuments {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("%d document(s) retained", len(refs)))
			continue
		}
		out = append(out, phase{name: name, run: deleteAll(refs)})
	}

	switch g.root.Type {
	case domain.EntityPerson:
		if len(g.groups)+len(g.lessons) > 0 {
			out = append(out, phase{name: CollectionEnrollments, run: func(ctx context.Context) (int, error) {
				return p.stripPerson(ctx, g)
			}})
		}
		if len(g.assignees) > 0 {
			out = append(out, phase{name: CollectionTeacherAssignments, run: func(ctx context.Context) (int, error) {
				return p.stripAssignments(ctx, g)
			}})
		}
	case domain.EntityGroup, domain.EntityLesson:
		if len(g.members) > 0 {
			out = append(out, phase{name: CollectionMembers, run: func(ctx context.Context) (int, error) {
				return p.stripMembers(ctx, g)
			}})
		}
	}
	out = append(out, phase{name: string(g.root.Type), run: deleteAll([]domain.EntityRef{g.root})})
	return out
}

func (g *graph) leafRefs(name string) []domain.EntityRef {
	var refs []domain.EntityRef
	switch name {
	case CollectionAttendance:
		for _, r := range g.attendance {
			refs = append(refs, domain.EntityRef{Type: domain.EntityAttendance, ID: r.ID})
		}
	case CollectionRehearsals:
		for _, r := range g.rehearsals {
			refs = append(refs, domain.EntityRef{Type: domain.EntityRehearsal, ID: r.ID})
		}
	case CollectionAssessments:
		for _, r := range g.assessments {
			refs = append(refs, domain.EntityRef{Type: domain.EntityAssessment, ID: r.ID})
		}
	case CollectionDocuments:
		for _, r := range g.documents {
			refs = append(refs, domain.EntityRef{Type: domain.EntityDocument, ID: r.ID})
		}
	}
	return refs
}

// stripPerson removes a person root from every group and lesson listing it.
// A partial write whose stale side is the root itself is harmless because
// the root is deleted next.
func (p *Planner) stripPerson(ctx context.Context, g *graph) (int, error) {
	n := 0
	remove := func(kind domain.RelationKind, authorityID string) error {
		err := p.remover.RemoveMember(ctx, kind, authorityID, g.root.ID)
		var partial *domain.PartialWriteError
		if errors.As(err, &partial) && partial.Drift.PersonID == g.root.ID && !partial.Drift.InAuthority {
			p.hooks.Logger.Warn("ignoring stale enrollments on person being deleted", "person", g.root.ID, "authority", authorityID)
			return nil
		}
		return err
	}
	for _, grp := range g.groups {
		if err := remove(domain.RelationOrchestra, grp.ID); err != nil {
			return n, err
		}
		n++
	}
	for _, l := range g.lessons {
		if err := remove(domain.RelationTheoryLesson, l.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// stripMembers removes a group or lesson root from every linked person.
func (p *Planner) stripMembers(ctx context.Context, g *graph) (int, error) {
	kind := domain.RelationOrchestra
	if g.root.Type == domain.EntityLesson {
		kind = domain.RelationTheoryLesson
	}
	n := 0
	for _, m := range g.members {
		if err := p.remover.RemoveMember(ctx, kind, g.root.ID, m.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// stripAssignments drops a teacher root from each student's assignments.
func (p *Planner) stripAssignments(ctx context.Context, g *graph) (int, error) {
	n := 0
	for _, s := range g.assignees {
		kept := make([]domain.TeacherAssignment, 0, len(s.TeacherAssignments))
		for _, a := range s.TeacherAssignments {
			if a.TeacherID != g.root.ID {
				kept = append(kept, a)
			}
		}
		if _, err := p.backend.UpdatePerson(ctx, s.ID, domain.PersonPatch{TeacherAssignments: &kept}); err != nil {
			return n, fmt.Errorf("update teacher assignments of %s: %w", s.ID, err)
		}
		if p.cache != nil {
			p.cache.Evict(domain.EntityRef{Type: domain.EntityPerson, ID: s.ID})
		}
		n += len(s.TeacherAssignments) - len(kept)
	}
	return n, nil
}
