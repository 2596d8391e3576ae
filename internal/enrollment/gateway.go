// Package enrollment performs membership changes as a dual write: the
// authority record (group or lesson) first, then the person's enrollments.
// Callers see a single outcome; a dependent-side failure that survives the
// bounded retries is reported as a domain.PartialWriteError naming the drift.
package enrollment

import (
	"context"
	"errors"
	"fmt"

	"conservatory/internal/cache"
	"conservatory/internal/conflict"
	"conservatory/internal/observability"
	"conservatory/pkg/domain"
)

// Backend is the slice of the conservatory API the gateway consumes.
type Backend interface {
	domain.GroupStore
	domain.LessonStore
	domain.PersonStore
}

// Gateway owns every write to membership arrays.
type Gateway struct {
	backend Backend
	cache   *cache.Cache
	rules   *domain.RulesEngine
	retry   RetryPolicy
	sleep   Sleeper
	hooks   observability.Hooks
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache shares an entity cache with the gateway.
func WithCache(c *cache.Cache) Option {
	return func(g *Gateway) {
		if c != nil {
			g.cache = c
		}
	}
}

// WithRulesEngine replaces the default capacity and schedule rules.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(g *Gateway) {
		if engine != nil {
			g.rules = engine
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *Gateway) {
		g.retry = p.normalized()
	}
}

// WithSleeper replaces the timer used between retries.
func WithSleeper(s Sleeper) Option {
	return func(g *Gateway) {
		if s != nil {
			g.sleep = s
		}
	}
}

// WithHooks sets the logger, metrics recorder and tracer.
func WithHooks(h observability.Hooks) Option {
	return func(g *Gateway) {
		g.hooks = h.WithDefaults()
	}
}

// NewGateway constructs a gateway over backend.
func NewGateway(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend: backend,
		cache:   cache.New(),
		rules:   NewDefaultRulesEngine(),
		retry:   DefaultRetryPolicy(),
		sleep:   timerSleep,
		hooks:   observability.Hooks{}.WithDefaults(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Cache returns the entity cache the gateway keeps current.
func (g *Gateway) Cache() *cache.Cache { return g.cache }

// RetryPolicy returns the effective retry policy.
func (g *Gateway) RetryPolicy() RetryPolicy { return g.retry }

type memberOptions struct {
	allowScheduleConflict bool
}

// MemberOption adjusts a single AddMember call.
type MemberOption func(*memberOptions)

// AllowScheduleConflict records the operator's override of a schedule
// conflict; the conflict is logged instead of blocking.
func AllowScheduleConflict() MemberOption {
	return func(o *memberOptions) { o.allowScheduleConflict = true }
}

// authority is the relation owner as seen by the rules.
type authority struct {
	capacity int
	members  domain.IDSet
	slots    []domain.TimeBlock
}

// AddMember enrolls personID in the group or lesson identified by
// authorityID. Capacity and schedule rules run before any write.
// Cancellation of ctx is honoured until the authority write starts.
func (g *Gateway) AddMember(ctx context.Context, kind domain.RelationKind, authorityID, personID string, opts ...MemberOption) error {
	var o memberOptions
	for _, opt := range opts {
		opt(&o)
	}
	return g.hooks.Run(ctx, "enrollment.add", func(ctx context.Context) error {
		if err := kind.Validate(); err != nil {
			return err
		}
		auth, err := g.loadAuthority(ctx, kind, authorityID)
		if err != nil {
			return err
		}
		person, err := RetryRead(ctx, g.retry, g.sleep, func(ctx context.Context) (domain.Person, error) {
			return g.backend.GetPerson(ctx, personID)
		})
		if err != nil {
			return err
		}
		inAuthority := auth.members.Has(personID)
		inDependent := domain.EnrollmentsOf(person, kind).Has(authorityID)
		if inAuthority && inDependent {
			return nil
		}
		if !inAuthority {
			if err := g.checkRules(ctx, kind, authorityID, person, auth, o); err != nil {
				return err
			}
		}
		return g.dualWrite(ctx, kind, authorityID, personID, true)
	})
}

// RemoveMember is the mirror of AddMember: authority first, then the person.
func (g *Gateway) RemoveMember(ctx context.Context, kind domain.RelationKind, authorityID, personID string) error {
	return g.hooks.Run(ctx, "enrollment.remove", func(ctx context.Context) error {
		if err := kind.Validate(); err != nil {
			return err
		}
		return g.dualWrite(ctx, kind, authorityID, personID, false)
	})
}

func (g *Gateway) loadAuthority(ctx context.Context, kind domain.RelationKind, id string) (authority, error) {
	return RetryRead(ctx, g.retry, g.sleep, func(ctx context.Context) (authority, error) {
		switch kind {
		case domain.RelationOrchestra:
			group, err := g.backend.GetGroup(ctx, id)
			if err != nil {
				return authority{}, err
			}
			g.cache.StoreGroup(group)
			slots := make([]domain.TimeBlock, 0, len(group.Schedule))
			for _, s := range group.Schedule {
				s.SourceID = group.ID
				if s.Location == "" {
					s.Location = group.Location
				}
				slots = append(slots, s)
			}
			return authority{capacity: group.Capacity, members: group.MemberIDs, slots: slots}, nil
		default:
			lesson, err := g.backend.GetLesson(ctx, id)
			if err != nil {
				return authority{}, err
			}
			g.cache.StoreLesson(lesson)
			slot := lesson.Slot
			slot.SourceID = lesson.ID
			return authority{capacity: lesson.Capacity, members: lesson.StudentIDs, slots: []domain.TimeBlock{slot}}, nil
		}
	})
}

func (g *Gateway) checkRules(ctx context.Context, kind domain.RelationKind, authorityID string, person domain.Person, auth authority, o memberOptions) error {
	committed, err := g.committedSlots(ctx, person, authorityID)
	if err != nil {
		return err
	}
	if err := validateSlots(auth.slots); err != nil {
		return err
	}
	if err := validateSlots(committed); err != nil {
		return err
	}
	res, err := g.rules.Evaluate(ctx, domain.EnrollmentCheck{
		Relation:              kind,
		AuthorityID:           authorityID,
		PersonID:              person.ID,
		Capacity:              auth.capacity,
		Members:               auth.members,
		Candidate:             auth.slots,
		Committed:             committed,
		AllowScheduleConflict: o.allowScheduleConflict,
	})
	if err != nil {
		return err
	}
	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			g.hooks.Logger.Warn("enrollment rule overridden", "rule", v.Rule, "person", person.ID, "authority", authorityID, "message", v.Message)
		}
	}
	if v, ok := res.FirstBlocking(); ok {
		if v.Err != nil {
			return v.Err
		}
		return domain.RuleViolationError{Result: res}
	}
	return nil
}

// validateSlots rejects malformed slots. A slot with neither start nor end
// is unscheduled and skipped.
func validateSlots(slots []domain.TimeBlock) error {
	for _, s := range slots {
		if s.StartTime == "" && s.EndTime == "" {
			continue
		}
		if err := conflict.ValidateBlock(s); err != nil {
			return &domain.InvalidScheduleError{SourceID: s.SourceID, Slot: s, Err: err}
		}
	}
	return nil
}

// committedSlots collects the weekly time the person is already bound to,
// reading memberships from the authority side.
func (g *Gateway) committedSlots(ctx context.Context, person domain.Person, exclude string) ([]domain.TimeBlock, error) {
	var slots []domain.TimeBlock
	for _, a := range person.TeacherAssignments {
		s := a.Slot
		if s.SourceID == "" {
			s.SourceID = a.TeacherID
		}
		slots = append(slots, s)
	}
	for _, s := range person.TeachingSchedule {
		if s.SourceID == "" {
			s.SourceID = person.ID
		}
		slots = append(slots, s)
	}
	groups, err := RetryRead(ctx, g.retry, g.sleep, func(ctx context.Context) ([]domain.Group, error) {
		return g.backend.GetGroups(ctx, domain.GroupFilter{MemberID: person.ID})
	})
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		if group.ID == exclude {
			continue
		}
		for _, s := range group.Schedule {
			s.SourceID = group.ID
			slots = append(slots, s)
		}
	}
	lessons, err := RetryRead(ctx, g.retry, g.sleep, func(ctx context.Context) ([]domain.Lesson, error) {
		return g.backend.GetLessons(ctx)
	})
	if err != nil {
		return nil, err
	}
	for _, lesson := range lessons {
		if lesson.ID == exclude || !domain.IsStudent(lesson, person.ID) {
			continue
		}
		s := lesson.Slot
		s.SourceID = lesson.ID
		slots = append(slots, s)
	}
	return slots, nil
}

// dualWrite performs the authority write followed by the retried dependent
// write. Once the authority write starts the sequence ignores cancellation.
func (g *Gateway) dualWrite(ctx context.Context, kind domain.RelationKind, authorityID, personID string, add bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)
	cmd := &cache.MembershipCommand{Relation: kind, AuthorityID: authorityID, PersonID: personID, Add: add}
	err := cache.Execute(g.cache, cmd, func() error {
		return g.writeAuthority(wctx, kind, authorityID, personID, add)
	})
	if err != nil {
		return err
	}

	person, attempts, err := g.writeDependent(wctx, kind, authorityID, personID, add)
	if err != nil {
		cmd.RollbackDependent(g.cache)
		op := "removeMember"
		if add {
			op = "addMember"
		}
		drift := domain.Drift{Relation: kind, AuthorityID: authorityID, PersonID: personID, InAuthority: add, InDependent: !add}
		g.hooks.Logger.Warn("dependent write failed; drift introduced",
			"relation", string(kind), "authority", authorityID, "person", personID, "attempts", attempts, "error", err)
		return &domain.PartialWriteError{Operation: op, Drift: drift, Attempts: attempts, Err: err}
	}
	g.cache.StorePerson(person)
	return nil
}

func (g *Gateway) writeAuthority(ctx context.Context, kind domain.RelationKind, authorityID, personID string, add bool) error {
	switch kind {
	case domain.RelationOrchestra:
		write := g.backend.RemoveGroupMember
		if add {
			write = g.backend.AddGroupMember
		}
		group, err := write(ctx, authorityID, personID)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", domain.EntityGroup, authorityID, err)
		}
		g.cache.StoreGroup(group)
	default:
		write := g.backend.RemoveLessonStudent
		if add {
			write = g.backend.AddLessonStudent
		}
		lesson, err := write(ctx, authorityID, personID)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", domain.EntityLesson, authorityID, err)
		}
		g.cache.StoreLesson(lesson)
	}
	return nil
}

// writeDependent re-reads the person on every attempt so concurrent edits to
// other relations are preserved.
func (g *Gateway) writeDependent(ctx context.Context, kind domain.RelationKind, authorityID, personID string, add bool) (domain.Person, int, error) {
	var lastErr error
	for attempt := 1; attempt <= g.retry.Attempts; attempt++ {
		person, err := g.backend.GetPerson(ctx, personID)
		if err == nil {
			ids := domain.EnrollmentsOf(person, kind)
			if ids.Has(authorityID) == add {
				return person, attempt, nil
			}
			if add {
				ids = ids.With(authorityID)
			} else {
				ids = ids.Without(authorityID)
			}
			enrollments := person.Enrollments.WithEnrollments(kind, ids)
			person, err = g.backend.UpdatePerson(ctx, personID, domain.PersonPatch{Enrollments: &enrollments})
			if err == nil {
				return person, attempt, nil
			}
		}
		lastErr = err
		if domain.IsNotFound(err) || errors.Is(err, context.DeadlineExceeded) || attempt == g.retry.Attempts {
			return domain.Person{}, attempt, lastErr
		}
		g.hooks.Logger.Debug("retrying dependent write", "person", personID, "attempt", attempt, "error", err)
		// ctx is detached from cancellation, so an early wake only shortens the wait.
		_ = g.sleep(ctx, g.retry.Delay(attempt))
	}
	return domain.Person{}, g.retry.Attempts, lastErr
}
