package enrollment

import (
	"context"
	"fmt"

	"conservatory/internal/conflict"
	"conservatory/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the capacity and schedule
// preconditions.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewCapacityRule())
	engine.Register(NewScheduleRule())
	return engine
}

// NewCapacityRule blocks enrollment into a full group or lesson.
func NewCapacityRule() domain.Rule {
	return capacityRule{}
}

type capacityRule struct{}

func (capacityRule) Name() string { return "capacity" }

func (capacityRule) Evaluate(_ context.Context, check domain.EnrollmentCheck) (domain.Result, error) {
	if check.Capacity <= 0 || check.Members.Has(check.PersonID) || check.Members.Len() < check.Capacity {
		return domain.Result{}, nil
	}
	err := &domain.CapacityError{
		Relation:    check.Relation,
		AuthorityID: check.AuthorityID,
		PersonID:    check.PersonID,
		Capacity:    check.Capacity,
		Members:     check.Members.Len(),
	}
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "capacity",
		Severity: domain.SeverityBlock,
		Message:  err.Error(),
		Entity:   check.Relation.AuthorityEntity(),
		EntityID: check.AuthorityID,
		Err:      err,
	}}}, nil
}

// NewScheduleRule blocks enrollment when a candidate slot overlaps time the
// person has already committed. AllowScheduleConflict downgrades it to a
// warning.
func NewScheduleRule() domain.Rule {
	return scheduleRule{}
}

type scheduleRule struct{}

func (scheduleRule) Name() string { return "schedule_conflict" }

func (scheduleRule) Evaluate(_ context.Context, check domain.EnrollmentCheck) (domain.Result, error) {
	severity := domain.SeverityBlock
	if check.AllowScheduleConflict {
		severity = domain.SeverityWarn
	}
	res := domain.Result{}
	for _, candidate := range check.Candidate {
		hits := conflict.Conflicts(candidate, check.Committed)
		if len(hits) == 0 {
			continue
		}
		err := &domain.ScheduleConflictError{
			Relation:    check.Relation,
			AuthorityID: check.AuthorityID,
			PersonID:    check.PersonID,
			Candidate:   candidate,
			Conflicts:   hits,
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "schedule_conflict",
			Severity: severity,
			Message:  fmt.Sprintf("%d overlapping slot(s): %v", len(hits), err),
			Entity:   domain.EntityPerson,
			EntityID: check.PersonID,
			Err:      err,
		})
	}
	return res, nil
}
