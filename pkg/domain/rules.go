package domain

import "context"

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine whether a membership change proceeds.
const (
	// SeverityBlock stops the membership change.
	SeverityBlock Severity = "block"
	// SeverityWarn is logged and the change proceeds.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// EnrollmentCheck is the read-only context a rule evaluates before an
// enrollment is written.
type EnrollmentCheck struct {
	Relation    RelationKind
	AuthorityID string
	PersonID    string
	// Capacity of the authority record; zero means unlimited.
	Capacity int
	Members  IDSet
	// Candidate lists the weekly slots the authority record meets at.
	Candidate []TimeBlock
	// Committed lists the weekly slots the person is already bound to.
	Committed []TimeBlock
	// AllowScheduleConflict downgrades schedule conflicts to warnings.
	AllowScheduleConflict bool
}

// Violation reports a failed rule evaluation. Err carries the typed error
// surfaced to callers when the violation blocks.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
	Err      error
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// FirstBlocking returns the first blocking violation.
func (r Result) FirstBlocking() (Violation, bool) {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return v, true
		}
	}
	return Violation{}, false
}

// RuleViolationError is returned when blocking violations carry no typed error.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "membership change blocked by rules"
}

// Rule defines a precondition evaluated before a membership write.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, check EnrollmentCheck) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules in registration order and
// aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, check EnrollmentCheck) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, check)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
