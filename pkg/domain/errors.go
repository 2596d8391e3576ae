package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the enrollment and deletion workflows.
type ErrorKind string

// Error kinds.
const (
	KindCapacity              ErrorKind = "capacity"
	KindScheduleConflict      ErrorKind = "schedule_conflict"
	KindInvalidSchedule       ErrorKind = "invalid_schedule"
	KindPartialWrite          ErrorKind = "partial_write"
	KindValidationFailed      ErrorKind = "validation_failed"
	KindPartialCascadeFailure ErrorKind = "partial_cascade_failure"
	KindNotFound              ErrorKind = "not_found"
	KindNetwork               ErrorKind = "network"
	KindUnknown               ErrorKind = "unknown"
)

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NetworkError wraps a transport failure talking to the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// CapacityError is returned when the authority record is full.
type CapacityError struct {
	Relation    RelationKind
	AuthorityID string
	PersonID    string
	Capacity    int
	Members     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s %s is at capacity (%d/%d); cannot add person %s",
		e.Relation.AuthorityEntity(), e.AuthorityID, e.Members, e.Capacity, e.PersonID)
}

// ScheduleConflictError is returned when a new enrollment overlaps time the
// person has already committed.
type ScheduleConflictError struct {
	Relation    RelationKind
	AuthorityID string
	PersonID    string
	Candidate   TimeBlock
	Conflicts   []TimeBlock
}

func (e *ScheduleConflictError) Error() string {
	sources := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		label := c.SourceID
		if label == "" {
			label = "unnamed slot"
		}
		sources = append(sources, fmt.Sprintf("%s (day %d %s-%s)", label, c.DayOfWeek, c.StartTime, c.EndTime))
	}
	return fmt.Sprintf("person %s has a schedule conflict joining %s %s at day %d %s-%s: %s",
		e.PersonID, e.Relation.AuthorityEntity(), e.AuthorityID,
		e.Candidate.DayOfWeek, e.Candidate.StartTime, e.Candidate.EndTime, strings.Join(sources, ", "))
}

// InvalidScheduleError is returned when a slot taking part in an enrollment
// check cannot be parsed or ends before it starts.
type InvalidScheduleError struct {
	SourceID string
	Slot     TimeBlock
	Err      error
}

func (e *InvalidScheduleError) Error() string {
	source := e.SourceID
	if source == "" {
		source = "unnamed slot"
	}
	return fmt.Sprintf("invalid schedule on %s (day %d %s-%s): %v",
		source, e.Slot.DayOfWeek, e.Slot.StartTime, e.Slot.EndTime, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// PartialWriteError is returned when the authority write succeeded but the
// dependent write did not. Drift names the inconsistency left behind.
type PartialWriteError struct {
	Operation string
	Drift     Drift
	Attempts  int
	Err       error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s partially applied after %d attempts: %s: %v", e.Operation, e.Attempts, e.Drift, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// CollectionDivergence reports a count mismatch between two deletion plans.
type CollectionDivergence struct {
	Collection string `json:"collection"`
	Previous   int    `json:"previous"`
	Current    int    `json:"current"`
}

// ValidationFailedError is returned when a deletion plan changed since the
// operator reviewed it.
type ValidationFailedError struct {
	Root        EntityRef
	Divergences []CollectionDivergence
	Blockers    []string
}

func (e *ValidationFailedError) Error() string {
	parts := make([]string, 0, len(e.Divergences)+len(e.Blockers))
	for _, d := range e.Divergences {
		parts = append(parts, fmt.Sprintf("%s %d->%d", d.Collection, d.Previous, d.Current))
	}
	parts = append(parts, e.Blockers...)
	return fmt.Sprintf("deletion plan for %s is stale: %s", e.Root, strings.Join(parts, "; "))
}

// PartialCascadeFailureError is returned when a cascade stopped part way.
// Already deleted records are not restored automatically.
type PartialCascadeFailureError struct {
	Root        EntityRef
	Completed   []string
	Remaining   []string
	Failed      string
	DeletedIDs  []EntityRef
	SnapshotKey string
	Err         error
}

func (e *PartialCascadeFailureError) Error() string {
	msg := fmt.Sprintf("cascade delete of %s stopped at %s (completed: [%s], remaining: [%s]): %v",
		e.Root, e.Failed, strings.Join(e.Completed, ", "), strings.Join(e.Remaining, ", "), e.Err)
	if e.SnapshotKey != "" {
		msg += "; restore from snapshot " + e.SnapshotKey
	}
	return msg
}

func (e *PartialCascadeFailureError) Unwrap() error { return e.Err }

// KindOf classifies err, looking through wrapping.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		capacity  *CapacityError
		schedule  *ScheduleConflictError
		invalid   *InvalidScheduleError
		partial   *PartialWriteError
		stale     *ValidationFailedError
		cascade   *PartialCascadeFailureError
		notFound  ErrNotFound
		notFoundP *ErrNotFound
		network   *NetworkError
	)
	switch {
	case errors.As(err, &capacity):
		return KindCapacity
	case errors.As(err, &schedule):
		return KindScheduleConflict
	case errors.As(err, &invalid):
		return KindInvalidSchedule
	case errors.As(err, &partial):
		return KindPartialWrite
	case errors.As(err, &stale):
		return KindValidationFailed
	case errors.As(err, &cascade):
		return KindPartialCascadeFailure
	case errors.As(err, &notFound), errors.As(err, &notFoundP):
		return KindNotFound
	case errors.As(err, &network):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsNetwork reports whether err wraps a NetworkError.
func IsNetwork(err error) bool {
	var network *NetworkError
	return errors.As(err, &network)
}
