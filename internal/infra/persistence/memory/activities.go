package memory

import (
	"context"

	"conservatory/pkg/domain"
)

// ListRehearsals lists the rehearsals of a group, or all rehearsals when
// groupID is empty.
func (s *Store) ListRehearsals(ctx context.Context, groupID string) ([]Rehearsal, error) {
	var out []Rehearsal
	err := s.read(ctx, func(state *memoryState) {
		for _, id := range sortedKeys(state.rehearsals) {
			r := state.rehearsals[id]
			if groupID == "" || r.GroupID == groupID {
				out = append(out, r)
			}
		}
	})
	return out, err
}

// ListAttendance lists records for the filter's person or activities.
func (s *Store) ListAttendance(ctx context.Context, filter domain.AttendanceFilter) ([]AttendanceRecord, error) {
	activities := make(map[string]struct{}, len(filter.ActivityIDs))
	for _, id := range filter.ActivityIDs {
		activities[id] = struct{}{}
	}
	all := filter.PersonID == "" && len(activities) == 0
	var out []AttendanceRecord
	err := s.read(ctx, func(state *memoryState) {
		for _, id := range sortedKeys(state.attendance) {
			a := state.attendance[id]
			_, byActivity := activities[a.ActivityID]
			if all || byActivity || (filter.PersonID != "" && a.PersonID == filter.PersonID) {
				out = append(out, a)
			}
		}
	})
	return out, err
}

// ListDocuments lists the documents attached to owner.
func (s *Store) ListDocuments(ctx context.Context, owner domain.EntityRef) ([]Document, error) {
	var out []Document
	err := s.read(ctx, func(state *memoryState) {
		for _, id := range sortedKeys(state.documents) {
			d := state.documents[id]
			if d.OwnerID == owner.ID && d.OwnerType == owner.Type {
				out = append(out, d)
			}
		}
	})
	return out, err
}

// ListAssessments lists the assessments of a student.
func (s *Store) ListAssessments(ctx context.Context, studentID string) ([]Assessment, error) {
	var out []Assessment
	err := s.read(ctx, func(state *memoryState) {
		for _, id := range sortedKeys(state.assessments) {
			a := state.assessments[id]
			if a.StudentID == studentID {
				out = append(out, a)
			}
		}
	})
	return out, err
}
