package memory

import (
	"context"
	"fmt"
	"time"

	"conservatory/pkg/domain"
)

// Delete removes a single record of any supported type.
func (s *Store) Delete(ctx context.Context, ref domain.EntityRef) error {
	return s.write(ctx, func(state *memoryState, _ time.Time) error {
		var found bool
		switch ref.Type {
		case domain.EntityPerson:
			found = deleteKey(state.persons, ref.ID)
		case domain.EntityGroup:
			found = deleteKey(state.groups, ref.ID)
		case domain.EntityLesson:
			found = deleteKey(state.lessons, ref.ID)
		case domain.EntityRehearsal:
			found = deleteKey(state.rehearsals, ref.ID)
		case domain.EntityAttendance:
			found = deleteKey(state.attendance, ref.ID)
		case domain.EntityDocument:
			found = deleteKey(state.documents, ref.ID)
		case domain.EntityAssessment:
			found = deleteKey(state.assessments, ref.ID)
		default:
			return fmt.Errorf("unsupported entity type %q", ref.Type)
		}
		if !found {
			return domain.ErrNotFound{Entity: ref.Type, ID: ref.ID}
		}
		return nil
	})
}

func deleteKey[V any](m map[string]V, id string) bool {
	if _, ok := m[id]; !ok {
		return false
	}
	delete(m, id)
	return true
}

// stamp fills identity and timestamps left unset by the caller. Restored
// records keep the values they were captured with.
func (s *Store) stamp(base *domain.Base, now time.Time) {
	if base.ID == "" {
		base.ID = s.newID()
	}
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	if base.UpdatedAt.IsZero() {
		base.UpdatedAt = now
	}
}

// PutPerson upserts a person.
func (s *Store) PutPerson(ctx context.Context, p Person) (Person, error) {
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		s.stamp(&p.Base, now)
		p = clonePerson(p)
		state.persons[p.ID] = p
		return nil
	})
	return clonePerson(p), err
}

// PutGroup upserts a group.
func (s *Store) PutGroup(ctx context.Context, g Group) (Group, error) {
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		s.stamp(&g.Base, now)
		g = cloneGroup(g)
		state.groups[g.ID] = g
		return nil
	})
	return cloneGroup(g), err
}

// PutLesson upserts a lesson.
func (s *Store) PutLesson(ctx context.Context, l Lesson) (Lesson, error) {
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		s.stamp(&l.Base, now)
		state.lessons[l.ID] = l
		return nil
	})
	return l, err
}

// PutRehearsal upserts a rehearsal.
func (s *Store) PutRehearsal(ctx context.Context, r Rehearsal) (Rehearsal, error) {
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		s.stamp(&r.Base, now)
		state.rehearsals[r.ID] = r
		return nil
	})
	return r, err
}

// PutAttendance upserts an attendance record.
func (s *Store) PutAttendance(ctx context.Context, a AttendanceRecord) (AttendanceRecord, error) {
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		s.stamp(&a.Base, now)
		state.attendance[a.ID] = a
		return nil
	})
	return a, err
}

// PutDocument upserts a document.
func (s *Store) PutDocument(ctx context.Context, d Document) (Document, error) {
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		s.stamp(&d.Base, now)
		state.documents[d.ID] = d
		return nil
	})
	return d, err
}

// PutAssessment upserts an assessment.
func (s *Store) PutAssessment(ctx context.Context, a Assessment) (Assessment, error) {
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		s.stamp(&a.Base, now)
		state.assessments[a.ID] = a
		return nil
	})
	return a, err
}
