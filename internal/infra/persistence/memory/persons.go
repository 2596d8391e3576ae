package memory

import (
	"context"
	"time"

	"conservatory/pkg/domain"
)

// GetPerson returns a person by id.
func (s *Store) GetPerson(ctx context.Context, id string) (Person, error) {
	var (
		out Person
		ok  bool
	)
	if err := s.read(ctx, func(state *memoryState) {
		out, ok = state.persons[id]
		out = clonePerson(out)
	}); err != nil {
		return Person{}, err
	}
	if !ok {
		return Person{}, domain.ErrNotFound{Entity: domain.EntityPerson, ID: id}
	}
	return out, nil
}

// ListPersons lists persons matching filter ordered by id.
func (s *Store) ListPersons(ctx context.Context, filter domain.PersonFilter) ([]Person, error) {
	var out []Person
	err := s.read(ctx, func(state *memoryState) {
		for _, id := range sortedKeys(state.persons) {
			p := state.persons[id]
			if filter.Kind != "" && p.Kind != filter.Kind {
				continue
			}
			out = append(out, clonePerson(p))
		}
	})
	return out, err
}

// UpdatePerson applies the non-nil fields of patch.
func (s *Store) UpdatePerson(ctx context.Context, id string, patch domain.PersonPatch) (Person, error) {
	var out Person
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		p, ok := state.persons[id]
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPerson, ID: id}
		}
		if patch.Enrollments != nil {
			p.Enrollments = *patch.Enrollments
		}
		if patch.TeacherAssignments != nil {
			p.TeacherAssignments = append([]domain.TeacherAssignment(nil), (*patch.TeacherAssignments)...)
		}
		if patch.PersonalInfo != nil {
			p.PersonalInfo = *patch.PersonalInfo
		}
		p.UpdatedAt = now
		state.persons[id] = p
		out = clonePerson(p)
		return nil
	})
	return out, err
}
