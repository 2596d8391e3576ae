package memory

import (
	"context"
	"time"

	"conservatory/pkg/domain"
)

// GetGroup returns a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (Group, error) {
	var (
		out Group
		ok  bool
	)
	if err := s.read(ctx, func(state *memoryState) {
		out, ok = state.groups[id]
		out = cloneGroup(out)
	}); err != nil {
		return Group{}, err
	}
	if !ok {
		return Group{}, domain.ErrNotFound{Entity: domain.EntityGroup, ID: id}
	}
	return out, nil
}

// GetGroups lists groups matching filter ordered by id.
func (s *Store) GetGroups(ctx context.Context, filter domain.GroupFilter) ([]Group, error) {
	var out []Group
	err := s.read(ctx, func(state *memoryState) {
		for _, id := range sortedKeys(state.groups) {
			g := state.groups[id]
			if filter.MemberID != "" && !g.MemberIDs.Has(filter.MemberID) {
				continue
			}
			if filter.ConductorID != "" && g.ConductorID != filter.ConductorID {
				continue
			}
			if filter.Type != "" && g.Type != filter.Type {
				continue
			}
			out = append(out, cloneGroup(g))
		}
	})
	return out, err
}

// AddGroupMember inserts personID into the group's member set.
func (s *Store) AddGroupMember(ctx context.Context, groupID, personID string) (Group, error) {
	return s.updateGroup(ctx, groupID, func(g *Group) { g.MemberIDs = g.MemberIDs.With(personID) })
}

// RemoveGroupMember removes personID from the group's member set.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, personID string) (Group, error) {
	return s.updateGroup(ctx, groupID, func(g *Group) { g.MemberIDs = g.MemberIDs.Without(personID) })
}

func (s *Store) updateGroup(ctx context.Context, id string, mutate func(*Group)) (Group, error) {
	var out Group
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		g, ok := state.groups[id]
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityGroup, ID: id}
		}
		mutate(&g)
		g.UpdatedAt = now
		state.groups[id] = g
		out = cloneGroup(g)
		return nil
	})
	return out, err
}

// GetLesson returns a lesson by id.
func (s *Store) GetLesson(ctx context.Context, id string) (Lesson, error) {
	var (
		out Lesson
		ok  bool
	)
	if err := s.read(ctx, func(state *memoryState) {
		out, ok = state.lessons[id]
	}); err != nil {
		return Lesson{}, err
	}
	if !ok {
		return Lesson{}, domain.ErrNotFound{Entity: domain.EntityLesson, ID: id}
	}
	return out, nil
}

// GetLessons lists every lesson ordered by id.
func (s *Store) GetLessons(ctx context.Context) ([]Lesson, error) {
	var out []Lesson
	err := s.read(ctx, func(state *memoryState) {
		for _, id := range sortedKeys(state.lessons) {
			out = append(out, state.lessons[id])
		}
	})
	return out, err
}

// AddLessonStudent inserts personID into the lesson's student set.
func (s *Store) AddLessonStudent(ctx context.Context, lessonID, personID string) (Lesson, error) {
	return s.updateLesson(ctx, lessonID, func(l *Lesson) { l.StudentIDs = l.StudentIDs.With(personID) })
}

// RemoveLessonStudent removes personID from the lesson's student set.
func (s *Store) RemoveLessonStudent(ctx context.Context, lessonID, personID string) (Lesson, error) {
	return s.updateLesson(ctx, lessonID, func(l *Lesson) { l.StudentIDs = l.StudentIDs.Without(personID) })
}

func (s *Store) updateLesson(ctx context.Context, id string, mutate func(*Lesson)) (Lesson, error) {
	var out Lesson
	err := s.write(ctx, func(state *memoryState, now time.Time) error {
		l, ok := state.lessons[id]
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityLesson, ID: id}
		}
		mutate(&l)
		l.UpdatedAt = now
		state.lessons[id] = l
		out = l
		return nil
	})
	return out, err
}
