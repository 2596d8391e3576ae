package testutil

import (
	"context"
	"testing"

	"conservatory/internal/infra/persistence/memory"
	"conservatory/pkg/domain"
)

// Slot builds a weekly time block.
func Slot(day int, start, end string) domain.TimeBlock {
	return domain.TimeBlock{DayOfWeek: day, StartTime: start, EndTime: end}
}

// Student builds a student record with empty enrollments.
func Student(id, first, last string) domain.Person {
	return domain.Person{
		Base:         domain.Base{ID: id},
		Kind:         domain.PersonStudent,
		PersonalInfo: domain.PersonalInfo{FirstName: first, LastName: last},
		Enrollments:  domain.Enrollments{OrchestraIDs: domain.NewIDSet(), TheoryLessonIDs: domain.NewIDSet()},
	}
}

// Teacher builds a teacher record.
func Teacher(id, first, last string, schedule ...domain.TimeBlock) domain.Person {
	p := Student(id, first, last)
	p.Kind = domain.PersonTeacher
	p.TeachingSchedule = schedule
	return p
}

// Orchestra builds an orchestra with no members.
func Orchestra(id, name string, capacity int, schedule ...domain.TimeBlock) domain.Group {
	return domain.Group{
		Base:      domain.Base{ID: id},
		Name:      name,
		Type:      domain.GroupOrchestra,
		MemberIDs: domain.NewIDSet(),
		Capacity:  capacity,
		Schedule:  schedule,
	}
}

// TheoryLesson builds a theory lesson with no students.
func TheoryLesson(id, category string, capacity int, slot domain.TimeBlock) domain.Lesson {
	return domain.Lesson{
		Base:       domain.Base{ID: id},
		Category:   category,
		StudentIDs: domain.NewIDSet(),
		Capacity:   capacity,
		Slot:       slot,
	}
}

// NewStore returns an empty in-memory backend.
func NewStore() *memory.Store {
	return memory.NewStore()
}

// MustPut writes records of any supported type, failing the test on error.
func MustPut(t testing.TB, w domain.RecordWriter, records ...any) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range records {
		var err error
		switch r := rec.(type) {
		case domain.Person:
			_, err = w.PutPerson(ctx, r)
		case domain.Group:
			_, err = w.PutGroup(ctx, r)
		case domain.Lesson:
			_, err = w.PutLesson(ctx, r)
		case domain.Rehearsal:
			_, err = w.PutRehearsal(ctx, r)
		case domain.AttendanceRecord:
			_, err = w.PutAttendance(ctx, r)
		case domain.Document:
			_, err = w.PutDocument(ctx, r)
		case domain.Assessment:
			_, err = w.PutAssessment(ctx, r)
		default:
			t.Fatalf("unsupported fixture %T", rec)
		}
		if err != nil {
			t.Fatalf("put %T: %v", rec, err)
		}
	}
}

// Enroll writes both sides of a membership directly, bypassing the gateway.
func Enroll(t testing.TB, b domain.Backend, kind domain.RelationKind, authorityID, personID string) {
	t.Helper()
	ctx := context.Background()
	var err error
	switch kind {
	case domain.RelationOrchestra:
		_, err = b.AddGroupMember(ctx, authorityID, personID)
	default:
		_, err = b.AddLessonStudent(ctx, authorityID, personID)
	}
	if err != nil {
		t.Fatalf("enroll authority: %v", err)
	}
	p, err := b.GetPerson(ctx, personID)
	if err != nil {
		t.Fatalf("enroll get person: %v", err)
	}
	e := p.Enrollments.WithEnrollments(kind, domain.EnrollmentsOf(p, kind).With(authorityID))
	if _, err := b.UpdatePerson(ctx, personID, domain.PersonPatch{Enrollments: &e}); err != nil {
		t.Fatalf("enroll person: %v", err)
	}
}

// AssertConsistent fails when the pair disagrees across the two sides.
func AssertConsistent(t testing.TB, b domain.Backend, kind domain.RelationKind, authorityID, personID string) {
	t.Helper()
	ctx := context.Background()
	var inAuthority bool
	switch kind {
	case domain.RelationOrchestra:
		g, err := b.GetGroup(ctx, authorityID)
		if err != nil {
			t.Fatalf("get group: %v", err)
		}
		inAuthority = g.MemberIDs.Has(personID)
	default:
		l, err := b.GetLesson(ctx, authorityID)
		if err != nil {
			t.Fatalf("get lesson: %v", err)
		}
		inAuthority = l.StudentIDs.Has(personID)
	}
	p, err := b.GetPerson(ctx, personID)
	if err != nil {
		t.Fatalf("get person: %v", err)
	}
	if inDependent := domain.EnrollmentsOf(p, kind).Has(authorityID); inDependent != inAuthority {
		t.Fatalf("drift on %s %s/%s: authority=%v dependent=%v", kind, authorityID, personID, inAuthority, inDependent)
	}
}
