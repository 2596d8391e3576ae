package testutil

import (
	"context"
	"errors"
	"sync"

	"conservatory/pkg/domain"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected failure")

// Always makes a fault fire on every matching call.
const Always = -1

type fault struct {
	remaining int
	err       error
}

// FaultyBackend wraps a backend, records every call in order and fails
// selected operations on demand. Operation keys are method names; Delete is
// keyed per entity type as "Delete:<type>".
type FaultyBackend struct {
	domain.Backend

	mu     sync.Mutex
	calls  []string
	faults map[string]*fault
}

// NewFaultyBackend wraps inner.
func NewFaultyBackend(inner domain.Backend) *FaultyBackend {
	return &FaultyBackend{Backend: inner, faults: map[string]*fault{}}
}

// Fail makes the next n calls of op return err. n may be Always. A nil err
// uses ErrInjected.
func (f *FaultyBackend) Fail(op string, n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = &fault{remaining: n, err: err}
}

// FailNetwork is Fail with a domain.NetworkError.
func (f *FaultyBackend) FailNetwork(op string, n int) {
	f.Fail(op, n, &domain.NetworkError{Op: op, Err: ErrInjected})
}

// FailDelete fails deletions of records of type t.
func (f *FaultyBackend) FailDelete(t domain.EntityType, n int, err error) {
	f.Fail("Delete:"+string(t), n, err)
}

// Heal clears every pending fault.
func (f *FaultyBackend) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = map[string]*fault{}
}

// Record appends an entry to the call log. Tests use it to interleave
// events from other collaborators, such as blob writes.
func (f *FaultyBackend) Record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, entry)
}

// Calls returns the call log.
func (f *FaultyBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many logged calls start with prefix.
func (f *FaultyBackend) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// Index returns the position of the first logged call equal to entry, or -1.
func (f *FaultyBackend) Index(entry string) int {
	for i, c := range f.Calls() {
		if c == entry {
			return i
		}
	}
	return -1
}

func (f *FaultyBackend) enter(op, entry string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, entry)
	ft, ok := f.faults[op]
	if !ok || ft.remaining == 0 {
		return nil
	}
	if ft.remaining > 0 {
		ft.remaining--
	}
	return ft.err
}

func (f *FaultyBackend) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	if err := f.enter("GetGroup", "GetGroup "+id); err != nil {
		return domain.Group{}, err
	}
	return f.Backend.GetGroup(ctx, id)
}

func (f *FaultyBackend) GetGroups(ctx context.Context, filter domain.GroupFilter) ([]domain.Group, error) {
	if err := f.enter("GetGroups", "GetGroups"); err != nil {
		return nil, err
	}
	return f.Backend.GetGroups(ctx, filter)
}

func (f *FaultyBackend) AddGroupMember(ctx context.Context, groupID, personID string) (domain.Group, error) {
	if err := f.enter("AddGroupMember", "AddGroupMember "+groupID+" "+personID); err != nil {
		return domain.Group{}, err
	}
	return f.Backend.AddGroupMember(ctx, groupID, personID)
}

func (f *FaultyBackend) RemoveGroupMember(ctx context.Context, groupID, personID string) (domain.Group, error) {
	if err := f.enter("RemoveGroupMember", "RemoveGroupMember "+groupID+" "+personID); err != nil {
		return domain.Group{}, err
	}
	return f.Backend.RemoveGroupMember(ctx, groupID, personID)
}

func (f *FaultyBackend) GetLesson(ctx context.Context, id string) (domain.Lesson, error) {
	if err := f.enter("GetLesson", "GetLesson "+id); err != nil {
		return domain.Lesson{}, err
	}
	return f.Backend.GetLesson(ctx, id)
}

func (f *FaultyBackend) GetLessons(ctx context.Context) ([]domain.Lesson, error) {
	if err := f.enter("GetLessons", "GetLessons"); err != nil {
		return nil, err
	}
	return f.Backend.GetLessons(ctx)
}

func (f *FaultyBackend) AddLessonStudent(ctx context.Context, lessonID, personID string) (domain.Lesson, error) {
	if err := f.enter("AddLessonStudent", "AddLessonStudent "+lessonID+" "+personID); err != nil {
		return domain.Lesson{}, err
	}
	return f.Backend.AddLessonStudent(ctx, lessonID, personID)
}

func (f *FaultyBackend) RemoveLessonStudent(ctx context.Context, lessonID, personID string) (domain.Lesson, error) {
	if err := f.enter("RemoveLessonStudent", "RemoveLessonStudent "+lessonID+" "+personID); err != nil {
		return domain.Lesson{}, err
	}
	return f.Backend.RemoveLessonStudent(ctx, lessonID, personID)
}

func (f *FaultyBackend) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	if err := f.enter("GetPerson", "GetPerson "+id); err != nil {
		return domain.Person{}, err
	}
	return f.Backend.GetPerson(ctx, id)
}

func (f *FaultyBackend) ListPersons(ctx context.Context, filter domain.PersonFilter) ([]domain.Person, error) {
	if err := f.enter("ListPersons", "ListPersons"); err != nil {
		return nil, err
	}
	return f.Backend.ListPersons(ctx, filter)
}

func (f *FaultyBackend) UpdatePerson(ctx context.Context, id string, patch domain.PersonPatch) (domain.Person, error) {
	if err := f.enter("UpdatePerson", "UpdatePerson "+id); err != nil {
		return domain.Person{}, err
	}
	return f.Backend.UpdatePerson(ctx, id, patch)
}

func (f *FaultyBackend) ListRehearsals(ctx context.Context, groupID string) ([]domain.Rehearsal, error) {
	if err := f.enter("ListRehearsals", "ListRehearsals "+groupID); err != nil {
		return nil, err
	}
	return f.Backend.ListRehearsals(ctx, groupID)
}

func (f *FaultyBackend) ListAttendance(ctx context.Context, filter domain.AttendanceFilter) ([]domain.AttendanceRecord, error) {
	if err := f.enter("ListAttendance", "ListAttendance"); err != nil {
		return nil, err
	}
	return f.Backend.ListAttendance(ctx, filter)
}

func (f *FaultyBackend) ListDocuments(ctx context.Context, owner domain.EntityRef) ([]domain.Document, error) {
	if err := f.enter("ListDocuments", "ListDocuments "+owner.String()); err != nil {
		return nil, err
	}
	return f.Backend.ListDocuments(ctx, owner)
}

func (f *FaultyBackend) ListAssessments(ctx context.Context, studentID string) ([]domain.Assessment, error) {
	if err := f.enter("ListAssessments", "ListAssessments "+studentID); err != nil {
		return nil, err
	}
	return f.Backend.ListAssessments(ctx, studentID)
}

func (f *FaultyBackend) Delete(ctx context.Context, ref domain.EntityRef) error {
	if err := f.enter("Delete:"+string(ref.Type), "Delete "+ref.String()); err != nil {
		return err
	}
	return f.Backend.Delete(ctx, ref)
}
