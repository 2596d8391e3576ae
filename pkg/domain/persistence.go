package domain

import "context"

// The backend exposes per-document operations only. No call spans more than
// one document, so every cross-document invariant is maintained by callers.

// GroupFilter narrows GetGroups. Zero values match everything.
type GroupFilter struct {
	MemberID    string
	ConductorID string
	Type        GroupType
}

// PersonFilter narrows ListPersons.
type PersonFilter struct {
	Kind PersonKind
}

// PersonPatch carries a partial person update. Nil fields are left untouched.
type PersonPatch struct {
	Enrollments        *Enrollments
	TeacherAssignments *[]TeacherAssignment
	PersonalInfo       *PersonalInfo
}

// GroupStore is the authority side of the orchestra relation.
type GroupStore interface {
	GetGroup(ctx context.Context, id string) (Group, error)
	GetGroups(ctx context.Context, filter GroupFilter) ([]Group, error)
	AddGroupMember(ctx context.Context, groupID, personID string) (Group, error)
	RemoveGroupMember(ctx context.Context, groupID, personID string) (Group, error)
}

// LessonStore is the authority side of the theory lesson relation.
type LessonStore interface {
	GetLesson(ctx context.Context, id string) (Lesson, error)
	GetLessons(ctx context.Context) ([]Lesson, error)
	AddLessonStudent(ctx context.Context, lessonID, personID string) (Lesson, error)
	RemoveLessonStudent(ctx context.Context, lessonID, personID string) (Lesson, error)
}

// PersonStore holds the dependent side of every relation.
type PersonStore interface {
	GetPerson(ctx context.Context, id string) (Person, error)
	ListPersons(ctx context.Context, filter PersonFilter) ([]Person, error)
	UpdatePerson(ctx context.Context, id string, patch PersonPatch) (Person, error)
}

// ActivityStore exposes the leaf collections walked by cascade deletion.
type ActivityStore interface {
	ListRehearsals(ctx context.Context, groupID string) ([]Rehearsal, error)
	ListAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
	ListDocuments(ctx context.Context, owner EntityRef) ([]Document, error)
	ListAssessments(ctx context.Context, studentID string) ([]Assessment, error)
}

// AttendanceFilter selects attendance by person or by activity. When both are
// set a record matching either is returned.
type AttendanceFilter struct {
	PersonID    string
	ActivityIDs []string
}

// RecordDeleter removes single records.
type RecordDeleter interface {
	Delete(ctx context.Context, ref EntityRef) error
}

// RecordWriter upserts whole records; it is the restore path for snapshots
// and the seeding path for fixtures.
type RecordWriter interface {
	PutPerson(ctx context.Context, p Person) (Person, error)
	PutGroup(ctx context.Context, g Group) (Group, error)
	PutLesson(ctx context.Context, l Lesson) (Lesson, error)
	PutRehearsal(ctx context.Context, r Rehearsal) (Rehearsal, error)
	PutAttendance(ctx context.Context, a AttendanceRecord) (AttendanceRecord, error)
	PutDocument(ctx context.Context, d Document) (Document, error)
	PutAssessment(ctx context.Context, a Assessment) (Assessment, error)
}

// Backend is the full consumed surface of the conservatory API.
type Backend interface {
	GroupStore
	LessonStore
	PersonStore
	ActivityStore
	RecordDeleter
	RecordWriter
}
