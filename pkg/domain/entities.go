// Package domain defines the conservatory records, the bidirectional
// membership model linking them, and the error and rule primitives used by
// the enrollment and deletion workflows.
package domain

import "time"

// EntityType identifies the type of record stored by the backend.
type EntityType string

// Supported entity type identifiers used in errors, plans and snapshots.
const (
	// EntityPerson identifies a student or teacher record.
	EntityPerson EntityType = "person"
	// EntityGroup identifies an orchestra or ensemble record.
	EntityGroup EntityType = "group"
	// EntityLesson identifies a theory lesson record.
	EntityLesson     EntityType = "lesson"
	EntityRehearsal  EntityType = "rehearsal"
	EntityAttendance EntityType = "attendance"
	EntityDocument   EntityType = "document"
	EntityAssessment EntityType = "assessment"
)

// PersonKind distinguishes students from teachers.
type PersonKind string

// Person kinds.
const (
	PersonStudent PersonKind = "student"
	PersonTeacher PersonKind = "teacher"
)

// GroupType classifies a group.
type GroupType string

// Group types.
const (
	GroupOrchestra GroupType = "orchestra"
	GroupEnsemble  GroupType = "ensemble"
)

// AssessmentStatus tracks the workflow state of an assessment.
type AssessmentStatus string

// Assessment statuses. An in-progress assessment blocks deletion of its student.
const (
	AssessmentPending    AssessmentStatus = "pending"
	AssessmentInProgress AssessmentStatus = "in_progress"
	AssessmentCompleted  AssessmentStatus = "completed"
)

// Base contains common fields for all records.
type Base struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TimeBlock is a weekly recurring slot. Times are "HH:MM" strings and the
// interval is half-open: [StartTime, EndTime).
type TimeBlock struct {
	// SourceID identifies the record the slot belongs to, if any.
	SourceID  string `json:"sourceId,omitempty"`
	DayOfWeek int    `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Location  string `json:"location,omitempty"`
}

// PersonalInfo holds the name fields a person record may carry. Older
// records only set FullName.
type PersonalInfo struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	FullName  string `json:"fullName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Enrollments is the dependent side of every person relation.
type Enrollments struct {
	OrchestraIDs    IDSet `json:"orchestraIds"`
	TheoryLessonIDs IDSet `json:"theoryLessonIds"`
}

// TeacherAssignment links a student to a teacher's weekly lesson slot.
type TeacherAssignment struct {
	TeacherID string    `json:"teacherId"`
	Slot      TimeBlock `json:"timeBlock"`
}

// Person represents a student or teacher.
type Person struct {
	Base
	Kind               PersonKind          `json:"kind"`
	PersonalInfo       PersonalInfo        `json:"personalInfo"`
	Enrollments        Enrollments         `json:"enrollments"`
	TeacherAssignments []TeacherAssignment `json:"teacherAssignments,omitempty"`
	TeachingSchedule   []TimeBlock         `json:"teachingSchedule,omitempty"`
}

// Group represents an orchestra or ensemble. MemberIDs is the authority side
// of the orchestra relation.
type Group struct {
	Base
	Name        string      `json:"name"`
	Type        GroupType   `json:"type"`
	ConductorID string      `json:"conductorId,omitempty"`
	Location    string      `json:"location,omitempty"`
	MemberIDs   IDSet       `json:"memberIds"`
	Capacity    int         `json:"capacity,omitempty"`
	Schedule    []TimeBlock `json:"schedule,omitempty"`
}

// Lesson represents a theory lesson. StudentIDs is the authority side of the
// theory lesson relation.
type Lesson struct {
	Base
	Category   string    `json:"category"`
	TeacherID  string    `json:"teacherId,omitempty"`
	StudentIDs IDSet     `json:"studentIds"`
	Capacity   int       `json:"capacity,omitempty"`
	Slot       TimeBlock `json:"slot"`
}

// Rehearsal is a dated meeting of a group.
type Rehearsal struct {
	Base
	GroupID   string    `json:"groupId"`
	Date      time.Time `json:"date"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Location  string    `json:"location,omitempty"`
}

// AttendanceRecord marks a person's presence at a rehearsal or lesson.
type AttendanceRecord struct {
	Base
	PersonID     string     `json:"personId"`
	ActivityID   string     `json:"activityId"`
	ActivityType EntityType `json:"activityType"`
	Status       string     `json:"status"`
}

// Document is a stored file attached to a record. Deleting it is irreversible.
type Document struct {
	Base
	OwnerID   string     `json:"ownerId"`
	OwnerType EntityType `json:"ownerType"`
	Name      string     `json:"name"`
	BlobKey   string     `json:"blobKey,omitempty"`
}

// Assessment is an examination workflow attached to a student.
type Assessment struct {
	Base
	StudentID string           `json:"studentId"`
	Title     string           `json:"title"`
	Status    AssessmentStatus `json:"status"`
}

// EntityRef names a single record.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return string(r.Type) + " " + r.ID
}
