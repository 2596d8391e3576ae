package domain

import "fmt"

// RelationKind names a person relation whose identifiers are duplicated on
// both the authority record and the person's enrollments.
type RelationKind string

// Supported relations.
const (
	// RelationOrchestra pairs Group.MemberIDs with Enrollments.OrchestraIDs.
	RelationOrchestra RelationKind = "orchestra"
	// RelationTheoryLesson pairs Lesson.StudentIDs with Enrollments.TheoryLessonIDs.
	RelationTheoryLesson RelationKind = "theoryLesson"
)

// Relations lists every supported relation in a stable order.
func Relations() []RelationKind {
	return []RelationKind{RelationOrchestra, RelationTheoryLesson}
}

// AuthorityEntity returns the record type owning the relation.
func (k RelationKind) AuthorityEntity() EntityType {
	switch k {
	case RelationOrchestra:
		return EntityGroup
	case RelationTheoryLesson:
		return EntityLesson
	default:
		return ""
	}
}

// Validate rejects unknown relation kinds.
func (k RelationKind) Validate() error {
	if k.AuthorityEntity() == "" {
		return fmt.Errorf("unknown relation kind %q", string(k))
	}
	return nil
}

// IsMember reports whether personID appears in the group's authority array.
func IsMember(group Group, personID string) bool {
	return group.MemberIDs.Has(personID)
}

// IsStudent reports whether personID appears in the lesson's authority array.
func IsStudent(lesson Lesson, personID string) bool {
	return lesson.StudentIDs.Has(personID)
}

// EnrollmentsOf returns the person's dependent set for the relation.
func EnrollmentsOf(person Person, kind RelationKind) IDSet {
	switch kind {
	case RelationOrchestra:
		return person.Enrollments.OrchestraIDs
	case RelationTheoryLesson:
		return person.Enrollments.TheoryLessonIDs
	default:
		return IDSet{}
	}
}

// WithEnrollments returns a copy of e whose set for kind is replaced by ids.
func (e Enrollments) WithEnrollments(kind RelationKind, ids IDSet) Enrollments {
	switch kind {
	case RelationOrchestra:
		e.OrchestraIDs = ids
	case RelationTheoryLesson:
		e.TheoryLessonIDs = ids
	}
	return e
}

// Drift describes a disagreement between an authority record and a person's
// enrollments for a single pair.
type Drift struct {
	Relation    RelationKind `json:"relation"`
	AuthorityID string       `json:"authorityId"`
	PersonID    string       `json:"personId"`
	// InAuthority reports whether the authority array lists the person.
	InAuthority bool `json:"inAuthority"`
	// InDependent reports whether the person's enrollments list the authority.
	InDependent bool `json:"inDependent"`
}

func (d Drift) String() string {
	authority := "omits"
	if d.InAuthority {
		authority = "lists"
	}
	dependent := "omit"
	if d.InDependent {
		dependent = "list"
	}
	return fmt.Sprintf("%s %s %s person %s but the person's %s enrollments %s it",
		d.Relation.AuthorityEntity(), d.AuthorityID, authority, d.PersonID, d.Relation, dependent)
}
