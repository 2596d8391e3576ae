// Package memory provides an in-memory implementation of the conservatory
// backend used for tests, ephemeral environments and as the working set of
// the snapshotting SQL stores.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"conservatory/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain backend.
var _ domain.Backend = (*Store)(nil)

type (
	// Person aliases domain.Person for in-memory persistence operations.
	Person = domain.Person
	// Group aliases domain.Group.
	Group = domain.Group
	// Lesson aliases domain.Lesson.
	Lesson = domain.Lesson
	// Rehearsal aliases domain.Rehearsal.
	Rehearsal = domain.Rehearsal
	// AttendanceRecord aliases domain.AttendanceRecord.
	AttendanceRecord = domain.AttendanceRecord
	// Document aliases domain.Document.
	Document = domain.Document
	// Assessment aliases domain.Assessment.
	Assessment = domain.Assessment
)

// Snapshot captures a point-in-time clone of the store state. Its JSON
// buckets are what the SQL stores persist.
type Snapshot struct {
	Persons     map[string]Person           `json:"persons"`
	Groups      map[string]Group            `json:"groups"`
	Lessons     map[string]Lesson           `json:"lessons"`
	Rehearsals  map[string]Rehearsal        `json:"rehearsals"`
	Attendance  map[string]AttendanceRecord `json:"attendance"`
	Documents   map[string]Document         `json:"documents"`
	Assessments map[string]Assessment       `json:"assessments"`
}

// Buckets lists the snapshot bucket names in persistence order.
var Buckets = []string{"persons", "groups", "lessons", "rehearsals", "attendance", "documents", "assessments"}

// Bucket returns a pointer to the map stored under name, suitable for
// json.Marshal and json.Unmarshal.
func (s *Snapshot) Bucket(name string) (any, bool) {
	switch name {
	case "persons":
		return &s.Persons, true
	case "groups":
		return &s.Groups, true
	case "lessons":
		return &s.Lessons, true
	case "rehearsals":
		return &s.Rehearsals, true
	case "attendance":
		return &s.Attendance, true
	case "documents":
		return &s.Documents, true
	case "assessments":
		return &s.Assessments, true
	default:
		return nil, false
	}
}

type memoryState struct {
	persons     map[string]Person
	groups      map[string]Group
	lessons     map[string]Lesson
	rehearsals  map[string]Rehearsal
	attendance  map[string]AttendanceRecord
	documents   map[string]Document
	assessments map[string]Assessment
}

func newMemoryState() memoryState {
	return memoryState{
		persons:     make(map[string]Person),
		groups:      make(map[string]Group),
		lessons:     make(map[string]Lesson),
		rehearsals:  make(map[string]Rehearsal),
		attendance:  make(map[string]AttendanceRecord),
		documents:   make(map[string]Document),
		assessments: make(map[string]Assessment),
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.persons {
		out.persons[k] = clonePerson(v)
	}
	for k, v := range s.groups {
		out.groups[k] = cloneGroup(v)
	}
	for k, v := range s.lessons {
		out.lessons[k] = v
	}
	for k, v := range s.rehearsals {
		out.rehearsals[k] = v
	}
	for k, v := range s.attendance {
		out.attendance[k] = v
	}
	for k, v := range s.documents {
		out.documents[k] = v
	}
	for k, v := range s.assessments {
		out.assessments[k] = v
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Persons:     c.persons,
		Groups:      c.groups,
		Lessons:     c.lessons,
		Rehearsals:  c.rehearsals,
		Attendance:  c.attendance,
		Documents:   c.documents,
		Assessments: c.assessments,
	}
}

// Nil buckets from older or partial snapshots decode as empty collections.
func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{
		persons:     s.Persons,
		groups:      s.Groups,
		lessons:     s.Lessons,
		rehearsals:  s.Rehearsals,
		attendance:  s.Attendance,
		documents:   s.Documents,
		assessments: s.Assessments,
	}
	empty := newMemoryState()
	if state.persons == nil {
		state.persons = empty.persons
	}
	if state.groups == nil {
		state.groups = empty.groups
	}
	if state.lessons == nil {
		state.lessons = empty.lessons
	}
	if state.rehearsals == nil {
		state.rehearsals = empty.rehearsals
	}
	if state.attendance == nil {
		state.attendance = empty.attendance
	}
	if state.documents == nil {
		state.documents = empty.documents
	}
	if state.assessments == nil {
		state.assessments = empty.assessments
	}
	return state.clone()
}

func clonePerson(p Person) Person {
	if p.TeacherAssignments != nil {
		p.TeacherAssignments = append([]domain.TeacherAssignment(nil), p.TeacherAssignments...)
	}
	if p.TeachingSchedule != nil {
		p.TeachingSchedule = append([]domain.TimeBlock(nil), p.TeachingSchedule...)
	}
	return p
}

func cloneGroup(g Group) Group {
	if g.Schedule != nil {
		g.Schedule = append([]domain.TimeBlock(nil), g.Schedule...)
	}
	return g
}

// CommitHook runs with the post-write state before it becomes visible. An
// error discards the write.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook registers a hook invoked on every successful write.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		s.hook = hook
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store is an in-memory document backend. Each write touches exactly one
// document; there are no cross-document transactions.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
	hook  CommitHook
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	return s.nowFn
}

// write applies fn to a clone of the state and swaps it in once the commit
// hook accepts it.
func (s *Store) write(ctx context.Context, fn func(state *memoryState, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&next, s.nowFn()); err != nil {
		return err
	}
	if s.hook != nil {
		if err := s.hook(ctx, snapshotFromMemoryState(next)); err != nil {
			return err
		}
	}
	s.state = next
	return nil
}

func (s *Store) read(ctx context.Context, fn func(state *memoryState)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
