// Package cache holds the in-memory copies of fetched persons, groups and
// lessons shared by all readers. Writers mutate it only after a confirmed
// backend write, or optimistically through a Command that can be rolled back.
package cache

import (
	"sync"

	"conservatory/pkg/domain"
)

// Cache is safe for concurrent use. Values are copied on the way in and out.
type Cache struct {
	mu      sync.RWMutex
	persons map[string]domain.Person
	groups  map[string]domain.Group
	lessons map[string]domain.Lesson
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		persons: make(map[string]domain.Person),
		groups:  make(map[string]domain.Group),
		lessons: make(map[string]domain.Lesson),
	}
}

// Person returns the cached person.
func (c *Cache) Person(id string) (domain.Person, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.persons[id]
	return clonePerson(p), ok
}

// Group returns the cached group.
func (c *Cache) Group(id string) (domain.Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[id]
	return cloneGroup(g), ok
}

// Lesson returns the cached lesson.
func (c *Cache) Lesson(id string) (domain.Lesson, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lessons[id]
	return cloneLesson(l), ok
}

// StorePerson replaces the cached person.
func (c *Cache) StorePerson(p domain.Person) {
	c.mu.Lock()
	c.persons[p.ID] = clonePerson(p)
	c.mu.Unlock()
}

// StoreGroup replaces the cached group.
func (c *Cache) StoreGroup(g domain.Group) {
	c.mu.Lock()
	c.groups[g.ID] = cloneGroup(g)
	c.mu.Unlock()
}

// StoreLesson replaces the cached lesson.
func (c *Cache) StoreLesson(l domain.Lesson) {
	c.mu.Lock()
	c.lessons[l.ID] = cloneLesson(l)
	c.mu.Unlock()
}

// Evict drops a record of any cached type.
func (c *Cache) Evict(ref domain.EntityRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ref.Type {
	case domain.EntityPerson:
		delete(c.persons, ref.ID)
	case domain.EntityGroup:
		delete(c.groups, ref.ID)
	case domain.EntityLesson:
		delete(c.lessons, ref.ID)
	}
}

// Len reports the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.persons) + len(c.groups) + len(c.lessons)
}

// IDSet is immutable, so only slices need copying.
func clonePerson(p domain.Person) domain.Person {
	if p.TeacherAssignments != nil {
		p.TeacherAssignments = append([]domain.TeacherAssignment(nil), p.TeacherAssignments...)
	}
	if p.TeachingSchedule != nil {
		p.TeachingSchedule = append([]domain.TimeBlock(nil), p.TeachingSchedule...)
	}
	return p
}

func cloneGroup(g domain.Group) domain.Group {
	if g.Schedule != nil {
		g.Schedule = append([]domain.TimeBlock(nil), g.Schedule...)
	}
	return g
}

func cloneLesson(l domain.Lesson) domain.Lesson {
	return l
}
