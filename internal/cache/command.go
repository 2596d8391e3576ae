package cache

import "conservatory/pkg/domain"

// Command is an optimistic cache mutation applied before the backend call
// resolves and reverted if the call fails.
type Command interface {
	Apply(c *Cache)
	Rollback(c *Cache)
}

// Execute applies cmd, runs fn and rolls the command back when fn fails.
func Execute(c *Cache, cmd Command, fn func() error) error {
	cmd.Apply(c)
	if err := fn(); err != nil {
		cmd.Rollback(c)
		return err
	}
	return nil
}

// MembershipCommand flips a single pair on both sides of a relation.
// Rollback restores the last known-good records captured by Apply.
type MembershipCommand struct {
	Relation    domain.RelationKind
	AuthorityID string
	PersonID    string
	Add         bool

	prevPerson   domain.Person
	hadPerson    bool
	prevGroup    domain.Group
	prevLesson   domain.Lesson
	hadAuthority bool
	applied      bool
}

// Apply records the current cached values and writes the optimistic ones.
// Records missing from the cache are left alone.
func (m *MembershipCommand) Apply(c *Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m.prevPerson, m.hadPerson = c.persons[m.PersonID]
	if m.hadPerson {
		p := clonePerson(m.prevPerson)
		ids := m.toggle(domain.EnrollmentsOf(p, m.Relation), m.AuthorityID)
		p.Enrollments = p.Enrollments.WithEnrollments(m.Relation, ids)
		c.persons[m.PersonID] = p
	}

	switch m.Relation {
	case domain.RelationOrchestra:
		m.prevGroup, m.hadAuthority = c.groups[m.AuthorityID]
		if m.hadAuthority {
			g := cloneGroup(m.prevGroup)
			g.MemberIDs = m.toggle(g.MemberIDs, m.PersonID)
			c.groups[m.AuthorityID] = g
		}
	case domain.RelationTheoryLesson:
		m.prevLesson, m.hadAuthority = c.lessons[m.AuthorityID]
		if m.hadAuthority {
			l := m.prevLesson
			l.StudentIDs = m.toggle(l.StudentIDs, m.PersonID)
			c.lessons[m.AuthorityID] = l
		}
	}
	m.applied = true
}

// Rollback restores both sides.
func (m *MembershipCommand) Rollback(c *Cache) {
	m.RollbackAuthority(c)
	m.RollbackDependent(c)
}

// RollbackDependent restores only the person record. It is used after a
// partial write, where the authority side is confirmed but the dependent
// side is not.
func (m *MembershipCommand) RollbackDependent(c *Cache) {
	if !m.applied || !m.hadPerson {
		return
	}
	c.mu.Lock()
	c.persons[m.PersonID] = m.prevPerson
	c.mu.Unlock()
}

// RollbackAuthority restores only the group or lesson record.
func (m *MembershipCommand) RollbackAuthority(c *Cache) {
	if !m.applied || !m.hadAuthority {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m.Relation {
	case domain.RelationOrchestra:
		c.groups[m.AuthorityID] = m.prevGroup
	case domain.RelationTheoryLesson:
		c.lessons[m.AuthorityID] = m.prevLesson
	}
}

func (m *MembershipCommand) toggle(set domain.IDSet, id string) domain.IDSet {
	if m.Add {
		return set.With(id)
	}
	return set.Without(id)
}
