package cascade

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"conservatory/internal/enrollment"
	"conservatory/pkg/domain"
)

// Collection names reported in deletion plans.
const (
	CollectionEnrollments        = "enrollments"
	CollectionMembers            = "members"
	CollectionTeacherAssignments = "teacherAssignments"
	CollectionAttendance         = "attendance"
	CollectionRehearsals         = "rehearsals"
	CollectionAssessments        = "assessments"
	CollectionDocuments          = "documents"
)

// graph is everything reachable from a deletion root, read in one pass.
type graph struct {
	root     domain.EntityRef
	rootName string
	tenantID string

	person domain.Person
	group  domain.Group
	lesson domain.Lesson

	// groups and lessons list a person root on their authority side.
	groups  []domain.Group
	lessons []domain.Lesson
	// members are persons linked to a group or lesson root on either side.
	members []domain.Person
	// assignees hold a teacher assignment to a teacher root.
	assignees []domain.Person

	attendance  []domain.AttendanceRecord
	rehearsals  []domain.Rehearsal
	assessments []domain.Assessment
	documents   []domain.Document

	warnings    []string
	blockers    []string
	recipients  []string
	crossTenant bool
}

func read[T any](ctx context.Context, p *Planner, fn func(context.Context) (T, error)) (T, error) {
	return enrollment.RetryRead(ctx, p.policy.Retry, p.sleep, fn)
}

// collect walks the relation graph outward from root without mutating
// anything. Independent reads run concurrently.
func (p *Planner) collect(ctx context.Context, root domain.EntityRef) (*graph, error) {
	g := &graph{root: root}
	var err error
	switch root.Type {
	case domain.EntityPerson:
		err = p.collectPerson(ctx, g)
	case domain.EntityGroup:
		err = p.collectGroup(ctx, g)
	case domain.EntityLesson:
		err = p.collectLesson(ctx, g)
	default:
		return nil, fmt.Errorf("cascade deletion of %s records is not supported", root.Type)
	}
	if err != nil {
		return nil, err
	}
	g.finish()
	return g, nil
}

func (p *Planner) collectPerson(ctx context.Context, g *graph) error {
	id := g.root.ID
	person, err := read(ctx, p, func(ctx context.Context) (domain.Person, error) {
		return p.backend.GetPerson(ctx, id)
	})
	if err != nil {
		return err
	}
	g.person, g.tenantID, g.rootName = person, person.TenantID, domain.DisplayName(person)

	var conducted, taught []string
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		groups, err := read(ectx, p, func(ctx context.Context) ([]domain.Group, error) {
			return p.backend.GetGroups(ctx, domain.GroupFilter{})
		})
		for _, grp := range groups {
			if domain.IsMember(grp, id) {
				g.groups = append(g.groups, grp)
			}
			if grp.ConductorID == id {
				conducted = append(conducted, grp.ID)
			}
		}
		return err
	})
	eg.Go(func() error {
		lessons, err := read(ectx, p, func(ctx context.Context) ([]domain.Lesson, error) {
			return p.backend.GetLessons(ctx)
		})
		for _, l := range lessons {
			if domain.IsStudent(l, id) {
				g.lessons = append(g.lessons, l)
			}
			if l.TeacherID == id {
				taught = append(taught, l.ID)
			}
		}
		return err
	})
	eg.Go(func() error {
		var err error
		g.attendance, err = read(ectx, p, func(ctx context.Context) ([]domain.AttendanceRecord, error) {
			return p.backend.ListAttendance(ctx, domain.AttendanceFilter{PersonID: id})
		})
		return err
	})
	eg.Go(func() error {
		var err error
		g.documents, err = read(ectx, p, func(ctx context.Context) ([]domain.Document, error) {
			return p.backend.ListDocuments(ctx, g.root)
		})
		return err
	})
	eg.Go(func() error {
		var err error
		g.assessments, err = read(ectx, p, func(ctx context.Context) ([]domain.Assessment, error) {
			return p.backend.ListAssessments(ctx, id)
		})
		return err
	})
	if person.Kind == domain.PersonTeacher {
		eg.Go(func() error {
			students, err := read(ectx, p, func(ctx context.Context) ([]domain.Person, error) {
				return p.backend.ListPersons(ctx, domain.PersonFilter{Kind: domain.PersonStudent})
			})
			for _, s := range students {
				if slices.ContainsFunc(s.TeacherAssignments, func(a domain.TeacherAssignment) bool { return a.TeacherID == id }) {
					g.assignees = append(g.assignees, s)
				}
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, a := range g.assessments {
		if a.Status == domain.AssessmentInProgress {
			g.blockers = append(g.blockers, fmt.Sprintf("assessment %s (%s) is in progress", a.ID, a.Title))
		}
	}
	for _, gid := range conducted {
		g.warnings = append(g.warnings, fmt.Sprintf("group %s will lose its conductor %s", gid, g.rootName))
	}
	for _, lid := range taught {
		g.warnings = append(g.warnings, fmt.Sprintf("lesson %s will lose its teacher %s", lid, g.rootName))
	}
	for _, a := range person.TeacherAssignments {
		g.recipients = append(g.recipients, a.TeacherID)
	}
	for _, grp := range g.groups {
		g.recipients = append(g.recipients, grp.ConductorID)
	}
	for _, l := range g.lessons {
		g.recipients = append(g.recipients, l.TeacherID)
	}
	for _, s := range g.assignees {
		g.recipients = append(g.recipients, s.ID)
	}
	return nil
}

func (p *Planner) collectGroup(ctx context.Context, g *graph) error {
	id := g.root.ID
	group, err := read(ctx, p, func(ctx context.Context) (domain.Group, error) {
		return p.backend.GetGroup(ctx, id)
	})
	if err != nil {
		return err
	}
	g.group, g.tenantID, g.rootName = group, group.TenantID, group.Name

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		g.rehearsals, err = read(ectx, p, func(ctx context.Context) ([]domain.Rehearsal, error) {
			return p.backend.ListRehearsals(ctx, id)
		})
		if err != nil || len(g.rehearsals) == 0 {
			return err
		}
		activities := make([]string, 0, len(g.rehearsals))
		for _, r := range g.rehearsals {
			activities = append(activities, r.ID)
		}
		g.attendance, err = read(ectx, p, func(ctx context.Context) ([]domain.AttendanceRecord, error) {
			return p.backend.ListAttendance(ctx, domain.AttendanceFilter{ActivityIDs: activities})
		})
		return err
	})
	eg.Go(func() error {
		var err error
		g.documents, err = read(ectx, p, func(ctx context.Context) ([]domain.Document, error) {
			return p.backend.ListDocuments(ctx, g.root)
		})
		return err
	})
	eg.Go(func() error {
		var err error
		g.members, err = p.linkedPersons(ectx, domain.RelationOrchestra, id, group.MemberIDs)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	g.warnDangling(group.MemberIDs)
	g.recipients = append(g.recipients, group.ConductorID)
	for _, m := range g.members {
		g.recipients = append(g.recipients, m.ID)
	}
	return nil
}

func (p *Planner) collectLesson(ctx context.Context, g *graph) error {
	id := g.root.ID
	lesson, err := read(ctx, p, func(ctx context.Context) (domain.Lesson, error) {
		return p.backend.GetLesson(ctx, id)
	})
	if err != nil {
		return err
	}
	g.lesson, g.tenantID, g.rootName = lesson, lesson.TenantID, fmt.Sprintf("%s lesson %s", lesson.Category, lesson.ID)

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		g.attendance, err = read(ectx, p, func(ctx context.Context) ([]domain.AttendanceRecord, error) {
			return p.backend.ListAttendance(ctx, domain.AttendanceFilter{ActivityIDs: []string{id}})
		})
		return err
	})
	eg.Go(func() error {
		var err error
		g.documents, err = read(ectx, p, func(ctx context.Context) ([]domain.Document, error) {
			return p.backend.ListDocuments(ctx, g.root)
		})
		return err
	})
	eg.Go(func() error {
		var err error
		g.members, err = p.linkedPersons(ectx, domain.RelationTheoryLesson, id, lesson.StudentIDs)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	g.warnDangling(lesson.StudentIDs)
	g.recipients = append(g.recipients, lesson.TeacherID)
	for _, m := range g.members {
		g.recipients = append(g.recipients, m.ID)
	}
	return nil
}

// linkedPersons returns every person listed by the authority set or listing
// the authority in their enrollments, so drifted pairs are stripped too.
func (p *Planner) linkedPersons(ctx context.Context, kind domain.RelationKind, authorityID string, authority domain.IDSet) ([]domain.Person, error) {
	persons, err := read(ctx, p, func(ctx context.Context) ([]domain.Person, error) {
		return p.backend.ListPersons(ctx, domain.PersonFilter{})
	})
	if err != nil {
		return nil, err
	}
	var out []domain.Person
	for _, person := range persons {
		if authority.Has(person.ID) || domain.EnrollmentsOf(person, kind).Has(authorityID) {
			out = append(out, person)
		}
	}
	return out, nil
}

func (g *graph) warnDangling(authority domain.IDSet) {
	for _, id := range authority.Slice() {
		if !slices.ContainsFunc(g.members, func(p domain.Person) bool { return p.ID == id }) {
			g.warnings = append(g.warnings, fmt.Sprintf("%s %s lists unknown person %s", g.root.Type, g.root.ID, id))
		}
	}
}

// finish derives cross-tenant flags, document warnings and the
// deduplicated recipient list.
func (g *graph) finish() {
	check := func(ref domain.EntityRef, tenant string) {
		if tenant == "" || g.tenantID == "" || tenant == g.tenantID {
			return
		}
		g.crossTenant = true
		g.warnings = append(g.warnings, fmt.Sprintf("%s belongs to tenant %s, not %s", ref, tenant, g.tenantID))
	}
	for _, grp := range g.groups {
		check(domain.EntityRef{Type: domain.EntityGroup, ID: grp.ID}, grp.TenantID)
	}
	for _, l := range g.lessons {
		check(domain.EntityRef{Type: domain.EntityLesson, ID: l.ID}, l.TenantID)
	}
	for _, m := range append(slices.Clone(g.members), g.assignees...) {
		check(domain.EntityRef{Type: domain.EntityPerson, ID: m.ID}, m.TenantID)
	}
	for _, a := range g.attendance {
		check(domain.EntityRef{Type: domain.EntityAttendance, ID: a.ID}, a.TenantID)
	}
	for _, d := range g.documents {
		check(domain.EntityRef{Type: domain.EntityDocument, ID: d.ID}, d.TenantID)
	}
	if n := len(g.documents); n > 0 {
		g.warnings = append(g.warnings, fmt.Sprintf("%d document(s) are files and cannot be restored from a snapshot", n))
	}

	seen := map[string]bool{g.root.ID: true, "": true}
	recipients := g.recipients[:0]
	for _, id := range g.recipients {
		if !seen[id] {
			seen[id] = true
			recipients = append(recipients, id)
		}
	}
	g.recipients = recipients
}

func (g *graph) assignmentCount() int {
	n := 0
	for _, s := range g.assignees {
		for _, a := range s.TeacherAssignments {
			if a.TeacherID == g.root.ID {
				n++
			}
		}
	}
	return n
}

// plan summarises the graph for the operator.
func (g *graph) plan(policy Policy, now time.Time) domain.DeletionPlan {
	counts := []domain.CollectionImpact{
		{Name: CollectionEnrollments, EstimatedCount: len(g.groups) + len(g.lessons)},
		{Name: CollectionMembers, EstimatedCount: len(g.members)},
		{Name: CollectionTeacherAssignments, EstimatedCount: g.assignmentCount()},
		{Name: CollectionAttendance, EstimatedCount: len(g.attendance)},
		{Name: CollectionRehearsals, EstimatedCount: len(g.rehearsals)},
		{Name: CollectionAssessments, EstimatedCount: len(g.assessments)},
		{Name: CollectionDocuments, EstimatedCount: len(g.documents), Irreversible: true},
	}
	plan := domain.DeletionPlan{
		Root:        g.root,
		RootID:      g.root.ID,
		Warnings:    append([]string{}, g.warnings...),
		Blockers:    append([]string(nil), g.blockers...),
		CanProceed:  len(g.blockers) == 0,
		GeneratedAt: now,
	}
	for _, c := range counts {
		if c.EstimatedCount == 0 {
			continue
		}
		plan.AffectedCollections = append(plan.AffectedCollections, c)
		plan.TotalRecords += c.EstimatedCount
	}
	plan.RiskTier = AssessRisk(plan.TotalRecords, len(g.documents) > 0, g.crossTenant, policy.Risk)
	return plan
}
