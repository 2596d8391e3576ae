package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"conservatory/internal/cache"
	"conservatory/pkg/domain"
	"conservatory/testutil"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return true
}

func newGateway(t *testing.T, records ...any) (*Gateway, *testutil.FaultyBackend, *sleepRecorder) {
	t.Helper()
	store := testutil.NewStore()
	testutil.MustPut(t, store, records...)
	fb := testutil.NewFaultyBackend(store)
	rec := &sleepRecorder{}
	return NewGateway(fb, WithSleeper(rec.sleep)), fb, rec
}

func TestAddMemberWritesAuthorityThenDependent(t *testing.T) {
	gw, fb, _ := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.Orchestra("o1", "Youth Symphony", 0, testutil.Slot(2, "18:00", "20:00")))
	if err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	testutil.AssertConsistent(t, fb, domain.RelationOrchestra, "o1", "s1")
	auth, dep := fb.Index("AddGroupMember o1 s1"), fb.Index("UpdatePerson s1")
	if auth < 0 || dep < 0 || auth > dep {
		t.Fatalf("expected authority write before dependent write, got %v", fb.Calls())
	}
	if g, ok := gw.Cache().Group("o1"); !ok || !g.MemberIDs.Has("s1") {
		t.Fatalf("cache should hold confirmed group, got %+v", g)
	}
	if p, ok := gw.Cache().Person("s1"); !ok || !p.Enrollments.OrchestraIDs.Has("o1") {
		t.Fatalf("cache should hold confirmed person, got %+v", p)
	}
}

func TestAddMemberIsIdempotent(t *testing.T) {
	gw, fb, _ := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.TheoryLesson("l1", "solfege", 0, testutil.Slot(1, "16:00", "17:00")))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := gw.AddMember(ctx, domain.RelationTheoryLesson, "l1", "s1"); err != nil {
			t.Fatalf("add member #%d: %v", i, err)
		}
	}
	if n := fb.Count("AddLessonStudent"); n != 1 {
		t.Fatalf("expected a single authority write, got %d", n)
	}
	l, _ := fb.GetLesson(ctx, "l1")
	if l.StudentIDs.Len() != 1 {
		t.Fatalf("expected no duplicate ids, got %v", l.StudentIDs.Slice())
	}
}

func TestRemoveMemberPartialWriteReportsDrift(t *testing.T) {
	gw, fb, rec := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.Orchestra("o1", "Youth Symphony", 0))
	testutil.Enroll(t, fb, domain.RelationOrchestra, "o1", "s1")
	fb.Fail("UpdatePerson", testutil.Always, nil)

	err := gw.RemoveMember(context.Background(), domain.RelationOrchestra, "o1", "s1")
	var partial *domain.PartialWriteError
	if !errors.As(err, &partial) {
		t.Fatalf("expected partial write, got %v", err)
	}
	want := domain.Drift{Relation: domain.RelationOrchestra, AuthorityID: "o1", PersonID: "s1", InAuthority: false, InDependent: true}
	if partial.Drift != want {
		t.Fatalf("unexpected drift %+v", partial.Drift)
	}
	if partial.Attempts != 3 || domain.KindOf(err) != domain.KindPartialWrite {
		t.Fatalf("unexpected attempts/kind: %d %s", partial.Attempts, domain.KindOf(err))
	}
	if n := fb.Count("RemoveGroupMember"); n != 1 {
		t.Fatalf("authority write must not be retried, got %d", n)
	}
	if n := fb.Count("UpdatePerson"); n != 3 {
		t.Fatalf("expected 3 dependent attempts, got %d", n)
	}
	if len(rec.delays) != 2 || rec.delays[0] != 100*time.Millisecond || rec.delays[1] != 200*time.Millisecond {
		t.Fatalf("unexpected backoff %v", rec.delays)
	}

	ctx := context.Background()
	g, _ := fb.GetGroup(ctx, "o1")
	if g.MemberIDs.Len() != 0 {
		t.Fatalf("authority should be updated, got %v", g.MemberIDs.Slice())
	}
	p, _ := fb.GetPerson(ctx, "s1")
	if !p.Enrollments.OrchestraIDs.Has("o1") {
		t.Fatalf("dependent should be stale, got %v", p.Enrollments.OrchestraIDs.Slice())
	}
	if cached, ok := gw.Cache().Group("o1"); !ok || cached.MemberIDs.Has("s1") {
		t.Fatalf("cache should keep the confirmed authority state")
	}
}

func TestDependentWriteRecoversWithinRetries(t *testing.T) {
	gw, fb, rec := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.Orchestra("o1", "Youth Symphony", 0))
	fb.Fail("UpdatePerson", 2, nil)
	if err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	testutil.AssertConsistent(t, fb, domain.RelationOrchestra, "o1", "s1")
	if len(rec.delays) != 2 {
		t.Fatalf("expected two backoffs, got %v", rec.delays)
	}
}

func TestAuthorityFailureLeavesNoTrace(t *testing.T) {
	gw, fb, _ := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.Orchestra("o1", "Youth Symphony", 0))
	fb.Fail("AddGroupMember", 1, nil)
	err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1")
	if !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if fb.Count("UpdatePerson") != 0 || fb.Count("AddGroupMember") != 1 {
		t.Fatalf("unexpected calls %v", fb.Calls())
	}
	if g, _ := gw.Cache().Group("o1"); g.MemberIDs.Has("s1") {
		t.Fatalf("optimistic cache entry should be rolled back")
	}
	testutil.AssertConsistent(t, fb, domain.RelationOrchestra, "o1", "s1")
}

func TestAddMemberRejectsFullAuthority(t *testing.T) {
	gw, fb, _ := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.Student("s2", "Clara", "Schumann"),
		testutil.TheoryLesson("l1", "harmony", 1, testutil.Slot(3, "15:00", "16:00")))
	testutil.Enroll(t, fb, domain.RelationTheoryLesson, "l1", "s2")

	err := gw.AddMember(context.Background(), domain.RelationTheoryLesson, "l1", "s1")
	var capacity *domain.CapacityError
	if !errors.As(err, &capacity) || capacity.Capacity != 1 || capacity.Members != 1 {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if fb.Count("AddLessonStudent") != 0 {
		t.Fatalf("no write expected after a capacity rejection")
	}
}

func TestAddMemberScheduleConflict(t *testing.T) {
	records := []any{
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.TheoryLesson("l1", "solfege", 0, testutil.Slot(1, "16:00", "17:00")),
		testutil.Orchestra("o1", "Youth Symphony", 0, testutil.Slot(1, "16:30", "18:00")),
	}
	gw, fb, _ := newGateway(t, records...)
	testutil.Enroll(t, fb, domain.RelationTheoryLesson, "l1", "s1")

	err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1")
	var sched *domain.ScheduleConflictError
	if !errors.As(err, &sched) {
		t.Fatalf("expected schedule conflict, got %v", err)
	}
	if len(sched.Conflicts) != 1 || sched.Conflicts[0].SourceID != "l1" {
		t.Fatalf("conflict should name the lesson, got %+v", sched.Conflicts)
	}
	if fb.Count("AddGroupMember") != 0 {
		t.Fatalf("no write expected after a schedule conflict")
	}

	if err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1", AllowScheduleConflict()); err != nil {
		t.Fatalf("override should allow enrollment: %v", err)
	}
	testutil.AssertConsistent(t, fb, domain.RelationOrchestra, "o1", "s1")
}

func TestAddMemberBackToBackSlotsDoNotConflict(t *testing.T) {
	gw, fb, _ := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.TheoryLesson("l1", "solfege", 0, testutil.Slot(1, "16:00", "17:00")),
		testutil.Orchestra("o1", "Youth Symphony", 0, testutil.Slot(1, "17:00", "18:00")))
	testutil.Enroll(t, fb, domain.RelationTheoryLesson, "l1", "s1")
	if err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1"); err != nil {
		t.Fatalf("adjacent slots should not conflict: %v", err)
	}
}

func TestAddMemberRejectsMalformedCandidateSlot(t *testing.T) {
	cases := map[string]domain.TimeBlock{
		"no colon": testutil.Slot(2, "4pm", "6pm"),
		"inverted": testutil.Slot(2, "18:00", "16:00"),
		"bad day":  testutil.Slot(9, "16:00", "17:00"),
	}
	for name, slot := range cases {
		t.Run(name, func(t *testing.T) {
			gw, fb, _ := newGateway(t,
				testutil.Student("s1", "Ada", "Lovelace"),
				testutil.Orchestra("o1", "Youth Symphony", 0, slot))
			err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1", AllowScheduleConflict())
			var invalid *domain.InvalidScheduleError
			if !errors.As(err, &invalid) || invalid.SourceID != "o1" {
				t.Fatalf("expected invalid schedule on o1, got %v", err)
			}
			if domain.KindOf(err) != domain.KindInvalidSchedule {
				t.Fatalf("unexpected kind %q", domain.KindOf(err))
			}
			if fb.Count("AddGroupMember") != 0 || fb.Count("UpdatePerson") != 0 {
				t.Fatalf("no write expected, got %v", fb.Calls())
			}
		})
	}
}

func TestAddMemberRejectsMalformedCommittedSlot(t *testing.T) {
	gw, fb, _ := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.TheoryLesson("l1", "solfege", 0, testutil.Slot(1, "18:00", "16:00")),
		testutil.Orchestra("o1", "Youth Symphony", 0, testutil.Slot(1, "16:30", "17:30")))
	testutil.Enroll(t, fb, domain.RelationTheoryLesson, "l1", "s1")

	err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1")
	var invalid *domain.InvalidScheduleError
	if !errors.As(err, &invalid) || invalid.SourceID != "l1" {
		t.Fatalf("expected invalid schedule on l1, got %v", err)
	}
	if fb.Count("AddGroupMember") != 0 {
		t.Fatalf("no write expected, got %v", fb.Calls())
	}
}

func TestAddMemberSkipsUnscheduledSlot(t *testing.T) {
	gw, fb, _ := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.TheoryLesson("l1", "solfege", 0, domain.TimeBlock{}))
	if err := gw.AddMember(context.Background(), domain.RelationTheoryLesson, "l1", "s1"); err != nil {
		t.Fatalf("unscheduled lesson should accept students: %v", err)
	}
	testutil.AssertConsistent(t, fb, domain.RelationTheoryLesson, "l1", "s1")
}

func TestCancelledContextStopsBeforeFirstWrite(t *testing.T) {
	gw, fb, _ := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.Orchestra("o1", "Youth Symphony", 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gw.AddMember(ctx, domain.RelationOrchestra, "o1", "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if err := gw.RemoveMember(ctx, domain.RelationOrchestra, "o1", "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation on remove, got %v", err)
	}
	if fb.Count("AddGroupMember")+fb.Count("RemoveGroupMember")+fb.Count("UpdatePerson") != 0 {
		t.Fatalf("no writes expected, got %v", fb.Calls())
	}
}

func TestReadsRetryOnNetworkErrors(t *testing.T) {
	gw, fb, rec := newGateway(t,
		testutil.Student("s1", "Ada", "Lovelace"),
		testutil.Orchestra("o1", "Youth Symphony", 0))
	fb.FailNetwork("GetGroup", 2)
	if err := gw.AddMember(context.Background(), domain.RelationOrchestra, "o1", "s1"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if fb.Count("GetGroup o1") != 3 || len(rec.delays) != 2 {
		t.Fatalf("expected two retried reads, calls=%v delays=%v", fb.Calls(), rec.delays)
	}
}

func TestReadsDoNotRetryOtherErrors(t *testing.T) {
	gw, fb, _ := newGateway(t, testutil.Student("s1", "Ada", "Lovelace"))
	err := gw.AddMember(context.Background(), domain.RelationOrchestra, "missing", "s1")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if fb.Count("GetGroup missing") != 1 {
		t.Fatalf("not found must not be retried")
	}
}

func TestUnknownRelationRejected(t *testing.T) {
	gw, _, _ := newGateway(t)
	if err := gw.AddMember(context.Background(), "choir", "x", "y"); err == nil {
		t.Fatalf("expected error for unknown relation")
	}
}

func TestSharedCacheOption(t *testing.T) {
	c := cache.New()
	store := testutil.NewStore()
	gw := NewGateway(store, WithCache(c), WithRetryPolicy(RetryPolicy{Attempts: 0}))
	if gw.Cache() != c {
		t.Fatalf("expected shared cache")
	}
	if gw.RetryPolicy().Attempts != 1 {
		t.Fatalf("expected normalized attempts, got %d", gw.RetryPolicy().Attempts)
	}
}
