package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"conservatory/internal/cache"
	"conservatory/internal/enrollment"
	"conservatory/pkg/domain"
	"conservatory/testutil"
)

func seedDriftedLesson(t *testing.T) *testutil.FaultyBackend {
	t.Helper()
	store := testutil.NewStore()
	lesson := testutil.TheoryLesson("L", "solfege", 0, testutil.Slot(1, "16:00", "17:00"))
	lesson.StudentIDs = domain.NewIDSet("S1", "S2")
	s2 := testutil.Student("S2", "Clara", "Schumann")
	s2.Enrollments.TheoryLessonIDs = domain.NewIDSet("L")
	testutil.MustPut(t, store,
		lesson,
		testutil.TheoryLesson("L2", "counterpoint", 0, testutil.Slot(2, "16:00", "17:00")),
		testutil.TheoryLesson("L3", "ear training", 0, testutil.Slot(3, "16:00", "17:00")),
		testutil.Student("S1", "Ada", "Lovelace"),
		s2,
	)
	return testutil.NewFaultyBackend(store)
}

func TestReconcileRestoresDriftedLesson(t *testing.T) {
	fb := seedDriftedLesson(t)
	c := cache.New()
	svc := NewService(fb, WithCache(c))
	ctx := context.Background()

	report, err := svc.Reconcile(ctx, "S1", domain.RelationTheoryLesson)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Changed || report.SyncedCount != 3 || report.MatchedCount != 1 || !reflect.DeepEqual(report.CorrectedIDs, []string{"L"}) {
		t.Fatalf("unexpected report %+v", report)
	}
	if !reflect.DeepEqual(report.Added, []string{"L"}) || len(report.Removed) != 0 {
		t.Fatalf("unexpected diff %+v", report)
	}
	testutil.AssertConsistent(t, fb, domain.RelationTheoryLesson, "L", "S1")
	if p, ok := c.Person("S1"); !ok || !p.Enrollments.TheoryLessonIDs.Has("L") {
		t.Fatalf("cache should hold the corrected person")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	fb := seedDriftedLesson(t)
	svc := NewService(fb)
	ctx := context.Background()
	first, err := svc.Reconcile(ctx, "S1", domain.RelationTheoryLesson)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	writes := fb.Count("UpdatePerson")
	second, err := svc.Reconcile(ctx, "S1", domain.RelationTheoryLesson)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Changed || fb.Count("UpdatePerson") != writes {
		t.Fatalf("second run must not write, report=%+v", second)
	}
	if !reflect.DeepEqual(first.CorrectedIDs, second.CorrectedIDs) {
		t.Fatalf("corrected ids differ: %v vs %v", first.CorrectedIDs, second.CorrectedIDs)
	}
}

func TestReconcileRemovesStaleIDs(t *testing.T) {
	store := testutil.NewStore()
	s := testutil.Student("S", "Ada", "Lovelace")
	s.Enrollments.OrchestraIDs = domain.NewIDSet("O", "gone")
	testutil.MustPut(t, store, testutil.Orchestra("O", "Youth Symphony", 0), s)
	fb := testutil.NewFaultyBackend(store)

	report, err := NewService(fb).Reconcile(context.Background(), "S", domain.RelationOrchestra)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !reflect.DeepEqual(report.Removed, []string{"O", "gone"}) || len(report.CorrectedIDs) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestPartialWriteThenReconcile(t *testing.T) {
	store := testutil.NewStore()
	testutil.MustPut(t, store, testutil.Student("S", "Ada", "Lovelace"), testutil.Orchestra("O", "Youth Symphony", 0))
	fb := testutil.NewFaultyBackend(store)
	testutil.Enroll(t, fb, domain.RelationOrchestra, "O", "S")
	ctx := context.Background()

	gw := enrollment.NewGateway(fb, enrollment.WithSleeper(func(context.Context, time.Duration) bool { return true }))
	fb.Fail("UpdatePerson", testutil.Always, nil)
	err := gw.RemoveMember(ctx, domain.RelationOrchestra, "O", "S")
	var partial *domain.PartialWriteError
	if !errors.As(err, &partial) {
		t.Fatalf("expected partial write, got %v", err)
	}
	p, _ := fb.GetPerson(ctx, "S")
	if !p.Enrollments.OrchestraIDs.Has("O") {
		t.Fatalf("expected stale dependent before reconcile")
	}

	fb.Heal()
	report, err := NewService(fb).Reconcile(ctx, partial.Drift.PersonID, partial.Drift.Relation)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Changed || len(report.CorrectedIDs) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	p, _ = fb.GetPerson(ctx, "S")
	if p.Enrollments.OrchestraIDs.Len() != 0 {
		t.Fatalf("expected orchestraIds=[] after reconcile, got %v", p.Enrollments.OrchestraIDs.Slice())
	}
}

func TestReconcileErrors(t *testing.T) {
	fb := seedDriftedLesson(t)
	svc := NewService(fb)
	ctx := context.Background()
	if _, err := svc.Reconcile(ctx, "S1", "choir"); err == nil {
		t.Fatalf("expected unknown relation error")
	}
	if _, err := svc.Reconcile(ctx, "nobody", domain.RelationOrchestra); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	fb.Fail("UpdatePerson", 1, nil)
	if _, err := svc.Reconcile(ctx, "S1", domain.RelationTheoryLesson); !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected write failure, got %v", err)
	}
}

func noSleep(context.Context, time.Duration) bool { return true }

func TestReconcileRetriesNetworkReads(t *testing.T) {
	fb := seedDriftedLesson(t)
	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}
	svc := NewService(fb, WithRetryPolicy(enrollment.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}), WithSleeper(sleep))
	fb.FailNetwork("GetLessons", 1)
	fb.FailNetwork("GetPerson", 1)

	report, err := svc.Reconcile(context.Background(), "S1", domain.RelationTheoryLesson)
	if err != nil {
		t.Fatalf("expected transient read failures to be retried, got %v", err)
	}
	if !report.Changed || !reflect.DeepEqual(report.CorrectedIDs, []string{"L"}) {
		t.Fatalf("unexpected report %+v", report)
	}
	if fb.Count("GetLessons") != 2 || len(delays) != 2 || delays[0] != time.Millisecond {
		t.Fatalf("expected one retry per read, GetLessons=%d delays=%v", fb.Count("GetLessons"), delays)
	}
	testutil.AssertConsistent(t, fb, domain.RelationTheoryLesson, "L", "S1")
}

func TestReconcileGivesUpAfterRetryBudget(t *testing.T) {
	fb := seedDriftedLesson(t)
	svc := NewService(fb, WithRetryPolicy(enrollment.RetryPolicy{Attempts: 2}), WithSleeper(noSleep))
	fb.FailNetwork("GetGroups", testutil.Always)
	if _, err := svc.Reconcile(context.Background(), "S1", domain.RelationOrchestra); !domain.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if fb.Count("GetGroups") != 2 {
		t.Fatalf("expected 2 attempts, got %d", fb.Count("GetGroups"))
	}
	if fb.Count("UpdatePerson") != 0 {
		t.Fatalf("no write may follow a failed authority read")
	}
}

func TestReconcileCountsEveryInspectedGroup(t *testing.T) {
	store := testutil.NewStore()
	o := testutil.Orchestra("O", "Youth Symphony", 0)
	o.MemberIDs = domain.NewIDSet("S")
	testutil.MustPut(t, store,
		o,
		testutil.Orchestra("W", "Wind Ensemble", 0),
		testutil.Orchestra("C", "Chamber Strings", 0),
		testutil.Student("S", "Ada", "Lovelace"),
	)
	report, err := NewService(store).Reconcile(context.Background(), "S", domain.RelationOrchestra)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.SyncedCount != 3 || report.MatchedCount != 1 || !reflect.DeepEqual(report.CorrectedIDs, []string{"O"}) {
		t.Fatalf("unexpected report %+v", report)
	}
}
