package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"conservatory/internal/blob"
	"conservatory/internal/core"
	"conservatory/internal/observability"
	"conservatory/pkg/domain"
	"conservatory/testutil"
)

// TestIntegrationSmoke runs the enroll, delete and restore cycle against each
// in-process backend and blob driver.
func TestIntegrationSmoke(t *testing.T) {
	backends := []struct {
		name   string
		driver core.StorageDriver
	}{
		{name: "memory-backend", driver: core.StorageMemory},
		{name: "sqlite-backend", driver: core.StorageSQLite},
	}
	blobVariants := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{
			name: "memory-blob",
			open: func(_ *testing.T) blob.Store { return blob.NewMemory() },
		},
		{
			name: "filesystem-blob",
			open: func(t *testing.T) blob.Store {
				fs, err := blob.NewFilesystem(t.TempDir())
				if err != nil {
					t.Fatalf("new filesystem blob: %v", err)
				}
				return fs
			},
		},
	}

	for _, bv := range backends {
		for _, blobv := range blobVariants {
			t.Run(bv.name+"/"+blobv.name, func(t *testing.T) {
				t.Setenv("CONSERVATORY_STORAGE_DRIVER", string(bv.driver))
				t.Setenv("CONSERVATORY_SQLITE_PATH", filepath.Join(t.TempDir(), "conservatory.db"))
				runCycle(t, blobv.open(t))
			})
		}
	}
}

func runCycle(t *testing.T, blobs blob.Store) {
	t.Helper()
	ctx := context.Background()
	backend, closeFn, err := core.OpenBackend(ctx)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer func() {
		if err := closeFn(); err != nil {
			t.Errorf("close backend: %v", err)
		}
	}()

	lesson := testutil.TheoryLesson("L", "harmony", 12, testutil.Slot(1, "16:00", "17:00"))
	lesson.TeacherID = "T"
	testutil.MustPut(t, backend,
		testutil.Student("S", "Lili", "Boulanger"),
		testutil.Teacher("T", "Nadia", "Boulanger"),
		testutil.Orchestra("O", "Youth Symphony", 40, testutil.Slot(2, "18:00", "20:00")),
		lesson,
	)

	metrics := observability.NewExpvarMetricsRecorder("")
	var traces bytes.Buffer
	tracer := observability.NewJSONTracer(&traces)
	svc := core.NewService(backend, blobs, core.WithMetricsRecorder(metrics), core.WithTracer(tracer))

	if err := svc.AddMember(ctx, domain.RelationOrchestra, "O", "S"); err != nil {
		t.Fatalf("add orchestra member: %v", err)
	}
	if err := svc.AddMember(ctx, domain.RelationTheoryLesson, "L", "S"); err != nil {
		t.Fatalf("add lesson student: %v", err)
	}
	testutil.AssertConsistent(t, backend, domain.RelationOrchestra, "O", "S")
	testutil.AssertConsistent(t, backend, domain.RelationTheoryLesson, "L", "S")

	root := domain.EntityRef{Type: domain.EntityPerson, ID: "S"}
	plan, err := svc.PreviewDeletion(ctx, root)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if plan.Count("enrollments") != 2 || plan.RiskTier != domain.RiskLow {
		t.Fatalf("unexpected plan %+v", plan)
	}
	outcome, err := svc.ExecuteDeletion(ctx, root, plan, domain.DeletionOptions{CreateSnapshot: true, Reason: "moved away"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := backend.GetPerson(ctx, "S"); !domain.IsNotFound(err) {
		t.Fatalf("expected person deleted, got %v", err)
	}
	testutil.AssertConsistent(t, backend, domain.RelationOrchestra, "O", "S")

	if _, err := svc.RestoreSnapshot(ctx, outcome.SnapshotKey); err != nil {
		t.Fatalf("restore: %v", err)
	}
	person, err := backend.GetPerson(ctx, "S")
	if err != nil || !person.Enrollments.OrchestraIDs.Has("O") {
		t.Fatalf("expected restored enrollments, got %+v %v", person.Enrollments, err)
	}
	testutil.AssertConsistent(t, backend, domain.RelationOrchestra, "O", "S")
	testutil.AssertConsistent(t, backend, domain.RelationTheoryLesson, "L", "S")

	snapshot := metrics.Snapshot()
	if snapshot.Operations["enrollment.add"].Succeeded != 2 {
		t.Fatalf("expected two enrollment successes, got %+v", snapshot.Operations)
	}
	if snapshot.Operations["cascade.execute"].Succeeded != 1 || snapshot.Operations["cascade.restore"].Succeeded != 1 {
		t.Fatalf("expected cascade metrics, got %+v", snapshot.Operations)
	}
	if snapshot.Areas["cascade"].Failed != 0 {
		t.Fatalf("expected no cascade failures, got %+v", snapshot.Areas)
	}
	if traces.Len() == 0 || len(tracer.Entries()) == 0 {
		t.Fatalf("expected trace spans")
	}
}
