package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conservatory/pkg/domain"
)

func TestOpenBackendMemory(t *testing.T) {
	t.Setenv("CONSERVATORY_STORAGE_DRIVER", "memory")
	backend, closeFn, err := OpenBackend(context.Background())
	if err != nil {
		t.Fatalf("open memory backend: %v", err)
	}
	defer func() { _ = closeFn() }()
	persons, err := backend.ListPersons(context.Background(), domain.PersonFilter{})
	if err != nil || len(persons) != 0 {
		t.Fatalf("expected empty backend, got %v %v", persons, err)
	}
}

func TestOpenBackendSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "conservatory.db")
	t.Setenv("CONSERVATORY_STORAGE_DRIVER", "")
	t.Setenv("CONSERVATORY_SQLITE_PATH", path)
	backend, closeFn, err := OpenBackend(context.Background())
	if err != nil {
		t.Fatalf("open sqlite backend: %v", err)
	}
	defer func() { _ = closeFn() }()
	if backend == nil {
		t.Fatalf("expected backend")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected sqlite file created: %v", err)
	}
}

func TestOpenBackendPostgresRequiresDSN(t *testing.T) {
	t.Setenv("CONSERVATORY_STORAGE_DRIVER", "postgres")
	t.Setenv("CONSERVATORY_POSTGRES_DSN", "")
	if _, _, err := OpenBackend(context.Background()); err == nil || !strings.Contains(err.Error(), "DSN") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	t.Setenv("CONSERVATORY_STORAGE_DRIVER", "cassandra")
	if _, _, err := OpenBackend(context.Background()); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestLoadPolicyFromEnv(t *testing.T) {
	t.Setenv("CONSERVATORY_CASCADE_POLICY", "")
	p, err := LoadPolicy()
	if err != nil || p.SnapshotPrefix != "snapshots" {
		t.Fatalf("expected default policy, got %+v %v", p, err)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("snapshot_prefix: archive\n"), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	t.Setenv("CONSERVATORY_CASCADE_POLICY", path)
	p, err = LoadPolicy()
	if err != nil || p.SnapshotPrefix != "archive" {
		t.Fatalf("expected loaded policy, got %+v %v", p, err)
	}

	t.Setenv("CONSERVATORY_CASCADE_POLICY", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadPolicy(); err == nil {
		t.Fatalf("expected error for missing policy file")
	}
}
