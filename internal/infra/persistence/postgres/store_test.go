package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"conservatory/internal/infra/persistence/postgres/testutil"
	"conservatory/pkg/domain"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS CONSERVATORY_STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}
}

func TestWritesPersistBuckets(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	if _, err := store.PutGroup(ctx, domain.Group{Base: domain.Base{ID: "O"}}); err != nil {
		t.Fatalf("put group: %v", err)
	}
	if _, err := store.AddGroupMember(ctx, "O", "S"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	payload, ok := conn.Bucket("groups")
	if !ok {
		t.Fatalf("expected groups bucket")
	}
	var groups map[string]domain.Group
	if err := json.Unmarshal(payload, &groups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !groups["O"].MemberIDs.Has("S") {
		t.Fatalf("expected persisted membership, got %+v", groups["O"])
	}
}

func TestNewStoreHydratesFromState(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	conn.Buckets["persons"] = []byte(`{"S":{"id":"S","kind":"student","enrollments":{"orchestraIds":["O"],"theoryLessonIds":[]}}}`)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(ctx, "postgres://example")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p, err := store.GetPerson(ctx, "S")
	if err != nil {
		t.Fatalf("get person: %v", err)
	}
	if !p.Enrollments.OrchestraIDs.Has("O") {
		t.Fatalf("expected hydrated enrollments, got %+v", p.Enrollments)
	}
}

func TestCommitFailureDiscardsWrite(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	if _, err := store.PutGroup(ctx, domain.Group{Base: domain.Base{ID: "O"}}); err != nil {
		t.Fatalf("put group: %v", err)
	}
	conn.FailCommit = true
	if _, err := store.AddGroupMember(ctx, "O", "S"); err == nil {
		t.Fatalf("expected commit failure")
	}
	if g, _ := store.GetGroup(ctx, "O"); g.MemberIDs.Has("S") {
		t.Fatalf("failed commit must not be visible")
	}
}

func TestNewStoreErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(*testutil.StubConn)
	}{
		{"ping", func(c *testutil.StubConn) { c.FailPing = true }},
		{"ddl", func(c *testutil.StubConn) { c.FailExec = true }},
		{"query", func(c *testutil.StubConn) { c.FailQuery = true }},
		{"decode", func(c *testutil.StubConn) { c.Buckets["groups"] = []byte("not json") }},
	}
	for _, tc := range cases {
		db, conn := testutil.NewStubDB()
		tc.setup(conn)
		restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
		if _, err := NewStore(ctx, ""); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		restore()
	}
}
