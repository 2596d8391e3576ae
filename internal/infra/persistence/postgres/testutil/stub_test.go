package testutil

import (
	"context"
	"testing"
)

func TestStubDBStoresBuckets(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO conservatory_state(bucket,payload) VALUES($1,$2)`, "groups", []byte(`{}`)); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if payload, ok := conn.Bucket("groups"); !ok || string(payload) != "{}" {
		t.Fatalf("expected stored bucket, got %q", payload)
	}
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM conservatory_state`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	var n int
	for rows.Next() {
		n++
	}
	if n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
}

func TestStubDBFailures(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	conn.FailPing = true
	if err := db.PingContext(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
	conn.FailExec = true
	if _, err := db.ExecContext(ctx, `INSERT INTO x(bucket,payload) VALUES($1,$2)`, "a", []byte("b")); err == nil {
		t.Fatalf("expected exec failure")
	}
}
