package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"conservatory/internal/blob/core"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	meta := map[string]string{"root": "person S"}
	info, err := s.Put(ctx, "snapshots/person/S/1.json", bytes.NewBufferString(`{"a":1}`), core.PutOptions{ContentType: "application/json", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["root"] = "mutated"
	if info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "snapshots/person/S/1.json", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "snapshots/person/S/1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"a":1}` || got.Metadata["root"] != "person S" {
		t.Fatalf("unexpected blob %q %+v", body, got.Metadata)
	}

	_, _ = s.Put(ctx, "snapshots/group/O/1.json", bytes.NewBufferString("{}"), core.PutOptions{})
	list, _ := s.List(ctx, "snapshots/person/")
	if len(list) != 1 {
		t.Fatalf("expected one person snapshot, got %d", len(list))
	}
	if all, _ := s.List(ctx, ""); len(all) != 2 || all[0].Key != "snapshots/group/O/1.json" {
		t.Fatalf("expected ordered listing, got %+v", all)
	}

	if ok, _ := s.Delete(ctx, "snapshots/group/O/1.json"); !ok {
		t.Fatalf("expected delete to report existing blob")
	}
	if ok, _ := s.Delete(ctx, "snapshots/group/O/1.json"); ok {
		t.Fatalf("expected second delete to report missing blob")
	}
	if _, err := s.Head(ctx, "snapshots/group/O/1.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.PresignURL(ctx, "x", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
