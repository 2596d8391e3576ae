package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conservatory/internal/blob/core"
)

func TestFilesystemStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	key := "snapshots/person/S/abc.json"
	info, err := s.Put(ctx, key, strings.NewReader(`{"records":[]}`), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"reason": "duplicate"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(`{"records":[]}`)) || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "snapshots", "person", "S", "abc.json.meta")); err != nil {
		t.Fatalf("expected sidecar: %v", err)
	}
	if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	head, err := s.Head(ctx, key)
	if err != nil || head.Metadata["reason"] != "duplicate" || head.ContentType != "application/json" {
		t.Fatalf("head: %v %+v", err, head)
	}
	_, rc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"records":[]}` {
		t.Fatalf("unexpected body %q", body)
	}

	_, _ = s.Put(ctx, "snapshots/group/O/def.json", bytes.NewBufferString("{}"), core.PutOptions{})
	list, err := s.List(ctx, "snapshots/")
	if err != nil || len(list) != 2 || list[0].Key != "snapshots/group/O/def.json" {
		t.Fatalf("list: %v %+v", err, list)
	}

	url, err := s.PresignURL(ctx, key, core.SignedURLOptions{})
	if err != nil || url != "http://local.blob/"+key {
		t.Fatalf("presign: %v %s", err, url)
	}
	if _, err := s.PresignURL(ctx, key, core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}

	if ok, err := s.Delete(ctx, key); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, key); ok {
		t.Fatalf("second delete should report missing")
	}
	if _, _, err := s.Get(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Head(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFilesystemStoreRejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "  ", "../escape", "/abs", "a/b.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestFilesystemStoreHonoursCancellation(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
