package fs

import (
	"bytes"
	"coexcore/internal/blob/core"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "links/10116/a.jsonl", bytes.NewReader([]byte("hello")), core.PutOptions{
		ContentType: "application/x-ndjson",
		Metadata:    map[string]string{"taxon": "10116"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "links/10116/a.jsonl" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "links/10116/a.jsonl", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	head, err := store.Head(ctx, "links/10116/a.jsonl")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	got, rc, err := store.Get(ctx, "links/10116/a.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(body) != "hello" || got.ETag != head.ETag || got.Metadata["taxon"] != "10116" {
		t.Fatalf("unexpected object %q %+v", body, got)
	}

	if _, err := store.Put(ctx, "links/9606/b.jsonl", strings.NewReader("b"), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	list, err := store.List(ctx, "links/10116/")
	if err != nil || len(list) != 1 || list[0].Key != "links/10116/a.jsonl" {
		t.Fatalf("unexpected list %v %+v", err, list)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("unexpected full list %v %+v", err, all)
	}

	ok, err := store.Delete(ctx, "links/10116/a.jsonl")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := store.Delete(ctx, "links/10116/a.jsonl"); ok {
		t.Fatalf("second delete should report missing")
	}
	if _, err := store.Head(ctx, "links/10116/a.jsonl"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	first, err := store.Put(ctx, "k", strings.NewReader("one"), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := store.Put(ctx, "k", strings.NewReader("two!"), core.PutOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if first.ETag == second.ETag || second.Size != 4 {
		t.Fatalf("overwrite not applied: %+v", second)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".upload-") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "   ", "/abs", "../up", "a/../../up", "x.meta"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestStorePresignURL(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	url, err := store.PresignURL(ctx, "links/a", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "/links/a") {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := store.PresignURL(ctx, "links/a", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestStoreCorruptSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "k", strings.NewReader("v"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "k.meta"), []byte("{"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := store.Head(ctx, "k"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list to surface decode error")
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	store, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Root() != "./exports" || store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected store %s %s", store.Root(), store.Driver())
	}
}
