package memory

import (
	"bytes"
	"coexcore/internal/blob/core"
	"context"
	"errors"
	"io"
	"testing"
)

func TestStoreMissingKeys(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found from get, got %v", err)
	}
	if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected delete false, got %v %v", ok, err)
	}
}

func TestStorePutSemantics(t *testing.T) {
	store := New()
	ctx := context.Background()
	md := map[string]string{"taxon": "10116"}
	info, err := store.Put(ctx, "links/10116/x.jsonl", bytes.NewReader([]byte("v1")), core.PutOptions{Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["taxon"] = "mutated"
	if info.ETag == "" || info.Size != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "links/10116/x.jsonl", bytes.NewReader([]byte("v2")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	over, err := store.Put(ctx, "links/10116/x.jsonl", bytes.NewReader([]byte("v2")), core.PutOptions{Overwrite: true})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if over.ETag == info.ETag {
		t.Fatalf("overwrite should change the etag")
	}

	got, rc, err := store.Get(ctx, "links/10116/x.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "v2" || got.Metadata != nil {
		t.Fatalf("unexpected object %q %+v", body, got)
	}
	if _, err := store.Put(ctx, "/abs", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestStoreListAndPresign(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"links/9606/b", "links/10116/a", "other"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte(key)), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "links/")
	if err != nil || len(list) != 2 || list[0].Key != "links/10116/a" {
		t.Fatalf("unexpected list %v %+v", err, list)
	}
	if all, _ := store.List(ctx, ""); len(all) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(all))
	}
	if _, err := store.PresignURL(ctx, "other", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStorePutReadError(t *testing.T) {
	if _, err := New().Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
}
