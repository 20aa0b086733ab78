package fs_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"pondcore/internal/infra/blob/core"
	"pondcore/internal/infra/blob/fs"
)

func newTestStore(t *testing.T) *fs.Store {
	t.Helper()
	store, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	put, err := store.Put(ctx, "exports/plan-1/v1.csv", strings.NewReader("hello"), core.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"rows": "3"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if put.Size != 5 || put.ETag == "" {
		t.Fatalf("unexpected put info: %+v", put)
	}

	info, rc, err := store.Get(ctx, "exports/plan-1/v1.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(body) != "hello" {
		t.Fatalf("unexpected body %q err=%v", body, err)
	}
	if info.ETag != put.ETag || info.Metadata["rows"] != "3" {
		t.Fatalf("expected sidecar metadata preserved, got %+v", info)
	}
}

func TestPutRejectsExistingKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("a"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", strings.NewReader("b"), core.PutOptions{}); err == nil {
		t.Fatalf("expected conflict on existing key")
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"", "  ", "../escape", "/absolute", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q rejected", key)
		}
	}
}

func TestDeleteRemovesDataAndSidecar(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	existed, err := store.Delete(ctx, "k")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	if _, err := store.Head(ctx, "k"); err == nil {
		t.Fatalf("expected head to fail after delete")
	}
	if existed, _ := store.Delete(ctx, "k"); existed {
		t.Fatalf("expected second delete to miss")
	}
}

func TestListWalksNestedKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"exports/plan-1/v1.csv", "exports/plan-1/v2.csv", "other/x.bin"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "exports/plan-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(infos))
	}
}

func TestPresignURLGetOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	url, err := store.PresignURL(ctx, "exports/plan-1/v1.csv", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "http://local.blob/") {
		t.Fatalf("unexpected url %q", url)
	}
	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for PUT, got %v", err)
	}
}
