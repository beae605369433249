package artifact

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestMemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	payload := []byte("archive bytes \x00\x01\x02 binary safe")
	if err := store.Put(ctx, "docker_workspace.tar.gz", bytes.NewReader(payload), int64(len(payload)), "application/gzip"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, info, err := store.Get(ctx, "docker_workspace.tar.gz")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("bytes not identical across store boundary")
	}
	if info.Size != int64(len(payload)) {
		t.Errorf("unexpected size: %d", info.Size)
	}
	if info.ContentType != "application/gzip" {
		t.Errorf("unexpected content type: %s", info.ContentType)
	}
}

func TestMemStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	for _, payload := range []string{"run-1", "run-2"} {
		if err := store.Put(ctx, "frontend.conf", bytes.NewReader([]byte(payload)), int64(len(payload)), "text/plain"); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	rc, _, err := store.Get(ctx, "frontend.conf")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "run-2" {
		t.Fatalf("expected last write to win, got %q", got)
	}
}

func TestMemStoreMissingObject(t *testing.T) {
	store := NewMemStore()
	if _, err := store.Stat(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for missing object")
	}
	if _, err := store.PresignGet(context.Background(), "nope", 0); err == nil {
		t.Fatalf("expected presign error for missing object")
	}
}
