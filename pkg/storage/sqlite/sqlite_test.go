package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rexliu/fedwallet/pkg/storage"
	"github.com/rexliu/fedwallet/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, quota storage.Quota) storage.KV {
		store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), quota)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(ctx, path, storage.Quota{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(ctx, "wallet/x", []byte(`{"id":"x"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	store.Close()

	store, err = Open(ctx, path, storage.Quota{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	v, err := store.Get(ctx, "wallet/x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != `{"id":"x"}` {
		t.Fatalf("unexpected value %q", v)
	}
	version, err := store.SchemaVersion(ctx)
	if err != nil || version != "1" {
		t.Fatalf("schema version = %q, %v", version, err)
	}
}
