// internal/kv/kv_test.go
package kv

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

// TestMemoryStore covers set, get, replace and delete on the memory
// backend.
func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
}

// TestSQLiteStore covers the same operations on a throwaway SQLite
// file, and verifies values survive reopening.
func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	testStore(t, store)

	// Persistence across close and reopen.
	if err := store.Set(context.Background(), "persist", []byte("still here")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get(context.Background(), "persist")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || !bytes.Equal(v, []byte("still here")) {
		t.Errorf("value did not survive reopen: ok=%v value=%q", ok, v)
	}
}

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	// Absent key
	_, ok, err := store.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected missing key to be absent")
	}

	// Set and get
	if err := store.Set(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(v) != "one" {
		t.Errorf("got ok=%v value=%q, want one", ok, v)
	}

	// Replace
	if err := store.Set(ctx, "a", []byte("two")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, _, _ = store.Get(ctx, "a")
	if string(v) != "two" {
		t.Errorf("expected replaced value, got %q", v)
	}

	// Delete, then delete again
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, ok, _ = store.Get(ctx, "a")
	if ok {
		t.Error("expected key gone after delete")
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Errorf("deleting absent key should not error: %v", err)
	}
}
