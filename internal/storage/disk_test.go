package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()

	// Single file
	f1 := filepath.Join(dir, "f1.txt")
	if err := os.WriteFile(f1, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := DiskUsageBytes(f1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("single file: got %d bytes, want 5", got)
	}

	// Directory
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(filepath.Join(sub, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "nested", "b"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = DiskUsageBytes(sub)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Errorf("dir: got %d bytes, want 3", got)
	}

	got, err = DiskUsageBytes(f1, filepath.Join(dir, "nonexistent"), "", sub)
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("with missing and empty: got %d bytes, want 8", got)
	}
}

func TestDiskStore_PutGet(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".cache")
	store, err := NewDiskStore(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := store.Get(ctx, "embeddings", "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(ctx, "embeddings", "k1", []byte("[0.5]")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "embeddings", "k1")); err != nil {
		t.Errorf("entry file missing: %v", err)
	}
	got, err := store.Get(ctx, "embeddings", "k1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "[0.5]" {
		t.Errorf("got %q", got)
	}

	n, err := store.Count(ctx, "embeddings")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestDiskStore_InvalidKeys(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, key := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := store.Put(ctx, "embeddings", key, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
	if _, err := store.Get(ctx, "../escape", "k"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for namespace traversal, got %v", err)
	}
}

func TestDiskStore_ConcurrentWritesSameKey(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	values := []string{"[1,1,1]", "[2,2,2]", "[3,3,3]", "[4,4,4]"}

	var wg sync.WaitGroup
	for _, v := range values {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			if err := store.Put(ctx, "embeddings", "same", []byte(v)); err != nil {
				t.Error(err)
			}
		}(v)
	}
	wg.Wait()

	// one writer wins; the entry is never a mix of two writes
	got, err := store.Get(ctx, "embeddings", "same")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, v := range values {
		if string(got) == v {
			found = true
		}
	}
	if !found {
		t.Errorf("entry %q is not one of the written values", got)
	}
	n, _ := store.Count(ctx, "embeddings")
	if n != 1 {
		t.Errorf("count = %d, want 1 (temp files must not be counted)", n)
	}
}

func TestDiskStore_Clear(t *testing.T) {
	root := t.TempDir()
	store, err := NewDiskStore(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = store.Put(ctx, "embeddings", "a", []byte("1"))
	_ = store.Put(ctx, "other", "b", []byte("2"))

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "embeddings", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected entry removed, got %v", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("root should be recreated after clear: %v", err)
	}
	// the store stays usable
	if err := store.Put(ctx, "embeddings", "c", []byte("3")); err != nil {
		t.Fatal(err)
	}
}
