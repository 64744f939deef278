package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/zake/internal/storage"
)

func newDiskStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	root := filepath.Join(t.TempDir(), ".cache")
	backend, err := storage.NewDiskStore(filepath.Join(root, "entries"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(backend, root, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// flakyBackend fails reads or writes for keys whose hash is listed.
type flakyBackend struct {
	storage.ByteStore
	mu        sync.Mutex
	failRead  map[string]bool
	failWrite map[string]bool
	raw       map[string][]byte
}

func (f *flakyBackend) Get(ctx context.Context, ns, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRead[key] {
		return nil, errors.New("disk on fire")
	}
	if v, ok := f.raw[key]; ok {
		return v, nil
	}
	return f.ByteStore.Get(ctx, ns, key)
}

func (f *flakyBackend) Put(ctx context.Context, ns, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite[key] {
		return errors.New("disk full")
	}
	return f.ByteStore.Put(ctx, ns, key, value)
}

func TestHash(t *testing.T) {
	h := Hash("hello world")
	if len(h) != 16 {
		t.Errorf("len(Hash) = %d, want 16", len(h))
	}
	if Hash("hello world") != h {
		t.Error("Hash is not deterministic")
	}
	if Hash("hello world!") == h {
		t.Error("different keys should hash differently")
	}
	if strings.ToLower(h) != h {
		t.Errorf("Hash should be lower-case hex, got %s", h)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()

	err := s.MSet(ctx, []Pair{
		{Key: "alpha", Vector: []float32{0.1, 0.2}},
		{Key: "beta", Vector: []float32{0.3}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := s.MGet(ctx, []string{"beta", "missing", "alpha"})
	if len(got) != 3 {
		t.Fatalf("got %d vectors, want 3", len(got))
	}
	if !slices.Equal(got[0], []float32{0.3}) || got[1] != nil || !slices.Equal(got[2], []float32{0.1, 0.2}) {
		t.Errorf("MGet = %v", got)
	}

	if _, err := os.Stat(filepath.Join(s.Root(), "entries", EmbeddingsNamespace, Hash("alpha"))); err != nil {
		t.Errorf("entry should be stored under the hashed key: %v", err)
	}
}

func TestStore_MGetEmpty(t *testing.T) {
	s := newDiskStore(t)
	if got := s.MGet(context.Background(), nil); len(got) != 0 {
		t.Errorf("MGet(nil) = %v", got)
	}
	if err := s.MSet(context.Background(), nil); err != nil {
		t.Errorf("MSet(nil) = %v", err)
	}
}

func TestStore_EmptyVectorIsMiss(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()
	if err := s.MSet(ctx, []Pair{{Key: "k", Vector: []float32{}}}); err != nil {
		t.Fatal(err)
	}
	if v := s.MGet(ctx, []string{"k"})[0]; v != nil {
		t.Errorf("empty vector should read as a miss, got %v", v)
	}
}

func TestStore_ReadFailureDegradesToMiss(t *testing.T) {
	root := t.TempDir()
	disk, err := storage.NewDiskStore(root)
	if err != nil {
		t.Fatal(err)
	}
	backend := &flakyBackend{
		ByteStore: disk,
		failRead:  map[string]bool{Hash("broken"): true},
		raw:       map[string][]byte{Hash("garbled"): []byte("{not json")},
	}
	s, err := NewStore(backend, root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.MSet(ctx, []Pair{
		{Key: "ok", Vector: []float32{1}},
		{Key: "broken", Vector: []float32{2}},
	}); err != nil {
		t.Fatal(err)
	}

	got := s.MGet(ctx, []string{"ok", "broken", "garbled"})
	if !slices.Equal(got[0], []float32{1}) || got[1] != nil || got[2] != nil {
		t.Errorf("MGet = %v", got)
	}
}

func TestStore_WriteFailureIsReportedPerKey(t *testing.T) {
	root := t.TempDir()
	disk, err := storage.NewDiskStore(root)
	if err != nil {
		t.Fatal(err)
	}
	backend := &flakyBackend{
		ByteStore: disk,
		failWrite: map[string]bool{Hash("b"): true},
	}
	s, err := NewStore(backend, root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	err = s.MSet(ctx, []Pair{
		{Key: "a", Vector: []float32{1}},
		{Key: "b", Vector: []float32{2}},
		{Key: "c", Vector: []float32{3}},
	})
	if err == nil || !strings.Contains(err.Error(), Hash("b")) {
		t.Fatalf("error should name the failed key, got %v", err)
	}

	// no cross-key atomicity: the other writes landed
	got := s.MGet(ctx, []string{"a", "b", "c"})
	if got[0] == nil || got[1] != nil || got[2] == nil {
		t.Errorf("MGet = %v", got)
	}
}

func TestStore_LastWriterWins(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()
	for _, v := range []float32{1, 2} {
		if err := s.MSet(ctx, []Pair{{Key: "k", Vector: []float32{v}}}); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.MGet(ctx, []string{"k"})[0]; !slices.Equal(got, []float32{2}) {
		t.Errorf("got %v, want [2]", got)
	}
}

func TestStore_MemoryTier(t *testing.T) {
	s := newDiskStore(t, WithMemoryCache(8))
	ctx := context.Background()
	if err := s.MSet(ctx, []Pair{{Key: "k", Vector: []float32{4, 5}}}); err != nil {
		t.Fatal(err)
	}

	// remove the persisted file; the front tier still serves the entry
	if err := os.Remove(filepath.Join(s.Root(), "entries", EmbeddingsNamespace, Hash("k"))); err != nil {
		t.Fatal(err)
	}
	got := s.MGet(ctx, []string{"k"})[0]
	if !slices.Equal(got, []float32{4, 5}) {
		t.Fatalf("got %v", got)
	}

	// callers cannot mutate cached vectors
	got[0] = 99
	if v := s.MGet(ctx, []string{"k"})[0][0]; v != 4 {
		t.Errorf("cached vector was mutated: %v", v)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.MemoryEntries != 1 {
		t.Errorf("MemoryEntries = %d", stats.MemoryEntries)
	}
}

func TestStore_ClearRemovesEntriesAndScratch(t *testing.T) {
	s := newDiskStore(t, WithMemoryCache(8))
	ctx := context.Background()
	if err := s.MSet(ctx, []Pair{{Key: "k", Vector: []float32{1}}}); err != nil {
		t.Fatal(err)
	}

	// Leftovers of a call that never cleaned up.
	staleDir := filepath.Join(s.Root(), scratchDir, "2020", "01", "01")
	if err := os.MkdirAll(staleDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"stale.tmp", "stale.0.ckpt"} {
		if err := os.WriteFile(filepath.Join(staleDir, name), []byte("[[1]]"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	finished, err := s.OpenScratch()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveScratch(finished.Path()); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if v := s.MGet(ctx, []string{"k"})[0]; v != nil {
		t.Errorf("entry survived Clear: %v", v)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), scratchDir, "2020")); !os.IsNotExist(err) {
		t.Errorf("stale scratch tree should be removed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(finished.Path())); !os.IsNotExist(err) {
		t.Errorf("empty date directory should be removed: %v", err)
	}
}

func TestStore_ClearKeepsScratchInUse(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()

	sc, err := s.OpenScratch()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Write([]byte("[[[1]]]")); err != nil {
		t.Fatal(err)
	}
	if err := sc.Checkpoint(0, []byte("[[1]]")); err != nil {
		t.Fatal(err)
	}
	if err := sc.Close(); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := s.ReadScratch(sc.Path())
	if err != nil {
		t.Fatalf("scratch of a running call was removed: %v", err)
	}
	if string(data) != "[[[1]]]" {
		t.Errorf("content = %s", data)
	}
	if _, err := os.Stat(sc.checkpointPath(0)); err != nil {
		t.Errorf("checkpoint of a running call was removed: %v", err)
	}

	if err := sc.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Dir(sc.Path())); !os.IsNotExist(err) {
		t.Errorf("date directory should be removed once the call is done: %v", err)
	}
}

func TestScratchOwner(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/c/scratch/2025/01/02/abc.tmp", "/c/scratch/2025/01/02/abc.tmp"},
		{"/c/scratch/2025/01/02/abc.3.ckpt", "/c/scratch/2025/01/02/abc.tmp"},
		{"/c/scratch/2025/01/02/other", "/c/scratch/2025/01/02/other"},
	}
	for _, tt := range tests {
		if got := scratchOwner(tt.in); got != tt.want {
			t.Errorf("scratchOwner(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStore_Stats(t *testing.T) {
	s := newDiskStore(t)
	ctx := context.Background()
	if err := s.MSet(ctx, []Pair{
		{Key: "a", Vector: []float32{1}},
		{Key: "b", Vector: []float32{2}},
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 2 {
		t.Errorf("Entries = %d, want 2", stats.Entries)
	}
	if want := int64(len("[1]") + len("[2]")); stats.Bytes != want {
		t.Errorf("Bytes = %d, want %d", stats.Bytes, want)
	}
}

func TestStore_SQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.NewSQLiteStore(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()
	s, err := NewStore(backend, filepath.Join(dir, ".cache"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.MSet(ctx, []Pair{{Key: "q", Vector: []float32{0.5, -0.5}}}); err != nil {
		t.Fatal(err)
	}
	if got := s.MGet(ctx, []string{"q"})[0]; !slices.Equal(got, []float32{0.5, -0.5}) {
		t.Errorf("got %v", got)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.Bytes <= 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestNewStore_Validation(t *testing.T) {
	if _, err := NewStore(nil, t.TempDir()); err == nil {
		t.Error("expected error for a nil backend")
	}

	backend, err := storage.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(backend, ""); err == nil {
		t.Error("expected error for an empty root")
	}
}
