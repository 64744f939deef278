// Package cache stores embedding vectors keyed by a hash of their input text
// and provides per-call scratch files for streaming batch output.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/zake/internal/metrics"
	"github.com/hyperjump/zake/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EmbeddingsNamespace holds cached embedding vectors.
const EmbeddingsNamespace = "embeddings"

const scratchDir = "scratch"

// maxParallelIO bounds concurrent backend operations of one MGet or MSet.
const maxParallelIO = 64

// Pair is a key and the vector to store for it.
type Pair struct {
	Key    string
	Vector []float32
}

// Stats describes the persisted cache.
type Stats struct {
	Entries       int64 `json:"entries"`
	Bytes         int64 `json:"bytes"`
	MemoryEntries int   `json:"memory_entries"`
}

// Store maps keys to vectors on a storage.ByteStore. Each key is stored under
// Hash(key). Writes to different keys are independent; concurrent writes to
// the same key leave one of the written values.
type Store struct {
	backend storage.ByteStore
	root    string
	memory  *memoryTier
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// scratchMu guards inUse and serializes scratch creation with Clear.
	scratchMu sync.Mutex
	inUse     map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for degraded reads and failed writes.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMemoryCache enables an in-memory LRU of size entries in front of the backend.
func WithMemoryCache(size int) Option {
	return func(s *Store) { s.memory = newMemoryTier(size) }
}

// WithMetrics records hit, miss and write error counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store over backend. root is the cache root directory;
// scratch files are created beneath it. A disk backend needs a directory of
// its own since clearing it removes everything under its root.
func NewStore(backend storage.ByteStore, root string, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("cache backend is required")
	}
	if root == "" {
		return nil, errors.New("cache root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	s := &Store{
		backend: backend,
		root:    root,
		logger:  zap.NewNop(),
		now:     time.Now,
		inUse:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// MGet returns one vector per key in key order. A nil element means the key
// is absent, unreadable, or holds an empty vector. Read failures never fail
// the batch.
func (s *Store) MGet(ctx context.Context, keys []string) [][]float32 {
	out := make([][]float32, len(keys))
	if len(keys) == 0 {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelIO)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			out[i] = s.get(gctx, key)
			return nil
		})
	}
	_ = g.Wait()

	hits := 0
	for _, v := range out {
		if v != nil {
			hits++
		}
	}
	s.metrics.CacheLookups(hits, len(keys)-hits)
	return out
}

func (s *Store) get(ctx context.Context, key string) []float32 {
	hashed := Hash(key)
	if v, ok := s.memory.get(hashed); ok {
		return v
	}

	data, err := s.backend.Get(ctx, EmbeddingsNamespace, hashed)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("cache read failed, treating as miss",
				zap.String("key", hashed), zap.Error(err))
		}
		return nil
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		s.logger.Debug("cache entry unreadable, treating as miss",
			zap.String("key", hashed), zap.Error(err))
		return nil
	}
	if len(v) == 0 {
		return nil
	}
	s.memory.add(hashed, v)
	return v
}

// MSet writes every pair. Writes run concurrently and are not atomic as a
// group: on error, some pairs may have been stored. The returned error joins
// every failed write.
func (s *Store) MSet(ctx context.Context, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	errs := make([]error, len(pairs))

	var g errgroup.Group
	g.SetLimit(maxParallelIO)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			errs[i] = s.set(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		failed := 0
		for _, e := range errs {
			if e != nil {
				failed++
			}
		}
		s.metrics.CacheWriteErrors(failed)
	}
	return err
}

func (s *Store) set(ctx context.Context, p Pair) error {
	hashed := Hash(p.Key)
	data, err := json.Marshal(p.Vector)
	if err != nil {
		return fmt.Errorf("encode %s: %w", hashed, err)
	}
	if err := s.backend.Put(ctx, EmbeddingsNamespace, hashed, data); err != nil {
		return fmt.Errorf("write %s: %w", hashed, err)
	}
	s.memory.add(hashed, p.Vector)
	return nil
}

// Clear removes every persisted entry, the memory tier and the scratch files
// of finished or abandoned calls. Scratch files opened by OpenScratch and not
// yet removed belong to a running call and are kept.
func (s *Store) Clear(ctx context.Context) error {
	s.memory.purge()
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache backend: %w", err)
	}
	if err := s.clearScratch(); err != nil {
		return fmt.Errorf("failed to clear scratch files: %w", err)
	}
	return nil
}

// Stats returns the entry count and the bytes used on disk by the backend and
// scratch files.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	n, err := s.backend.Count(ctx, EmbeddingsNamespace)
	if err != nil {
		return Stats{}, err
	}
	paths := append(s.backend.Paths(), s.scratchRoot())
	size, err := storage.DiskUsageBytes(dedupNested(paths)...)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Entries: n, Bytes: size, MemoryEntries: s.memory.len()}, nil
}

// dedupNested drops paths contained in another path of the list.
func dedupNested(paths []string) []string {
	out := make([]string, 0, len(paths))
	for i, p := range paths {
		nested := false
		for j, q := range paths {
			if i == j || q == "" {
				continue
			}
			rel, err := filepath.Rel(q, p)
			if err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, p)
		}
	}
	return out
}
