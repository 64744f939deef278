// Package service implements the embedding pipeline and the reranker on top
// of the engine registry, the cache store and the task executor.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/zake/internal/cache"
	"github.com/hyperjump/zake/internal/embedding"
	"github.com/hyperjump/zake/internal/executor"
	"github.com/hyperjump/zake/internal/metrics"
	"github.com/hyperjump/zake/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultEmbeddingModel is used when no model is configured.
const DefaultEmbeddingModel = "Xenova/all-MiniLM-L6-v2"

// ErrVectorCount is returned when an engine returns a different number of
// vectors than texts it was given.
var ErrVectorCount = errors.New("engine returned wrong number of vectors")

// EmbeddingConfig is fixed for the lifetime of an EmbeddingService.
type EmbeddingConfig struct {
	Model         string
	StripNewLines bool
	Options       embedding.PipelineOptions
	// Checkpoints writes each batch fragment next to the scratch file.
	Checkpoints bool
	// Parallelism is the number of batches of one call that may be in flight
	// at once. The executor cap still applies across calls.
	Parallelism int
}

// DefaultEmbeddingConfig returns the default model with mean pooling,
// normalization and newline stripping.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:         DefaultEmbeddingModel,
		StripNewLines: true,
		Options:       embedding.DefaultPipelineOptions(),
		Checkpoints:   true,
		Parallelism:   1,
	}
}

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	sizing  SizingPolicy
}

// Option configures a service.
type Option func(*options)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records inference timings.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSizingPolicy overrides the batch sizing policy.
func WithSizingPolicy(p SizingPolicy) Option {
	return func(o *options) { o.sizing = p }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), sizing: HostMemoryPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EmbeddingService turns texts into vectors, optionally through the cache.
type EmbeddingService struct {
	cfg     EmbeddingConfig
	engines *embedding.Registry[embedding.Engine]
	store   *cache.Store
	exec    *executor.Executor
	sizing  SizingPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEmbeddingService validates cfg and wires the service.
func NewEmbeddingService(cfg EmbeddingConfig, engines *embedding.Registry[embedding.Engine], store *cache.Store, exec *executor.Executor, opts ...Option) (*EmbeddingService, error) {
	if cfg.Model == "" {
		return nil, embedding.ErrModelRequired
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if engines == nil || store == nil || exec == nil {
		return nil, errors.New("engine registry, cache store and executor are required")
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	o := buildOptions(opts)
	return &EmbeddingService{
		cfg:     cfg,
		engines: engines,
		store:   store,
		exec:    exec,
		sizing:  o.sizing,
		logger:  o.logger,
		metrics: o.metrics,
	}, nil
}

// Config returns the service configuration.
func (s *EmbeddingService) Config() EmbeddingConfig {
	return s.cfg
}

// EmbedQuery embeds one text. It returns an empty vector when the engine
// produced nothing.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return first(vecs), nil
}

// CacheEmbedQuery is EmbedQuery through the cache.
func (s *EmbeddingService) CacheEmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.CacheEmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return first(vecs), nil
}

func first(vecs [][]float32) []float32 {
	if len(vecs) == 0 || vecs[0] == nil {
		return []float32{}
	}
	return vecs[0]
}

// CacheEmbedDocuments returns cached vectors where present and computes the
// rest. Computed vectors are stored under the raw document text. A failed
// cache write is logged and does not fail the call.
func (s *EmbeddingService) CacheEmbedDocuments(ctx context.Context, docs []string) ([][]float32, error) {
	vectors := s.store.MGet(ctx, docs)

	var missIdx []int
	var missDocs []string
	for i, v := range vectors {
		if v == nil {
			missIdx = append(missIdx, i)
			missDocs = append(missDocs, docs[i])
		}
	}
	if len(missDocs) == 0 {
		return vectors, nil
	}

	computed, err := s.EmbedDocuments(ctx, missDocs)
	if err != nil {
		return nil, err
	}

	pairs := make([]cache.Pair, len(missIdx))
	for i, idx := range missIdx {
		vectors[idx] = computed[i]
		pairs[i] = cache.Pair{Key: docs[idx], Vector: computed[i]}
	}
	if err := s.store.MSet(ctx, pairs); err != nil {
		s.logger.Warn("failed to write embeddings to cache",
			zap.Int("entries", len(pairs)), zap.Error(err))
	}
	s.logger.Debug("cache embed",
		zap.Int("documents", len(docs)),
		zap.Int("hits", len(docs)-len(missDocs)),
		zap.Int("computed", len(missDocs)))
	return vectors, nil
}

// EmbedDocuments computes one vector per document, in input order, without
// consulting the cache. Batches are streamed to a scratch file in batch order,
// which is read back and removed once every batch has finished. The first
// batch failure fails the whole call.
func (s *EmbeddingService) EmbedDocuments(ctx context.Context, docs []string) ([][]float32, error) {
	if len(docs) == 0 {
		return [][]float32{}, nil
	}
	texts := docs
	if s.cfg.StripNewLines {
		texts = make([]string, len(docs))
		for i, d := range docs {
			texts[i] = utils.StripNewLines(d)
		}
	}

	batches := ChunkDocuments(texts, s.sizing())

	scratch, err := s.store.OpenScratch()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scratch.Remove(); err != nil {
			s.logger.Warn("failed to remove scratch file",
				zap.String("path", scratch.Path()), zap.Error(err))
		}
	}()

	seq := newSequencer(len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			vecs, err := executor.Do(gctx, s.exec, func(ctx context.Context) ([][]float32, error) {
				return s.infer(ctx, batch)
			})
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			fragment, err := json.Marshal(vecs)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			return seq.do(gctx, i, func() error {
				return s.appendFragment(scratch, i, len(batches), fragment)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := scratch.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize scratch file: %w", err)
	}
	data, err := s.store.ReadScratch(scratch.Path())
	if err != nil {
		return nil, err
	}
	var grouped [][][]float32
	if err := json.Unmarshal(data, &grouped); err != nil {
		return nil, fmt.Errorf("failed to parse scratch file: %w", err)
	}

	out := make([][]float32, 0, len(docs))
	for _, b := range grouped {
		out = append(out, b...)
	}
	if len(out) != len(docs) {
		return nil, fmt.Errorf("%w: got %d for %d documents", ErrVectorCount, len(out), len(docs))
	}
	return out, nil
}

func (s *EmbeddingService) appendFragment(scratch *cache.Scratch, idx, total int, fragment []byte) error {
	if idx == 0 {
		if _, err := scratch.Write([]byte("[")); err != nil {
			return err
		}
	}
	if _, err := scratch.Write(fragment); err != nil {
		return err
	}
	sep := ","
	if idx == total-1 {
		sep = "]"
	}
	if _, err := scratch.Write([]byte(sep)); err != nil {
		return err
	}
	if s.cfg.Checkpoints {
		if err := scratch.Checkpoint(idx, fragment); err != nil {
			s.logger.Debug("checkpoint failed", zap.Int("batch", idx), zap.Error(err))
		}
	}
	return nil
}

func (s *EmbeddingService) infer(ctx context.Context, texts []string) ([][]float32, error) {
	engine, err := s.engines.Get(ctx, s.cfg.Model)
	if err != nil {
		return nil, executor.Permanent(err)
	}
	start := time.Now()
	vecs, err := engine.Infer(ctx, texts, s.cfg.Options)
	s.metrics.ObserveInference(s.cfg.Model, len(texts), start)
	if err != nil {
		if errors.Is(err, embedding.ErrUnknownPooling) {
			return nil, executor.Permanent(err)
		}
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", ErrVectorCount, len(vecs), len(texts))
	}
	return vecs, nil
}
