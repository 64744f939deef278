package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hyperjump/zake/internal/cache"
	"github.com/hyperjump/zake/internal/config"
	"github.com/hyperjump/zake/internal/embedding"
	"github.com/hyperjump/zake/internal/executor"
	"github.com/hyperjump/zake/internal/metrics"
	"github.com/hyperjump/zake/internal/service"
	"github.com/hyperjump/zake/internal/storage"
	"github.com/hyperjump/zake/internal/watcher"
	"github.com/hyperjump/zake/pkg/utils"
	"go.uber.org/zap"
)

// entriesDir holds disk backend entries under the storage root, apart from
// scratch files.
const entriesDir = "entries"

// Components holds initialized services.
type Components struct {
	Backend    storage.ByteStore
	Store      *cache.Store
	Engines    *embedding.Registry[embedding.Engine]
	Scorers    *embedding.Registry[embedding.Scorer]
	Embeddings *service.EmbeddingService
	Reranker   *service.RerankerService
	Metrics    *metrics.Metrics
	// ModelWatcher is set when embedding.watch_models is enabled.
	ModelWatcher *watcher.Watcher
}

// Close releases loaded models and the cache backend.
func (c *Components) Close() error {
	var errs []error
	if c.ModelWatcher != nil {
		c.ModelWatcher.Stop()
	}
	if c.Engines != nil {
		errs = append(errs, c.Engines.Close())
	}
	if c.Scorers != nil {
		errs = append(errs, c.Scorers.Close())
	}
	if c.Backend != nil {
		errs = append(errs, c.Backend.Close())
	}
	return errors.Join(errs...)
}

// openCache opens the configured backend and wraps it in a cache store.
func openCache(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*cache.Store, storage.ByteStore, error) {
	backend, err := storage.Open(cfg.Storage.Backend, filepath.Join(cfg.Storage.Root, entriesDir), cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	store, err := cache.NewStore(backend, cfg.Storage.Root,
		cache.WithLogger(logger),
		cache.WithMemoryCache(cfg.Embedding.MemoryCacheSize),
		cache.WithMetrics(m),
	)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return store, backend, nil
}

func executorConfig(c config.ExecutorConfig) executor.Config {
	cfg := executor.DefaultConfig()
	cfg.MaxConcurrency = c.MaxConcurrency
	cfg.MaxRetries = c.MaxRetriesOrDefault()
	if c.InitialBackoff > 0 {
		cfg.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		cfg.MaxBackoff = c.MaxBackoff
	}
	return cfg
}

func embeddingServiceConfig(c config.EmbeddingConfig) service.EmbeddingConfig {
	return service.EmbeddingConfig{
		Model:         c.Model,
		StripNewLines: c.StripNewLinesOrDefault(),
		Options: embedding.PipelineOptions{
			Pooling:   c.Pooling,
			Normalize: c.NormalizeOrDefault(),
		},
		Checkpoints: c.CheckpointsOrDefault(),
		Parallelism: c.BatchParallelism,
	}
}

func sizingPolicy(c config.EmbeddingConfig) service.SizingPolicy {
	if c.BatchSize > 0 {
		return service.FixedBatchSize(c.BatchSize)
	}
	return service.HostMemoryPolicy()
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(utils.ServiceName, true)
	}

	store, backend, err := openCache(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	c := &Components{Backend: backend, Store: store, Metrics: m}

	engineLoader, err := embedding.NewEngineLoader(embedding.LoaderConfig{
		Engine:            cfg.Embedding.Engine,
		ModelsDir:         cfg.Embedding.ModelsDir,
		SharedLibraryPath: cfg.Embedding.SharedLibraryPath,
		Dimensions:        cfg.Embedding.Dimensions,
		MaxTokens:         cfg.Embedding.MaxTokens,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize embedding engine: %w", err)
	}
	scorerLoader, err := embedding.NewScorerLoader(embedding.LoaderConfig{
		Engine:            cfg.Embedding.Engine,
		ModelsDir:         cfg.Embedding.ModelsDir,
		SharedLibraryPath: cfg.Embedding.SharedLibraryPath,
		MaxTokens:         cfg.Reranker.MaxTokens,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize reranker engine: %w", err)
	}
	c.Engines = embedding.NewRegistry(engineLoader, logger)
	c.Scorers = embedding.NewRegistry(scorerLoader, logger)

	embedExec := executor.New(executorConfig(cfg.Embedding.Executor),
		executor.WithLogger(logger), executor.WithMetrics(m, "embedding"))
	rerankExec := executor.New(executorConfig(cfg.Reranker.Executor),
		executor.WithLogger(logger), executor.WithMetrics(m, "reranker"))

	c.Embeddings, err = service.NewEmbeddingService(embeddingServiceConfig(cfg.Embedding), c.Engines, store, embedExec,
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithSizingPolicy(sizingPolicy(cfg.Embedding)),
	)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize embedding service: %w", err)
	}
	c.Reranker, err = service.NewRerankerService(service.RerankerConfig{
		Model:           cfg.Reranker.Model,
		TopK:            cfg.Reranker.TopK,
		ReturnDocuments: cfg.Reranker.ReturnDocuments,
	}, c.Scorers, rerankExec, service.WithLogger(logger), service.WithMetrics(m))
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}

	if cfg.Embedding.WatchModels && cfg.Embedding.Engine == embedding.EngineONNX {
		c.ModelWatcher = newModelWatcher(cfg.Embedding.ModelsDir, c.Engines, c.Scorers, logger)
	}

	logger.Info("components initialized",
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("reranker_model", cfg.Reranker.Model),
		zap.Int("memory_cache_size", cfg.Embedding.MemoryCacheSize),
		zap.Bool("metrics", m != nil))
	return c, nil
}

// newModelWatcher evicts a loaded model from both registries when its model
// file changes, so the next request loads the new file.
func newModelWatcher(modelsDir string, engines *embedding.Registry[embedding.Engine], scorers *embedding.Registry[embedding.Scorer], logger *zap.Logger) *watcher.Watcher {
	return watcher.NewWatcher(modelsDir, []string{".onnx"}, func(path string) {
		model, ok := embedding.ModelFromPath(modelsDir, path)
		if !ok {
			return
		}
		evicted := engines.Evict(model)
		evicted = scorers.Evict(model) || evicted
		if evicted {
			logger.Info("model file changed, reloading on next request",
				zap.String("model", model), zap.String("path", path))
		}
	}, watcher.WithLogger(logger))
}
