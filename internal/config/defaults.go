package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/usr/local/var/zake/cache"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "disk"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/zake/db/cache.db"
	}
	if cfg.Embedding.Engine == "" {
		cfg.Embedding.Engine = "onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "Xenova/all-MiniLM-L6-v2"
	}
	if cfg.Embedding.ModelsDir == "" {
		cfg.Embedding.ModelsDir = "/usr/local/var/zake/models"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.Pooling == "" {
		cfg.Embedding.Pooling = "mean"
	}
	if cfg.Embedding.BatchParallelism == 0 {
		cfg.Embedding.BatchParallelism = 1
	}
	applyExecutorDefaults(&cfg.Embedding.Executor)
	if cfg.Reranker.Model == "" {
		cfg.Reranker.Model = "mixedbread-ai/mxbai-rerank-xsmall-v1"
	}
	if cfg.Reranker.TopK == 0 {
		cfg.Reranker.TopK = 10
	}
	if cfg.Reranker.MaxTokens == 0 {
		cfg.Reranker.MaxTokens = 512
	}
	applyExecutorDefaults(&cfg.Reranker.Executor)
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// applyExecutorDefaults leaves max_concurrency at 0 (unbounded) and
// max_retries unset (3) unless configured.
func applyExecutorDefaults(e *ExecutorConfig) {
	if e.InitialBackoff == 0 {
		e.InitialBackoff = time.Second
	}
	if e.MaxBackoff == 0 {
		e.MaxBackoff = 30 * time.Second
	}
}
