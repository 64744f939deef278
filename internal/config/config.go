// Package config provides configuration loading and structs for the zake server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/zake/internal/embedding"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig selects the cache backend and where it keeps its data.
// Root holds the disk backend entries and scratch files.
type StorageConfig struct {
	Root         string `yaml:"root"`
	Backend      string `yaml:"backend"`
	DatabasePath string `yaml:"database_path"`
}

// ExecutorConfig holds admission and retry settings for inference tasks.
type ExecutorConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxRetries     *int          `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// MaxRetriesOrDefault returns the configured retries; defaults to 3 when unset.
func (e *ExecutorConfig) MaxRetriesOrDefault() int {
	if e.MaxRetries != nil {
		return *e.MaxRetries
	}
	return 3
}

// EmbeddingConfig holds embedding engine and pipeline settings.
type EmbeddingConfig struct {
	Engine            string         `yaml:"engine"`
	Model             string         `yaml:"model"`
	ModelsDir         string         `yaml:"models_dir"`
	SharedLibraryPath string         `yaml:"onnxruntime_library"`
	Dimensions        int            `yaml:"dimensions"`
	MaxTokens         int            `yaml:"max_tokens"`
	Pooling           string         `yaml:"pooling"`
	Normalize         *bool          `yaml:"normalize"`
	StripNewLines     *bool          `yaml:"strip_new_lines"`
	Checkpoints       *bool          `yaml:"checkpoints"`
	MemoryCacheSize   int            `yaml:"memory_cache_size"`
	BatchSize         int            `yaml:"batch_size"`
	BatchParallelism  int            `yaml:"batch_parallelism"`
	WatchModels       bool           `yaml:"watch_models"`
	Executor          ExecutorConfig `yaml:"executor"`
}

// NormalizeOrDefault returns whether to L2-normalize vectors; defaults to true when unset.
func (e *EmbeddingConfig) NormalizeOrDefault() bool {
	return boolOrDefault(e.Normalize, true)
}

// StripNewLinesOrDefault returns whether to replace newlines before inference; defaults to true when unset.
func (e *EmbeddingConfig) StripNewLinesOrDefault() bool {
	return boolOrDefault(e.StripNewLines, true)
}

// CheckpointsOrDefault returns whether batch checkpoints are written; defaults to true when unset.
func (e *EmbeddingConfig) CheckpointsOrDefault() bool {
	return boolOrDefault(e.Checkpoints, true)
}

// RerankerConfig holds cross-encoder settings.
type RerankerConfig struct {
	Model           string         `yaml:"model"`
	TopK            int            `yaml:"top_k"`
	ReturnDocuments bool           `yaml:"return_documents"`
	MaxTokens       int            `yaml:"max_tokens"`
	Executor        ExecutorConfig `yaml:"executor"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func boolOrDefault(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read, parsed or is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Root = expandPath(cfg.Storage.Root, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelsDir = expandPath(cfg.Embedding.ModelsDir, configDir)
	if cfg.Embedding.SharedLibraryPath != "" {
		cfg.Embedding.SharedLibraryPath = expandPath(cfg.Embedding.SharedLibraryPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Backend {
	case "disk", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be disk or sqlite", c.Storage.Backend))
	}
	switch c.Embedding.Engine {
	case "onnx", "mock":
	default:
		errs = append(errs, fmt.Errorf("embedding.engine %q must be onnx or mock", c.Embedding.Engine))
	}
	if strings.TrimSpace(c.Embedding.Model) == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	} else if err := embedding.ValidateModelID(c.Embedding.Model); err != nil {
		errs = append(errs, fmt.Errorf("embedding.model: %w", err))
	}
	if err := embedding.ValidateModelID(c.Reranker.Model); err != nil {
		errs = append(errs, fmt.Errorf("reranker.model: %w", err))
	}
	switch c.Embedding.Pooling {
	case "mean", "cls", "none":
	default:
		errs = append(errs, fmt.Errorf("embedding.pooling %q must be mean, cls or none", c.Embedding.Pooling))
	}
	if c.Embedding.Executor.MaxRetriesOrDefault() < 0 {
		errs = append(errs, errors.New("embedding.executor.max_retries must not be negative"))
	}
	if c.Reranker.Executor.MaxRetriesOrDefault() < 0 {
		errs = append(errs, errors.New("reranker.executor.max_retries must not be negative"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
