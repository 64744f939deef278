package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Engine kinds.
const (
	EngineONNX = "onnx"
	EngineMock = "mock"
)

// LoaderConfig selects and configures the engine implementation.
type LoaderConfig struct {
	Engine            string
	ModelsDir         string
	SharedLibraryPath string
	Dimensions        int
	MaxTokens         int
}

// ModelPath returns the ONNX file for model under modelsDir.
func ModelPath(modelsDir, model string) string {
	return filepath.Join(modelsDir, filepath.FromSlash(model), "onnx", "model.onnx")
}

// ModelFromPath is the inverse of ModelPath. It reports false for files that
// are not a model file directly under modelsDir.
func ModelFromPath(modelsDir, path string) (string, bool) {
	rel, err := filepath.Rel(modelsDir, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return "", false
	}
	model, ok := strings.CutSuffix(rel, "/onnx/model.onnx")
	if !ok || model == "" {
		return "", false
	}
	return model, true
}

// ValidateModelID checks that model names a directory below the models
// directory: slash separated, no empty, "." or ".." segments, not absolute.
func ValidateModelID(model string) error {
	if model == "" {
		return ErrModelRequired
	}
	if strings.HasPrefix(model, "/") || strings.Contains(model, `\`) || filepath.IsAbs(model) {
		return fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	for _, seg := range strings.Split(model, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidModel, model)
		}
	}
	return nil
}

func (c LoaderConfig) modelFile(model string) (string, error) {
	if err := ValidateModelID(model); err != nil {
		return "", err
	}
	path := ModelPath(c.ModelsDir, model)
	if got, ok := ModelFromPath(c.ModelsDir, path); !ok || got != model {
		return "", fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("model %q not found at %s: %w", model, path, err)
	}
	return path, nil
}

// NewEngineLoader returns a LoadFunc for embedding engines.
func NewEngineLoader(cfg LoaderConfig) (LoadFunc[Engine], error) {
	switch cfg.Engine {
	case EngineMock:
		return func(ctx context.Context, model string) (Engine, error) {
			return NewMockEngine(cfg.Dimensions), nil
		}, nil
	case "", EngineONNX:
		return func(ctx context.Context, model string) (Engine, error) {
			path, err := cfg.modelFile(model)
			if err != nil {
				return nil, err
			}
			e, err := NewONNXEngine(path, cfg.SharedLibraryPath, cfg.Dimensions, cfg.MaxTokens)
			if err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

// NewScorerLoader returns a LoadFunc for cross-encoder scorers.
func NewScorerLoader(cfg LoaderConfig) (LoadFunc[Scorer], error) {
	switch cfg.Engine {
	case EngineMock:
		return func(ctx context.Context, model string) (Scorer, error) {
			return NewMockScorer(), nil
		}, nil
	case "", EngineONNX:
		return func(ctx context.Context, model string) (Scorer, error) {
			path, err := cfg.modelFile(model)
			if err != nil {
				return nil, err
			}
			sc, err := NewONNXScorer(path, cfg.SharedLibraryPath, cfg.MaxTokens)
			if err != nil {
				return nil, err
			}
			return sc, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}
