// Package embedding provides text embedding and cross-encoder scoring engines
// backed by ONNX Runtime, with deterministic mock engines for tests.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Pooling strategies for reducing token states to one vector.
const (
	PoolingMean = "mean"
	PoolingCLS  = "cls"
	// PoolingNone keeps the first token state, the same vector as
	// PoolingCLS. Unpooled per-token output is not returned since every
	// caller expects one vector per text.
	PoolingNone = "none"
)

var (
	// ErrModelRequired is returned when no model identifier is configured.
	ErrModelRequired = errors.New("model identifier is required")
	// ErrInvalidModel is returned for a model identifier that is not a
	// relative path of plain segments, such as "Xenova/all-MiniLM-L6-v2".
	ErrInvalidModel = errors.New("invalid model identifier")
	// ErrUnknownPooling is returned for an unsupported pooling strategy.
	ErrUnknownPooling = errors.New("unknown pooling strategy")
	// ErrUnknownEngine is returned for an unsupported engine kind.
	ErrUnknownEngine = errors.New("unknown engine")
	// ErrEngineClosed is returned by an engine whose model was unloaded.
	ErrEngineClosed = errors.New("engine is closed")
)

// PipelineOptions control how token states become a sentence vector.
type PipelineOptions struct {
	Pooling   string
	Normalize bool
}

// DefaultPipelineOptions returns mean pooling with L2 normalization.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{Pooling: PoolingMean, Normalize: true}
}

// Validate reports an unsupported pooling strategy.
func (o PipelineOptions) Validate() error {
	switch o.Pooling {
	case PoolingMean, PoolingCLS, PoolingNone:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPooling, o.Pooling)
	}
}

// Engine produces one vector per input text.
type Engine interface {
	Infer(ctx context.Context, texts []string, opts PipelineOptions) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Scorer scores (query, document) pairs with a cross-encoder and returns one
// raw logit per document.
type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float32, error)
	Close() error
}
