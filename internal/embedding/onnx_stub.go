//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX engines require CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEngine stub type when built without CGO (see onnx.go for real implementation).
type ONNXEngine struct{}

// NewONNXEngine returns an error when built without CGO.
func NewONNXEngine(_, _ string, _, _ int) (*ONNXEngine, error) {
	return nil, errNoCGO
}

// Infer always fails.
func (e *ONNXEngine) Infer(context.Context, []string, PipelineOptions) ([][]float32, error) {
	return nil, errNoCGO
}

// Dimensions returns 0.
func (e *ONNXEngine) Dimensions() int { return 0 }

// Close is a no-op.
func (e *ONNXEngine) Close() error { return nil }

// ONNXScorer stub type when built without CGO.
type ONNXScorer struct{}

// NewONNXScorer returns an error when built without CGO.
func NewONNXScorer(_, _ string, _ int) (*ONNXScorer, error) {
	return nil, errNoCGO
}

// Score always fails.
func (s *ONNXScorer) Score(context.Context, string, []string) ([]float32, error) {
	return nil, errNoCGO
}

// Close is a no-op.
func (s *ONNXScorer) Close() error { return nil }
