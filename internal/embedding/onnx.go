//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initializes ONNX Runtime once per process. libPath, when
// set, points at the onnxruntime shared library.
func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if !ort.IsInitialized() {
			envErr = ort.InitializeEnvironment()
		}
	})
	if envErr != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", envErr)
	}
	return nil
}

// ONNXEngine runs a sentence-transformer model and pools its
// last_hidden_state output. It requires CGO and the onnxruntime shared library.
type ONNXEngine struct {
	session    *ort.DynamicAdvancedSession
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	mu         sync.Mutex
}

// NewONNXEngine loads the model at modelPath.
func NewONNXEngine(modelPath, libPath string, dimensions, maxTokens int) (*ONNXEngine, error) {
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXEngine{
		session:    session,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  &SimpleTokenizer{},
	}, nil
}

// Infer embeds texts in a single session run.
func (e *ONNXEngine) Infer(ctx context.Context, texts []string, opts PipelineOptions) ([][]float32, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := EncodeBatch(len(texts), e.maxTokens, func(i int) ([]int64, []int64, []int64) {
		return e.tokenizer.Tokenize(texts[i], e.maxTokens)
	})

	inputs, err := newInputTensors(batch)
	if err != nil {
		return nil, err
	}
	defer destroyAll(inputs)

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch.Size), int64(batch.SeqLen), int64(e.dimensions)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	err = e.session.Run(inputs, []ort.ArbitraryTensor{output})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return PoolBatch(output.GetData(), batch.AttentionMask, batch.Size, batch.SeqLen, e.dimensions, opts)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEngine) Dimensions() int {
	return e.dimensions
}

// Close destroys the session.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// ONNXScorer runs a cross-encoder and returns its logits output.
type ONNXScorer struct {
	session   *ort.DynamicAdvancedSession
	maxTokens int
	tokenizer Tokenizer
	mu        sync.Mutex
}

// NewONNXScorer loads the cross-encoder at modelPath.
func NewONNXScorer(modelPath, libPath string, maxTokens int) (*ONNXScorer, error) {
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXScorer{session: session, maxTokens: maxTokens, tokenizer: &SimpleTokenizer{}}, nil
}

// Score returns the first logit of each (query, doc) pair.
func (s *ONNXScorer) Score(ctx context.Context, query string, docs []string) ([]float32, error) {
	if len(docs) == 0 {
		return []float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := EncodeBatch(len(docs), s.maxTokens, func(i int) ([]int64, []int64, []int64) {
		return s.tokenizer.TokenizePair(query, docs[i], s.maxTokens)
	})

	inputs, err := newInputTensors(batch)
	if err != nil {
		return nil, err
	}
	defer destroyAll(inputs)

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch.Size), 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil, ErrEngineClosed
	}
	err = s.session.Run(inputs, []ort.ArbitraryTensor{output})
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	logits := make([]float32, batch.Size)
	copy(logits, output.GetData())
	return logits, nil
}

// Close destroys the session.
func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

func newInputTensors(b Batch) ([]ort.ArbitraryTensor, error) {
	shape := ort.NewShape(int64(b.Size), int64(b.SeqLen))
	var tensors []ort.ArbitraryTensor
	for _, data := range [][]int64{b.InputIDs, b.AttentionMask, b.TokenTypeIDs} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			destroyAll(tensors)
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		tensors = append(tensors, t)
	}
	return tensors, nil
}

func destroyAll(tensors []ort.ArbitraryTensor) {
	for _, t := range tensors {
		_ = t.Destroy()
	}
}
