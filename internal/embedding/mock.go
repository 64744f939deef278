package embedding

import (
	"context"
	"math"
	"strings"
)

// MockEngine is a deterministic engine for tests. It derives a hidden state
// for each token from the token id and the text, then pools them like a real model would,
// so equal texts always produce equal vectors.
type MockEngine struct {
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
}

// NewMockEngine returns an engine producing vectors of the given dimensions.
func NewMockEngine(dimensions int) *MockEngine {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEngine{dimensions: dimensions, maxTokens: 128, tokenizer: &SimpleTokenizer{}}
}

// Infer embeds every text.
func (e *MockEngine) Infer(ctx context.Context, texts []string, opts PipelineOptions) ([][]float32, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := EncodeBatch(len(texts), e.maxTokens, func(i int) ([]int64, []int64, []int64) {
		return e.tokenizer.Tokenize(texts[i], e.maxTokens)
	})
	hidden := make([]float32, batch.Size*batch.SeqLen*e.dimensions)
	for t, id := range batch.InputIDs {
		// mix in the whole text so the first token is contextual too
		h := HashString(texts[t/batch.SeqLen]) % 100003
		row := hidden[t*e.dimensions : (t+1)*e.dimensions]
		for i := range row {
			row[i] = float32(math.Sin(float64(id*int64(i+1)))*0.1 + math.Cos(float64(h*(i+1)))*0.05)
		}
	}
	return PoolBatch(hidden, batch.AttentionMask, batch.Size, batch.SeqLen, e.dimensions, opts)
}

// Dimensions returns the embedding dimension.
func (e *MockEngine) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEngine.
func (e *MockEngine) Close() error {
	return nil
}

// MockScorer scores a document by the share of query words it contains.
// The logit is positive when more than half of the query words appear.
type MockScorer struct{}

// NewMockScorer returns a deterministic scorer.
func NewMockScorer() *MockScorer {
	return &MockScorer{}
}

// Score returns one logit per document.
func (s *MockScorer) Score(ctx context.Context, query string, docs []string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qwords := SplitWords(strings.ToLower(query))
	logits := make([]float32, len(docs))
	for i, doc := range docs {
		present := make(map[string]bool)
		for _, w := range SplitWords(strings.ToLower(doc)) {
			present[w] = true
		}
		matched := 0
		for _, w := range qwords {
			if present[w] {
				matched++
			}
		}
		ratio := 0.0
		if len(qwords) > 0 {
			ratio = float64(matched) / float64(len(qwords))
		}
		logits[i] = float32(8*ratio - 4)
	}
	return logits, nil
}

// Close is a no-op for MockScorer.
func (s *MockScorer) Close() error {
	return nil
}
