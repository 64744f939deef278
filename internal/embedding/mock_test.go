package embedding

import (
	"context"
	"math"
	"testing"
)

func TestMockEngine_Deterministic(t *testing.T) {
	e := NewMockEngine(16)
	ctx := context.Background()
	opts := DefaultPipelineOptions()

	a, err := e.Infer(ctx, []string{"hello world", "goodbye"}, opts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Infer(ctx, []string{"hello world"}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 2 || len(a[0]) != 16 {
		t.Fatalf("unexpected shape %d x %d", len(a), len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatal("same text should produce the same vector regardless of batch")
		}
	}
	same := true
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			same = false
		}
	}
	if same {
		t.Error("different texts should produce different vectors")
	}
}

func TestMockEngine_Normalized(t *testing.T) {
	e := NewMockEngine(8)
	for _, pooling := range []string{PoolingMean, PoolingCLS} {
		vecs, err := e.Infer(context.Background(), []string{"some text"}, PipelineOptions{Pooling: pooling, Normalize: true})
		if err != nil {
			t.Fatal(err)
		}
		var sum float64
		for _, v := range vecs[0] {
			sum += float64(v * v)
		}
		if math.Abs(sum-1) > 1e-4 {
			t.Errorf("%s: norm^2 = %v, want 1", pooling, sum)
		}
	}
}

func TestMockEngine_Defaults(t *testing.T) {
	e := NewMockEngine(0)
	if e.Dimensions() != 384 {
		t.Errorf("Dimensions() = %d, want 384", e.Dimensions())
	}
	if err := e.Close(); err != nil {
		t.Error(err)
	}
}

func TestMockScorer(t *testing.T) {
	s := NewMockScorer()
	logits, err := s.Score(context.Background(), "capital of france", []string{
		"Paris is the capital of France",
		"Bananas are yellow",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(logits) != 2 {
		t.Fatalf("len = %d", len(logits))
	}
	if logits[0] <= 0 || logits[1] >= 0 {
		t.Errorf("logits = %v, want relevant > 0 > irrelevant", logits)
	}
}
