package service

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/hyperjump/zake/internal/embedding"
	"github.com/hyperjump/zake/internal/executor"
	"github.com/hyperjump/zake/internal/models"
)

// fixedScorer returns preset logits and remembers the models it was loaded for.
type fixedScorer struct {
	logits []float32
	err    error
	calls  int
}

func (f *fixedScorer) Score(ctx context.Context, query string, docs []string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.logits[:len(docs)], nil
}

func (f *fixedScorer) Close() error { return nil }

func newReranker(t *testing.T, scorer embedding.Scorer, cfg RerankerConfig, loaded *[]string) *RerankerService {
	t.Helper()
	registry := embedding.NewRegistry[embedding.Scorer](func(ctx context.Context, model string) (embedding.Scorer, error) {
		if loaded != nil {
			*loaded = append(*loaded, model)
		}
		return scorer, nil
	}, nil)
	exec := executor.New(executor.Config{MaxRetries: 1, InitialBackoff: time.Millisecond})
	r, err := NewRerankerService(cfg, registry, exec)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestRank_SortsBySigmoidScore(t *testing.T) {
	r := newReranker(t, &fixedScorer{logits: []float32{-1, 3, 0, 3}}, RerankerConfig{}, nil)
	results, err := r.Rank(context.Background(), &models.RerankRequest{
		Query:     "q",
		Documents: []string{"d0", "d1", "d2", "d3"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	ids := []int{results[0].CorpusID, results[1].CorpusID, results[2].CorpusID, results[3].CorpusID}
	if !slices.Equal(ids, []int{1, 3, 2, 0}) {
		t.Errorf("order = %v, ties should keep input order", ids)
	}
	if math.Abs(float64(results[2].Score)-0.5) > 1e-6 {
		t.Errorf("sigmoid(0) = %v", results[2].Score)
	}
	for _, res := range results {
		if res.Score <= 0 || res.Score >= 1 {
			t.Errorf("score %v out of (0, 1)", res.Score)
		}
		if res.Text != "" {
			t.Errorf("text %q returned without returnDocuments", res.Text)
		}
	}
}

func TestRank_TopKAndReturnDocuments(t *testing.T) {
	r := newReranker(t, &fixedScorer{logits: []float32{1, 2, 3}}, RerankerConfig{TopK: 10}, nil)
	results, err := r.Rank(context.Background(), &models.RerankRequest{
		Query:           "q",
		Documents:       []string{"a", "b", "c"},
		TopK:            intPtr(2),
		ReturnDocuments: boolPtr(true),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].CorpusID != 2 || results[0].Text != "c" || results[1].Text != "b" {
		t.Errorf("results = %+v", results)
	}
}

func TestRank_DefaultsFromConfig(t *testing.T) {
	logits := make([]float32, 15)
	docs := make([]string, 15)
	for i := range docs {
		docs[i] = "doc"
		logits[i] = float32(i)
	}
	var loaded []string
	r := newReranker(t, &fixedScorer{logits: logits}, RerankerConfig{ReturnDocuments: true}, &loaded)

	results, err := r.Rank(context.Background(), &models.RerankRequest{Query: "q", Documents: docs, TopK: intPtr(0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 10 {
		t.Errorf("got %d results, want the default top k of 10", len(results))
	}
	if results[0].Text != "doc" {
		t.Errorf("text = %q", results[0].Text)
	}
	if !slices.Equal(loaded, []string{DefaultRerankerModel}) {
		t.Errorf("loaded = %v", loaded)
	}

	if _, err := r.Rank(context.Background(), &models.RerankRequest{Model: "other/model", Query: "q", Documents: docs}); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(loaded, []string{DefaultRerankerModel, "other/model"}) {
		t.Errorf("loaded = %v", loaded)
	}
}

func TestRank_EmptyDocuments(t *testing.T) {
	scorer := &fixedScorer{}
	r := newReranker(t, scorer, RerankerConfig{}, nil)
	results, err := r.Rank(context.Background(), &models.RerankRequest{Query: "q", Documents: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v", results)
	}
	if scorer.calls != 0 {
		t.Errorf("scorer called %d times", scorer.calls)
	}
}

func TestRank_ScorerFailureIsRetried(t *testing.T) {
	scorer := &fixedScorer{err: errors.New("session crashed")}
	r := newReranker(t, scorer, RerankerConfig{}, nil)
	if _, err := r.Rank(context.Background(), &models.RerankRequest{Query: "q", Documents: []string{"a"}}); err == nil {
		t.Fatal("expected error")
	}
	if scorer.calls != 2 {
		t.Errorf("scorer called %d times, want 2", scorer.calls)
	}
}

func TestRank_InvalidModelIsNotLoaded(t *testing.T) {
	scorer := &fixedScorer{logits: []float32{1}}
	var loaded []string
	r := newReranker(t, scorer, RerankerConfig{}, &loaded)
	_, err := r.Rank(context.Background(), &models.RerankRequest{Model: "../outside", Query: "q", Documents: []string{"a"}})
	if !errors.Is(err, embedding.ErrInvalidModel) {
		t.Fatalf("expected ErrInvalidModel, got %v", err)
	}
	if len(loaded) != 0 || scorer.calls != 0 {
		t.Errorf("loaded %v, scorer called %d times", loaded, scorer.calls)
	}
}

func TestRank_MockScorer(t *testing.T) {
	r := newReranker(t, embedding.NewMockScorer(), RerankerConfig{}, nil)
	results, err := r.Rank(context.Background(), &models.RerankRequest{
		Query:     "capital of france",
		Documents: []string{"bananas are yellow", "paris is the capital of france"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].CorpusID != 1 {
		t.Errorf("top result = %+v", results[0])
	}
}
