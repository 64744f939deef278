package embedding

import (
	"errors"
	"math"
	"testing"
)

func TestPool_Mean(t *testing.T) {
	// three tokens of dim 2, last one is padding
	hidden := []float32{1, 2, 3, 4, 100, 100}
	mask := []int64{1, 1, 0}
	got, err := Pool(hidden, mask, 3, 2, PipelineOptions{Pooling: PoolingMean})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("mean = %v, want [2 3]", got)
	}
}

func TestPool_CLS(t *testing.T) {
	hidden := []float32{1, 2, 3, 4}
	got, err := Pool(hidden, []int64{1, 1}, 2, 2, PipelineOptions{Pooling: PoolingCLS})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("cls = %v, want [1 2]", got)
	}
}

func TestPool_NoneKeepsFirstToken(t *testing.T) {
	hidden := []float32{1, 2, 3, 4}
	got, err := Pool(hidden, []int64{1, 1}, 2, 2, PipelineOptions{Pooling: PoolingNone})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("none = %v, want [1 2]", got)
	}
}

func TestPool_Normalize(t *testing.T) {
	hidden := []float32{3, 4}
	got, err := Pool(hidden, []int64{1}, 1, 2, PipelineOptions{Pooling: PoolingMean, Normalize: true})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("normalized = %v, want [0.6 0.8]", got)
	}
}

func TestPool_UnknownStrategy(t *testing.T) {
	_, err := Pool([]float32{1}, []int64{1}, 1, 1, PipelineOptions{Pooling: "max"})
	if !errors.Is(err, ErrUnknownPooling) {
		t.Errorf("expected ErrUnknownPooling, got %v", err)
	}
}

func TestPoolBatch(t *testing.T) {
	hidden := []float32{
		1, 1, 3, 3, // seq 0
		5, 5, 0, 0, // seq 1, second token padded
	}
	mask := []int64{1, 1, 1, 0}
	got, err := PoolBatch(hidden, mask, 2, 2, 2, PipelineOptions{Pooling: PoolingMean})
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0] != 2 || got[1][0] != 5 {
		t.Errorf("got %v", got)
	}
}
