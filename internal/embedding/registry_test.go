package embedding

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingEngine struct {
	*MockEngine
	closed *int32
}

func (c countingEngine) Close() error {
	atomic.AddInt32(c.closed, 1)
	return nil
}

func TestRegistry_LoadsOncePerModel(t *testing.T) {
	var loads, closed int32
	r := NewRegistry[Engine](func(ctx context.Context, model string) (Engine, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(10 * time.Millisecond)
		return countingEngine{MockEngine: NewMockEngine(4), closed: &closed}, nil
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			model := "model-a"
			if i%2 == 1 {
				model = "model-b"
			}
			if _, err := r.Get(context.Background(), model); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Errorf("loads = %d, want 2", got)
	}
	if len(r.Models()) != 2 {
		t.Errorf("models = %v", r.Models())
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if closed != 2 {
		t.Errorf("closed = %d, want 2", closed)
	}
	if _, err := r.Get(context.Background(), "model-a"); err == nil {
		t.Error("expected error after Close")
	}
}

func TestRegistry_RequiresModel(t *testing.T) {
	r := NewRegistry[Engine](func(ctx context.Context, model string) (Engine, error) {
		return NewMockEngine(4), nil
	}, nil)
	if _, err := r.Get(context.Background(), ""); !errors.Is(err, ErrModelRequired) {
		t.Errorf("expected ErrModelRequired, got %v", err)
	}
}

func TestRegistry_FailedLoadIsRetried(t *testing.T) {
	attempts := 0
	r := NewRegistry[Engine](func(ctx context.Context, model string) (Engine, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("not yet")
		}
		return NewMockEngine(4), nil
	}, nil)
	if _, err := r.Get(context.Background(), "m"); err == nil {
		t.Fatal("expected first load to fail")
	}
	if _, err := r.Get(context.Background(), "m"); err != nil {
		t.Fatalf("second load: %v", err)
	}
}

func TestModelPath(t *testing.T) {
	got := ModelPath("/models", "Xenova/all-MiniLM-L6-v2")
	want := filepath.Join("/models", "Xenova", "all-MiniLM-L6-v2", "onnx", "model.onnx")
	if got != want {
		t.Errorf("ModelPath = %s, want %s", got, want)
	}
}

func TestLoaders(t *testing.T) {
	ctx := context.Background()

	load, err := NewEngineLoader(LoaderConfig{Engine: EngineMock, Dimensions: 12})
	if err != nil {
		t.Fatal(err)
	}
	e, err := load(ctx, "any")
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 12 {
		t.Errorf("Dimensions() = %d", e.Dimensions())
	}

	scorerLoad, err := NewScorerLoader(LoaderConfig{Engine: EngineMock})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := scorerLoad(ctx, "any"); err != nil {
		t.Fatal(err)
	}

	onnxLoad, err := NewEngineLoader(LoaderConfig{Engine: EngineONNX, ModelsDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := onnxLoad(ctx, "missing/model"); err == nil {
		t.Error("expected error for a missing model file")
	}

	if _, err := NewEngineLoader(LoaderConfig{Engine: "tensorflow"}); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("expected ErrUnknownEngine, got %v", err)
	}
}

func TestRegistry_Evict(t *testing.T) {
	var loads, closed int32
	r := NewRegistry[Engine](func(ctx context.Context, model string) (Engine, error) {
		atomic.AddInt32(&loads, 1)
		return countingEngine{MockEngine: NewMockEngine(4), closed: &closed}, nil
	}, nil)
	defer r.Close()

	if r.Evict("m") {
		t.Error("evicting an unloaded model should report false")
	}
	if _, err := r.Get(context.Background(), "m"); err != nil {
		t.Fatal(err)
	}
	if !r.Evict("m") {
		t.Error("evicting a loaded model should report true")
	}
	if atomic.LoadInt32(&closed) != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}
	if _, err := r.Get(context.Background(), "m"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&loads); got != 2 {
		t.Errorf("loads = %d, want 2 after eviction", got)
	}
}

func TestModelFromPath(t *testing.T) {
	dir := filepath.Join("/var", "models")
	tests := []struct {
		path  string
		model string
		ok    bool
	}{
		{ModelPath(dir, "Xenova/all-MiniLM-L6-v2"), "Xenova/all-MiniLM-L6-v2", true},
		{ModelPath(dir, "local-model"), "local-model", true},
		{filepath.Join(dir, "Xenova", "x", "onnx", "model_quantized.onnx"), "", false},
		{filepath.Join(dir, "onnx", "model.onnx"), "", false},
		{ModelPath("/elsewhere", "a/b"), "", false},
	}
	for _, tt := range tests {
		model, ok := ModelFromPath(dir, tt.path)
		if model != tt.model || ok != tt.ok {
			t.Errorf("ModelFromPath(%q) = %q, %v; want %q, %v", tt.path, model, ok, tt.model, tt.ok)
		}
	}
}
