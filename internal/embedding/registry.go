package embedding

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoadFunc loads the model identified by model.
type LoadFunc[T io.Closer] func(ctx context.Context, model string) (T, error)

// Registry holds one loaded instance per model identifier. Concurrent first
// requests for the same model share a single load; requests for different
// models never block one another.
type Registry[T io.Closer] struct {
	load   LoadFunc[T]
	logger *zap.Logger

	mu     sync.RWMutex
	items  map[string]T
	group  singleflight.Group
	closed bool
}

// NewRegistry returns a registry that loads missing models with load.
func NewRegistry[T io.Closer](load LoadFunc[T], logger *zap.Logger) *Registry[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[T]{load: load, logger: logger, items: make(map[string]T)}
}

var errRegistryClosed = errors.New("model registry is closed")

// Get returns the instance for model, loading it on first use. A failed load
// is not cached. Identifiers rejected by ValidateModelID never reach the
// loader.
func (r *Registry[T]) Get(ctx context.Context, model string) (T, error) {
	var zero T
	if err := ValidateModelID(model); err != nil {
		return zero, err
	}
	r.mu.RLock()
	item, ok := r.items[model]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return zero, errRegistryClosed
	}
	if ok {
		return item, nil
	}

	v, err, _ := r.group.Do(model, func() (interface{}, error) {
		r.mu.RLock()
		item, ok := r.items[model]
		r.mu.RUnlock()
		if ok {
			return item, nil
		}
		r.logger.Info("loading model", zap.String("model", model))
		loaded, err := r.load(ctx, model)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = loaded.Close()
			return nil, errRegistryClosed
		}
		r.items[model] = loaded
		return loaded, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Models returns the identifiers currently loaded.
func (r *Registry[T]) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, k)
	}
	return out
}

// Evict closes and forgets the instance for model so the next Get loads it
// again. It reports whether the model was loaded.
func (r *Registry[T]) Evict(model string) bool {
	r.mu.Lock()
	item, ok := r.items[model]
	delete(r.items, model)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := item.Close(); err != nil {
		r.logger.Warn("failed to close evicted model", zap.String("model", model), zap.Error(err))
	}
	r.logger.Info("model evicted", zap.String("model", model))
	return true
}

// Close closes every loaded instance. Further Get calls fail.
func (r *Registry[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var errs []error
	for model, item := range r.items {
		if err := item.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.items, model)
	}
	return errors.Join(errs...)
}
