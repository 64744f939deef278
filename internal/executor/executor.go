// Package executor runs units of work under a global concurrency cap and
// retries failed work with exponential backoff.
package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/zake/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Config controls admission and retry behaviour.
type Config struct {
	// MaxConcurrency caps the number of tasks running at once across all
	// callers. Zero or negative means unbounded.
	MaxConcurrency int
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultConfig returns an unbounded executor that retries three times.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 0,
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Executor admits tasks in submission order once a slot is free and retries
// each task until it succeeds or its retries are exhausted. A task keeps its
// slot for all of its attempts.
type Executor struct {
	cfg     Config
	sem     *semaphore.Weighted
	name    string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets a logger for retry events.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics records in-flight tasks, attempts and failures under name.
func WithMetrics(m *metrics.Metrics, name string) Option {
	return func(e *Executor) {
		e.metrics = m
		e.name = name
	}
}

// New creates an executor. Zero backoff fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	e := &Executor{
		cfg:    cfg,
		name:   "default",
		logger: zap.NewNop(),
	}
	if cfg.MaxConcurrency > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Call waits for a free slot, then runs fn until it succeeds or 1+MaxRetries
// attempts have failed, returning the last failure. Errors wrapped with
// Permanent are returned without further attempts.
func (e *Executor) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer e.sem.Release(1)
	}
	e.metrics.TaskStarted(e.name)
	defer e.metrics.TaskFinished(e.name)

	attempt := 0
	op := func() error {
		attempt++
		e.metrics.TaskAttempt(e.name)
		return fn(ctx)
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Debug("task attempt failed, retrying",
			zap.String("executor", e.name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, e.newBackOff(ctx), notify); err != nil {
		e.metrics.TaskFailed(e.name)
		e.logger.Debug("task failed",
			zap.String("executor", e.name),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return err
	}
	return nil
}

func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	if e.cfg.MaxRetries == 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.Multiplier = e.cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxRetries)), ctx)
}

// Do runs fn through e and returns its result.
func Do[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Permanent marks err as not worth retrying. Call returns the unwrapped err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
