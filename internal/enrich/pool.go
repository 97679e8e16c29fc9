package enrich

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// PoolConfig bounds the enrichment workload against the external service.
// Workers caps parallelism; RequestsPerSecond caps throughput across all
// workers, independent of the concurrency limit.
type PoolConfig struct {
	Workers           int
	RequestsPerSecond float64
	MaxAttempts       int
	CallTimeout       time.Duration
}

// Pool runs enrichment calls with bounded concurrency, a global rate limit,
// and retry with exponential backoff on transient failures.
type Pool struct {
	workers     *ants.Pool
	limiter     *rate.Limiter
	maxAttempts int
	callTimeout time.Duration
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}

	workers, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}

	return &Pool{
		workers:     workers,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxAttempts: cfg.MaxAttempts,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Do schedules call on the pool and blocks until it settles or ctx ends.
// An abandoned caller does not stop the scheduled call; its eventual result
// is simply discarded.
func (p *Pool) Do(ctx context.Context, call func(context.Context) error) error {
	done := make(chan error, 1)
	if err := p.workers.Submit(func() {
		done <- p.runWithRetry(ctx, call)
	}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (p *Pool) runWithRetry(ctx context.Context, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		lastErr = call(callCtx)
		cancel()

		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.maxAttempts-1 {
			break
		}

		select {
		case <-time.After(Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// Release shuts down the worker pool. Pending tasks are abandoned.
func (p *Pool) Release() {
	p.workers.Release()
}
