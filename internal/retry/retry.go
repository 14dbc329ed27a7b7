// Package retry is the fabric every external operation runs through:
// exponential backoff with jitter, per-operation failure accounting, and
// retryable/terminal classification.
package retry

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/herald-labs/herald/internal/config"
	"github.com/herald-labs/herald/internal/herr"
)

// Context tracks one operation id across cycles.
type Context struct {
	Attempts            int
	ConsecutiveFailures int
	LastError           error
	LastSuccess         time.Time
	touched             time.Time
}

type Runner struct {
	cfg    config.RetryConfig
	logger zerolog.Logger

	mu  sync.Mutex
	ops map[string]*Context
}

func NewRunner(cfg config.RetryConfig, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger,
		ops:    make(map[string]*Context),
	}
}

// Execute runs fn under opID. Transient errors are retried with
// base*2^(attempt-1) delays, ±25% jitter, capped at the configured max;
// terminal errors come back immediately. The consecutive-failure counter
// survives across calls so callers can apply disable thresholds.
func (r *Runner) Execute(ctx context.Context, opID string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = r.cfg.MaxDelay
	b.MaxElapsedTime = 0

	op := func() error {
		r.recordAttempt(opID)
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !herr.Retryable(err) {
			return backoff.Permanent(err)
		}
		r.logger.Debug().Str("op", opID).Err(err).Msg("transient failure, will retry")
		return err
	}

	attempts := r.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
	if err != nil {
		r.recordFailure(opID, err)
		return err
	}
	r.recordSuccess(opID)
	return nil
}

// Failures returns the consecutive-failure count for opID.
func (r *Runner) Failures(opID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.ops[opID]; ok {
		return c.ConsecutiveFailures
	}
	return 0
}

// Reset clears the context for opID.
func (r *Runner) Reset(opID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ops, opID)
}

// Sweep drops contexts untouched for longer than the configured TTL and
// returns how many were removed.
func (r *Runner) Sweep() int {
	cutoff := time.Now().Add(-r.cfg.ContextTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, c := range r.ops {
		if c.touched.Before(cutoff) {
			delete(r.ops, id)
			removed++
		}
	}
	return removed
}

func (r *Runner) ctx(opID string) *Context {
	if c, ok := r.ops[opID]; ok {
		return c
	}
	c := &Context{}
	r.ops[opID] = c
	return c
}

func (r *Runner) recordAttempt(opID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.ctx(opID)
	c.Attempts++
	c.touched = time.Now()
}

func (r *Runner) recordFailure(opID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.ctx(opID)
	c.ConsecutiveFailures++
	c.LastError = err
	c.touched = time.Now()
}

func (r *Runner) recordSuccess(opID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.ctx(opID)
	c.ConsecutiveFailures = 0
	c.LastError = nil
	c.LastSuccess = time.Now()
	c.touched = c.LastSuccess
}
