// Package resilience provides the retry policy and circuit breaker used
// around all language-model calls in finch.
//
// [RetryPolicy] centralises attempt counting, backoff scheduling, and
// error-class filtering so planning and composition share one behaviour
// instead of scattering ad-hoc retry loops. [CircuitBreaker] is a classic
// three-state breaker (closed → open → half-open) protecting callers from
// cascading upstream failures.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finch-ai/finch/internal/fault"
)

// RetryPolicy describes how an operation is retried. The zero value is not
// usable; create instances with [NewRetryPolicy].
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	retryable   func(error) bool
}

// RetryConfig holds tuning knobs for a [RetryPolicy]. Zero-value fields are
// replaced with defaults.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3 (one call plus two retries).
	MaxAttempts int

	// BaseDelay is the delay before the first retry; subsequent retries
	// double it. Default: 200ms.
	BaseDelay time.Duration

	// Retryable decides whether an error class may be retried.
	// Default: [fault.Retryable], which excludes rate-limit, auth, and
	// validation errors.
	Retryable func(error) bool
}

// NewRetryPolicy creates a [RetryPolicy] with the supplied configuration.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Retryable == nil {
		cfg.Retryable = fault.Retryable
	}
	return &RetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		retryable:   cfg.Retryable,
	}
}

// MaxAttempts returns the total attempt budget of the policy.
func (p *RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// Do runs fn until it succeeds, the attempt budget is exhausted, an error
// class is non-retryable, or ctx is cancelled. The attempt number (starting
// at 0) is passed to fn so callers can adjust their request — the planner
// uses it to append a corrective instruction after a malformed response.
//
// The last error is returned unwrapped so callers can still classify it.
func (p *RetryPolicy) Do(ctx context.Context, name string, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	delay := p.baseDelay

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !p.retryable(lastErr) {
			slog.Debug("not retrying terminal error",
				"op", name, "attempt", attempt, "error", lastErr)
			return lastErr
		}
		if attempt < p.maxAttempts-1 {
			slog.Warn("operation failed, retrying",
				"op", name, "attempt", attempt, "error", lastErr)
		}
	}

	return fmt.Errorf("%s: %d attempts exhausted: %w", name, p.maxAttempts, lastErr)
}

// DoValue is the result-returning counterpart of [RetryPolicy.Do]. This is a
// package-level function because Go does not support method-level type
// parameters.
func DoValue[R any](ctx context.Context, p *RetryPolicy, name string, fn func(ctx context.Context, attempt int) (R, error)) (R, error) {
	var result R
	err := p.Do(ctx, name, func(ctx context.Context, attempt int) error {
		var innerErr error
		result, innerErr = fn(ctx, attempt)
		return innerErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
