// Package fault defines the error taxonomy shared across the finch
// orchestration core.
//
// The classes mirror how failures are allowed to propagate: planning
// failures degrade to fallback mode, per-tool failures are captured in
// result sets, auth and rate-limit conditions surface as actionable
// messages, and validation failures are rejected before any planning
// happens. Callers classify errors with [errors.Is] against the sentinels
// here rather than matching strings.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// ErrAuthRequired indicates that a broker-backed operation was attempted
// without an active session. It is distinguished from generic tool failures
// so the composer can tell the user how to connect their broker account.
var ErrAuthRequired = errors.New("broker session required")

// ErrPlanning indicates the planner could not produce a parseable tool plan
// after exhausting its retries. It is never surfaced to users directly; the
// orchestrator recovers by answering in fallback mode.
var ErrPlanning = errors.New("tool planning failed")

// ErrValidation indicates malformed user input that was rejected before
// planning (e.g., an empty query).
var ErrValidation = errors.New("invalid input")

// ErrRateLimited indicates an upstream provider rejected the call due to
// quota exhaustion. Rate-limited calls are never silently retried; use
// [RetryAfter] to extract guidance for the user.
var ErrRateLimited = errors.New("upstream rate limited")

// RateLimitError carries the upstream's retry-after hint. It wraps
// [ErrRateLimited] so errors.Is classification still works.
type RateLimitError struct {
	// RetryAfter is the upstream-suggested wait. Zero when the upstream
	// gave no hint.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limited, retry after %s", e.RetryAfter)
	}
	return "upstream rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter returns the retry-after hint carried by err, or zero when err
// is not a rate-limit error or carries no hint.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// Retryable reports whether err is worth retrying. Rate-limit, auth, and
// validation errors are terminal for the current attempt; everything else
// (transient network faults, malformed model output) may be retried under
// a [resilience] policy.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrAuthRequired),
		errors.Is(err, ErrValidation):
		return false
	}
	return true
}
