package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the current operating mode of a [CircuitBreaker].
type BreakerState int

const (
	// BreakerClosed is the normal operating state — all calls are forwarded.
	BreakerClosed BreakerState = iota

	// BreakerOpen indicates the breaker has tripped after consecutive
	// failures. Calls are rejected with [ErrCircuitOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerHalfOpen is the probe state entered after the cooldown. A
	// limited number of calls are let through; success closes the breaker,
	// failure re-opens it.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [CircuitBreaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	Cooldown time.Duration

	// ProbeBudget is the number of successful probe calls required in the
	// half-open state before the breaker closes again. Default: 2.
	ProbeBudget int
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeBudget int

	mu             sync.Mutex
	state          BreakerState
	failureStreak  int
	lastFailure    time.Time
	probeSuccesses int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 2
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		state:       BreakerClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == BreakerOpen {
		if time.Since(cb.lastFailure) < cb.cooldown {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = BreakerHalfOpen
		cb.probeSuccesses = 0
		slog.Info("circuit breaker probing", "name", cb.name)
	}
	inProbe := cb.state == BreakerHalfOpen
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.lastFailure = time.Now()
		if inProbe {
			// Any probe failure re-opens immediately.
			cb.state = BreakerOpen
			cb.failureStreak = cb.maxFailures
			slog.Warn("circuit breaker re-opened", "name", cb.name)
			return err
		}
		cb.failureStreak++
		if cb.failureStreak >= cb.maxFailures {
			cb.state = BreakerOpen
			slog.Warn("circuit breaker opened",
				"name", cb.name, "consecutive_failures", cb.failureStreak)
		}
		return err
	}

	if inProbe {
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.probeBudget {
			cb.state = BreakerClosed
			cb.failureStreak = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}
		return nil
	}
	cb.failureStreak = 0
	return nil
}

// State returns the current [BreakerState]. If the breaker is open and the
// cooldown has elapsed, the returned state is [BreakerHalfOpen] (the actual
// transition happens on the next [CircuitBreaker.Execute] call).
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen && time.Since(cb.lastFailure) >= cb.cooldown {
		return BreakerHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [BreakerClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureStreak = 0
	cb.probeSuccesses = 0
}
