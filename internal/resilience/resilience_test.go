package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/resilience"
)

func fastPolicy(attempts int) *resilience.RetryPolicy {
	return resilience.NewRetryPolicy(resilience.RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
	})
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	p := fastPolicy(3)
	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	t.Parallel()

	p := fastPolicy(2)
	sentinel := errors.New("still failing")
	err := p.Do(context.Background(), "op", func(ctx context.Context, attempt int) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	t.Parallel()

	p := fastPolicy(5)
	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context, attempt int) error {
		calls++
		return &fault.RateLimitError{RetryAfter: time.Minute}
	})
	if !errors.Is(err, fault.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (rate limits are never retried)", calls)
	}
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	t.Parallel()

	p := resilience.NewRetryPolicy(resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Do(ctx, "op", func(ctx context.Context, attempt int) error {
			return errors.New("transient")
		})
	}()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestRetryPassesAttemptNumber(t *testing.T) {
	t.Parallel()

	p := fastPolicy(3)
	var attempts []int
	_ = p.Do(context.Background(), "op", func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return errors.New("transient")
	})
	if len(attempts) != 3 || attempts[0] != 0 || attempts[2] != 2 {
		t.Errorf("attempts = %v, want [0 1 2]", attempts)
	}
}

func TestDoValueReturnsResult(t *testing.T) {
	t.Parallel()

	p := fastPolicy(2)
	got, err := resilience.DoValue(context.Background(), p, "op",
		func(ctx context.Context, attempt int) (string, error) {
			if attempt == 0 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("DoValue: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name: "test", MaxFailures: 3, Cooldown: time.Hour,
	})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if got := cb.State(); got != resilience.BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Error("open breaker must not forward calls")
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name: "test", MaxFailures: 2, Cooldown: time.Hour,
	})
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return boom })

	if got := cb.State(); got != resilience.BreakerClosed {
		t.Errorf("state = %v, want closed (streak broken by success)", got)
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name: "test", MaxFailures: 1, Cooldown: 10 * time.Millisecond, ProbeBudget: 1,
	})
	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.State() != resilience.BreakerOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if got := cb.State(); got != resilience.BreakerClosed {
		t.Errorf("state = %v, want closed after successful probe", got)
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name: "test", MaxFailures: 1, Cooldown: time.Hour,
	})
	_ = cb.Execute(func() error { return errors.New("boom") })
	cb.Reset()
	if got := cb.State(); got != resilience.BreakerClosed {
		t.Errorf("state = %v, want closed after reset", got)
	}
}
