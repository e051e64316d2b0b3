package orchestrator

import (
	"context"

	"github.com/finch-ai/finch/internal/resilience"
	"github.com/finch-ai/finch/pkg/provider/llm"
)

// guardedProvider routes every completion through a circuit breaker so that
// a dead upstream fails queries fast into fallback mode instead of stacking
// timeouts.
type guardedProvider struct {
	inner   llm.Provider
	breaker *resilience.CircuitBreaker
}

var _ llm.Provider = (*guardedProvider)(nil)

// GuardProvider wraps p with cb. All orchestrator stages sharing the
// returned provider share one breaker, so planning failures count against
// composition attempts too.
func GuardProvider(p llm.Provider, cb *resilience.CircuitBreaker) llm.Provider {
	return &guardedProvider{inner: p, breaker: cb}
}

func (g *guardedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := g.breaker.Execute(func() error {
		var innerErr error
		resp, innerErr = g.inner.Complete(ctx, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *guardedProvider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	// Only stream establishment counts against the breaker; mid-stream
	// failures are already surfaced as terminal chunks.
	var ch <-chan llm.Chunk
	err := g.breaker.Execute(func() error {
		var innerErr error
		ch, innerErr = g.inner.CompleteStream(ctx, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (g *guardedProvider) CountTokens(messages []llm.Message) (int, error) {
	return g.inner.CountTokens(messages)
}
