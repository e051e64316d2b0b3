// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the prompts the core sends and to
// feed controlled responses without a live model backend. Configure either
// a fixed CompleteResponse, a Script of per-call responses (consumed in
// order, last entry repeated), or a CompleteFn hook for full control.
//
// Example:
//
//	p := &mock.Provider{
//	    Script: []mock.Scripted{
//	        {Content: "not json at all"},
//	        {Content: `{"tools": []}`},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/finch-ai/finch/pkg/provider/llm"
)

// Scripted is one pre-programmed reply in a Provider script.
type Scripted struct {
	// Content is the reply text returned for this call.
	Content string

	// Err, if non-nil, is returned instead of a response.
	Err error
}

// Provider is a mock implementation of llm.Provider.
// Zero values cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CompleteFn, when non-nil, handles every Complete call and takes
	// precedence over Script and CompleteResponse.
	CompleteFn func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Script is consumed one entry per Complete call; once exhausted the
	// last entry is repeated. Takes precedence over CompleteResponse.
	Script []Scripted

	// CompleteResponse is returned by Complete when no Script is set.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete when
	// no Script is set.
	CompleteErr error

	// StreamChunks is the sequence emitted by the channel returned from
	// CompleteStream. All chunks are sent before the channel is closed.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned from CompleteStream instead of
	// opening a channel.
	StreamErr error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// --- Call records (read after test) ---

	// CompleteRequests records every request passed to Complete, in order.
	CompleteRequests []llm.CompletionRequest

	// StreamRequests records every request passed to CompleteStream.
	StreamRequests []llm.CompletionRequest

	scriptPos int
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteRequests = append(p.CompleteRequests, req)

	if p.CompleteFn != nil {
		fn := p.CompleteFn
		p.mu.Unlock()
		return fn(ctx, req)
	}

	if len(p.Script) > 0 {
		entry := p.Script[min(p.scriptPos, len(p.Script)-1)]
		p.scriptPos++
		p.mu.Unlock()
		if entry.Err != nil {
			return nil, entry.Err
		}
		return &llm.CompletionResponse{Content: entry.Content}, nil
	}

	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()
	return resp, err
}

// CompleteStream implements llm.Provider.
func (p *Provider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamRequests = append(p.StreamRequests, req)
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	return total, nil
}

// Calls returns the number of Complete invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteRequests)
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
