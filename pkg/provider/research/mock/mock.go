// Package mock provides a test double for the research.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/finch-ai/finch/pkg/provider/research"
)

// Provider is a mock implementation of research.Provider.
// Zero values cause methods to return an empty result and nil error.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Research when ResearchFn is nil.
	Result *research.Result

	// Err, if non-nil, is returned instead of Result.
	Err error

	// ResearchFn, when non-nil, handles every call and takes precedence.
	ResearchFn func(ctx context.Context, query string) (*research.Result, error)

	// ResearchCalls records every query passed to Research, in order.
	ResearchCalls []string
}

// Research implements research.Provider.
func (p *Provider) Research(ctx context.Context, query string) (*research.Result, error) {
	p.mu.Lock()
	p.ResearchCalls = append(p.ResearchCalls, query)
	fn := p.ResearchFn
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, query)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &research.Result{Query: query}, nil
}

// Ensure Provider implements research.Provider at compile time.
var _ research.Provider = (*Provider)(nil)
