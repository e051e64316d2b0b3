// Package mock provides a test double for the marketdata.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/finch-ai/finch/pkg/provider/marketdata"
)

// Provider is a mock implementation of marketdata.Provider.
// Zero values cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// Quotes maps symbol to the quote returned by Quote. Unknown symbols
	// fall back to QuoteErr or a zero quote.
	Quotes map[string]*marketdata.Quote

	// QuoteErr, if non-nil, is returned from Quote for symbols not found in
	// Quotes.
	QuoteErr error

	// Candles is returned by History.
	Candles []marketdata.Candle

	// HistoryErr, if non-nil, is returned from History.
	HistoryErr error

	// Indices is returned by Overview.
	Indices []marketdata.IndexSnapshot

	// OverviewErr, if non-nil, is returned from Overview.
	OverviewErr error

	// QuoteFn, when non-nil, handles every Quote call and takes precedence
	// over Quotes/QuoteErr. Useful for injecting delays or per-call errors.
	QuoteFn func(ctx context.Context, symbol string) (*marketdata.Quote, error)

	// Call records.
	QuoteCalls    []string
	HistoryCalls  []string
	OverviewCalls int
}

// Quote implements marketdata.Provider.
func (p *Provider) Quote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	p.mu.Lock()
	p.QuoteCalls = append(p.QuoteCalls, symbol)
	fn := p.QuoteFn
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.Quotes[symbol]; ok {
		return q, nil
	}
	if p.QuoteErr != nil {
		return nil, p.QuoteErr
	}
	return &marketdata.Quote{Symbol: symbol}, nil
}

// History implements marketdata.Provider.
func (p *Provider) History(ctx context.Context, symbol string, days int) ([]marketdata.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.HistoryCalls = append(p.HistoryCalls, symbol)
	if p.HistoryErr != nil {
		return nil, p.HistoryErr
	}
	return p.Candles, nil
}

// Overview implements marketdata.Provider.
func (p *Provider) Overview(ctx context.Context) ([]marketdata.IndexSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OverviewCalls++
	if p.OverviewErr != nil {
		return nil, p.OverviewErr
	}
	return p.Indices, nil
}

// Ensure Provider implements marketdata.Provider at compile time.
var _ marketdata.Provider = (*Provider)(nil)
