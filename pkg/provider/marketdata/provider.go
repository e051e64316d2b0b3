// Package marketdata defines the provider interface for market quotes,
// historical candles, and index snapshots.
package marketdata

import (
	"context"
	"time"
)

// Quote is a point-in-time price snapshot for a single instrument.
type Quote struct {
	// Symbol is the exchange trading symbol (e.g., "INFY").
	Symbol string

	// Exchange is the listing exchange (e.g., "NSE").
	Exchange string

	// LastPrice is the most recent traded price.
	LastPrice float64

	// Change is the absolute price change versus the previous close.
	Change float64

	// ChangePercent is the percentage change versus the previous close.
	ChangePercent float64

	// Volume is the traded volume for the current session.
	Volume int64

	// Timestamp is when the quote was observed upstream.
	Timestamp time.Time
}

// Candle is one OHLCV bar of daily history.
type Candle struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// IndexSnapshot is the current level of a market index.
type IndexSnapshot struct {
	// Name is the index name (e.g., "NIFTY 50").
	Name string

	// Value is the current index level.
	Value float64

	// ChangePercent is the percentage change versus the previous close.
	ChangePercent float64
}

// Provider supplies market data. Implementations must be safe for
// concurrent use; the execution engine calls them from multiple goroutines.
type Provider interface {
	// Quote returns the current quote for symbol. A symbol unknown to the
	// upstream source is an error.
	Quote(ctx context.Context, symbol string) (*Quote, error)

	// History returns up to days daily candles for symbol, oldest first.
	History(ctx context.Context, symbol string, days int) ([]Candle, error)

	// Overview returns snapshots of the major market indices.
	Overview(ctx context.Context) ([]IndexSnapshot, error)
}
