package tools

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/finch-ai/finch/pkg/provider/marketdata"
)

// quoteTool exposes marketdata.Provider.Quote as the get_quote tool.
type quoteTool struct {
	md       marketdata.Provider
	resolver *SymbolResolver
}

// NewQuoteTool returns the get_quote tool. Symbols are resolved through
// resolver first, so plans may carry either tickers or company names.
func NewQuoteTool(md marketdata.Provider, resolver *SymbolResolver) Tool {
	return &quoteTool{md: md, resolver: resolver}
}

func (t *quoteTool) Spec() Spec {
	return Spec{
		Name:        "get_quote",
		Description: "Get the current price, change, and volume for a stock. Input is the trading symbol or company name.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Trading symbol or company name, e.g. INFY or Infosys.",
				},
			},
			"required":             []any{"symbol"},
			"additionalProperties": false,
		},
		Cacheable:       true,
		ConcurrencySafe: true,
	}
}

func (t *quoteTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	raw, _ := input["symbol"].(string)
	symbol, _ := t.resolver.Resolve(raw)
	quote, err := t.md.Quote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("tools: get_quote %q: %w", symbol, err)
	}
	return quote, nil
}

// historyTool exposes marketdata.Provider.History as the get_history tool.
type historyTool struct {
	md       marketdata.Provider
	resolver *SymbolResolver
}

// NewHistoryTool returns the get_history tool.
func NewHistoryTool(md marketdata.Provider, resolver *SymbolResolver) Tool {
	return &historyTool{md: md, resolver: resolver}
}

func (t *historyTool) Spec() Spec {
	return Spec{
		Name:        "get_history",
		Description: "Get daily price history (OHLCV candles) for a stock over the last N days.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Trading symbol or company name.",
				},
				"days": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     365,
					"description": "Number of trading days of history. Defaults to 30.",
				},
			},
			"required":             []any{"symbol"},
			"additionalProperties": false,
		},
		// Closed candles do not change; keep them far longer than quotes.
		Cacheable:       true,
		CacheTTL:        15 * time.Minute,
		ConcurrencySafe: true,
	}
}

func (t *historyTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	raw, _ := input["symbol"].(string)
	symbol, _ := t.resolver.Resolve(raw)
	days := intInput(input, "days", 30)
	candles, err := t.md.History(ctx, symbol, days)
	if err != nil {
		return nil, fmt.Errorf("tools: get_history %q: %w", symbol, err)
	}
	return candles, nil
}

// overviewTool exposes marketdata.Provider.Overview as get_market_overview.
type overviewTool struct {
	md marketdata.Provider
}

// NewOverviewTool returns the get_market_overview tool.
func NewOverviewTool(md marketdata.Provider) Tool {
	return &overviewTool{md: md}
}

func (t *overviewTool) Spec() Spec {
	return Spec{
		Name:        "get_market_overview",
		Description: "Get current levels of the major market indices. Takes no input.",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
		Cacheable:       true,
		ConcurrencySafe: true,
	}
}

func (t *overviewTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	snaps, err := t.md.Overview(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: get_market_overview: %w", err)
	}
	return snaps, nil
}

// intInput reads an integer field from a decoded JSON object, tolerating the
// float64 representation encoding/json produces.
func intInput(input map[string]any, key string, def int) int {
	v, ok := input[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	}
	return def
}
