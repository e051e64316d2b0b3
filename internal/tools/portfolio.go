package tools

import (
	"context"
	"fmt"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/pkg/provider/broker"
)

// BrokerSource resolves the brokerage client for a user. The session manager
// implements this; it returns an error wrapping [fault.ErrAuthRequired] when
// the user has no active session.
type BrokerSource interface {
	ClientFor(ctx context.Context, userID string) (broker.Client, error)
}

// emptyObjectSchema is the input schema shared by the parameter-less
// portfolio tools.
func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
}

// resolveClient pulls the requesting user from ctx and returns their broker
// client.
func resolveClient(ctx context.Context, source BrokerSource) (broker.Client, error) {
	userID := UserFrom(ctx)
	if userID == "" {
		return nil, fmt.Errorf("tools: %w: no user bound to request", fault.ErrAuthRequired)
	}
	return source.ClientFor(ctx, userID)
}

// portfolioSpec builds the shared spec shape for session-scoped reads.
func portfolioSpec(name, description string) Spec {
	return Spec{
		Name:            name,
		Description:     description,
		InputSchema:     emptyObjectSchema(),
		Cacheable:       true,
		ConcurrencySafe: false,
		RequiresSession: true,
	}
}

// holdingsTool exposes broker.Client.Holdings as the get_holdings tool.
type holdingsTool struct {
	source BrokerSource
}

// NewHoldingsTool returns the get_holdings tool.
func NewHoldingsTool(source BrokerSource) Tool {
	return &holdingsTool{source: source}
}

func (t *holdingsTool) Spec() Spec {
	return portfolioSpec("get_holdings",
		"Get the user's portfolio holdings with quantity, average price, and profit/loss. Requires a logged-in broker session.")
}

func (t *holdingsTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	client, err := resolveClient(ctx, t.source)
	if err != nil {
		return nil, err
	}
	holdings, err := client.Holdings(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: get_holdings: %w", err)
	}
	return holdings, nil
}

// positionsTool exposes broker.Client.Positions as the get_positions tool.
type positionsTool struct {
	source BrokerSource
}

// NewPositionsTool returns the get_positions tool.
func NewPositionsTool(source BrokerSource) Tool {
	return &positionsTool{source: source}
}

func (t *positionsTool) Spec() Spec {
	return portfolioSpec("get_positions",
		"Get the user's open intraday and derivative positions. Requires a logged-in broker session.")
}

func (t *positionsTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	client, err := resolveClient(ctx, t.source)
	if err != nil {
		return nil, err
	}
	positions, err := client.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: get_positions: %w", err)
	}
	return positions, nil
}

// marginsTool exposes broker.Client.Margins as the get_margins tool.
type marginsTool struct {
	source BrokerSource
}

// NewMarginsTool returns the get_margins tool.
func NewMarginsTool(source BrokerSource) Tool {
	return &marginsTool{source: source}
}

func (t *marginsTool) Spec() Spec {
	return portfolioSpec("get_margins",
		"Get the user's available funds and used margin. Requires a logged-in broker session.")
}

func (t *marginsTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	client, err := resolveClient(ctx, t.source)
	if err != nil {
		return nil, err
	}
	margins, err := client.Margins(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: get_margins: %w", err)
	}
	return margins, nil
}

// ordersTool exposes broker.Client.Orders as the get_orders tool.
type ordersTool struct {
	source BrokerSource
}

// NewOrdersTool returns the get_orders tool.
func NewOrdersTool(source BrokerSource) Tool {
	return &ordersTool{source: source}
}

func (t *ordersTool) Spec() Spec {
	return portfolioSpec("get_orders",
		"Get the user's orders for the current trading day. Requires a logged-in broker session.")
}

func (t *ordersTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	client, err := resolveClient(ctx, t.source)
	if err != nil {
		return nil, err
	}
	orders, err := client.Orders(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: get_orders: %w", err)
	}
	return orders, nil
}
