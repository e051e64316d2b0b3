// Package mock provides a test double for the broker.Client interface.
package mock

import (
	"context"
	"sync"

	"github.com/finch-ai/finch/pkg/provider/broker"
)

// Client is a mock implementation of broker.Client.
// Zero values cause methods to return zero values and nil errors, which
// models an already-authorised session.
type Client struct {
	mu sync.Mutex

	// LoginURL is returned by StartLogin.
	LoginURL string

	// LoginErr, if non-nil, is returned from StartLogin.
	LoginErr error

	// ValidateErr, if non-nil, is returned from Validate. Set it to an error
	// wrapping fault.ErrAuthRequired to model a logged-out session.
	ValidateErr error

	// CredentialValue is returned by Credential.
	CredentialValue string

	// RestoredCredential records the most recent SetCredential argument.
	RestoredCredential string

	// HoldingsResult is returned by Holdings.
	HoldingsResult []broker.Holding

	// HoldingsErr, if non-nil, is returned from Holdings.
	HoldingsErr error

	// PositionsResult is returned by Positions.
	PositionsResult []broker.Position

	// PositionsErr, if non-nil, is returned from Positions.
	PositionsErr error

	// MarginsResult is returned by Margins.
	MarginsResult *broker.Margins

	// MarginsErr, if non-nil, is returned from Margins.
	MarginsErr error

	// OrdersResult is returned by Orders.
	OrdersResult []broker.Order

	// OrdersErr, if non-nil, is returned from Orders.
	OrdersErr error

	// Call counters.
	StartLoginCalls    int
	ValidateCalls      int
	SetCredentialCalls int
	HoldingsCalls      int
	PositionsCalls     int
	MarginsCalls       int
	OrdersCalls        int
	CloseCalls         int
}

// StartLogin implements broker.Client.
func (c *Client) StartLogin(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartLoginCalls++
	if c.LoginErr != nil {
		return "", c.LoginErr
	}
	if c.LoginURL != "" {
		return c.LoginURL, nil
	}
	return "https://broker.example.com/login/abc123", nil
}

// Validate implements broker.Client.
func (c *Client) Validate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ValidateCalls++
	return c.ValidateErr
}

// Credential implements broker.Client.
func (c *Client) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CredentialValue
}

// SetCredential implements broker.Client.
func (c *Client) SetCredential(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetCredentialCalls++
	c.RestoredCredential = credential
}

// Holdings implements broker.Client.
func (c *Client) Holdings(ctx context.Context) ([]broker.Holding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HoldingsCalls++
	if c.HoldingsErr != nil {
		return nil, c.HoldingsErr
	}
	return c.HoldingsResult, nil
}

// Positions implements broker.Client.
func (c *Client) Positions(ctx context.Context) ([]broker.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PositionsCalls++
	if c.PositionsErr != nil {
		return nil, c.PositionsErr
	}
	return c.PositionsResult, nil
}

// Margins implements broker.Client.
func (c *Client) Margins(ctx context.Context) (*broker.Margins, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MarginsCalls++
	if c.MarginsErr != nil {
		return nil, c.MarginsErr
	}
	if c.MarginsResult != nil {
		return c.MarginsResult, nil
	}
	return &broker.Margins{}, nil
}

// Orders implements broker.Client.
func (c *Client) Orders(ctx context.Context) ([]broker.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OrdersCalls++
	if c.OrdersErr != nil {
		return nil, c.OrdersErr
	}
	return c.OrdersResult, nil
}

// Close implements broker.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	return nil
}

// Ensure Client implements broker.Client at compile time.
var _ broker.Client = (*Client)(nil)
