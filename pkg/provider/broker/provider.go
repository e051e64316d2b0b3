// Package broker defines the client interface for an authenticated brokerage
// account: portfolio holdings, open positions, margins, and orders.
//
// Broker access is session-scoped. A [Client] starts unauthenticated; callers
// obtain a login URL via [Client.StartLogin], send the user through the
// broker's own login flow, and then verify the session with [Client.Validate].
// Portfolio methods return [fault.ErrAuthRequired] until the session is live.
package broker

import (
	"context"
	"time"
)

// Holding is one instrument held in the user's long-term portfolio.
type Holding struct {
	// Symbol is the exchange trading symbol (e.g., "INFY").
	Symbol string

	// Exchange is the listing exchange (e.g., "NSE").
	Exchange string

	// Quantity is the number of units held.
	Quantity int64

	// AveragePrice is the average buy price.
	AveragePrice float64

	// LastPrice is the most recent traded price.
	LastPrice float64

	// PnL is the unrealised profit or loss on the holding.
	PnL float64
}

// Position is one open intraday or derivative position.
type Position struct {
	Symbol       string
	Product      string
	Quantity     int64
	AveragePrice float64
	LastPrice    float64
	PnL          float64
}

// Margins summarises the funds available to trade.
type Margins struct {
	// AvailableCash is the free cash balance.
	AvailableCash float64

	// UsedMargin is the margin currently blocked by open positions.
	UsedMargin float64

	// Net is available cash minus used margin.
	Net float64
}

// Order is one order from the current trading day.
type Order struct {
	OrderID        string
	Symbol         string
	Side           string // "BUY" or "SELL"
	Status         string // e.g., "COMPLETE", "OPEN", "REJECTED"
	Quantity       int64
	FilledQuantity int64
	Price          float64
	PlacedAt       time.Time
}

// Client is a session-scoped connection to one user's brokerage account.
// Implementations must be safe for concurrent use.
type Client interface {
	// StartLogin begins the broker's login flow and returns the URL the user
	// must visit to authorise the session.
	StartLogin(ctx context.Context) (loginURL string, err error)

	// Validate checks that the session is live and authorised. It returns
	// nil for an active session and an error wrapping
	// [fault.ErrAuthRequired] when login is needed.
	Validate(ctx context.Context) error

	// Credential returns the opaque token identifying the authorised
	// broker session, or empty before one exists. Callers persist it and
	// hand it to a future client via SetCredential so the session
	// survives process restarts.
	Credential() string

	// SetCredential binds a previously persisted credential so the next
	// connection resumes the authorised session instead of starting
	// unauthenticated. Must be called before the first operation.
	SetCredential(credential string)

	// Holdings returns the user's portfolio holdings.
	Holdings(ctx context.Context) ([]Holding, error)

	// Positions returns the user's open positions.
	Positions(ctx context.Context) ([]Position, error)

	// Margins returns the user's available funds.
	Margins(ctx context.Context) (*Margins, error)

	// Orders returns the user's orders for the current trading day.
	Orders(ctx context.Context) ([]Order, error)

	// Close releases the connection. The client must not be used after
	// Close returns.
	Close() error
}
