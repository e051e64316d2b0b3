// Package kitemcp provides a broker client backed by the Zerodha Kite MCP
// server.
//
// Kite exposes account access as MCP tools over a streamable-HTTP endpoint.
// Each Client holds one MCP session, which is what Kite scopes the login to:
// after the user completes the login URL returned by the "login" tool, every
// subsequent tool call on the same session is authorised.
//
// Example usage:
//
//	c, err := kitemcp.New("https://mcp.kite.trade/mcp")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	url, err := c.StartLogin(ctx)
//	// user visits url, then:
//	err = c.Validate(ctx)
//	holdings, err := c.Holdings(ctx)
package kitemcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/pkg/provider/broker"
)

// Tool names exposed by the Kite MCP server.
const (
	toolLogin     = "login"
	toolProfile   = "get_profile"
	toolHoldings  = "get_holdings"
	toolPositions = "get_positions"
	toolMargins   = "get_margins"
	toolOrders    = "get_orders"
)

// Ensure Client implements the broker.Client interface at compile time.
var _ broker.Client = (*Client)(nil)

// Client is a session-scoped Kite MCP connection. Client is safe for
// concurrent use; the MCP session is established lazily on first call and
// reused afterwards.
type Client struct {
	endpoint string
	client   *mcpsdk.Client

	mu         sync.Mutex
	session    *mcpsdk.ClientSession
	credential string
}

// New constructs a Client for the Kite MCP server at endpoint. No connection
// is made until the first call.
func New(endpoint string) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("kitemcp: endpoint must not be empty")
	}
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "finch-broker", Version: "1.0.0"},
		nil,
	)
	return &Client{
		endpoint: endpoint,
		client:   client,
	}, nil
}

// connect returns the live MCP session, dialing the endpoint on first use.
// A restored credential is carried as the MCP session header so the server
// resumes the authorised session instead of opening a fresh anonymous one.
func (c *Client) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	transport := &mcpsdk.StreamableClientTransport{Endpoint: c.endpoint}
	if c.credential != "" {
		transport.HTTPClient = &http.Client{
			Transport: &sessionRoundTripper{
				base:      http.DefaultTransport,
				sessionID: c.credential,
			},
		}
	}

	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("kitemcp: connect %q: %w", c.endpoint, err)
	}
	c.session = session
	return session, nil
}

// Credential implements broker.Client. It returns the live MCP session ID
// once connected, or the restored credential before that.
func (c *Client) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session.ID()
	}
	return c.credential
}

// SetCredential implements broker.Client. It must be called before the
// first operation; a credential set after connecting only takes effect on
// the next connection.
func (c *Client) SetCredential(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = credential
}

// sessionRoundTripper stamps every request with the persisted MCP session
// ID so the server rebinds the authorised session.
type sessionRoundTripper struct {
	base      http.RoundTripper
	sessionID string
}

func (t *sessionRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Mcp-Session-Id") == "" {
		r.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	return t.base.RoundTrip(r)
}

// loginURLPattern matches the login URL embedded in the login tool's reply.
var loginURLPattern = regexp.MustCompile(`https://\S+`)

// StartLogin implements broker.Client. It invokes the Kite "login" tool and
// extracts the login URL from its reply.
func (c *Client) StartLogin(ctx context.Context) (string, error) {
	text, err := c.callTool(ctx, toolLogin, nil)
	if err != nil {
		// The login tool itself reporting an auth problem is expected; the
		// URL is usually carried in the error text.
		if url := loginURLPattern.FindString(err.Error()); url != "" {
			return strings.TrimRight(url, ".,)"), nil
		}
		return "", fmt.Errorf("kitemcp: start login: %w", err)
	}
	url := loginURLPattern.FindString(text)
	if url == "" {
		return "", fmt.Errorf("kitemcp: start login: no login URL in reply %q", truncate(text, 200))
	}
	return strings.TrimRight(url, ".,)"), nil
}

// Validate implements broker.Client by issuing a cheap profile request.
func (c *Client) Validate(ctx context.Context) error {
	if _, err := c.callTool(ctx, toolProfile, nil); err != nil {
		return fmt.Errorf("kitemcp: validate: %w", err)
	}
	return nil
}

// holdingPayload mirrors the Kite holdings JSON shape.
type holdingPayload struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int64   `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

// Holdings implements broker.Client.
func (c *Client) Holdings(ctx context.Context) ([]broker.Holding, error) {
	var payload []holdingPayload
	if err := c.callToolJSON(ctx, toolHoldings, nil, &payload); err != nil {
		return nil, fmt.Errorf("kitemcp: holdings: %w", err)
	}
	holdings := make([]broker.Holding, 0, len(payload))
	for _, h := range payload {
		holdings = append(holdings, broker.Holding{
			Symbol:       h.TradingSymbol,
			Exchange:     h.Exchange,
			Quantity:     h.Quantity,
			AveragePrice: h.AveragePrice,
			LastPrice:    h.LastPrice,
			PnL:          h.PnL,
		})
	}
	return holdings, nil
}

// positionPayload mirrors the Kite positions JSON shape.
type positionPayload struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Product       string  `json:"product"`
	Quantity      int64   `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

// Positions implements broker.Client.
func (c *Client) Positions(ctx context.Context) ([]broker.Position, error) {
	var payload []positionPayload
	if err := c.callToolJSON(ctx, toolPositions, nil, &payload); err != nil {
		return nil, fmt.Errorf("kitemcp: positions: %w", err)
	}
	positions := make([]broker.Position, 0, len(payload))
	for _, p := range payload {
		positions = append(positions, broker.Position{
			Symbol:       p.TradingSymbol,
			Product:      p.Product,
			Quantity:     p.Quantity,
			AveragePrice: p.AveragePrice,
			LastPrice:    p.LastPrice,
			PnL:          p.PnL,
		})
	}
	return positions, nil
}

// marginsPayload mirrors the Kite margins JSON shape for the equity segment.
type marginsPayload struct {
	Net       float64 `json:"net"`
	Available struct {
		Cash float64 `json:"cash"`
	} `json:"available"`
	Utilised struct {
		Debits float64 `json:"debits"`
	} `json:"utilised"`
}

// Margins implements broker.Client.
func (c *Client) Margins(ctx context.Context) (*broker.Margins, error) {
	var payload marginsPayload
	if err := c.callToolJSON(ctx, toolMargins, nil, &payload); err != nil {
		return nil, fmt.Errorf("kitemcp: margins: %w", err)
	}
	return &broker.Margins{
		AvailableCash: payload.Available.Cash,
		UsedMargin:    payload.Utilised.Debits,
		Net:           payload.Net,
	}, nil
}

// orderPayload mirrors the Kite orders JSON shape.
type orderPayload struct {
	OrderID         string  `json:"order_id"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TransactionType string  `json:"transaction_type"`
	Status          string  `json:"status"`
	Quantity        int64   `json:"quantity"`
	FilledQuantity  int64   `json:"filled_quantity"`
	Price           float64 `json:"price"`
	OrderTimestamp  string  `json:"order_timestamp"`
}

// Orders implements broker.Client.
func (c *Client) Orders(ctx context.Context) ([]broker.Order, error) {
	var payload []orderPayload
	if err := c.callToolJSON(ctx, toolOrders, nil, &payload); err != nil {
		return nil, fmt.Errorf("kitemcp: orders: %w", err)
	}
	orders := make([]broker.Order, 0, len(payload))
	for _, o := range payload {
		placedAt, _ := time.Parse("2006-01-02 15:04:05", o.OrderTimestamp)
		orders = append(orders, broker.Order{
			OrderID:        o.OrderID,
			Symbol:         o.TradingSymbol,
			Side:           o.TransactionType,
			Status:         o.Status,
			Quantity:       o.Quantity,
			FilledQuantity: o.FilledQuantity,
			Price:          o.Price,
			PlacedAt:       placedAt,
		})
	}
	return orders, nil
}

// Close implements broker.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	if err != nil {
		return fmt.Errorf("kitemcp: close: %w", err)
	}
	return nil
}

// callTool invokes one Kite tool and returns its concatenated text content.
// Application-level errors reported by the tool are converted to Go errors;
// replies mentioning a missing or expired login map to fault.ErrAuthRequired.
func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	session, err := c.connect(ctx)
	if err != nil {
		return "", err
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("call %q: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	text := sb.String()

	if result.IsError {
		if isAuthFailure(text) {
			return "", fmt.Errorf("%q: %w: %s", name, fault.ErrAuthRequired, truncate(text, 200))
		}
		return "", fmt.Errorf("%q: tool error: %s", name, truncate(text, 200))
	}
	return text, nil
}

// callToolJSON invokes one Kite tool and decodes its text reply as JSON. The
// reply may carry leading prose before the JSON document; decoding starts at
// the first bracket.
func (c *Client) callToolJSON(ctx context.Context, name string, args map[string]any, out any) error {
	text, err := c.callTool(ctx, name, args)
	if err != nil {
		return err
	}
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return fmt.Errorf("%q: no JSON in reply %q", name, truncate(text, 200))
	}
	if err := json.Unmarshal([]byte(text[start:]), out); err != nil {
		return fmt.Errorf("%q: decode reply: %w", name, err)
	}
	return nil
}

// isAuthFailure recognises the session-related failures Kite reports as tool
// errors.
func isAuthFailure(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"not logged in", "login required", "session expired", "invalid session", "unauthorized", "token"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// truncate shortens s for inclusion in error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
