// Package httpmd provides a market data provider backed by a JSON-over-HTTP
// quote service.
//
// The wire format is the small REST shape most quote gateways expose:
//
//	GET /v1/quote?symbol=INFY
//	GET /v1/history?symbol=INFY&days=30
//	GET /v1/overview
//
// Example usage:
//
//	p, err := httpmd.New("https://quotes.example.com", httpmd.WithAPIKey(key))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	q, err := p.Quote(ctx, "INFY")
package httpmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/pkg/provider/marketdata"
)

// Ensure Provider implements the marketdata.Provider interface at compile time.
var _ marketdata.Provider = (*Provider)(nil)

// Provider implements marketdata.Provider against a JSON-over-HTTP quote
// service. Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	apiKey  string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider for the quote service at baseURL. A trailing
// slash is stripped automatically.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("httpmd: base URL must not be empty")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Provider{
		baseURL:    baseURL,
		apiKey:     cfg.apiKey,
		httpClient: httpClient,
	}, nil
}

// quotePayload is the JSON shape of the /v1/quote response.
type quotePayload struct {
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	LastPrice     float64 `json:"last_price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	Timestamp     int64   `json:"timestamp"`
}

// candlePayload is one element of the /v1/history response.
type candlePayload struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// indexPayload is one element of the /v1/overview response.
type indexPayload struct {
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	ChangePercent float64 `json:"change_percent"`
}

// Quote implements marketdata.Provider.
func (p *Provider) Quote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	if symbol == "" {
		return nil, fmt.Errorf("httpmd: quote: %w: symbol must not be empty", fault.ErrValidation)
	}

	var payload quotePayload
	q := url.Values{"symbol": {symbol}}
	if err := p.getJSON(ctx, "/v1/quote", q, &payload); err != nil {
		return nil, fmt.Errorf("httpmd: quote %q: %w", symbol, err)
	}

	return &marketdata.Quote{
		Symbol:        payload.Symbol,
		Exchange:      payload.Exchange,
		LastPrice:     payload.LastPrice,
		Change:        payload.Change,
		ChangePercent: payload.ChangePercent,
		Volume:        payload.Volume,
		Timestamp:     time.Unix(payload.Timestamp, 0),
	}, nil
}

// History implements marketdata.Provider.
func (p *Provider) History(ctx context.Context, symbol string, days int) ([]marketdata.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("httpmd: history: %w: symbol must not be empty", fault.ErrValidation)
	}
	if days <= 0 {
		days = 30
	}

	var payload []candlePayload
	q := url.Values{
		"symbol": {symbol},
		"days":   {strconv.Itoa(days)},
	}
	if err := p.getJSON(ctx, "/v1/history", q, &payload); err != nil {
		return nil, fmt.Errorf("httpmd: history %q: %w", symbol, err)
	}

	candles := make([]marketdata.Candle, 0, len(payload))
	for _, c := range payload {
		date, err := time.Parse("2006-01-02", c.Date)
		if err != nil {
			return nil, fmt.Errorf("httpmd: history %q: bad candle date %q: %w", symbol, c.Date, err)
		}
		candles = append(candles, marketdata.Candle{
			Date:   date,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}
	return candles, nil
}

// Overview implements marketdata.Provider.
func (p *Provider) Overview(ctx context.Context) ([]marketdata.IndexSnapshot, error) {
	var payload []indexPayload
	if err := p.getJSON(ctx, "/v1/overview", nil, &payload); err != nil {
		return nil, fmt.Errorf("httpmd: overview: %w", err)
	}

	snaps := make([]marketdata.IndexSnapshot, 0, len(payload))
	for _, ix := range payload {
		snaps = append(snaps, marketdata.IndexSnapshot{
			Name:          ix.Name,
			Value:         ix.Value,
			ChangePercent: ix.ChangePercent,
		})
	}
	return snaps, nil
}

// getJSON issues a GET request against path with the given query values and
// decodes the JSON response into out. It respects context cancellation via
// http.NewRequestWithContext.
func (p *Provider) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &fault.RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: unknown symbol", fault.ErrValidation)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryAfter parses the Retry-After header as a second count. Returns zero
// when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
