// Package httpresearch provides a research provider backed by a JSON-over-HTTP
// search API.
//
// The wire format follows the common search-and-summarise shape:
//
//	POST /v1/search  {"query": "..."}
//
// returning a summary and a ranked source list.
package httpresearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/pkg/provider/research"
)

// Ensure Provider implements the research.Provider interface at compile time.
var _ research.Provider = (*Provider)(nil)

// Provider implements research.Provider against a JSON-over-HTTP search API.
// Provider is safe for concurrent use.
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
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider for the search API at baseURL. A trailing slash
// is stripped automatically.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("httpresearch: base URL must not be empty")
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

// searchRequest is the JSON request body sent to /v1/search.
type searchRequest struct {
	Query string `json:"query"`
}

// searchResponse is the JSON response body returned by /v1/search.
type searchResponse struct {
	Summary string `json:"summary"`
	Sources []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"sources"`
}

// Research implements research.Provider.
func (p *Provider) Research(ctx context.Context, query string) (*research.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("httpresearch: research: %w: query must not be empty", fault.ErrValidation)
	}

	body, err := json.Marshal(searchRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("httpresearch: research: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpresearch: research: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpresearch: research: http: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("httpresearch: research: %w", &fault.RateLimitError{RetryAfter: retryAfter(resp)})
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("httpresearch: research: unexpected status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("httpresearch: research: decode response: %w", err)
	}

	result := &research.Result{
		Query:   query,
		Summary: payload.Summary,
		Sources: make([]research.Source, 0, len(payload.Sources)),
	}
	for _, s := range payload.Sources {
		result.Sources = append(result.Sources, research.Source{
			Title:   s.Title,
			URL:     s.URL,
			Snippet: s.Snippet,
		})
	}
	return result, nil
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
