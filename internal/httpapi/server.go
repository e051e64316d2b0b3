// Package httpapi exposes the orchestrator over HTTP: synchronous queries,
// SSE and websocket streaming, memory inspection, broker session
// lifecycle, stats, health, and Prometheus metrics.
//
// The layer is deliberately thin. Handlers decode, delegate, and encode;
// every behaviour lives behind the orchestrator and the session manager.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finch-ai/finch/internal/brokerage"
	"github.com/finch-ai/finch/internal/composer"
	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/observe"
	"github.com/finch-ai/finch/internal/orchestrator"
	"github.com/finch-ai/finch/internal/resilience"
)

// Asker is the orchestrator surface the API depends on.
type Asker interface {
	Ask(ctx context.Context, userID, query string) (string, error)
	AskStream(ctx context.Context, userID, query string) (<-chan composer.Chunk, error)
	MemorySummary(userID string) string
	ClearMemory(userID string)
	Stats() orchestrator.Snapshot
	ResetStats()
}

// SessionManager is the broker session surface the API depends on.
type SessionManager interface {
	State(ctx context.Context, userID string) (brokerage.State, error)
	StartLogin(ctx context.Context, userID string) (string, error)
	CompleteLogin(ctx context.Context, userID string) error
	Validate(ctx context.Context, userID string) error
	Logout(ctx context.Context, userID string) error
}

// Server holds the API's dependencies and builds its handler.
type Server struct {
	orch        Asker
	sessions    SessionManager
	metrics     *observe.Metrics
	promHandler bool
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsEndpoint controls whether /metrics is served. Default true.
func WithMetricsEndpoint(enabled bool) Option {
	return func(s *Server) { s.promHandler = enabled }
}

// NewServer creates the API server. sessions may be nil when no broker is
// configured; session endpoints then answer 503.
func NewServer(orch Asker, sessions SessionManager, opts ...Option) *Server {
	s := &Server{orch: orch, sessions: sessions, promHandler: true}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed handler with observability middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/query/sync", s.handleQuerySync)
	mux.HandleFunc("POST /v1/query/stream", s.handleQueryStream)
	mux.HandleFunc("GET /v1/query/ws", s.handleQueryWS)

	mux.HandleFunc("GET /v1/memory", s.handleMemoryGet)
	mux.HandleFunc("DELETE /v1/memory", s.handleMemoryClear)

	mux.HandleFunc("GET /v1/session", s.handleSessionState)
	mux.HandleFunc("POST /v1/session/login", s.handleSessionLogin)
	mux.HandleFunc("POST /v1/session/complete", s.handleSessionComplete)
	mux.HandleFunc("POST /v1/session/validate", s.handleSessionValidate)
	mux.HandleFunc("DELETE /v1/session", s.handleSessionLogout)

	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("DELETE /v1/stats", s.handleStatsReset)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.promHandler {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return observe.Middleware(s.metrics)(mux)
}

// queryRequest is the body of the query endpoints.
type queryRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// decodeQuery reads and sanity-checks a query request body.
func decodeQuery(r *http.Request) (*queryRequest, error) {
	var req queryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("httpapi: bad request body: %w", fault.ErrValidation)
	}
	return &req, nil
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
	LoginHint bool   `json:"login_required,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses. Internal detail is
// logged, never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	var (
		status = http.StatusInternalServerError
		body   = errorBody{Error: "internal error", RequestID: requestID}
	)

	switch {
	case errors.Is(err, fault.ErrValidation):
		status = http.StatusBadRequest
		body.Error = "invalid request"
	case errors.Is(err, fault.ErrAuthRequired):
		status = http.StatusUnauthorized
		body.Error = "broker session required"
		body.LoginHint = true
	case errors.Is(err, fault.ErrRateLimited):
		status = http.StatusTooManyRequests
		body.Error = "rate limited by upstream"
		if d := fault.RetryAfter(err); d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds())))
		}
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
		body.Error = "service temporarily degraded"
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
		return
	case errors.Is(err, brokerage.ErrNotFound):
		status = http.StatusNotFound
		body.Error = "no broker session"
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", requestID, "error", err)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "request_id", requestID,
			"status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

// newRequestID tags one request's logs and responses.
func newRequestID() string { return uuid.NewString() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
