package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/finch-ai/finch/internal/composer"
	"github.com/finch-ai/finch/internal/fault"
)

// queryResponse is the body of a successful synchronous query.
type queryResponse struct {
	Answer    string `json:"answer"`
	RequestID string `json:"request_id"`
}

// streamFrame is one SSE/websocket frame of a streamed answer.
type streamFrame struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

func frameFor(chunk composer.Chunk) streamFrame {
	f := streamFrame{Content: chunk.Content, Done: chunk.Done}
	if chunk.Err != nil {
		f.Error = "answer interrupted"
	}
	return f
}

func (s *Server) handleQuerySync(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()

	req, err := decodeQuery(r)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}

	answer, err := s.orch.Ask(r.Context(), req.UserID, req.Query)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: answer, RequestID: requestID})
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()

	req, err := decodeQuery(r)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, requestID, fmt.Errorf("httpapi: streaming unsupported by connection"))
		return
	}

	stream, err := s.orch.AskStream(r.Context(), req.UserID, req.Query)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range stream {
		payload, err := json.Marshal(frameFor(chunk))
		if err != nil {
			slog.Debug("frame encode failed", "request_id", requestID, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client disconnected; ctx cancellation drains the stream.
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleQueryWS(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()

	userID := r.URL.Query().Get("user_id")
	query := r.URL.Query().Get("query")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "request_id", requestID, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// The query may arrive as query parameters or as the first message.
	if query == "" {
		var req queryRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "expected a query message")
			return
		}
		userID, query = req.UserID, req.Query
	}

	stream, err := s.orch.AskStream(ctx, userID, query)
	if err != nil {
		frame := streamFrame{Done: true, Error: publicWSError(err)}
		_ = wsjson.Write(ctx, conn, frame)
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	for chunk := range stream {
		if err := wsjson.Write(ctx, conn, frameFor(chunk)); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// publicWSError maps pipeline errors onto websocket-safe wording.
func publicWSError(err error) string {
	switch {
	case errors.Is(err, fault.ErrValidation):
		return "invalid request"
	case errors.Is(err, fault.ErrAuthRequired):
		return "broker session required"
	case errors.Is(err, fault.ErrRateLimited):
		return "rate limited by upstream"
	default:
		return "internal error"
	}
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, requestID, fmt.Errorf("httpapi: user_id required: %w", fault.ErrValidation))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"summary": s.orch.MemorySummary(userID),
	})
}

func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, requestID, fmt.Errorf("httpapi: user_id required: %w", fault.ErrValidation))
		return
	}
	s.orch.ClearMemory(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":          snap,
		"avg_latency_ms": snap.AvgLatency().Milliseconds(),
	})
}

func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	s.orch.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}
