package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/finch-ai/finch/internal/fault"
)

// sessionRequest is the body of the session mutation endpoints.
type sessionRequest struct {
	UserID string `json:"user_id"`
}

func decodeSession(r *http.Request) (string, error) {
	var req sessionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.UserID == "" {
		return "", fmt.Errorf("httpapi: user_id required: %w", fault.ErrValidation)
	}
	return req.UserID, nil
}

// requireSessions answers 503 when no broker is configured.
func (s *Server) requireSessions(w http.ResponseWriter) bool {
	if s.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no broker configured",
		})
		return false
	}
	return true
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	if !s.requireSessions(w) {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, requestID, fmt.Errorf("httpapi: user_id required: %w", fault.ErrValidation))
		return
	}

	state, err := s.sessions.State(r.Context(), userID)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"state":   string(state),
	})
}

func (s *Server) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	if !s.requireSessions(w) {
		return
	}
	userID, err := decodeSession(r)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}

	loginURL, err := s.sessions.StartLogin(r.Context(), userID)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":   userID,
		"login_url": loginURL,
	})
}

func (s *Server) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	if !s.requireSessions(w) {
		return
	}
	userID, err := decodeSession(r)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}

	if err := s.sessions.CompleteLogin(r.Context(), userID); err != nil {
		writeError(w, r, requestID, err)
		return
	}
	s.metrics.SessionLogins.Add(r.Context(), 1)
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"state":   "ACTIVE",
	})
}

func (s *Server) handleSessionValidate(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	if !s.requireSessions(w) {
		return
	}
	userID, err := decodeSession(r)
	if err != nil {
		writeError(w, r, requestID, err)
		return
	}

	if err := s.sessions.Validate(r.Context(), userID); err != nil {
		writeError(w, r, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"state":   "ACTIVE",
	})
}

func (s *Server) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	if !s.requireSessions(w) {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, r, requestID, fmt.Errorf("httpapi: user_id required: %w", fault.ErrValidation))
		return
	}

	if err := s.sessions.Logout(r.Context(), userID); err != nil {
		writeError(w, r, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
