// Package brokerage manages per-user broker sessions and their lifecycle.
//
// A session moves through a fixed state machine:
//
//	UNINITIALIZED -> PENDING_LOGIN -> ACTIVE -> EXPIRED  -> PENDING_LOGIN
//	                                         -> INVALID  -> PENDING_LOGIN
//
// Login happens on the broker's own pages via a URL handed to the user. The
// resulting opaque session credential is captured on login completion,
// persisted with the record, and rebound into fresh broker clients so an
// ACTIVE session survives process restarts. Sessions are re-validated
// lazily once their freshness window elapses.
package brokerage

import (
	"context"
	"errors"
	"time"
)

// State is a broker session's lifecycle state.
type State string

const (
	// StateUninitialized means no login has ever been started.
	StateUninitialized State = "UNINITIALIZED"

	// StatePendingLogin means a login URL was issued and the user has not
	// yet completed the broker's flow.
	StatePendingLogin State = "PENDING_LOGIN"

	// StateActive means the session validated successfully and broker tools
	// may run.
	StateActive State = "ACTIVE"

	// StateExpired means a previously active session failed re-validation.
	StateExpired State = "EXPIRED"

	// StateInvalid means the broker rejected the session outright.
	StateInvalid State = "INVALID"
)

// IsValid reports whether s is a recognised state.
func (s State) IsValid() bool {
	switch s {
	case StateUninitialized, StatePendingLogin, StateActive, StateExpired, StateInvalid:
		return true
	}
	return false
}

// transitions lists the permitted state changes.
var transitions = map[State][]State{
	StateUninitialized: {StatePendingLogin},
	StatePendingLogin:  {StateActive, StateInvalid, StatePendingLogin},
	StateActive:        {StateExpired, StateInvalid, StateActive},
	StateExpired:       {StatePendingLogin},
	StateInvalid:       {StatePendingLogin},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Record is the persisted view of one user's broker session, keyed by
// (UserID, Provider).
type Record struct {
	// UserID identifies the user the session belongs to.
	UserID string

	// Provider names the broker the session belongs to, e.g. "kite". One
	// user may hold independent sessions with different brokers.
	Provider string

	// State is the session's current lifecycle state.
	State State

	// LoginURL is the most recently issued login URL. Only meaningful in
	// PENDING_LOGIN.
	LoginURL string

	// Credential is the opaque session token captured from the broker
	// client after a successful login. It is rebound into fresh clients so
	// the session survives restarts. Empty outside ACTIVE.
	Credential string

	// LastValidated is when the session last passed validation. Zero until
	// the first successful validation.
	LastValidated time.Time

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time
}

// ErrNotFound is returned by a [RecordStore] when no record exists for the
// requested user.
var ErrNotFound = errors.New("brokerage: session record not found")

// RecordStore persists session records keyed by (userID, provider).
// Implementations must be safe for concurrent use.
type RecordStore interface {
	// Get returns the record for (userID, provider), or [ErrNotFound].
	Get(ctx context.Context, userID, provider string) (*Record, error)

	// Put inserts or replaces the record for (record.UserID,
	// record.Provider).
	Put(ctx context.Context, record *Record) error

	// Delete removes the record for (userID, provider). Deleting an absent
	// record is not an error.
	Delete(ctx context.Context, userID, provider string) error
}
