package brokerage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/pkg/provider/broker"
)

// ClientFactory builds a fresh broker client for one user. Each user gets
// their own client because the broker scopes authorisation to the
// connection.
type ClientFactory func(userID string) (broker.Client, error)

// Manager owns the session lifecycle for every user: issuing login URLs,
// confirming logins, revalidating ageing sessions, and handing out clients
// for tool execution. Manager is safe for concurrent use; operations on the
// same user are serialised, operations on different users are not.
type Manager struct {
	store   RecordStore
	factory ClientFactory

	// provider identifies the broker all this manager's sessions belong
	// to; it keys the store together with the user ID.
	provider string

	// validateInterval is how long a validated session is trusted before
	// the next use re-checks it against the broker.
	validateInterval time.Duration

	now func() time.Time

	mu      sync.Mutex
	clients map[string]broker.Client
	locks   map[string]*sync.Mutex
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithProvider sets the broker name sessions are keyed under. Default
// "kite".
func WithProvider(name string) ManagerOption {
	return func(m *Manager) {
		if name != "" {
			m.provider = name
		}
	}
}

// WithValidateInterval sets how long a validated session is trusted before
// re-validation. Default 15 minutes.
func WithValidateInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.validateInterval = d }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager persisting session records to store and
// building per-user clients with factory.
func NewManager(store RecordStore, factory ClientFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:            store,
		factory:          factory,
		provider:         "kite",
		validateInterval: 15 * time.Minute,
		now:              time.Now,
		clients:          make(map[string]broker.Client),
		locks:            make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockFor returns the mutex serialising operations for userID.
func (m *Manager) lockFor(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}

// clientFor returns the user's broker client, creating it on first use. A
// non-empty credential from the persisted record is bound into the fresh
// client so it resumes the authorised session rather than starting
// unauthenticated.
func (m *Manager) clientFor(userID, credential string) (broker.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[userID]; ok {
		return c, nil
	}
	c, err := m.factory(userID)
	if err != nil {
		return nil, fmt.Errorf("brokerage: create client for %q: %w", userID, err)
	}
	if credential != "" {
		c.SetCredential(credential)
	}
	m.clients[userID] = c
	return c, nil
}

// State returns the user's current session state. Users with no record are
// UNINITIALIZED.
func (m *Manager) State(ctx context.Context, userID string) (State, error) {
	rec, err := m.store.Get(ctx, userID, m.provider)
	if errors.Is(err, ErrNotFound) {
		return StateUninitialized, nil
	}
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// HasActiveSession reports whether userID currently holds an ACTIVE session.
// The execution engine uses it to fail broker tools fast instead of paying
// a doomed upstream call.
func (m *Manager) HasActiveSession(ctx context.Context, userID string) bool {
	state, err := m.State(ctx, userID)
	return err == nil && state == StateActive
}

// StartLogin begins the login flow for userID and returns the URL the user
// must visit. The session moves to PENDING_LOGIN. Calling StartLogin again
// while already pending reissues a URL; calling it on an ACTIVE session is
// an error.
func (m *Manager) StartLogin(ctx context.Context, userID string) (string, error) {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.State(ctx, userID)
	if err != nil {
		return "", err
	}
	if !state.CanTransition(StatePendingLogin) && state != StatePendingLogin {
		return "", fmt.Errorf("brokerage: start login for %q: session is %s", userID, state)
	}

	client, err := m.clientFor(userID, "")
	if err != nil {
		return "", err
	}

	url, err := client.StartLogin(ctx)
	if err != nil {
		return "", fmt.Errorf("brokerage: start login for %q: %w", userID, err)
	}

	rec := &Record{
		UserID:    userID,
		Provider:  m.provider,
		State:     StatePendingLogin,
		LoginURL:  url,
		UpdatedAt: m.now(),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return "", err
	}

	slog.Info("broker login started", "user_id", userID)
	return url, nil
}

// CompleteLogin verifies that the user finished the broker's login flow.
// On success the session becomes ACTIVE; on failure it stays PENDING_LOGIN
// and an auth-required error is returned.
func (m *Manager) CompleteLogin(ctx context.Context, userID string) error {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Get(ctx, userID, m.provider)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("brokerage: complete login for %q: %w: no login in progress", userID, fault.ErrAuthRequired)
	}
	if err != nil {
		return err
	}
	if rec.State != StatePendingLogin {
		return fmt.Errorf("brokerage: complete login for %q: session is %s, not PENDING_LOGIN", userID, rec.State)
	}

	client, err := m.clientFor(userID, "")
	if err != nil {
		return err
	}

	if err := client.Validate(ctx); err != nil {
		if errors.Is(err, fault.ErrAuthRequired) {
			return fmt.Errorf("brokerage: complete login for %q: %w: login not finished", userID, fault.ErrAuthRequired)
		}
		return fmt.Errorf("brokerage: complete login for %q: %w", userID, err)
	}

	rec.State = StateActive
	rec.LoginURL = ""
	rec.Credential = client.Credential()
	rec.LastValidated = m.now()
	rec.UpdatedAt = m.now()
	if err := m.store.Put(ctx, rec); err != nil {
		return err
	}

	slog.Info("broker session active", "user_id", userID)
	return nil
}

// ClientFor returns the broker client for userID, enforcing the session
// lifecycle: only ACTIVE sessions get a client, and sessions past their
// validation interval are re-checked first. Sessions that fail re-validation
// move to EXPIRED and an auth-required error is returned.
func (m *Manager) ClientFor(ctx context.Context, userID string) (broker.Client, error) {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Get(ctx, userID, m.provider)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("brokerage: %w: user %q has no broker session", fault.ErrAuthRequired, userID)
	}
	if err != nil {
		return nil, err
	}

	switch rec.State {
	case StateActive:
		// Fall through to freshness check.
	case StatePendingLogin:
		return nil, fmt.Errorf("brokerage: %w: login for %q not yet completed", fault.ErrAuthRequired, userID)
	default:
		return nil, fmt.Errorf("brokerage: %w: session for %q is %s", fault.ErrAuthRequired, userID, rec.State)
	}

	client, err := m.clientFor(userID, rec.Credential)
	if err != nil {
		return nil, err
	}

	if m.now().Sub(rec.LastValidated) >= m.validateInterval {
		if err := m.validateLocked(ctx, userID, rec, client); err != nil {
			return nil, err
		}
	}

	return client, nil
}

// Validate forces an upstream check of the user's session regardless of its
// freshness window. A session that passes has its timestamp and credential
// refreshed; one that fails moves to EXPIRED and an auth-required error is
// returned.
func (m *Manager) Validate(ctx context.Context, userID string) error {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Get(ctx, userID, m.provider)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("brokerage: %w: user %q has no broker session", fault.ErrAuthRequired, userID)
	}
	if err != nil {
		return err
	}
	if rec.State != StateActive {
		return fmt.Errorf("brokerage: %w: session for %q is %s", fault.ErrAuthRequired, userID, rec.State)
	}

	client, err := m.clientFor(userID, rec.Credential)
	if err != nil {
		return err
	}
	return m.validateLocked(ctx, userID, rec, client)
}

// validateLocked checks the session upstream and persists the outcome. The
// caller must hold the user's lock.
func (m *Manager) validateLocked(ctx context.Context, userID string, rec *Record, client broker.Client) error {
	if err := client.Validate(ctx); err != nil {
		rec.State = StateExpired
		rec.Credential = ""
		rec.UpdatedAt = m.now()
		if putErr := m.store.Put(ctx, rec); putErr != nil {
			slog.Warn("failed to persist expired session", "user_id", userID, "error", putErr)
		}
		slog.Info("broker session expired", "user_id", userID)
		return fmt.Errorf("brokerage: %w: session for %q expired", fault.ErrAuthRequired, userID)
	}
	// Credentials can rotate across reconnects; persist the live one.
	rec.Credential = client.Credential()
	rec.LastValidated = m.now()
	rec.UpdatedAt = m.now()
	return m.store.Put(ctx, rec)
}

// Logout closes the user's broker client and removes the session record.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	client, ok := m.clients[userID]
	delete(m.clients, userID)
	m.mu.Unlock()

	if ok {
		if err := client.Close(); err != nil {
			slog.Warn("error closing broker client", "user_id", userID, "error", err)
		}
	}

	if err := m.store.Delete(ctx, userID, m.provider); err != nil {
		return fmt.Errorf("brokerage: logout %q: %w", userID, err)
	}
	slog.Info("broker session removed", "user_id", userID)
	return nil
}

// Close releases every live broker client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for userID, client := range m.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("brokerage: close client for %q: %w", userID, err))
		}
		delete(m.clients, userID)
	}
	return errors.Join(errs...)
}
