// Package postgres provides a PostgreSQL-backed session record store so that
// active broker sessions survive server restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/finch-ai/finch/internal/brokerage"
)

// Schema is the SQL DDL for the broker_sessions table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS broker_sessions (
    user_id        TEXT NOT NULL,
    provider       TEXT NOT NULL,
    state          TEXT NOT NULL,
    login_url      TEXT NOT NULL DEFAULT '',
    credential     TEXT NOT NULL DEFAULT '',
    last_validated TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, provider)
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [brokerage.RecordStore] backed by PostgreSQL.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ brokerage.RecordStore = (*Store)(nil)

// New creates a Store using the given database connection or pool. The
// caller is responsible for calling [Store.Migrate] to ensure the schema
// exists before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// broker_sessions table if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("brokerage postgres: migrate: %w", err)
	}
	return nil
}

// Get implements brokerage.RecordStore.
func (s *Store) Get(ctx context.Context, userID, provider string) (*brokerage.Record, error) {
	const query = `
		SELECT user_id, provider, state, login_url, credential, last_validated, updated_at
		FROM broker_sessions
		WHERE user_id = $1 AND provider = $2`

	var rec brokerage.Record
	var state string
	err := s.db.QueryRow(ctx, query, userID, provider).Scan(
		&rec.UserID, &rec.Provider, &state, &rec.LoginURL, &rec.Credential,
		&rec.LastValidated, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, brokerage.ErrNotFound
		}
		return nil, fmt.Errorf("brokerage postgres: get %q/%s: %w", userID, provider, err)
	}
	rec.State = brokerage.State(state)
	return &rec, nil
}

// Put implements brokerage.RecordStore.
func (s *Store) Put(ctx context.Context, record *brokerage.Record) error {
	const query = `
		INSERT INTO broker_sessions (user_id, provider, state, login_url, credential, last_validated, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			state = EXCLUDED.state,
			login_url = EXCLUDED.login_url,
			credential = EXCLUDED.credential,
			last_validated = EXCLUDED.last_validated,
			updated_at = now()`

	_, err := s.db.Exec(ctx, query,
		record.UserID, record.Provider, string(record.State), record.LoginURL,
		record.Credential, record.LastValidated,
	)
	if err != nil {
		return fmt.Errorf("brokerage postgres: put %q: %w", record.UserID, err)
	}
	return nil
}

// Delete implements brokerage.RecordStore. Deleting an absent record is not
// an error.
func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	const query = `DELETE FROM broker_sessions WHERE user_id = $1 AND provider = $2`
	if _, err := s.db.Exec(ctx, query, userID, provider); err != nil {
		return fmt.Errorf("brokerage postgres: delete %q/%s: %w", userID, provider, err)
	}
	return nil
}
