// Package tools defines the closed set of tools the planner may select and
// the registry that validates their inputs.
//
// A tool is a named, schema-checked operation over one of the upstream
// providers: market data, web research, or the user's brokerage account.
// The planner only ever sees [Spec] values; execution goes through
// [Tool.Invoke] with an input that has already passed schema validation.
package tools

import (
	"context"
	"time"
)

// Spec describes a tool to the planner and the execution engine.
type Spec struct {
	// Name is the unique tool identifier the planner selects by.
	Name string

	// Description tells the planning model what the tool does and when to
	// use it.
	Description string

	// InputSchema is the JSON Schema (draft-07) for the tool's input object.
	InputSchema map[string]any

	// Cacheable marks tools whose results may be served from the result
	// cache within its freshness window. Broker reads are cacheable; the
	// login flow is not.
	Cacheable bool

	// CacheTTL overrides the cache's default freshness window for this
	// tool's results. Zero uses the default. Historical data stays fresh
	// far longer than a live quote.
	CacheTTL time.Duration

	// ConcurrencySafe marks tools that may run in parallel with other calls
	// in the same plan. Tools that are not concurrency safe run after the
	// parallel batch, in plan order.
	ConcurrencySafe bool

	// RequiresSession marks tools that need an active brokerage session.
	// The engine fails these fast with an auth-required error instead of
	// invoking them when the user has no live session.
	RequiresSession bool
}

// Tool is one executable operation.
type Tool interface {
	// Spec returns the tool's static description.
	Spec() Spec

	// Invoke runs the tool. The input has been validated against
	// [Spec.InputSchema] before Invoke is called. The returned value must be
	// JSON-serialisable.
	Invoke(ctx context.Context, input map[string]any) (any, error)
}

// userIDKey is the context key carrying the requesting user's identity.
type userIDKey struct{}

// WithUser returns a context carrying the requesting user's ID. The engine
// attaches it before invoking tools so that session-scoped tools can resolve
// the right brokerage client.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserFrom returns the user ID attached by [WithUser], or the empty string.
func UserFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
