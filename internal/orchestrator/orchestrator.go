// Package orchestrator is the boundary of the query pipeline: plan, execute,
// compose, remember.
//
// One Orchestrator owns the per-user conversation store, the result cache
// behind the engine, and a resettable stats ledger. Planning failures never
// fail a query; they degrade to composing from memory alone.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finch-ai/finch/internal/composer"
	"github.com/finch-ai/finch/internal/engine"
	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/memory"
	"github.com/finch-ai/finch/internal/observe"
	"github.com/finch-ai/finch/internal/planner"
	"github.com/finch-ai/finch/pkg/provider/llm"
)

const defaultTokenBudget = 4000

// Orchestrator runs the full query pipeline. Safe for concurrent use.
type Orchestrator struct {
	planner     *planner.Planner
	engine      *engine.Engine
	composer    *composer.Composer
	memory      *memory.Store
	metrics     *observe.Metrics
	stats       *statsLedger
	tokenBudget int
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithTokenBudget sets the prompt budget for the conversation window.
// Default 4000 tokens.
func WithTokenBudget(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.tokenBudget = n
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New assembles an Orchestrator from its stages.
func New(p *planner.Planner, e *engine.Engine, c *composer.Composer, mem *memory.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:     p,
		engine:      e,
		composer:    c,
		memory:      mem,
		stats:       newStatsLedger(),
		tokenBudget: defaultTokenBudget,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Ask answers query for userID synchronously. The answer and the query are
// appended to the user's conversation on success.
func (o *Orchestrator) Ask(ctx context.Context, userID, query string) (string, error) {
	start := time.Now()

	prep, err := o.prepare(ctx, userID, query)
	if err != nil {
		o.finishQuery(ctx, "sync", "error", start)
		return "", err
	}

	if prep.direct != "" {
		o.remember(ctx, userID, prep.query, prep.direct)
		o.finishQuery(ctx, "sync", "ok", start)
		return prep.direct, nil
	}

	composeCtx, span := observe.StartStageSpan(ctx, "compose", userID)
	answer, err := o.composer.Compose(composeCtx, prep.query, prep.window, prep.results)
	observe.EndStageSpan(span, err)
	if err != nil {
		o.finishQuery(ctx, "sync", "error", start)
		return "", err
	}

	o.remember(ctx, userID, prep.query, answer)
	o.finishQuery(ctx, "sync", "ok", start)
	return answer, nil
}

// AskStream answers query for userID as a chunk stream. The conversation is
// updated with the accumulated answer once the stream completes cleanly;
// abandoned or failed streams leave memory untouched.
func (o *Orchestrator) AskStream(ctx context.Context, userID, query string) (<-chan composer.Chunk, error) {
	start := time.Now()

	prep, err := o.prepare(ctx, userID, query)
	if err != nil {
		o.finishQuery(ctx, "stream", "error", start)
		return nil, err
	}

	if prep.direct != "" {
		relay := make(chan composer.Chunk, 2)
		relay <- composer.Chunk{Content: prep.direct}
		relay <- composer.Chunk{Done: true}
		close(relay)
		o.remember(ctx, userID, prep.query, prep.direct)
		o.finishQuery(ctx, "stream", "ok", start)
		return relay, nil
	}

	composeCtx, span := observe.StartStageSpan(ctx, "compose", userID)
	upstream, err := o.composer.ComposeStream(composeCtx, prep.query, prep.window, prep.results)
	if err != nil {
		observe.EndStageSpan(span, err)
		o.finishQuery(ctx, "stream", "error", start)
		return nil, err
	}

	o.metrics.ActiveStreams.Add(ctx, 1)

	relay := make(chan composer.Chunk)
	go func() {
		defer close(relay)
		defer o.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

		var answer strings.Builder
		var streamErr error
		status := "ok"
		for chunk := range upstream {
			if chunk.Err != nil {
				status = "error"
				streamErr = chunk.Err
			} else {
				answer.WriteString(chunk.Content)
			}
			select {
			case relay <- chunk:
			case <-ctx.Done():
				status = "cancelled"
				// Drain so the composer goroutine can exit.
				for range upstream {
				}
				observe.EndStageSpan(span, ctx.Err())
				o.finishQuery(context.WithoutCancel(ctx), "stream", status, start)
				return
			}
		}
		observe.EndStageSpan(span, streamErr)
		if status == "ok" {
			o.remember(ctx, userID, prep.query, answer.String())
		}
		o.finishQuery(context.WithoutCancel(ctx), "stream", status, start)
	}()
	return relay, nil
}

// prepared carries the pipeline state between planning and composition.
type prepared struct {
	query   string
	window  []llm.Message
	results []engine.Result
	// direct is a conversational answer the planner produced itself, for
	// queries that need no tools. It skips composition entirely.
	direct string
}

// prepare validates the query, plans it, and executes the plan. Planning
// failures are absorbed: the returned prepared has no results and the
// composer answers from memory alone.
func (o *Orchestrator) prepare(ctx context.Context, userID, query string) (*prepared, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("orchestrator: empty query: %w", fault.ErrValidation)
	}
	if userID == "" {
		return nil, fmt.Errorf("orchestrator: missing user id: %w", fault.ErrValidation)
	}

	conv := o.memory.Get(userID)
	window := conv.Window(o.tokenBudget)

	planCtx, span := observe.StartStageSpan(ctx, "plan", userID)
	plan, err := o.planner.Plan(planCtx, query, window)
	observe.EndStageSpan(span, err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("orchestrator: %w", ctx.Err())
		}
		// Planning is best-effort: degrade to an ungrounded answer.
		slog.Warn("planning failed, answering from memory only",
			"user", userID, "error", err)
		o.stats.planningFailure()
		return &prepared{query: query, window: window}, nil
	}

	if plan.Degraded {
		slog.Warn("planning degraded, answering from memory only", "user", userID)
		o.stats.planningFailure()
		return &prepared{query: query, window: window}, nil
	}

	if len(plan.Calls) == 0 {
		return &prepared{query: query, window: window, direct: plan.Answer}, nil
	}

	execCtx, execSpan := observe.StartStageSpan(ctx, "execute", userID)
	results, err := o.engine.Execute(execCtx, userID, plan.Calls)
	observe.EndStageSpan(execSpan, err)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	o.stats.recordResults(results)
	return &prepared{query: query, window: window, results: results}, nil
}

// remember appends the exchange to the user's conversation. Appending may
// trigger compression, which calls the summarising LLM; the query's
// cancellation must not abort it, so the context is detached.
func (o *Orchestrator) remember(ctx context.Context, userID, query, answer string) {
	if answer == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	conv := o.memory.Get(userID)
	conv.Append(ctx, memory.RoleUser, query)
	conv.Append(ctx, memory.RoleAssistant, answer)
}

func (o *Orchestrator) finishQuery(ctx context.Context, mode, status string, start time.Time) {
	elapsed := time.Since(start)
	o.metrics.RecordQuery(ctx, mode, status)
	o.metrics.QueryDuration.Record(ctx, elapsed.Seconds())
	o.stats.query(status, elapsed)
}

// MemorySummary returns a short description of the user's conversation.
func (o *Orchestrator) MemorySummary(userID string) string {
	return o.memory.Get(userID).Summary()
}

// ClearMemory drops the user's conversation.
func (o *Orchestrator) ClearMemory(userID string) {
	o.memory.Clear(userID)
	slog.Info("conversation cleared", "user", userID)
}

// Stats returns a snapshot of the ledger since the last reset.
func (o *Orchestrator) Stats() Snapshot { return o.stats.snapshot() }

// ResetStats zeroes the ledger.
func (o *Orchestrator) ResetStats() { o.stats.reset() }
