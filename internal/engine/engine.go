// Package engine executes validated tool plans against the registry.
//
// Calls marked concurrency safe run in parallel under a bounded worker
// budget; the rest run sequentially afterwards, in plan order. Each call
// gets its own timeout and its own result slot, so one failing tool never
// discards the results of its siblings.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/finch-ai/finch/internal/cache"
	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/observe"
	"github.com/finch-ai/finch/internal/planner"
	"github.com/finch-ai/finch/internal/tools"
)

const (
	defaultWorkers     = 5
	defaultToolTimeout = 30 * time.Second
)

// Result is the outcome of one tool call in a plan. Exactly one of Value
// and Err is meaningful.
type Result struct {
	// Tool is the name of the invoked tool.
	Tool string

	// Input is the validated input the tool was invoked with.
	Input map[string]any

	// Value is the tool's JSON-serialisable result on success.
	Value any

	// Err is the call's failure, nil on success.
	Err error

	// Cached reports whether Value was served from the result cache.
	Cached bool

	// Elapsed is the wall time of the call, including any cache lookup.
	Elapsed time.Duration
}

// SessionGate reports whether a user has an active brokerage session. The
// engine fails session-scoped calls fast when the gate says no, instead of
// paying a round trip that is guaranteed to be rejected.
type SessionGate interface {
	HasActiveSession(ctx context.Context, userID string) bool
}

// Engine runs plans. Engine is safe for concurrent use.
type Engine struct {
	registry    *tools.Registry
	cache       *cache.Cache
	gate        SessionGate
	workers     int64
	toolTimeout time.Duration
	metrics     *observe.Metrics
}

// Option configures an [Engine].
type Option func(*Engine)

// WithCache enables result caching for tools marked cacheable.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithSessionGate installs the brokerage session check used to fail
// session-scoped calls fast.
func WithSessionGate(g SessionGate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithWorkers bounds how many concurrency-safe calls run in parallel.
// Default 5.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = int64(n)
		}
	}
}

// WithToolTimeout bounds the wall time of a single tool call. Default 30s.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.toolTimeout = d
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine over the given registry.
func New(registry *tools.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		workers:     defaultWorkers,
		toolTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Execute runs every call in the plan and returns one result per call, in
// plan order. Individual failures are captured in their result slot;
// Execute itself only fails when ctx is cancelled before the plan finishes.
func (e *Engine) Execute(ctx context.Context, userID string, calls []planner.Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	ctx = tools.WithUser(ctx, userID)
	results := make([]Result, len(calls))

	// Concurrency-safe calls run first under the worker budget; each
	// goroutine writes only its own slot.
	var sequential []int
	sem := semaphore.NewWeighted(e.workers)
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range calls {
		tool, ok := e.registry.Get(call.Tool)
		if !ok {
			// Validated plans never carry unknown tools; guard anyway.
			results[i] = Result{Tool: call.Tool, Input: call.Input,
				Err: fmt.Errorf("engine: unknown tool %q", call.Tool)}
			continue
		}
		if !tool.Spec().ConcurrencySafe {
			sequential = append(sequential, i)
			continue
		}

		i, call, tool := i, call, tool
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = Result{Tool: call.Tool, Input: call.Input, Err: err}
				return nil
			}
			defer sem.Release(1)
			results[i] = e.runCall(gctx, userID, tool, call)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("engine: %w", err)
	}

	for _, i := range sequential {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("engine: %w", err)
		}
		tool, _ := e.registry.Get(calls[i].Tool)
		results[i] = e.runCall(ctx, userID, tool, calls[i])
	}

	return results, ctx.Err()
}

// runCall invokes one tool with its own timeout, routing through the result
// cache when the tool allows it.
func (e *Engine) runCall(ctx context.Context, userID string, tool tools.Tool, call planner.Call) Result {
	spec := tool.Spec()
	start := time.Now()

	res := Result{Tool: call.Tool, Input: call.Input}

	if spec.RequiresSession && userID == "" {
		res.Err = fmt.Errorf("engine: %s: %w", call.Tool, fault.ErrAuthRequired)
	} else if spec.RequiresSession && e.gate != nil && !e.gate.HasActiveSession(ctx, userID) {
		res.Err = fmt.Errorf("engine: %s: %w", call.Tool, fault.ErrAuthRequired)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, e.toolTimeout)
		res.Value, res.Cached, res.Err = e.invoke(callCtx, userID, tool, call)
		cancel()
	}

	res.Elapsed = time.Since(start)

	status := "ok"
	if res.Err != nil {
		status = "error"
		slog.Warn("tool call failed",
			"tool", call.Tool, "elapsed", res.Elapsed, "error", res.Err)
	} else {
		slog.Debug("tool call finished",
			"tool", call.Tool, "elapsed", res.Elapsed, "cached", res.Cached)
	}
	e.metrics.RecordToolCall(ctx, call.Tool, status)
	e.metrics.ToolExecutionDuration.Record(ctx, res.Elapsed.Seconds(),
		metric.WithAttributes(observe.Attr("tool", call.Tool)))

	return res
}

// invoke runs the tool, consulting the cache for cacheable tools. Results
// of session-scoped tools are cached per user.
func (e *Engine) invoke(ctx context.Context, userID string, tool tools.Tool, call planner.Call) (any, bool, error) {
	if e.cache == nil || !tool.Spec().Cacheable {
		v, err := tool.Invoke(ctx, call.Input)
		return v, false, err
	}

	key := cacheKey(userID, tool.Spec(), call)
	v, hit, err := e.cache.DoTTL(ctx, key, tool.Spec().CacheTTL, func(ctx context.Context) (any, error) {
		return tool.Invoke(ctx, call.Input)
	})
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	e.metrics.RecordCacheRequest(ctx, outcome)
	return v, hit, err
}

// cacheKey fingerprints a call. Session-scoped tools mix the user ID into
// the fingerprint so one user's portfolio never serves another's.
func cacheKey(userID string, spec tools.Spec, call planner.Call) string {
	input := call.Input
	if spec.RequiresSession {
		scoped := make(map[string]any, len(input)+1)
		for k, v := range input {
			scoped[k] = v
		}
		scoped["__user"] = userID
		input = scoped
	}
	return cache.Fingerprint(call.Tool, input)
}
