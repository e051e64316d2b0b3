// Package planner turns a natural-language query into a validated tool plan.
//
// Planning is a single LLM completion constrained to a JSON reply. The model
// sees the tool catalogue and the recent conversation, and answers with the
// tool calls it wants executed (possibly none, for small talk it can answer
// directly). Replies that cannot be parsed at all are retried with a
// corrective instruction naming exactly what was wrong; individual calls
// that name unknown tools or violate a tool's schema are simply dropped.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/observe"
	"github.com/finch-ai/finch/internal/resilience"
	"github.com/finch-ai/finch/internal/tools"
	"github.com/finch-ai/finch/pkg/provider/llm"
)

// maxCalls bounds how many tool calls a single plan may carry.
const maxCalls = 8

// Call is one tool invocation requested by the plan.
type Call struct {
	// Tool names a registered tool.
	Tool string `json:"tool"`

	// Input is the tool's input object, already schema-validated by the
	// time the plan is returned.
	Input map[string]any `json:"input"`
}

// Plan is the validated outcome of planning one query.
type Plan struct {
	// Calls lists the tool invocations to execute, in plan order. Empty
	// when the model chose to answer directly.
	Calls []Call `json:"tools"`

	// Answer is the model's direct reply for queries that need no tools.
	Answer string `json:"answer,omitempty"`

	// Degraded marks a plan produced after every attempt at a usable
	// reply failed. It is empty and the answer is composed from memory
	// alone.
	Degraded bool `json:"-"`
}

// Planner plans queries against a fixed tool registry. Planner is safe for
// concurrent use.
type Planner struct {
	provider    llm.Provider
	registry    *tools.Registry
	retry       *resilience.RetryPolicy
	metrics     *observe.Metrics
	temperature float64
}

// Option configures a [Planner].
type Option func(*Planner)

// WithMaxRetries sets how many corrective re-prompts are attempted after an
// unusable reply. Default 2.
func WithMaxRetries(n int) Option {
	return func(p *Planner) {
		p.retry = resilience.NewRetryPolicy(resilience.RetryConfig{
			MaxAttempts: n + 1,
			BaseDelay:   0,
			Retryable:   retryablePlanning,
		})
	}
}

// WithTemperature sets the sampling temperature for planning completions.
// Default 0.1; planning wants low variance.
func WithTemperature(t float64) Option {
	return func(p *Planner) { p.temperature = t }
}

// WithMetrics sets the metrics instance used for retry counters. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// retryablePlanning treats only extraction/validation failures as
// retryable; provider faults (rate limits, auth) surface immediately.
func retryablePlanning(err error) bool {
	return fault.Retryable(err)
}

// New creates a Planner over the given provider and registry.
func New(provider llm.Provider, registry *tools.Registry, opts ...Option) *Planner {
	p := &Planner{
		provider:    provider,
		registry:    registry,
		temperature: 0.1,
	}
	WithMaxRetries(2)(p)
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Plan produces a validated plan for query. history is the conversation
// window preceding the query, oldest first.
//
// A reply that cannot be extracted is retried with a corrective
// instruction; when retries are exhausted the plan comes back empty and
// marked degraded rather than as an error. Calls naming unknown tools or
// failing schema validation are dropped individually, keeping the valid
// remainder. Provider faults (rate limits, auth) surface as errors.
func (p *Planner) Plan(ctx context.Context, query string, history []llm.Message) (*Plan, error) {
	start := time.Now()
	defer func() {
		p.metrics.PlanDuration.Record(ctx, time.Since(start).Seconds())
	}()

	systemPrompt := p.buildSystemPrompt()

	base := make([]llm.Message, 0, len(history)+1)
	base = append(base, history...)
	base = append(base, llm.Message{Role: "user", Content: query})

	// correction carries the reason the previous attempt was rejected; it
	// is appended as an extra instruction on retries.
	var correction string
	var plan *Plan

	retryErr := p.retry.Do(ctx, "plan", func(ctx context.Context, attempt int) error {
		messages := base
		if correction != "" {
			p.metrics.PlannerRetries.Add(ctx, 1)
			messages = append(append([]llm.Message{}, base...), llm.Message{
				Role: "user",
				Content: fmt.Sprintf(
					"Your previous reply could not be used: %s. Reply again with ONLY the JSON object, no prose and no code fences.",
					correction,
				),
			})
			slog.Debug("re-planning with correction", "attempt", attempt, "correction", correction)
		}

		resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
			Messages:     messages,
			SystemPrompt: systemPrompt,
			Temperature:  p.temperature,
		})
		if err != nil {
			return fmt.Errorf("planner: completion: %w", err)
		}

		candidate, reason := p.parseAndValidate(resp.Content)
		if candidate == nil {
			correction = reason
			return fmt.Errorf("planner: %w: %s", fault.ErrPlanning, reason)
		}
		plan = candidate
		return nil
	})
	if retryErr != nil {
		if ctx.Err() != nil || !errors.Is(retryErr, fault.ErrPlanning) {
			return nil, retryErr
		}
		// Out of attempts at a usable reply. Degrade to an empty plan so
		// the query still gets an answer composed from memory alone.
		slog.Warn("planning retries exhausted, degrading to empty plan", "error", retryErr)
		return &Plan{Degraded: true}, nil
	}
	return plan, nil
}

// parseAndValidate extracts the plan JSON from a model reply and checks
// every call against the registry. On failure it returns a nil plan and a
// human-readable reason suitable for a corrective re-prompt.
func (p *Planner) parseAndValidate(reply string) (*Plan, string) {
	raw, ok := extractJSON(reply)
	if !ok {
		return nil, "the reply did not contain a JSON object"
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Sprintf("the JSON did not match the expected shape: %v", err)
	}

	if len(plan.Calls) > maxCalls {
		return nil, fmt.Sprintf("the plan requested %d tool calls; at most %d are allowed", len(plan.Calls), maxCalls)
	}

	// A bad call does not spoil the plan: drop it and keep the rest.
	kept := plan.Calls[:0]
	for i, call := range plan.Calls {
		if _, known := p.registry.Get(call.Tool); !known {
			slog.Warn("dropping call to unknown tool",
				"tool", call.Tool, "available", strings.Join(p.registry.Names(), ", "))
			continue
		}
		if err := p.registry.ValidateInput(call.Tool, call.Input); err != nil {
			slog.Warn("dropping call with invalid input",
				"tool", call.Tool, "position", i+1, "error", err)
			continue
		}
		kept = append(kept, call)
	}
	plan.Calls = kept

	return &plan, ""
}

// buildSystemPrompt renders the planning instructions with the current tool
// catalogue.
func (p *Planner) buildSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You are the planning stage of a financial assistant. Decide which tools answer the user's question.

Reply with ONLY a JSON object of this exact shape:
{"tools": [{"tool": "<name>", "input": {...}}], "answer": "<direct reply>"}

Rules:
- Use "tools" for anything needing live data: prices, history, news, the user's portfolio.
- Use an empty "tools" list and fill "answer" only for greetings or questions about your own capabilities.
- Never invent tool names. Only the tools listed below exist.
- Inputs must match each tool's JSON schema exactly.

Available tools:
`)

	for _, spec := range p.registry.Specs() {
		schema, err := json.Marshal(spec.InputSchema)
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&sb, "- %s: %s\n  input schema: %s\n", spec.Name, spec.Description, schema)
	}
	return sb.String()
}
