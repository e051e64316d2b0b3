// Package composer turns tool results into the user-facing answer.
//
// Composition is a grounded LLM call: the prompt carries the user's query,
// the conversation window, and a context block rendered from the tool
// results. When the model is unavailable the composer degrades to a
// deterministic rendering of the same context block rather than failing the
// whole query.
package composer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finch-ai/finch/internal/engine"
	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/observe"
	"github.com/finch-ai/finch/internal/resilience"
	"github.com/finch-ai/finch/pkg/provider/llm"
)

// Chunk is one fragment of a streamed answer. The final chunk of every
// stream has Done set, even when the stream failed mid-flight.
type Chunk struct {
	// Content is the incremental answer text.
	Content string

	// Done marks the terminal chunk. No chunks follow it.
	Done bool

	// Err carries a mid-stream failure. Only set on the terminal chunk.
	Err error
}

// answer length registers, chosen from the query's own wording.
const (
	registerBrief    = "brief"
	registerNormal   = "normal"
	registerDetailed = "detailed"
)

// lengthHints maps query keywords to registers. Detailed wins over normal
// when both match.
var (
	detailedHints = []string{"detail", "analyz", "analys", "comprehensive", "deep dive", "thorough", "elaborate"}
	normalHints   = []string{"explain", "why", "how", "compare", "should i"}
)

// Composer builds answers. Composer is safe for concurrent use.
type Composer struct {
	provider llm.Provider
	retry    *resilience.RetryPolicy
	metrics  *observe.Metrics
}

// Option configures a [Composer].
type Option func(*Composer)

// WithRetryPolicy overrides the retry policy for composition completions.
func WithRetryPolicy(p *resilience.RetryPolicy) Option {
	return func(c *Composer) { c.retry = p }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Composer) { c.metrics = m }
}

// New creates a Composer over the given provider.
func New(provider llm.Provider, opts ...Option) *Composer {
	c := &Composer{
		provider: provider,
		retry:    resilience.NewRetryPolicy(resilience.RetryConfig{MaxAttempts: 2}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Compose produces the full answer for query, grounded in results. A nil or
// empty results slice means the planner chose to answer without tools; the
// answer is then composed from the conversation window alone.
//
// LLM failures degrade to a deterministic rendering of the tool results;
// Compose returns an error only when even that is impossible (cancelled
// context).
func (c *Composer) Compose(ctx context.Context, query string, window []llm.Message, results []engine.Result) (string, error) {
	start := time.Now()
	req := c.buildRequest(query, window, results)

	resp, err := resilience.DoValue(ctx, c.retry, "compose",
		func(ctx context.Context, attempt int) (*llm.CompletionResponse, error) {
			return c.provider.Complete(ctx, req)
		})
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("composer: %w", ctx.Err())
		}
		slog.Warn("composition degraded to fallback rendering", "error", err)
		return fallbackAnswer(query, results), nil
	}
	return resp.Content, nil
}

// ComposeStream is the streaming counterpart of [Compose]. The returned
// channel always ends with a Done chunk; mid-stream failures carry the
// error on that terminal chunk. The error return is non-nil only when the
// stream could not be started at all, in which case the fallback rendering
// is streamed instead.
func (c *Composer) ComposeStream(ctx context.Context, query string, window []llm.Message, results []engine.Result) (<-chan Chunk, error) {
	req := c.buildRequest(query, window, results)

	upstream, err := c.provider.CompleteStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("composer: %w", ctx.Err())
		}
		slog.Warn("streaming composition degraded to fallback rendering", "error", err)
		out := make(chan Chunk, 2)
		out <- Chunk{Content: fallbackAnswer(query, results)}
		out <- Chunk{Done: true}
		close(out)
		return out, nil
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.FinishReason == llm.FinishError {
				c.send(ctx, out, Chunk{Done: true,
					Err: fmt.Errorf("composer: stream failed: %s", chunk.Text)})
				return
			}
			if chunk.Text != "" {
				if !c.send(ctx, out, Chunk{Content: chunk.Text}) {
					return
				}
			}
		}
		c.send(ctx, out, Chunk{Done: true})
	}()
	return out, nil
}

// send delivers a chunk unless ctx is cancelled first.
func (c *Composer) send(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildRequest assembles the grounded completion request.
func (c *Composer) buildRequest(query string, window []llm.Message, results []engine.Result) llm.CompletionRequest {
	messages := make([]llm.Message, 0, len(window)+1)
	messages = append(messages, window...)

	var user strings.Builder
	user.WriteString(query)
	if block := contextBlock(results); block != "" {
		user.WriteString("\n\n")
		user.WriteString(block)
	}
	messages = append(messages, llm.Message{Role: "user", Content: user.String()})

	return llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt(register(query), len(results) > 0),
		Temperature:  0.4,
	}
}

// register picks the answer length register from the query's wording.
func register(query string) string {
	q := strings.ToLower(query)
	for _, hint := range detailedHints {
		if strings.Contains(q, hint) {
			return registerDetailed
		}
	}
	for _, hint := range normalHints {
		if strings.Contains(q, hint) {
			return registerNormal
		}
	}
	return registerBrief
}

func systemPrompt(register string, grounded bool) string {
	var sb strings.Builder
	sb.WriteString("You are a financial assistant for Indian markets. Format prices in rupees with the ₹ symbol. Never give personalised investment advice; present data and context only.\n")

	switch register {
	case registerDetailed:
		sb.WriteString("Answer in depth with structure: cover the data, the context around it, and relevant caveats.\n")
	case registerNormal:
		sb.WriteString("Answer in a few sentences with brief reasoning.\n")
	default:
		sb.WriteString("Answer in one or two sentences. Lead with the number or fact asked for.\n")
	}

	if grounded {
		sb.WriteString("Ground your answer ONLY in the tool results provided in the user message. If a tool failed, say what could not be retrieved instead of guessing.")
	} else {
		sb.WriteString("No live data was retrieved for this query. Answer from the conversation so far and say so when the user asks for data you do not have.")
	}
	return sb.String()
}

// contextBlock renders the tool results the model grounds on. Failed calls
// are listed explicitly so the model can acknowledge the gap.
func contextBlock(results []engine.Result) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Tool results:\n")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(&sb, "- %s: FAILED (%s)\n", r.Tool, publicReason(r.Err))
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", r.Tool, renderValue(r.Value))
	}
	return sb.String()
}

// publicReason maps an internal error to wording safe to show the model and
// the user. Internal detail stays in the logs.
func publicReason(err error) string {
	switch {
	case errors.Is(err, fault.ErrAuthRequired):
		return "broker account not connected; the user must log in to their broker first"
	case errors.Is(err, fault.ErrRateLimited):
		if d := fault.RetryAfter(err); d > 0 {
			return fmt.Sprintf("data source rate limited, retry after %s", d)
		}
		return "data source rate limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return "temporarily unavailable"
	}
}

// renderValue serialises a tool result for the prompt.
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "(no data)"
	case string:
		return t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// fallbackAnswer renders the results deterministically when no model is
// available. It is honest about being a degraded answer.
func fallbackAnswer(query string, results []engine.Result) string {
	var sb strings.Builder

	var failed, authNeeded int
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		failed++
		if errors.Is(r.Err, fault.ErrAuthRequired) {
			authNeeded++
		}
	}

	if len(results) == 0 {
		sb.WriteString("I could not reach the language model to compose an answer. Please try again shortly.")
		return sb.String()
	}

	sb.WriteString("I could not compose a full answer right now, but here is the data I retrieved:\n")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(&sb, "- %s: unavailable (%s)\n", r.Tool, publicReason(r.Err))
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", r.Tool, renderValue(r.Value))
	}
	if authNeeded > 0 {
		sb.WriteString("\nConnect your broker account to see portfolio data.")
	}
	return sb.String()
}
