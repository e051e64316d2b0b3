package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/finch-ai/finch/internal/cache"
	"github.com/finch-ai/finch/internal/composer"
	"github.com/finch-ai/finch/internal/engine"
	"github.com/finch-ai/finch/internal/fault"
	"github.com/finch-ai/finch/internal/memory"
	"github.com/finch-ai/finch/internal/orchestrator"
	"github.com/finch-ai/finch/internal/planner"
	"github.com/finch-ai/finch/internal/resilience"
	"github.com/finch-ai/finch/internal/tools"
	"github.com/finch-ai/finch/pkg/provider/llm"
	llmmock "github.com/finch-ai/finch/pkg/provider/llm/mock"
)

// quoteTool returns a fixed quote so pipeline tests have a real tool.
type quoteTool struct{}

func (quoteTool) Spec() tools.Spec {
	return tools.Spec{
		Name:        "get_quote",
		Description: "Fetch the latest quote for a stock symbol.",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"symbol": map[string]any{"type": "string"}},
			"required":             []any{"symbol"},
			"additionalProperties": false,
		},
		Cacheable:       true,
		ConcurrencySafe: true,
	}
}

func (quoteTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	return map[string]any{"symbol": input["symbol"], "last_price": 4012.5}, nil
}

// newOrchestrator builds a full pipeline over one scripted LLM provider.
// The first scripted reply feeds the planner, the next the composer, and so
// on alternating for each Ask.
func newOrchestrator(t *testing.T, prov llm.Provider) *orchestrator.Orchestrator {
	t.Helper()

	reg := tools.NewRegistry()
	if err := reg.Register(quoteTool{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	return orchestrator.New(
		planner.New(prov, reg, planner.WithMaxRetries(0)),
		engine.New(reg, engine.WithCache(cache.New())),
		composer.New(prov),
		memory.NewStore(20),
	)
}

func TestAskFullPipeline(t *testing.T) {
	t.Parallel()

	prov := &llmmock.Provider{
		Script: []llmmock.Scripted{
			{Content: `{"tools": [{"tool": "get_quote", "input": {"symbol": "TCS"}}]}`},
			{Content: "TCS trades at ₹4,012.50."},
		},
	}
	o := newOrchestrator(t, prov)

	answer, err := o.Ask(context.Background(), "alice", "tcs price?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(answer, "4,012.50") {
		t.Errorf("answer = %q", answer)
	}

	// The composition request must be grounded in the tool result.
	if got := len(prov.CompleteRequests); got != 2 {
		t.Fatalf("got %d completions, want 2 (plan + compose)", got)
	}
	composeReq := prov.CompleteRequests[1]
	last := composeReq.Messages[len(composeReq.Messages)-1].Content
	if !strings.Contains(last, "get_quote") {
		t.Errorf("compose prompt missing tool results: %q", last)
	}

	stats := o.Stats()
	if stats.Queries != 1 || stats.ToolCalls != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAskRemembersExchange(t *testing.T) {
	t.Parallel()

	prov := &llmmock.Provider{
		Script: []llmmock.Scripted{
			{Content: `{"tools": []}`},
			{Content: "Hello! Ask me about stocks."},
			{Content: `{"tools": []}`},
			{Content: "Still here."},
		},
	}
	o := newOrchestrator(t, prov)

	if _, err := o.Ask(context.Background(), "alice", "hi"); err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	if _, err := o.Ask(context.Background(), "alice", "you there?"); err != nil {
		t.Fatalf("second Ask: %v", err)
	}

	// The second planning request must carry the first exchange.
	planReq := prov.CompleteRequests[2]
	if len(planReq.Messages) != 3 {
		t.Fatalf("got %d plan messages, want 3 (two history turns + query)", len(planReq.Messages))
	}
	if planReq.Messages[0].Content != "hi" {
		t.Errorf("history starts with %q, want the first query", planReq.Messages[0].Content)
	}
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, &llmmock.Provider{})
	_, err := o.Ask(context.Background(), "alice", "   ")
	if !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestAskRejectsMissingUser(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, &llmmock.Provider{})
	_, err := o.Ask(context.Background(), "", "tcs price?")
	if !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestAskDegradesWhenPlanningFails(t *testing.T) {
	t.Parallel()

	prov := &llmmock.Provider{
		Script: []llmmock.Scripted{
			{Content: "no json here"},
			{Content: "I could not fetch live data, but happy to help."},
		},
	}
	o := newOrchestrator(t, prov)

	answer, err := o.Ask(context.Background(), "alice", "tcs price?")
	if err != nil {
		t.Fatalf("Ask should degrade, not fail: %v", err)
	}
	if answer == "" {
		t.Fatal("empty answer")
	}
	if got := o.Stats().PlanningFailures; got != 1 {
		t.Errorf("planning failures = %d, want 1", got)
	}
}

func TestAskUsesPlannerDirectAnswer(t *testing.T) {
	t.Parallel()

	prov := &llmmock.Provider{
		Script: []llmmock.Scripted{
			{Content: `{"tools": [], "answer": "Hello! Ask me about your portfolio or a stock."}`},
		},
	}
	o := newOrchestrator(t, prov)

	answer, err := o.Ask(context.Background(), "alice", "hey")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "Hello! Ask me about your portfolio or a stock." {
		t.Errorf("answer = %q", answer)
	}

	// A direct answer skips composition entirely.
	if got := len(prov.CompleteRequests); got != 1 {
		t.Errorf("got %d completions, want 1 (plan only)", got)
	}
	if sum := o.MemorySummary("alice"); !strings.Contains(sum, "2 turns remembered") {
		t.Errorf("memory summary = %q", sum)
	}
}

func TestAskStreamDeliversDirectAnswer(t *testing.T) {
	t.Parallel()

	prov := &llmmock.Provider{
		Script: []llmmock.Scripted{
			{Content: `{"tools": [], "answer": "Hi there!"}`},
		},
	}
	o := newOrchestrator(t, prov)

	stream, err := o.AskStream(context.Background(), "alice", "hi")
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}

	var text strings.Builder
	var done bool
	for chunk := range stream {
		if chunk.Done {
			done = true
			continue
		}
		text.WriteString(chunk.Content)
	}
	if !done {
		t.Fatal("stream ended without Done")
	}
	if text.String() != "Hi there!" {
		t.Errorf("streamed text = %q", text.String())
	}
}

func TestAskStreamDeliversChunksAndDone(t *testing.T) {
	t.Parallel()

	prov := &llmmock.Provider{
		Script: []llmmock.Scripted{
			{Content: `{"tools": []}`},
		},
		StreamChunks: []llm.Chunk{
			{Text: "Hello "},
			{Text: "there."},
			{FinishReason: "stop"},
		},
	}
	o := newOrchestrator(t, prov)

	stream, err := o.AskStream(context.Background(), "alice", "hi")
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}

	var text strings.Builder
	var done bool
	for chunk := range stream {
		if chunk.Done {
			done = true
			continue
		}
		text.WriteString(chunk.Content)
	}
	if !done {
		t.Fatal("stream ended without Done")
	}
	if text.String() != "Hello there." {
		t.Errorf("streamed text = %q", text.String())
	}

	// Clean completion updates memory.
	if sum := o.MemorySummary("alice"); !strings.Contains(sum, "2 turns remembered") {
		t.Errorf("memory summary after stream = %q", sum)
	}
}

func TestClearMemory(t *testing.T) {
	t.Parallel()

	prov := &llmmock.Provider{
		Script: []llmmock.Scripted{
			{Content: `{"tools": []}`},
			{Content: "Hi!"},
		},
	}
	o := newOrchestrator(t, prov)

	if _, err := o.Ask(context.Background(), "alice", "hi"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	o.ClearMemory("alice")

	// A fresh planning request after clear carries no history.
	prov.Script = append(prov.Script,
		llmmock.Scripted{Content: `{"tools": []}`},
		llmmock.Scripted{Content: "Hi again!"},
	)
	if _, err := o.Ask(context.Background(), "alice", "hello again"); err != nil {
		t.Fatalf("Ask after clear: %v", err)
	}
	planReq := prov.CompleteRequests[len(prov.CompleteRequests)-2]
	if len(planReq.Messages) != 1 {
		t.Errorf("plan after clear carries %d messages, want 1", len(planReq.Messages))
	}
}

func TestStatsReset(t *testing.T) {
	t.Parallel()

	prov := &llmmock.Provider{
		Script: []llmmock.Scripted{
			{Content: `{"tools": []}`},
			{Content: "Hi!"},
		},
	}
	o := newOrchestrator(t, prov)

	if _, err := o.Ask(context.Background(), "alice", "hi"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if o.Stats().Queries != 1 {
		t.Fatalf("queries = %d, want 1", o.Stats().Queries)
	}
	o.ResetStats()
	if o.Stats().Queries != 0 {
		t.Errorf("queries after reset = %d, want 0", o.Stats().Queries)
	}
}

func TestGuardProviderOpensAfterFailures(t *testing.T) {
	t.Parallel()

	inner := &llmmock.Provider{CompleteErr: errors.New("upstream down")}
	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name: "llm", MaxFailures: 2,
	})
	guarded := orchestrator.GuardProvider(inner, cb)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}}
	for i := 0; i < 2; i++ {
		if _, err := guarded.Complete(context.Background(), req); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := guarded.Complete(context.Background(), req)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := len(inner.CompleteRequests); got != 2 {
		t.Errorf("inner called %d times, want 2 (open breaker short-circuits)", got)
	}
}
