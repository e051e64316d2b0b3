package memory_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/finch-ai/finch/internal/memory"
	"github.com/finch-ai/finch/pkg/provider/llm"
	llmmock "github.com/finch-ai/finch/pkg/provider/llm/mock"
)

func TestConversation_AppendAndTurns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := memory.NewConversation(10, nil)

	c.Append(ctx, memory.RoleUser, "what is infosys trading at?")
	c.Append(ctx, memory.RoleAssistant, "INFY is at 1543.25, up 0.82% today.")

	turns := c.Turns()
	if len(turns) != 2 {
		t.Fatalf("Turns len = %d, want 2", len(turns))
	}
	if turns[0].Role != memory.RoleUser || turns[1].Role != memory.RoleAssistant {
		t.Errorf("roles = %s, %s", turns[0].Role, turns[1].Role)
	}
}

func TestConversation_LongTurnTruncated(t *testing.T) {
	t.Parallel()
	c := memory.NewConversation(10, nil)

	c.Append(context.Background(), memory.RoleUser, strings.Repeat("x", 5000))

	turns := c.Turns()
	if got := len(turns[0].Content); got > 2000 {
		t.Errorf("stored turn length = %d, want <= 2000", got)
	}
	if !strings.HasSuffix(turns[0].Content, "[truncated]") {
		t.Error("truncated turn should end with a truncation marker")
	}
}

func TestConversation_TruncationKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	c := memory.NewConversation(10, nil)

	// Every character is multi-byte, so a byte-offset cut would land
	// mid-rune more often than not.
	c.Append(context.Background(), memory.RoleUser, strings.Repeat("₹", 3000))

	turns := c.Turns()
	if !utf8.ValidString(turns[0].Content) {
		t.Error("truncated turn is not valid UTF-8")
	}
	if got := len(turns[0].Content); got > 2000 {
		t.Errorf("stored turn length = %d, want <= 2000", got)
	}
	if !strings.HasSuffix(turns[0].Content, "[truncated]") {
		t.Error("truncated turn should end with a truncation marker")
	}
}

func TestConversation_CompressesAtTwiceMaxTurns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const maxTurns = 5
	c := memory.NewConversation(maxTurns, nil)

	for i := 0; i < 4*maxTurns; i++ {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		c.Append(ctx, role, fmt.Sprintf("turn %d", i))

		// The bound holds after every append, not just at the end.
		if got := c.Len(); got >= 2*maxTurns {
			t.Fatalf("after %d appends conversation has %d turns, bound is %d", i+1, got, 2*maxTurns)
		}
	}

	turns := c.Turns()
	if !turns[0].Synthetic {
		t.Error("oldest turn should be a synthetic compression summary")
	}
	if !strings.Contains(turns[0].Content, "Summary of earlier conversation") {
		t.Errorf("summary content = %q", turns[0].Content)
	}

	// Newest turns survive compression verbatim.
	last := turns[len(turns)-1]
	if last.Content != fmt.Sprintf("turn %d", 4*maxTurns-1) {
		t.Errorf("newest turn = %q", last.Content)
	}
}

func TestConversation_CompressionUsesSummariser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prov := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "User tracked INFY around 1543 and asked about portfolio margins.",
		},
	}
	c := memory.NewConversation(3, memory.NewLLMSummariser(prov))

	for i := 0; i < 6; i++ {
		c.Append(ctx, memory.RoleUser, fmt.Sprintf("turn %d", i))
	}

	turns := c.Turns()
	if !turns[0].Synthetic {
		t.Fatal("oldest turn should be a synthetic compression summary")
	}
	if !strings.Contains(turns[0].Content, "INFY around 1543") {
		t.Errorf("summary should carry the model's text, got %q", turns[0].Content)
	}

	if got := len(prov.CompleteRequests); got != 1 {
		t.Fatalf("got %d summarisation completions, want 1", got)
	}
	transcript := prov.CompleteRequests[0].Messages[0].Content
	if !strings.Contains(transcript, "turn 0") {
		t.Errorf("summarisation transcript missing oldest turn: %q", transcript)
	}
}

func TestConversation_SummariserFailureFallsBackToDigest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prov := &llmmock.Provider{
		CompleteErr: fmt.Errorf("model unavailable"),
	}
	c := memory.NewConversation(3, memory.NewLLMSummariser(prov))

	for i := 0; i < 6; i++ {
		c.Append(ctx, memory.RoleUser, fmt.Sprintf("turn %d", i))
	}

	turns := c.Turns()
	if !turns[0].Synthetic {
		t.Fatal("compression should still happen when the summariser fails")
	}
	if !strings.Contains(turns[0].Content, "turn 0") {
		t.Errorf("digest fallback should list the folded turns, got %q", turns[0].Content)
	}
}

func TestConversation_CompressionKeepsAtMostMaxTurnsPlusOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const maxTurns = 4
	c := memory.NewConversation(maxTurns, nil)

	for i := 0; i < 2*maxTurns; i++ {
		c.Append(ctx, memory.RoleUser, fmt.Sprintf("turn %d", i))
	}

	if got := c.Len(); got > maxTurns+1 {
		t.Errorf("after compression Len = %d, want <= %d", got, maxTurns+1)
	}
}

func TestConversation_WindowPrefersNewestUnderBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := memory.NewConversation(20, nil)

	// Each turn is 40 chars = 10 estimated tokens.
	for i := 0; i < 6; i++ {
		c.Append(ctx, memory.RoleUser, fmt.Sprintf("turn %d %s", i, strings.Repeat("a", 40-7)))
	}

	// Budget for roughly three turns.
	msgs := c.Window(30)
	if len(msgs) != 3 {
		t.Fatalf("window size = %d, want 3", len(msgs))
	}
	// Chronological order, newest three turns.
	if !strings.HasPrefix(msgs[0].Content, "turn 3") {
		t.Errorf("first window message = %q, want turn 3", msgs[0].Content)
	}
	if !strings.HasPrefix(msgs[2].Content, "turn 5") {
		t.Errorf("last window message = %q, want turn 5", msgs[2].Content)
	}
}

func TestConversation_WindowAlwaysIncludesNewestTurn(t *testing.T) {
	t.Parallel()
	c := memory.NewConversation(20, nil)
	c.Append(context.Background(), memory.RoleUser, strings.Repeat("x", 1000))

	msgs := c.Window(1)
	if len(msgs) != 1 {
		t.Fatalf("window size = %d, want 1 even over budget", len(msgs))
	}
}

func TestConversation_WindowKeepsCompressionSummaryUnderPressure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const maxTurns = 4
	c := memory.NewConversation(maxTurns, nil)

	// Force a compression so the conversation starts with a summary turn,
	// then squeeze the budget until ordinary turns must be evicted.
	for i := 0; i < 2*maxTurns; i++ {
		c.Append(ctx, memory.RoleUser, fmt.Sprintf("turn %d %s", i, strings.Repeat("b", 33)))
	}
	turns := c.Turns()
	if !turns[0].Synthetic {
		t.Fatal("expected a compression summary after 2*maxTurns appends")
	}
	summaryCost := (len(turns[0].Content) + 3) / 4

	// Budget covers the summary plus about two ordinary turns.
	msgs := c.Window(summaryCost + 20)
	if len(msgs) < 2 {
		t.Fatalf("window size = %d, want summary plus at least one turn", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "Summary of earlier conversation") {
		t.Errorf("first window message = %q, want the compression summary", msgs[0].Content)
	}
	last := msgs[len(msgs)-1]
	if !strings.HasPrefix(last.Content, fmt.Sprintf("turn %d", 2*maxTurns-1)) {
		t.Errorf("last window message = %q, want the newest turn", last.Content)
	}
	// Budget pressure evicted ordinary turns, not the summary.
	if len(msgs) >= len(turns) {
		t.Errorf("window of %d messages shows no eviction from %d turns", len(msgs), len(turns))
	}
}

func TestConversation_SummaryAndClear(t *testing.T) {
	t.Parallel()
	c := memory.NewConversation(10, nil)

	if got := c.Summary(); got != "no conversation history" {
		t.Errorf("empty summary = %q", got)
	}

	c.Append(context.Background(), memory.RoleUser, "how is reliance doing?")
	if got := c.Summary(); !strings.Contains(got, "1 turns remembered") {
		t.Errorf("summary = %q", got)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Error("Clear did not empty the conversation")
	}
}

func TestStore_PerUserIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewStore(10)

	s.Get("alice").Append(ctx, memory.RoleUser, "hello")
	if got := s.Get("bob").Len(); got != 0 {
		t.Errorf("bob's conversation has %d turns, want 0", got)
	}
	if got := s.Get("alice").Len(); got != 1 {
		t.Errorf("alice's conversation has %d turns, want 1", got)
	}

	s.Clear("alice")
	if got := s.Get("alice").Len(); got != 0 {
		t.Errorf("after Clear alice has %d turns, want 0", got)
	}
}
