// Package memory keeps per-user conversation history bounded and ready for
// prompt assembly.
//
// Each conversation grows turn by turn until it reaches twice its target
// length, at which point the oldest half is folded into one synthetic
// summary turn, produced by an LLM when a [Summariser] is configured.
// Prompt windows are assembled newest-first under a token budget, so the
// most recent exchange always survives even when the budget is tight; the
// summary turn is never traded away for ordinary turns.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/finch-ai/finch/pkg/provider/llm"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// maxTurnChars caps the stored length of a single turn. Longer content is
// truncated with a marker so later windows stay predictable.
const maxTurnChars = 2000

// truncationMarker terminates turns cut at maxTurnChars.
const truncationMarker = " [truncated]"

// Turn is one utterance in a conversation.
type Turn struct {
	// Role is who spoke.
	Role Role

	// Content is the turn text, capped at maxTurnChars.
	Content string

	// Synthetic marks compression summaries that stand in for older turns.
	Synthetic bool

	// At is when the turn was appended.
	At time.Time
}

// Conversation is one user's bounded dialogue history. It is safe for
// concurrent use. The zero value is not usable; create instances with
// [NewConversation].
type Conversation struct {
	mu         sync.Mutex
	turns      []Turn
	maxTurns   int
	summariser Summariser
	now        func() time.Time

	// compressing guards against a second compression starting while the
	// lock is released around the summariser call.
	compressing bool
}

// NewConversation returns an empty conversation that compresses once it
// exceeds 2*maxTurns turns. maxTurns values below 1 are raised to 1.
// summariser may be nil, in which case compression falls back to a
// deterministic digest of the folded turns.
func NewConversation(maxTurns int, summariser Summariser) *Conversation {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Conversation{maxTurns: maxTurns, summariser: summariser, now: time.Now}
}

// Append records a turn, truncating content beyond the per-turn cap and
// compressing the conversation when it has grown to twice its target
// length. Compression may call the summariser's LLM; ctx bounds that call.
func (c *Conversation) Append(ctx context.Context, role Role, content string) {
	content = truncate(content, maxTurnChars)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, Turn{Role: role, Content: content, At: c.now()})

	if len(c.turns) >= 2*c.maxTurns && !c.compressing {
		c.compressLocked(ctx)
	}
}

// compressLocked folds the oldest half of the conversation into a single
// synthetic summary turn. The caller must hold c.mu; the lock is released
// around the summariser call.
func (c *Conversation) compressLocked(ctx context.Context) {
	c.compressing = true
	defer func() { c.compressing = false }()

	half := len(c.turns) / 2
	oldest := make([]Turn, half)
	copy(oldest, c.turns[:half])

	summaryText := c.summarise(ctx, oldest)

	// The lock was released during summarisation; concurrent appends only
	// grow the tail, but a Clear may have emptied the conversation.
	if len(c.turns) < half {
		return
	}

	summary := Turn{
		Role:      RoleAssistant,
		Content:   truncate(summaryText, maxTurnChars),
		Synthetic: true,
		At:        c.now(),
	}

	rest := c.turns[half:]
	compressed := make([]Turn, 0, len(rest)+1)
	compressed = append(compressed, summary)
	compressed = append(compressed, rest...)
	c.turns = compressed
}

// summarise produces the summary text for the folded turns, releasing the
// held lock for the duration of the LLM call. Falls back to a deterministic
// digest when no summariser is configured or the call fails.
func (c *Conversation) summarise(ctx context.Context, oldest []Turn) string {
	if c.summariser == nil {
		return digest(oldest)
	}

	msgs := make([]llm.Message, 0, len(oldest))
	for _, t := range oldest {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}

	c.mu.Unlock()
	summary, err := c.summariser.Summarise(ctx, msgs)
	c.mu.Lock()
	if err != nil || strings.TrimSpace(summary) == "" {
		slog.Warn("conversation summarisation failed, using digest", "error", err)
		return digest(oldest)
	}
	return "Summary of earlier conversation: " + summary
}

// digest is the summariser-free fallback: one line per folded turn, capped.
func digest(oldest []Turn) string {
	var sb strings.Builder
	sb.WriteString("Summary of earlier conversation: ")
	for i, t := range oldest {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(firstLine(t.Content, 120))
	}
	return sb.String()
}

// truncate caps s at max bytes, cutting on a rune boundary so multi-byte
// characters are never split, and appends the truncation marker.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}

// firstLine returns the first line of s, capped at n characters.
func firstLine(s string, n int) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > n {
		s = s[:n]
	}
	return s
}

// Turns returns a copy of the conversation's turns, oldest first.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of stored turns, including any synthetic summary.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Window assembles prompt messages under tokenBudget, preferring the newest
// turns. Token usage is estimated at one token per four characters. The
// newest turn is always included even when it alone exceeds the budget, and
// a compression summary is always kept: its cost is reserved up front, so
// budget pressure evicts the oldest ordinary turns first. Messages are
// returned in chronological order.
func (c *Conversation) Window(tokenBudget int) []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.turns) == 0 {
		return nil
	}

	rest := c.turns
	var summary *Turn
	if c.turns[0].Synthetic {
		summary = &c.turns[0]
		rest = c.turns[1:]
	}

	remaining := tokenBudget
	if summary != nil {
		remaining -= estimateTokens(summary.Content)
	}

	var picked []Turn
	for i := len(rest) - 1; i >= 0; i-- {
		cost := estimateTokens(rest[i].Content)
		if cost > remaining && len(picked) > 0 {
			break
		}
		picked = append(picked, rest[i])
		remaining -= cost
	}

	msgs := make([]llm.Message, 0, len(picked)+1)
	if summary != nil {
		msgs = append(msgs, llm.Message{
			Role:    string(summary.Role),
			Content: summary.Content,
		})
	}
	for i := len(picked) - 1; i >= 0; i-- {
		msgs = append(msgs, llm.Message{
			Role:    string(picked[i].Role),
			Content: picked[i].Content,
		})
	}
	return msgs
}

// estimateTokens approximates the token count of s as one per four
// characters, rounded up.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Summary describes what the conversation currently remembers. Intended for
// the memory inspection endpoint, not for prompts.
func (c *Conversation) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.turns) == 0 {
		return "no conversation history"
	}

	compressed := 0
	for _, t := range c.turns {
		if t.Synthetic {
			compressed++
		}
	}

	desc := fmt.Sprintf("%d turns remembered", len(c.turns))
	if compressed > 0 {
		desc += fmt.Sprintf(" (including %d compression summary)", compressed)
	}
	last := c.turns[len(c.turns)-1]
	desc += fmt.Sprintf("; last turn from %s: %s", last.Role, firstLine(last.Content, 80))
	return desc
}

// Clear removes all turns.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}
