package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/finch-ai/finch/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when folding the
// oldest turns of a conversation into a summary.
const summarisationPrompt = `Summarise the following conversation between a user and a financial assistant.
Preserve: stock symbols and prices quoted, portfolio figures, orders or positions discussed,
research findings cited, and anything the user asked to be remembered.
Be concise but keep every figure exact.`

// Summariser produces a concise summary of a conversation segment.
type Summariser interface {
	// Summarise takes a slice of messages and returns a condensed summary string.
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm llm.Provider
}

// Compile-time interface check.
var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats the messages into a single transcript and asks the model
// for a condensed summary.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []llm.Message{
			{
				Role:    "user",
				Content: sb.String(),
			},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("memory: summarise: %w", err)
	}

	return resp.Content, nil
}
