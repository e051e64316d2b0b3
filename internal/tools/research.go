package tools

import (
	"context"
	"fmt"

	"github.com/finch-ai/finch/pkg/provider/research"
)

// researchTool exposes research.Provider.Research as the research_web tool.
type researchTool struct {
	rp research.Provider
}

// NewResearchTool returns the research_web tool.
func NewResearchTool(rp research.Provider) Tool {
	return &researchTool{rp: rp}
}

func (t *researchTool) Spec() Spec {
	return Spec{
		Name:        "research_web",
		Description: "Research a question using current web content. Use for news, analyst views, and anything market data cannot answer.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "The question to research.",
				},
			},
			"required":             []any{"query"},
			"additionalProperties": false,
		},
		// Research is idempotent but freshness-sensitive; never cached.
		Cacheable:       false,
		ConcurrencySafe: true,
	}
}

func (t *researchTool) Invoke(ctx context.Context, input map[string]any) (any, error) {
	query, _ := input["query"].(string)
	result, err := t.rp.Research(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("tools: research_web: %w", err)
	}
	return result, nil
}
