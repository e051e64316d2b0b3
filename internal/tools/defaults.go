package tools

import (
	"fmt"

	"github.com/finch-ai/finch/pkg/provider/marketdata"
	"github.com/finch-ai/finch/pkg/provider/research"
)

// RegisterDefaults registers the builtin tool set for whichever providers
// are configured. A nil provider simply leaves its tools unregistered, so a
// deployment without a research key still plans correctly over the rest.
func RegisterDefaults(r *Registry, md marketdata.Provider, rp research.Provider, source BrokerSource) error {
	var toRegister []Tool

	if md != nil {
		resolver := NewSymbolResolver(nil)
		toRegister = append(toRegister,
			NewQuoteTool(md, resolver),
			NewHistoryTool(md, resolver),
			NewOverviewTool(md),
		)
	}
	if rp != nil {
		toRegister = append(toRegister, NewResearchTool(rp))
	}
	if source != nil {
		toRegister = append(toRegister,
			NewHoldingsTool(source),
			NewPositionsTool(source),
			NewMarginsTool(source),
			NewOrdersTool(source),
		)
	}

	for _, t := range toRegister {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("tools: register defaults: %w", err)
		}
	}
	return nil
}
