// Package policy resolves the effective tools policy for a pipeline stage
// and applies integration allow-list filtering to agents.
package policy

import (
	"strings"

	"github.com/jonathan/content-factory/internal/types"
)

// Resolve computes the effective policy for one stage. The run's own policy
// is preferred over the pipeline's; within the chosen policy, each field of
// the stage-specific entry overrides the default only when the stage entry
// defines it. Undefined fields fall back to false / empty lists.
func Resolve(runPolicy, pipelinePolicy *types.ToolsPolicy, stageID string) types.ResolvedPolicy {
	root := runPolicy
	if root == nil {
		root = pipelinePolicy
	}

	resolved := types.ResolvedPolicy{
		AllowedTools:        []string{},
		AllowedIntegrations: []string{},
	}
	if root == nil {
		return resolved
	}

	apply := func(p types.StagePolicy) {
		if p.AllowWebSearch != nil {
			resolved.AllowWebSearch = *p.AllowWebSearch
		}
		if p.AllowedTools != nil {
			resolved.AllowedTools = p.AllowedTools
		}
		if p.AllowedIntegrations != nil {
			resolved.AllowedIntegrations = p.AllowedIntegrations
		}
	}

	apply(root.Default)
	if stage, ok := root.ByStage[stageID]; ok {
		apply(stage)
	}
	return resolved
}

// ApplyIntegrationPolicy filters an agent's configured integrations against
// the resolved allow-list. An empty allow-list means no filtering: every
// configured integration passes through unchanged.
func ApplyIntegrationPolicy(agent *types.Agent, resolved types.ResolvedPolicy) []any {
	if agent == nil {
		return nil
	}
	if len(resolved.AllowedIntegrations) == 0 {
		return agent.Integrations
	}

	allowed := make(map[string]bool, len(resolved.AllowedIntegrations))
	for _, key := range resolved.AllowedIntegrations {
		allowed[key] = true
	}

	var kept []any
	for _, entry := range agent.Integrations {
		if allowed[types.IntegrationKey(entry)] {
			kept = append(kept, entry)
		}
	}
	return kept
}

// HasSearchIntegration reports whether any of the given integrations is
// search-capable, identified by a key containing "search".
func HasSearchIntegration(integrations []any) bool {
	for _, entry := range integrations {
		if strings.Contains(strings.ToLower(types.IntegrationKey(entry)), "search") {
			return true
		}
	}
	return false
}
