package types

// ToolsPolicy is the permission set governing tool and integration use
// during a run. A run-level policy takes precedence over the pipeline's.
type ToolsPolicy struct {
	Default StagePolicy            `json:"default"`
	ByStage map[string]StagePolicy `json:"by_stage,omitempty"`
}

// StagePolicy holds the per-stage override fields of a tools policy.
// Every field is optional: an unset field inherits from the default
// entry during resolution.
type StagePolicy struct {
	AllowWebSearch      *bool    `json:"allow_web_search,omitempty"`
	AllowedTools        []string `json:"allowed_tools,omitempty"`
	AllowedIntegrations []string `json:"allowed_integrations,omitempty"`
}

// ResolvedPolicy is the effective, fully-defaulted policy for one stage.
type ResolvedPolicy struct {
	AllowWebSearch      bool     `json:"allow_web_search"`
	AllowedTools        []string `json:"allowed_tools"`
	AllowedIntegrations []string `json:"allowed_integrations"`
}
