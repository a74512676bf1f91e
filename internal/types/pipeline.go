package types

import "time"

// StageDef describes one canonical pipeline stage as configured by a
// pipeline. Exactly six canonical stages exist system-wide; a pipeline may
// rename, disable, or re-describe them but cannot add or remove identities.
type StageDef struct {
	StageID              string   `json:"stage_id"`
	Role                 string   `json:"role"`
	Name                 string   `json:"name"`
	Order                int      `json:"order"`
	Enabled              *bool    `json:"enabled,omitempty"`
	DefaultArtifactNames []string `json:"default_artifact_names,omitempty"`
}

// IsEnabled reports whether the stage participates in execution.
// A stage is enabled unless explicitly disabled.
func (s *StageDef) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Pipeline is a configured sequence of the six canonical stages, each
// bound to an agent by role.
type Pipeline struct {
	ID           string            `json:"pipeline_id"`
	Name         string            `json:"name"`
	Stages       []StageDef        `json:"stages"`
	AgentsByRole map[string]string `json:"agents_by_role"`
	ToolsPolicy  *ToolsPolicy      `json:"tools_policy,omitempty"`
	Outputs      []string          `json:"outputs,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// StageByID returns the pipeline's definition for a stage id, or nil.
func (p *Pipeline) StageByID(stageID string) *StageDef {
	for i := range p.Stages {
		if p.Stages[i].StageID == stageID {
			return &p.Stages[i]
		}
	}
	return nil
}
