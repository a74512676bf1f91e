// Package pipeline provides the run orchestration engine: the canonical
// stage sequencer, the streaming stage executor, artifact persistence, and
// restart recovery.
package pipeline

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/content-factory/internal/types"
)

// Canonical stage ids. Exactly these six exist system-wide; pipelines can
// rename, disable, or reorder-describe them but never add or remove
// identities.
const (
	StageDiscovery = "discovery"
	StageSynthesis = "synthesis"
	StageDraft     = "draft"
	StageAdapt     = "adapt"
	StageStyle     = "style"
	StageAudit     = "audit"
)

// canonicalStages is the system-wide stage registry in execution order.
var canonicalStages = []types.StageDef{
	{StageID: StageDiscovery, Role: "discovery", Name: "Discovery & Evidence", Order: 1,
		DefaultArtifactNames: []string{"evidence.json", "reading_notes.md"}},
	{StageID: StageSynthesis, Role: "synthesis", Name: "Synthesis & Claims", Order: 2,
		DefaultArtifactNames: []string{"foundation_report.md", "claims_table.json"}},
	{StageID: StageDraft, Role: "draft", Name: "Long-form Draft", Order: 3,
		DefaultArtifactNames: []string{"draft_longform.md"}},
	{StageID: StageAdapt, Role: "adapt", Name: "Platform Adaptation", Order: 4,
		DefaultArtifactNames: []string{"platform_pack.md"}},
	{StageID: StageStyle, Role: "style", Name: "Brand Styling", Order: 5,
		DefaultArtifactNames: []string{"platform_pack_styled.md"}},
	{StageID: StageAudit, Role: "audit", Name: "Fact Audit & Final Pack", Order: 6,
		DefaultArtifactNames: []string{"fact_audit.md", "final_pack.md"}},
}

// CanonicalStages returns a fresh copy of the stage registry.
func CanonicalStages() []types.StageDef {
	out := make([]types.StageDef, len(canonicalStages))
	copy(out, canonicalStages)
	return out
}

// CanonicalStageByID returns the registry entry for a stage id, or nil.
func CanonicalStageByID(stageID string) *types.StageDef {
	for i := range canonicalStages {
		if canonicalStages[i].StageID == stageID {
			return &canonicalStages[i]
		}
	}
	return nil
}

// EffectiveStages merges a pipeline's stage definitions over the canonical
// registry. Every canonical identity is present in the result exactly once;
// pipeline entries only override name, order, enabled, and artifact names.
func EffectiveStages(p *types.Pipeline) []types.StageDef {
	merged := CanonicalStages()
	for i := range merged {
		override := p.StageByID(merged[i].StageID)
		if override == nil {
			continue
		}
		if override.Name != "" {
			merged[i].Name = override.Name
		}
		if override.Order != 0 {
			merged[i].Order = override.Order
		}
		if override.Enabled != nil {
			merged[i].Enabled = override.Enabled
		}
		if len(override.DefaultArtifactNames) == len(merged[i].DefaultArtifactNames) {
			merged[i].DefaultArtifactNames = override.DefaultArtifactNames
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Order < merged[j].Order })
	return merged
}

// enabledStages filters the merged stage list to those participating in
// execution, already sorted by order.
func enabledStages(p *types.Pipeline) []types.StageDef {
	var out []types.StageDef
	for _, stage := range EffectiveStages(p) {
		if stage.IsEnabled() {
			out = append(out, stage)
		}
	}
	return out
}

// NewRun builds a run record for a pipeline. The stage state map always
// contains all six canonical stage ids regardless of which stages the
// pipeline enabled; disabled stages stay pending and are skipped during
// execution.
func NewRun(p *types.Pipeline, req *types.CreateRunRequest) *types.Run {
	now := time.Now().UTC()
	run := &types.Run{
		ID:              uuid.NewString(),
		PipelineID:      p.ID,
		Status:          types.RunStatusQueued,
		Topic:           req.Topic,
		SeedLinks:       req.SeedLinks,
		BrandVoice:      req.BrandVoice,
		TargetPlatforms: req.TargetPlatforms,
		ToolsPolicy:     req.ToolsPolicy,
		StageState:      make(map[string]*types.StageState, len(canonicalStages)),
		Artifacts:       []types.Artifact{},
		Evidence:        []types.Evidence{},
		Logs:            []types.LogEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, stage := range EffectiveStages(p) {
		run.StageState[stage.StageID] = &types.StageState{
			StageID: stage.StageID,
			Name:    stage.Name,
			Role:    stage.Role,
			Order:   stage.Order,
			Enabled: stage.IsEnabled(),
			Status:  types.StageStatusPending,
		}
	}
	return run
}

// DefaultPipeline builds the canonical six-stage pipeline with every role
// bound to the given agent id.
func DefaultPipeline(name, agentID string) *types.Pipeline {
	now := time.Now().UTC()
	agents := make(map[string]string, len(canonicalStages))
	outputs := []string{}
	for _, stage := range canonicalStages {
		agents[stage.Role] = agentID
		outputs = append(outputs, stage.DefaultArtifactNames...)
	}
	return &types.Pipeline{
		ID:           uuid.NewString(),
		Name:         name,
		Stages:       CanonicalStages(),
		AgentsByRole: agents,
		Outputs:      outputs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
