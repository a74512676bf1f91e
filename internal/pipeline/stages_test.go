package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-factory/internal/types"
)

func TestCanonicalStages_RegistryShape(t *testing.T) {
	stages := CanonicalStages()
	require.Len(t, stages, 6)

	ids := make([]string, 0, len(stages))
	for i, stage := range stages {
		ids = append(ids, stage.StageID)
		assert.Equal(t, i+1, stage.Order)
		assert.NotEmpty(t, stage.DefaultArtifactNames)
	}
	assert.Equal(t, []string{StageDiscovery, StageSynthesis, StageDraft, StageAdapt, StageStyle, StageAudit}, ids)
}

func TestCanonicalStageByID(t *testing.T) {
	stage := CanonicalStageByID(StageAudit)
	require.NotNil(t, stage)
	assert.Equal(t, []string{"fact_audit.md", "final_pack.md"}, stage.DefaultArtifactNames)

	assert.Nil(t, CanonicalStageByID("publishing"))
}

func TestEffectiveStages_PipelineOverrides(t *testing.T) {
	disabled := false
	pipe := &types.Pipeline{
		ID: "p1",
		Stages: []types.StageDef{
			{StageID: StageStyle, Enabled: &disabled},
			{StageID: StageDraft, Name: "Essay Draft", Order: 10},
			{StageID: StageDiscovery, DefaultArtifactNames: []string{"sources.json", "notes.md"}},
			// Wrong artifact count, ignored.
			{StageID: StageSynthesis, DefaultArtifactNames: []string{"only_one.md"}},
		},
	}

	stages := EffectiveStages(pipe)
	require.Len(t, stages, 6, "overrides never add or remove stage identities")

	byID := make(map[string]types.StageDef, len(stages))
	for _, stage := range stages {
		byID[stage.StageID] = stage
	}

	style := byID[StageStyle]
	assert.False(t, style.IsEnabled())
	assert.Equal(t, "Essay Draft", byID[StageDraft].Name)
	assert.Equal(t, []string{"sources.json", "notes.md"}, byID[StageDiscovery].DefaultArtifactNames)
	assert.Equal(t, []string{"foundation_report.md", "claims_table.json"}, byID[StageSynthesis].DefaultArtifactNames)

	// Draft reordered to the end.
	assert.Equal(t, StageDraft, stages[len(stages)-1].StageID)
}

func TestEnabledStages_FiltersDisabled(t *testing.T) {
	disabled := false
	pipe := &types.Pipeline{
		ID:     "p1",
		Stages: []types.StageDef{{StageID: StageAudit, Enabled: &disabled}},
	}

	stages := enabledStages(pipe)
	require.Len(t, stages, 5)
	for _, stage := range stages {
		assert.NotEqual(t, StageAudit, stage.StageID)
	}
}

func TestNewRun_AlwaysTracksAllSixStages(t *testing.T) {
	disabled := false
	pipe := DefaultPipeline("Default", "a1")
	pipe.Stages = []types.StageDef{{StageID: StageStyle, Enabled: &disabled}}

	run := NewRun(pipe, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "observability"})

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, types.RunStatusQueued, run.Status)
	assert.Equal(t, "observability", run.Topic)
	require.Len(t, run.StageState, 6)

	for _, stageID := range []string{StageDiscovery, StageSynthesis, StageDraft, StageAdapt, StageStyle, StageAudit} {
		st := run.Stage(stageID)
		require.NotNil(t, st, stageID)
		assert.Equal(t, types.StageStatusPending, st.Status)
	}
	assert.False(t, run.Stage(StageStyle).Enabled)
	assert.True(t, run.Stage(StageDraft).Enabled)

	assert.NotNil(t, run.Artifacts)
	assert.NotNil(t, run.Logs)
	assert.NotNil(t, run.Evidence)
}

func TestDefaultPipeline(t *testing.T) {
	pipe := DefaultPipeline("Content Factory", "a1")

	assert.NotEmpty(t, pipe.ID)
	assert.Equal(t, "Content Factory", pipe.Name)
	require.Len(t, pipe.Stages, 6)
	require.Len(t, pipe.AgentsByRole, 6)
	for role, agentID := range pipe.AgentsByRole {
		assert.Equal(t, "a1", agentID, role)
	}
	assert.Len(t, pipe.Outputs, 9)
}
