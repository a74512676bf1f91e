package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-factory/internal/types"
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenFileStore(dir)
	require.NoError(t, err)

	agent := &types.Agent{ID: "a1", Name: "Writer", Model: "test-model"}
	require.NoError(t, s.SaveAgent(ctx, agent))

	pipeline := &types.Pipeline{ID: "p1", Name: "Default", AgentsByRole: map[string]string{"draft": "a1"}}
	require.NoError(t, s.SavePipeline(ctx, pipeline))

	run := &types.Run{ID: "r1", PipelineID: "p1", Status: types.RunStatusQueued, Topic: "t"}
	require.NoError(t, s.SaveRun(ctx, run))

	// Re-open from disk and verify everything survived.
	reopened, err := OpenFileStore(dir)
	require.NoError(t, err)

	gotAgent, err := reopened.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Writer", gotAgent.Name)

	gotPipeline, err := reopened.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "a1", gotPipeline.AgentsByRole["draft"])

	gotRun, err := reopened.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusQueued, gotRun.Status)
}

func TestFileStore_SaveRunRewritesFullList(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.SaveRun(ctx, &types.Run{ID: "r1", Status: types.RunStatusQueued}))
	require.NoError(t, s.SaveRun(ctx, &types.Run{ID: "r2", Status: types.RunStatusQueued}))
	require.NoError(t, s.SaveRun(ctx, &types.Run{ID: "r1", Status: types.RunStatusCompleted}))

	data, err := os.ReadFile(filepath.Join(dir, runsFile))
	require.NoError(t, err)

	var persisted []types.Run
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 2)
	assert.Equal(t, types.RunStatusCompleted, persisted[0].Status)
}

func TestFileStore_GetMissing(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.GetRun(context.Background(), "nope")
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "run", notFound.Kind)
}

func TestFileStore_DeleteAgent(t *testing.T) {
	ctx := context.Background()
	s, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.SaveAgent(ctx, &types.Agent{ID: "a1"}))
	require.NoError(t, s.DeleteAgent(ctx, "a1"))

	_, err = s.GetAgent(ctx, "a1")
	assert.Error(t, err)
	assert.Error(t, s.DeleteAgent(ctx, "a1"))
}

func TestFileStore_IgnoresMissingFiles(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}
