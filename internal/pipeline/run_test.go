package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-factory/internal/events"
	"github.com/jonathan/content-factory/internal/llm"
	"github.com/jonathan/content-factory/internal/search"
	"github.com/jonathan/content-factory/internal/store"
	"github.com/jonathan/content-factory/internal/types"
)

// discoveryResponse carries a valid evidence block so the discovery stage
// persists evidence without the search fallback.
const discoveryResponse = "Reading notes on the topic.\n```json\n[{\"url\": \"https://example.com/a\", \"title\": \"Source A\", \"snippet\": \"summary a\"}]\n```"

// fakeChat is a scripted chat backend. Each call streams one delta frame
// followed by an authoritative chat.end result.
type fakeChat struct {
	mu        sync.Mutex
	responses []string
	calls     int
	failAt    int
	block     chan struct{}
}

func newFakeChat(responses ...string) *fakeChat {
	return &fakeChat{responses: responses, failAt: -1}
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChat) StreamChat(_ context.Context, _ *llm.ChatRequest, handle func(llm.Frame)) error {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil && idx == 0 {
		<-block
	}
	if idx == f.failAt {
		return &llm.UpstreamError{Status: 503, Message: "backend unavailable"}
	}

	text := "stage output"
	if idx < len(f.responses) {
		text = f.responses[idx]
	}
	handle(llm.Frame{Event: "message.delta", Data: map[string]any{"delta": text}})
	handle(llm.Frame{Event: "chat.end", Data: map[string]any{
		"result": map[string]any{
			"response_id": fmt.Sprintf("resp-%d", idx),
			"stats":       map[string]any{"total_tokens": float64(42)},
			"output": []any{
				map[string]any{"type": "message", "role": "assistant", "content": text},
			},
		},
	}})
	return nil
}

type fakeSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func newTestService(t *testing.T, chat llm.Client, searcher search.Searcher) (*Service, *store.MemoryStore, *types.Pipeline) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	agent := &types.Agent{ID: "a1", Name: "Writer", Model: "test-model"}
	require.NoError(t, st.SaveAgent(ctx, agent))

	pipe := DefaultPipeline("Default Pipeline", agent.ID)
	require.NoError(t, st.SavePipeline(ctx, pipe))

	svc := NewService(st, chat, searcher, nil, events.NewBroadcaster(time.Hour))
	return svc, st, pipe
}

func createAndRun(t *testing.T, svc *Service, pipe *types.Pipeline) *types.Run {
	t.Helper()
	ctx := context.Background()
	run, err := svc.CreateRun(ctx, &types.CreateRunRequest{
		PipelineID: pipe.ID,
		Topic:      "zero-downtime database migrations",
	})
	require.NoError(t, err)
	_, err = svc.StartRun(ctx, run.ID)
	require.NoError(t, err)
	svc.Wait()
	return run
}

func TestService_RunCompletesAllStages(t *testing.T) {
	chat := newFakeChat(discoveryResponse)
	svc, _, pipe := newTestService(t, chat, nil)

	run := createAndRun(t, svc, pipe)

	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Equal(t, 6, chat.callCount())
	assert.Len(t, run.Artifacts, 9)

	for _, stageID := range []string{StageDiscovery, StageSynthesis, StageDraft, StageAdapt, StageStyle, StageAudit} {
		st := run.Stage(stageID)
		require.NotNil(t, st, stageID)
		assert.Equal(t, types.StageStatusCompleted, st.Status, stageID)
		assert.NotNil(t, st.StartedAt, stageID)
		assert.NotNil(t, st.CompletedAt, stageID)
		assert.NotNil(t, run.Metrics.PerStage[stageID], stageID)
	}

	require.Len(t, run.Evidence, 1)
	assert.Equal(t, "https://example.com/a", run.Evidence[0].URL)

	titles := run.ArtifactsByTitle()
	for _, title := range []string{
		"evidence.json", "reading_notes.md",
		"foundation_report.md", "claims_table.json",
		"draft_longform.md", "platform_pack.md", "platform_pack_styled.md",
		"fact_audit.md", "final_pack.md",
	} {
		assert.Contains(t, titles, title)
	}
}

func TestService_CompletionClearsFailureFields(t *testing.T) {
	chat := newFakeChat(discoveryResponse)
	svc, _, pipe := newTestService(t, chat, nil)

	ctx := context.Background()
	run, err := svc.CreateRun(ctx, &types.CreateRunRequest{
		PipelineID: pipe.ID,
		Topic:      "stale failure fields",
	})
	require.NoError(t, err)

	// A record carrying failure fields from an earlier attempt must come
	// out clean when the run completes.
	now := time.Now().UTC()
	run.FailedStage = StageDraft
	run.ErrorMessage = "previous attempt failed"
	run.ErrorAt = &now

	_, err = svc.StartRun(ctx, run.ID)
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Empty(t, run.FailedStage)
	assert.Empty(t, run.ErrorMessage)
	assert.Nil(t, run.ErrorAt)
}

func TestService_FailureLeavesLaterStagesPending(t *testing.T) {
	chat := newFakeChat(discoveryResponse)
	chat.failAt = 2 // draft
	svc, _, pipe := newTestService(t, chat, nil)

	run := createAndRun(t, svc, pipe)

	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Equal(t, StageDraft, run.FailedStage)
	assert.Contains(t, run.ErrorMessage, "backend unavailable")
	assert.Contains(t, run.ErrorMessage, "503")
	require.NotNil(t, run.ErrorAt)

	assert.Equal(t, types.StageStatusCompleted, run.Stage(StageDiscovery).Status)
	assert.Equal(t, types.StageStatusCompleted, run.Stage(StageSynthesis).Status)
	assert.Equal(t, types.StageStatusFailed, run.Stage(StageDraft).Status)
	for _, stageID := range []string{StageAdapt, StageStyle, StageAudit} {
		assert.Equal(t, types.StageStatusPending, run.Stage(stageID).Status, stageID)
		assert.Nil(t, run.Stage(stageID).StartedAt, stageID)
	}
}

func TestService_MissingRoleBindingFailsRun(t *testing.T) {
	chat := newFakeChat()
	svc, _, pipe := newTestService(t, chat, nil)
	delete(pipe.AgentsByRole, "discovery")

	run := createAndRun(t, svc, pipe)

	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Equal(t, StageDiscovery, run.FailedStage)
	assert.Contains(t, run.ErrorMessage, "no agent bound")
	assert.Equal(t, 0, chat.callCount())
}

func TestService_UnknownAgentFailsRun(t *testing.T) {
	chat := newFakeChat()
	svc, _, pipe := newTestService(t, chat, nil)
	pipe.AgentsByRole["discovery"] = "ghost"

	run := createAndRun(t, svc, pipe)

	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "ghost")
}

func TestService_StartRunIsIdempotentWhileExecuting(t *testing.T) {
	chat := newFakeChat(discoveryResponse)
	chat.block = make(chan struct{})
	svc, _, pipe := newTestService(t, chat, nil)

	ctx := context.Background()
	run, err := svc.CreateRun(ctx, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "idempotency test"})
	require.NoError(t, err)

	_, err = svc.StartRun(ctx, run.ID)
	require.NoError(t, err)
	_, err = svc.StartRun(ctx, run.ID)
	require.NoError(t, err)

	close(chat.block)
	svc.Wait()

	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Equal(t, 6, chat.callCount())
}

func TestService_CancelStopsAtStageBoundary(t *testing.T) {
	chat := newFakeChat(discoveryResponse)
	chat.block = make(chan struct{})
	svc, _, pipe := newTestService(t, chat, nil)

	ctx := context.Background()
	run, err := svc.CreateRun(ctx, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "cancellation test"})
	require.NoError(t, err)
	_, err = svc.StartRun(ctx, run.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return svc.status(run) == types.RunStatusRunning
	}, time.Second, 5*time.Millisecond)

	_, err = svc.CancelRun(ctx, run.ID)
	require.NoError(t, err)

	close(chat.block)
	svc.Wait()

	assert.Equal(t, types.RunStatusCancelled, run.Status)
	assert.Equal(t, 1, chat.callCount())
	assert.Equal(t, types.StageStatusCompleted, run.Stage(StageDiscovery).Status)
	assert.Equal(t, types.StageStatusPending, run.Stage(StageSynthesis).Status)
}

func TestService_CancelQueuedRunImmediately(t *testing.T) {
	svc, _, pipe := newTestService(t, newFakeChat(), nil)

	ctx := context.Background()
	run, err := svc.CreateRun(ctx, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "queued cancel"})
	require.NoError(t, err)

	_, err = svc.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusCancelled, run.Status)

	_, err = svc.StartRun(ctx, run.ID)
	assert.Error(t, err)
}

func TestService_PauseAndResume(t *testing.T) {
	chat := newFakeChat(discoveryResponse)
	chat.block = make(chan struct{})
	svc, _, pipe := newTestService(t, chat, nil)

	ctx := context.Background()
	run, err := svc.CreateRun(ctx, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "pause test"})
	require.NoError(t, err)
	_, err = svc.StartRun(ctx, run.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return svc.status(run) == types.RunStatusRunning
	}, time.Second, 5*time.Millisecond)

	_, err = svc.PauseRun(ctx, run.ID)
	require.NoError(t, err)

	close(chat.block)

	// The run parks at the next stage boundary until resumed.
	require.Eventually(t, func() bool {
		return svc.stageStatus(run, StageDiscovery) == types.StageStatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.RunStatusPaused, svc.status(run))

	_, err = svc.ResumeRun(ctx, run.ID)
	require.NoError(t, err)

	svc.Wait()
	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Equal(t, 6, chat.callCount())
}

func TestService_CreateRunRejectsInvalidRequest(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeChat(), nil)

	_, err := svc.CreateRun(context.Background(), &types.CreateRunRequest{Topic: "missing pipeline"})
	assert.Error(t, err)

	_, err = svc.CreateRun(context.Background(), &types.CreateRunRequest{PipelineID: "nope", Topic: "unknown pipeline"})
	assert.Error(t, err)
}

func TestService_RecoverInterrupted(t *testing.T) {
	svc, st, pipe := newTestService(t, newFakeChat(), nil)
	ctx := context.Background()

	interrupted := NewRun(pipe, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "interrupted"})
	interrupted.Status = types.RunStatusRunning
	interrupted.SetStageStatus(StageDraft, types.StageStatusRunning)
	require.NoError(t, st.SaveRun(ctx, interrupted))

	finished := NewRun(pipe, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "finished"})
	finished.Status = types.RunStatusCompleted
	require.NoError(t, st.SaveRun(ctx, finished))

	require.NoError(t, svc.RecoverInterrupted(ctx))

	assert.Equal(t, types.RunStatusFailed, interrupted.Status)
	assert.Equal(t, StageDraft, interrupted.FailedStage)
	assert.Equal(t, InterruptionMessage, interrupted.ErrorMessage)
	assert.Equal(t, types.StageStatusFailed, interrupted.Stage(StageDraft).Status)

	assert.Equal(t, types.RunStatusCompleted, finished.Status)
}

func TestService_RecoverInterruptedWithoutActiveStage(t *testing.T) {
	svc, st, pipe := newTestService(t, newFakeChat(), nil)
	ctx := context.Background()

	run := NewRun(pipe, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "no active stage"})
	run.Status = types.RunStatusRunning
	require.NoError(t, st.SaveRun(ctx, run))

	require.NoError(t, svc.RecoverInterrupted(ctx))

	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Equal(t, "unknown", run.FailedStage)
	assert.Equal(t, InterruptionMessage, run.ErrorMessage)
}
