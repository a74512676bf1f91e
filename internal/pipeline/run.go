package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonathan/content-factory/internal/events"
	"github.com/jonathan/content-factory/internal/llm"
	"github.com/jonathan/content-factory/internal/prompts"
	"github.com/jonathan/content-factory/internal/search"
	"github.com/jonathan/content-factory/internal/store"
	"github.com/jonathan/content-factory/internal/types"
)

// pausePollInterval is how often a paused run re-checks its status between
// stages.
const pausePollInterval = 200 * time.Millisecond

// Service owns run orchestration: it creates runs, executes them on
// dedicated goroutines, and mediates cancellation, pausing, and restart
// recovery. One Service instance exists per process.
type Service struct {
	store     store.Store
	chat      llm.Client
	search    search.Searcher
	snapshots *search.SnapshotFetcher
	events    *events.Broadcaster

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// NewService wires the orchestration service. search and snapshots may be
// nil when no search backend is configured; the discovery fallback then
// degrades to an empty evidence list.
func NewService(st store.Store, chat llm.Client, searcher search.Searcher, snapshots *search.SnapshotFetcher, broadcaster *events.Broadcaster) *Service {
	return &Service{
		store:     st,
		chat:      chat,
		search:    searcher,
		snapshots: snapshots,
		events:    broadcaster,
		active:    make(map[string]struct{}),
	}
}

// Events exposes the broadcaster for transport-layer subscriptions.
func (s *Service) Events() *events.Broadcaster {
	return s.events
}

// Subscribe attaches a sink to a run's event stream and returns its cancel
// function.
func (s *Service) Subscribe(runID string, sink events.Sink) func() {
	return s.events.Subscribe(runID, sink)
}

// Wait blocks until every in-flight run goroutine has finished. Used on
// shutdown and in tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// CreateRun validates the request, builds a queued run for the pipeline,
// and persists it. Execution does not start until StartRun.
func (s *Service) CreateRun(ctx context.Context, req *types.CreateRunRequest) (*types.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run request: %w", err)
	}
	pipe, err := s.store.GetPipeline(ctx, req.PipelineID)
	if err != nil {
		return nil, err
	}
	run := NewRun(pipe, req)
	if err := s.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}
	return run, nil
}

// StartRun launches the run's orchestration goroutine. Starting a run that
// is already executing is a no-op; starting a terminal run is an error.
func (s *Service) StartRun(ctx context.Context, runID string) (*types.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Terminal() {
		return nil, fmt.Errorf("run %s already finished with status %s", runID, run.Status)
	}

	s.mu.Lock()
	if _, executing := s.active[runID]; executing {
		s.mu.Unlock()
		return run, nil
	}
	s.active[runID] = struct{}{}
	s.mu.Unlock()

	pipe, err := s.store.GetPipeline(ctx, run.PipelineID)
	if err != nil {
		s.release(runID)
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		// Detached from the request context: a run outlives the HTTP call
		// that started it.
		defer s.wg.Done()
		defer s.release(runID)
		s.runPipeline(context.Background(), run, pipe)
	}()
	return run, nil
}

// runPipeline drives one run through its enabled stages in order. Every
// error path lands in run state rather than escaping the goroutine.
func (s *Service) runPipeline(ctx context.Context, run *types.Run, pipe *types.Pipeline) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pipeline] run %s panicked: %v", run.ID, r)
			s.failRun(ctx, run, fmt.Errorf("internal error: %v", r))
		}
	}()

	s.mu.Lock()
	if run.Status == types.RunStatusQueued {
		run.Status = types.RunStatusRunning
	}
	status := run.Status
	run.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	if status == types.RunStatusCancelling {
		s.finishCancellation(ctx, run)
		return
	}
	run.AppendLog("info", "run started")
	s.save(ctx, run)
	s.events.Publish(run.ID, run.PipelineID, "run_started", map[string]any{"status": status})

	for _, stage := range enabledStages(pipe) {
		if !s.awaitRunnable(ctx, run) {
			return
		}
		if !s.runStage(ctx, run, pipe, stage) {
			return
		}
	}

	s.mu.Lock()
	run.Status = types.RunStatusCompleted
	run.FailedStage = ""
	run.ErrorMessage = ""
	run.ErrorAt = nil
	run.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	run.AppendLog("info", "run completed")
	s.save(ctx, run)
	s.events.Publish(run.ID, run.PipelineID, "run_completed", map[string]any{"status": run.Status})
	s.events.CloseRun(run.ID)
}

// runStage executes one stage end to end and reports whether the run
// should continue.
func (s *Service) runStage(ctx context.Context, run *types.Run, pipe *types.Pipeline, stage types.StageDef) bool {
	agentID, ok := pipe.AgentsByRole[stage.Role]
	if !ok || agentID == "" {
		s.failStage(ctx, run, stage, &ConfigurationError{
			Message: fmt.Sprintf("pipeline has no agent bound to role %q", stage.Role),
		})
		return false
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		s.failStage(ctx, run, stage, &ConfigurationError{
			Message: fmt.Sprintf("agent %s for role %q not found", agentID, stage.Role),
		})
		return false
	}

	st := s.setStageStatus(run, stage.StageID, types.StageStatusRunning)
	if st != nil {
		st.AgentID = agent.ID
	}
	run.AppendLog("info", fmt.Sprintf("stage %s started with agent %s", stage.StageID, agent.ID))
	s.save(ctx, run)
	s.events.Publish(run.ID, run.PipelineID, "stage_started", map[string]any{
		"stageId": stage.StageID,
		"agentId": agent.ID,
	})

	started := time.Now()
	out, err := s.executeStage(ctx, run, pipe, stage, agent, stageMaterials(run), stage.StageID == StageDiscovery)
	if err != nil {
		s.failStage(ctx, run, stage, err)
		return false
	}
	if err := s.persistStageArtifacts(ctx, run, stage, out); err != nil {
		s.failStage(ctx, run, stage, err)
		return false
	}

	stats := &types.StageStats{
		DurationMs: time.Since(started).Milliseconds(),
		ResponseID: out.Result.ResponseID,
		Backend:    out.Result.Stats,
	}
	run.RecordStageStats(stage.StageID, stats)
	s.setStageStatus(run, stage.StageID, types.StageStatusCompleted)
	run.AppendLog("info", fmt.Sprintf("stage %s completed in %dms", stage.StageID, stats.DurationMs))
	s.save(ctx, run)
	s.events.Publish(run.ID, run.PipelineID, "stage_completed", map[string]any{
		"stageId":    stage.StageID,
		"durationMs": stats.DurationMs,
	})
	return true
}

// stageMaterials flattens the run's artifacts into prompt materials in
// production order, keeping only the newest content per title.
func stageMaterials(run *types.Run) []prompts.Material {
	latest := run.ArtifactsByTitle()
	seen := make(map[string]bool, len(latest))

	var materials []prompts.Material
	for _, a := range run.Artifacts {
		if seen[a.Title] {
			continue
		}
		seen[a.Title] = true
		materials = append(materials, prompts.Material{Name: a.Title, Content: latest[a.Title]})
	}
	return materials
}

// awaitRunnable blocks while the run is paused and handles a pending
// cancellation. Returns false when the run should stop executing.
func (s *Service) awaitRunnable(ctx context.Context, run *types.Run) bool {
	for {
		switch s.status(run) {
		case types.RunStatusRunning:
			return true
		case types.RunStatusPaused:
			time.Sleep(pausePollInterval)
		case types.RunStatusCancelling:
			s.finishCancellation(ctx, run)
			return false
		default:
			return false
		}
	}
}

func (s *Service) finishCancellation(ctx context.Context, run *types.Run) {
	s.mu.Lock()
	run.Status = types.RunStatusCancelled
	run.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	run.AppendLog("info", "run cancelled")
	s.save(ctx, run)
	s.events.Publish(run.ID, run.PipelineID, "run_cancelled", map[string]any{"status": run.Status})
	s.events.CloseRun(run.ID)
}

// failStage marks the stage and the run failed, attributing the failure to
// the stage that raised it. Stages after the failed one are never touched
// and stay pending.
func (s *Service) failStage(ctx context.Context, run *types.Run, stage types.StageDef, err error) {
	if st := s.setStageStatus(run, stage.StageID, types.StageStatusFailed); st != nil {
		st.Error = errorMessage(err)
	}
	s.failRunAt(ctx, run, stage.StageID, err)
}

// failRun handles errors with no stage attached (the panic recovery path):
// whichever stage is still running takes the blame, falling back to
// "unknown" when none is.
func (s *Service) failRun(ctx context.Context, run *types.Run, err error) {
	stageID := run.ActiveStage()
	if st := run.Stage(stageID); st != nil && st.Status == types.StageStatusRunning {
		s.setStageStatus(run, stageID, types.StageStatusFailed)
		st.Error = errorMessage(err)
	}
	s.failRunAt(ctx, run, stageID, err)
}

// failRunAt converts an error into terminal run state and broadcasts it.
func (s *Service) failRunAt(ctx context.Context, run *types.Run, stageID string, err error) {
	now := time.Now().UTC()
	s.mu.Lock()
	run.Status = types.RunStatusFailed
	if run.FailedStage == "" {
		run.FailedStage = stageID
	}
	run.ErrorMessage = errorMessage(err)
	run.ErrorAt = &now
	run.UpdatedAt = now
	s.mu.Unlock()
	run.AppendLog("error", fmt.Sprintf("%s error: %s", errorKind(err), errorMessage(err)))
	s.save(ctx, run)
	s.events.Publish(run.ID, run.PipelineID, "run_failed", map[string]any{
		"status":      run.Status,
		"failedStage": run.FailedStage,
		"error":       run.ErrorMessage,
	})
	s.events.CloseRun(run.ID)
}

// CancelRun requests cancellation. A queued run is cancelled immediately;
// an executing run transitions to cancelling and finishes its current
// stage before stopping.
func (s *Service) CancelRun(ctx context.Context, runID string) (*types.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if run.Terminal() {
		status := run.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("run %s already finished with status %s", runID, status)
	}
	if run.Status == types.RunStatusQueued {
		run.Status = types.RunStatusCancelled
	} else {
		run.Status = types.RunStatusCancelling
	}
	status := run.Status
	run.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.save(ctx, run)
	s.events.Publish(run.ID, run.PipelineID, "run_cancelling", map[string]any{"status": status})
	if status == types.RunStatusCancelled {
		s.events.CloseRun(run.ID)
	}
	return run, nil
}

// PauseRun pauses an executing run at the next stage boundary.
func (s *Service) PauseRun(ctx context.Context, runID string) (*types.Run, error) {
	return s.transition(ctx, runID, types.RunStatusRunning, types.RunStatusPaused, "run_paused")
}

// ResumeRun resumes a paused run.
func (s *Service) ResumeRun(ctx context.Context, runID string) (*types.Run, error) {
	return s.transition(ctx, runID, types.RunStatusPaused, types.RunStatusRunning, "run_resumed")
}

func (s *Service) transition(ctx context.Context, runID, from, to, event string) (*types.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if run.Status != from {
		status := run.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("run %s is %s, expected %s", runID, status, from)
	}
	run.Status = to
	run.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.save(ctx, run)
	s.events.Publish(run.ID, run.PipelineID, event, map[string]any{"status": to})
	return run, nil
}

// RecoverInterrupted sweeps the run store at startup and fails every run
// that was mid-execution when the previous process died.
func (s *Service) RecoverInterrupted(ctx context.Context) error {
	runs, err := s.store.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs for recovery: %w", err)
	}

	for _, run := range runs {
		switch run.Status {
		case types.RunStatusRunning, types.RunStatusPaused, types.RunStatusCancelling:
		default:
			continue
		}

		stageID := run.ActiveStage()
		if st := run.Stage(stageID); st != nil && st.Status == types.StageStatusRunning {
			st.Status = types.StageStatusFailed
			st.Error = InterruptionMessage
		}

		now := time.Now().UTC()
		run.Status = types.RunStatusFailed
		if run.FailedStage == "" {
			run.FailedStage = stageID
		}
		run.ErrorMessage = InterruptionMessage
		run.ErrorAt = &now
		run.UpdatedAt = now
		run.AppendLog("error", InterruptionMessage)
		if err := s.store.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("failed to persist recovered run %s: %w", run.ID, err)
		}
		log.Printf("[pipeline] recovered interrupted run %s (failed at %s)", run.ID, run.FailedStage)
	}
	return nil
}

// setStageStatus transitions a stage under the service mutex. Stage
// transitions touch run.UpdatedAt, which pause and cancel requests also
// write from API goroutines.
func (s *Service) setStageStatus(run *types.Run, stageID, status string) *types.StageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return run.SetStageStatus(stageID, status)
}

// status reads the run status under the service mutex; pause and cancel
// requests mutate it from API goroutines.
func (s *Service) status(run *types.Run) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return run.Status
}

// stageStatus reads one stage's status under the service mutex, for
// observers of a run that is still executing.
func (s *Service) stageStatus(run *types.Run, stageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := run.Stage(stageID); st != nil {
		return st.Status
	}
	return ""
}

func (s *Service) save(ctx context.Context, run *types.Run) {
	if err := s.store.SaveRun(ctx, run); err != nil {
		log.Printf("[pipeline] failed to persist run %s: %v", run.ID, err)
	}
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}
