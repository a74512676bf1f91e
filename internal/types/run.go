// Package types provides type definitions for structured data used throughout the content-factory system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"
)

// Run status values.
const (
	RunStatusQueued     = "queued"
	RunStatusRunning    = "running"
	RunStatusPaused     = "paused"
	RunStatusCancelling = "cancelling"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
	RunStatusCancelled  = "cancelled"
)

// Stage status values.
const (
	StageStatusPending   = "pending"
	StageStatusRunning   = "running"
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
)

// Bounded growth caps for the append-only collections on a Run.
// Oldest entries are silently dropped on overflow.
const (
	MaxRunArtifacts = 1000
	MaxRunLogs      = 5000
	MaxRunEvidence  = 1000
)

// Run represents one execution of a pipeline against a topic.
// A Run record is mutated exclusively by its own orchestration goroutine
// until it reaches a terminal status; other code paths read snapshots only.
type Run struct {
	ID              string                 `json:"run_id"`
	PipelineID      string                 `json:"pipeline_id"`
	Status          string                 `json:"status"`
	Topic           string                 `json:"topic"`
	SeedLinks       []string               `json:"seed_links,omitempty"`
	BrandVoice      string                 `json:"brand_voice,omitempty"`
	TargetPlatforms []string               `json:"target_platforms,omitempty"`
	ToolsPolicy     *ToolsPolicy           `json:"tools_policy,omitempty"`
	StageState      map[string]*StageState `json:"stage_state"`
	Artifacts       []Artifact             `json:"artifacts"`
	Evidence        []Evidence             `json:"evidence"`
	Logs            []LogEntry             `json:"logs"`
	Metrics         RunMetrics             `json:"metrics"`
	FailedStage     string                 `json:"failed_stage,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ErrorAt         *time.Time             `json:"error_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// StageState tracks the execution state of a single canonical stage within a run.
type StageState struct {
	StageID     string     `json:"stage_id"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Order       int        `json:"order"`
	Enabled     bool       `json:"enabled"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	Artifacts   []string   `json:"artifacts,omitempty"`
	Stats       *StageStats `json:"stats,omitempty"`
}

// StageStats records per-stage execution metrics.
type StageStats struct {
	DurationMs int64          `json:"duration_ms"`
	ResponseID string         `json:"response_id,omitempty"`
	Backend    map[string]any `json:"backend,omitempty"`
}

// RunMetrics aggregates per-stage metrics for a run.
type RunMetrics struct {
	PerStage map[string]*StageStats `json:"per_stage,omitempty"`
}

// Artifact is a named, typed piece of content produced by a stage.
// Artifacts are append-only within a run; later stages look them up by
// title, with the last writer for a given title winning.
type Artifact struct {
	ID        string         `json:"artifact_id"`
	StageID   string         `json:"stage_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	URI       string         `json:"uri"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Evidence is a source reference collected by the discovery stage.
type Evidence struct {
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet,omitempty"`
	Snapshot    string    `json:"snapshot,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// LogEntry is a single in-band run log line.
type LogEntry struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Stage returns the state record for a stage id, or nil if unknown.
func (r *Run) Stage(stageID string) *StageState {
	if r.StageState == nil {
		return nil
	}
	return r.StageState[stageID]
}

// ActiveStage returns the id of the stage currently marked running,
// or "unknown" if none is.
func (r *Run) ActiveStage() string {
	for id, st := range r.StageState {
		if st != nil && st.Status == StageStatusRunning {
			return id
		}
	}
	return "unknown"
}

// SetStageStatus transitions a stage to the given status and returns its state.
// StartedAt is set once on the first transition to running and never
// overwritten; CompletedAt is set on transition to completed or failed.
// Returns nil if the stage id is unknown.
func (r *Run) SetStageStatus(stageID, status string) *StageState {
	st := r.Stage(stageID)
	if st == nil {
		return nil
	}
	now := time.Now().UTC()
	st.Status = status
	switch status {
	case StageStatusRunning:
		if st.StartedAt == nil {
			t := now
			st.StartedAt = &t
		}
	case StageStatusCompleted, StageStatusFailed:
		if st.CompletedAt == nil {
			t := now
			st.CompletedAt = &t
		}
	}
	r.UpdatedAt = now
	return st
}

// AppendLog appends an in-band log entry, dropping the oldest entries
// once the cap is exceeded.
func (r *Run) AppendLog(level, message string) {
	r.Logs = append(r.Logs, LogEntry{At: time.Now().UTC(), Level: level, Message: message})
	if len(r.Logs) > MaxRunLogs {
		r.Logs = r.Logs[len(r.Logs)-MaxRunLogs:]
	}
}

// AppendArtifact appends an artifact, dropping the oldest entries once
// the cap is exceeded.
func (r *Run) AppendArtifact(a Artifact) {
	r.Artifacts = append(r.Artifacts, a)
	if len(r.Artifacts) > MaxRunArtifacts {
		r.Artifacts = r.Artifacts[len(r.Artifacts)-MaxRunArtifacts:]
	}
}

// ReplaceEvidence replaces the run's evidence list (discovery re-runs
// replace, never append), truncating to the cap.
func (r *Run) ReplaceEvidence(evidence []Evidence) {
	if len(evidence) > MaxRunEvidence {
		evidence = evidence[len(evidence)-MaxRunEvidence:]
	}
	r.Evidence = evidence
}

// ArtifactsByTitle flattens the run's artifacts into a title to content
// map. Later writers of the same title win.
func (r *Run) ArtifactsByTitle() map[string]string {
	out := make(map[string]string, len(r.Artifacts))
	for _, a := range r.Artifacts {
		out[a.Title] = a.Content
	}
	return out
}

// RecordStageStats stores per-stage metrics under metrics.perStage.
func (r *Run) RecordStageStats(stageID string, stats *StageStats) {
	if r.Metrics.PerStage == nil {
		r.Metrics.PerStage = make(map[string]*StageStats)
	}
	r.Metrics.PerStage[stageID] = stats
	if st := r.Stage(stageID); st != nil {
		st.Stats = stats
	}
}

// Terminal reports whether the run has reached a terminal status.
func (r *Run) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}
