package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/content-factory/internal/types"
)

// handleCreateRun launches a new run: the record is created, persisted,
// and execution starts immediately on its own goroutine.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	run, err := s.runs.CreateRun(r.Context(), &req)
	if err != nil {
		s.errorFor(w, err)
		return
	}

	// Snapshot the queued record before execution starts mutating it on
	// its own goroutine.
	snapshot, err := json.Marshal(run)
	if err != nil {
		s.errorFor(w, err)
		return
	}
	if _, err := s.runs.StartRun(r.Context(), run.ID); err != nil {
		s.errorFor(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(snapshot)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleRunEvents streams a run's progress events over SSE. The connection
// opens with a snapshot of the current run state, then stays attached to
// the broadcaster until the run finishes or the client disconnects.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}

	writer, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := writer.WriteEvent("snapshot", run); err != nil {
		return
	}
	if run.Terminal() {
		return
	}

	sink := newRunEventSink(writer)
	cancel := s.runs.Subscribe(run.ID, sink)
	defer cancel()

	select {
	case <-r.Context().Done():
	case <-sink.Done():
	}
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.CancelRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handlePauseRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.PauseRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.ResumeRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"logs": run.Logs, "count": len(run.Logs)})
}

// handleAppendRunLog appends an out-of-band log line to a run, for
// external collaborators reporting progress into the run record.
func (s *Server) handleAppendRunLog(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}

	var req types.AppendLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorFor(w, err)
		return
	}

	level := req.Level
	if level == "" {
		level = "info"
	}
	run.AppendLog(level, req.Message)
	if err := s.store.SaveRun(r.Context(), run); err != nil {
		s.errorFor(w, err)
		return
	}
	s.runs.Events().Publish(run.ID, run.PipelineID, "log_appended", map[string]any{
		"level":   level,
		"message": req.Message,
	})
	s.jsonResponse(w, http.StatusCreated, map[string]string{"status": "appended"})
}

func (s *Server) handleRunArtifacts(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"artifacts": run.Artifacts, "count": len(run.Artifacts)})
}

// handleAppendRunArtifact appends an out-of-band artifact to a run.
func (s *Server) handleAppendRunArtifact(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}

	var req types.AppendArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorFor(w, err)
		return
	}

	artifactType := req.Type
	if artifactType == "" {
		artifactType = "text/markdown"
		if strings.HasSuffix(req.Title, ".json") {
			artifactType = "application/json"
		}
	}

	now := time.Now().UTC()
	artifact := types.Artifact{
		ID:        uuid.NewString(),
		StageID:   req.StageID,
		Type:      artifactType,
		Title:     req.Title,
		URI:       fmt.Sprintf("run://%s/%s", run.ID, req.Title),
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	run.AppendArtifact(artifact)
	if err := s.store.SaveRun(r.Context(), run); err != nil {
		s.errorFor(w, err)
		return
	}
	s.runs.Events().Publish(run.ID, run.PipelineID, "artifact_written", map[string]any{
		"stageId":    req.StageID,
		"artifactId": artifact.ID,
		"title":      artifact.Title,
		"uri":        artifact.URI,
	})
	s.jsonResponse(w, http.StatusCreated, artifact)
}

// handleRunArtifact returns one artifact's raw content by title, with the
// newest writer of the title winning.
func (s *Server) handleRunArtifact(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}

	title := r.PathValue("title")
	var found *types.Artifact
	for i := range run.Artifacts {
		if run.Artifacts[i].Title == title {
			found = &run.Artifacts[i]
		}
	}
	if found == nil {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("artifact not found: %s", title))
		return
	}

	w.Header().Set("Content-Type", found.Type)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(found.Content))
}

func (s *Server) handleRunEvidence(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"evidence": run.Evidence, "count": len(run.Evidence)})
}
