package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/content-factory/internal/pipeline"
	"github.com/jonathan/content-factory/internal/types"
)

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.store.ListPipelines(r.Context())
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"pipelines": pipelines, "count": len(pipelines)})
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var pipe types.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&pipe); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.validatePipeline(r, &pipe); err != nil {
		s.errorFor(w, err)
		return
	}

	if pipe.ID == "" {
		pipe.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	pipe.CreatedAt = now
	pipe.UpdatedAt = now

	if err := s.store.SavePipeline(r.Context(), &pipe); err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, pipe)
}

// handleCreateDefaultPipeline seeds the canonical six-stage pipeline with
// every role bound to one agent.
func (s *Server) handleCreateDefaultPipeline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name,omitempty"`
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.AgentID == "" {
		s.errorFor(w, &ErrValidation{Message: "agent_id is required"})
		return
	}
	if _, err := s.store.GetAgent(r.Context(), req.AgentID); err != nil {
		s.errorFor(w, err)
		return
	}
	if req.Name == "" {
		req.Name = "Default Pipeline"
	}

	pipe := pipeline.DefaultPipeline(req.Name, req.AgentID)
	if err := s.store.SavePipeline(r.Context(), pipe); err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, pipe)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	pipe, err := s.store.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, pipe)
}

func (s *Server) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}

	var pipe types.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&pipe); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.validatePipeline(r, &pipe); err != nil {
		s.errorFor(w, err)
		return
	}

	pipe.ID = existing.ID
	pipe.CreatedAt = existing.CreatedAt
	pipe.UpdatedAt = time.Now().UTC()

	if err := s.store.SavePipeline(r.Context(), &pipe); err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, pipe)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePipeline(r.Context(), r.PathValue("id")); err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handlePipelineStages returns the pipeline's stages merged over the
// canonical registry, the exact sequence a run of this pipeline executes.
func (s *Server) handlePipelineStages(w http.ResponseWriter, r *http.Request) {
	pipe, err := s.store.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	stages := pipeline.EffectiveStages(pipe)
	s.jsonResponse(w, http.StatusOK, map[string]any{"stages": stages, "count": len(stages)})
}

// validatePipeline checks that every stage override names a canonical
// stage and every role binding points at a stored agent.
func (s *Server) validatePipeline(r *http.Request, pipe *types.Pipeline) error {
	if pipe.Name == "" {
		return &ErrValidation{Message: "pipeline name is required"}
	}
	for _, stage := range pipe.Stages {
		if pipeline.CanonicalStageByID(stage.StageID) == nil {
			return &ErrValidation{Message: fmt.Sprintf("unknown stage id: %s", stage.StageID)}
		}
	}
	for role, agentID := range pipe.AgentsByRole {
		if agentID == "" {
			return &ErrValidation{Message: fmt.Sprintf("role %q has an empty agent id", role)}
		}
		if _, err := s.store.GetAgent(r.Context(), agentID); err != nil {
			return &ErrValidation{Message: fmt.Sprintf("role %q is bound to unknown agent %s", role, agentID)}
		}
	}
	return nil
}
