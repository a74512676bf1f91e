package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/content-factory/internal/types"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var agent types.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := validateAgent(&agent); err != nil {
		s.errorFor(w, err)
		return
	}

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	if err := s.store.SaveAgent(r.Context(), &agent); err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err)
		return
	}

	var agent types.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := validateAgent(&agent); err != nil {
		s.errorFor(w, err)
		return
	}

	agent.ID = existing.ID
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveAgent(r.Context(), &agent); err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		s.errorFor(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func validateAgent(agent *types.Agent) error {
	if agent.Name == "" {
		return &ErrValidation{Message: "agent name is required"}
	}
	if agent.Model == "" {
		return &ErrValidation{Message: "agent model is required"}
	}
	return nil
}
