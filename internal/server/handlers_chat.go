package server

import (
	"encoding/json"
	"net/http"

	"github.com/jonathan/content-factory/internal/llm"
	"github.com/jonathan/content-factory/internal/types"
)

// handleChat proxies a single-turn streaming chat call to the configured
// backend using a stored agent's settings, relaying every frame to the
// client over SSE.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorFor(w, err)
		return
	}

	agent, err := s.store.GetAgent(r.Context(), req.AgentID)
	if err != nil {
		s.errorFor(w, err)
		return
	}

	chatReq := &llm.ChatRequest{
		Model:           agent.Model,
		Input:           req.Input,
		Stream:          true,
		Store:           req.Store,
		SystemPrompt:    agent.SystemPrompt,
		Temperature:     agent.Temperature,
		TopP:            agent.TopP,
		TopK:            agent.TopK,
		MinP:            agent.MinP,
		RepeatPenalty:   agent.RepeatPenalty,
		MaxOutputTokens: agent.MaxOutputTokens,
		ContextLength:   agent.ContextLength,
		Reasoning:       agent.Reasoning,
		Integrations:    agent.Integrations,
	}

	writer, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	err = s.chat.StreamChat(r.Context(), chatReq, func(frame llm.Frame) {
		_ = writer.WriteEvent(frame.Event, frame.Data)
	})
	if err != nil {
		writer.WriteError(err.Error())
		return
	}
	_ = writer.WriteEvent("done", map[string]string{"status": "completed"})
}
