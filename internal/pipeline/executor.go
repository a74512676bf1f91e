package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jonathan/content-factory/internal/llm"
	"github.com/jonathan/content-factory/internal/policy"
	"github.com/jonathan/content-factory/internal/prompts"
	"github.com/jonathan/content-factory/internal/types"
)

// StageOutput is what one stage execution produced: the composed prompt,
// the final chat result, the flattened response text, and every tool event
// observed on the stream.
type StageOutput struct {
	Prompt       string
	ResponseText string
	Result       *llm.ChatResult
	ToolEvents   []map[string]any
}

// executeStage runs one stage against the chat backend: composes the
// prompt, applies the tools policy, streams the chat call while
// broadcasting progress, and returns the captured result. allowSearchFallback
// permits search-context augmentation; only the discovery stage passes true.
func (s *Service) executeStage(ctx context.Context, run *types.Run, pipe *types.Pipeline, stage types.StageDef, agent *types.Agent, materials []prompts.Material, allowSearchFallback bool) (*StageOutput, error) {
	resolved := policy.Resolve(run.ToolsPolicy, pipe.ToolsPolicy, stage.StageID)
	integrations := policy.ApplyIntegrationPolicy(agent, resolved)

	prompt, err := prompts.ComposeStagePrompt(stage.Role, prompts.StageInput{
		Topic:           run.Topic,
		BrandVoice:      run.BrandVoice,
		TargetPlatforms: run.TargetPlatforms,
		SeedLinks:       run.SeedLinks,
	}, materials)
	if err != nil {
		return nil, &ConfigurationError{Message: err.Error()}
	}

	// When fallback is permitted, the policy allows web search, and the agent
	// has no search-capable integration, search locally and prepend the
	// results so the stage still sees fresh context. Search failure is never
	// a stage failure.
	if allowSearchFallback && resolved.AllowWebSearch && !policy.HasSearchIntegration(integrations) && s.search != nil {
		if searchContext := s.searchContext(ctx, run); searchContext != "" {
			prompt = searchContext + "\n\n" + prompt
		}
	}

	req := chatRequestForAgent(agent, prompt, integrations)

	state := &streamState{}
	err = s.chat.StreamChat(ctx, req, func(frame llm.Frame) {
		s.handleFrame(run, state, frame)
	})
	if err != nil {
		return nil, err
	}

	result := state.final
	if result == nil {
		result = llm.SynthesizeResult(state.assistant.String(), state.reasoning.String())
	}

	// Some backends only report tool activity inside the final result's
	// output items. Rescan and emit anything the stream never carried.
	for _, item := range result.Output {
		if event, payload, ok := toolEventFromItem(item); ok {
			s.emitToolEvent(run, state, event, payload)
		}
	}

	responseText := result.ResponseText()
	if responseText == "" {
		responseText = state.assistant.String()
	}

	return &StageOutput{
		Prompt:       prompt,
		ResponseText: responseText,
		Result:       result,
		ToolEvents:   state.toolEvents,
	}, nil
}

// chatRequestForAgent maps an agent's configuration onto a streaming chat
// request. Unset sampling fields stay nil and are omitted from the payload.
func chatRequestForAgent(agent *types.Agent, prompt string, integrations []any) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:           agent.Model,
		Input:           prompt,
		Stream:          true,
		Store:           false,
		SystemPrompt:    agent.SystemPrompt,
		Temperature:     agent.Temperature,
		TopP:            agent.TopP,
		TopK:            agent.TopK,
		MinP:            agent.MinP,
		RepeatPenalty:   agent.RepeatPenalty,
		MaxOutputTokens: agent.MaxOutputTokens,
		ContextLength:   agent.ContextLength,
		Reasoning:       agent.Reasoning,
		Integrations:    integrations,
	}
}

// searchContext runs a topic search and renders the hits as a prompt
// preamble. Returns "" on any failure.
func (s *Service) searchContext(ctx context.Context, run *types.Run) string {
	results, err := s.search.Search(ctx, run.Topic)
	if err != nil {
		log.Printf("[pipeline] search context for run %s failed: %v", run.ID, err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("# Web search context\n")
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("\n- %s (%s)", r.Title, r.URL))
		if r.Snippet != "" {
			sb.WriteString(fmt.Sprintf("\n  %s", r.Snippet))
		}
	}
	return sb.String()
}

// streamState accumulates one stage's streaming call.
type streamState struct {
	assistant  strings.Builder
	reasoning  strings.Builder
	final      *llm.ChatResult
	toolEvents []map[string]any
	emitted    map[string]struct{}
}

// handleFrame routes one stream frame. Event names match
// case-insensitively. After the authoritative chat.end result arrives,
// delta accumulation stops but the stream keeps draining.
func (s *Service) handleFrame(run *types.Run, state *streamState, frame llm.Frame) {
	switch strings.ToLower(frame.Event) {
	case "chat.end", "end":
		if state.final != nil {
			return
		}
		if m, ok := frame.Data.(map[string]any); ok {
			if result := llm.ParseResult(m["result"]); result != nil {
				state.final = result
				return
			}
			state.final = llm.ParseResult(m)
		}

	case "message.delta":
		text := deltaText(frame.Data)
		if text == "" {
			return
		}
		if state.final == nil {
			state.assistant.WriteString(text)
		}
		s.events.Publish(run.ID, run.PipelineID, "assistant_delta", map[string]any{
			"stageId": run.ActiveStage(),
			"text":    text,
		})

	case "reasoning.delta":
		if state.final == nil {
			state.reasoning.WriteString(deltaText(frame.Data))
		}

	case "tool_call", "tool.call", "tool_call.delta":
		s.emitToolEvent(run, state, "tool_call", normalizeToolPayload(frame.Data))

	case "tool_result", "tool.result", "tool_output":
		s.emitToolEvent(run, state, "tool_result", normalizeToolPayload(frame.Data))
	}
}

// emitToolEvent records and broadcasts a tool event once. Duplicates
// (seen on the stream and again in the final result) are dropped by a
// serialized-payload key.
func (s *Service) emitToolEvent(run *types.Run, state *streamState, event string, payload map[string]any) {
	if payload == nil {
		return
	}
	// The dedupe key covers only the call's identifying fields: the final
	// result's rescan re-reports the same call with extra metadata such as
	// its item type.
	identity := map[string]any{}
	for _, field := range []string{"name", "callId", "arguments", "output"} {
		if v, ok := payload[field]; ok {
			identity[field] = v
		}
	}
	key := event
	if raw, err := json.Marshal(identity); err == nil {
		key = event + ":" + string(raw)
	}
	if state.emitted == nil {
		state.emitted = make(map[string]struct{})
	}
	if _, seen := state.emitted[key]; seen {
		return
	}
	state.emitted[key] = struct{}{}

	entry := map[string]any{"event": event}
	for k, v := range payload {
		entry[k] = v
	}
	state.toolEvents = append(state.toolEvents, entry)

	broadcast := map[string]any{"stageId": run.ActiveStage()}
	for k, v := range payload {
		broadcast[k] = v
	}
	s.events.Publish(run.ID, run.PipelineID, event, broadcast)
}

// deltaText extracts the incremental text from a delta frame's data, which
// may be a raw string or an object carrying delta/text/content.
func deltaText(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case map[string]any:
		for _, field := range []string{"delta", "text", "content"} {
			if s, ok := v[field].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// normalizeToolPayload reduces a tool frame's data to the fields run
// subscribers care about. Field names differ between backends, so each
// canonical field is tried under its known aliases.
func normalizeToolPayload(data any) map[string]any {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	out := map[string]any{}
	if name := firstString(m, "name", "tool_name", "tool"); name != "" {
		out["name"] = name
	}
	if id := firstString(m, "call_id", "id"); id != "" {
		out["callId"] = id
	}
	for _, field := range []string{"arguments", "args", "input"} {
		if v, ok := m[field]; ok {
			out["arguments"] = v
			break
		}
	}
	for _, field := range []string{"output", "result", "content"} {
		if v, ok := m[field]; ok {
			out["output"] = v
			break
		}
	}
	if t := firstString(m, "type"); t != "" {
		out["type"] = t
	}
	for _, field := range []string{"providerInfo", "provider_info"} {
		if v, ok := m[field]; ok {
			out["providerInfo"] = v
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// toolEventFromItem maps a final-result output item onto a tool event, for
// backends that only report tool activity in the result.
func toolEventFromItem(item map[string]any) (string, map[string]any, bool) {
	itemType, _ := item["type"].(string)
	switch strings.ToLower(itemType) {
	case "tool_call", "tool.call":
		return "tool_call", normalizeToolPayload(item), true
	case "tool_result", "tool.result", "tool_output":
		return "tool_result", normalizeToolPayload(item), true
	}
	return "", nil, false
}

func firstString(m map[string]any, fields ...string) string {
	for _, field := range fields {
		if s, ok := m[field].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
