package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/content-factory/internal/events"
	"github.com/jonathan/content-factory/internal/llm"
	"github.com/jonathan/content-factory/internal/prompts"
	"github.com/jonathan/content-factory/internal/search"
	"github.com/jonathan/content-factory/internal/store"
	"github.com/jonathan/content-factory/internal/types"
)

// scriptedChat replays a fixed frame sequence.
type scriptedChat struct {
	frames   []llm.Frame
	err      error
	lastReq  *llm.ChatRequest
	requests int
}

func (s *scriptedChat) StreamChat(_ context.Context, req *llm.ChatRequest, handle func(llm.Frame)) error {
	s.lastReq = req
	s.requests++
	if s.err != nil {
		return s.err
	}
	for _, frame := range s.frames {
		handle(frame)
	}
	return nil
}

// memorySink records broadcast events for assertions.
type memorySink struct {
	mu     sync.Mutex
	events []string
}

func (s *memorySink) Write(event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func boolPtr(b bool) *bool { return &b }

func executorFixture(chat llm.Client, searcher search.Searcher) (*Service, *types.Run, *types.Pipeline, *types.Agent) {
	agent := &types.Agent{ID: "a1", Model: "test-model"}
	pipe := DefaultPipeline("Default", agent.ID)
	run := NewRun(pipe, &types.CreateRunRequest{PipelineID: pipe.ID, Topic: "container security"})
	svc := NewService(store.NewMemoryStore(), chat, searcher, nil, events.NewBroadcaster(time.Hour))
	return svc, run, pipe, agent
}

func TestExecuteStage_ChatEndResultIsAuthoritative(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "message.delta", Data: map[string]any{"delta": "partial "}},
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"response_id": "resp-1",
			"output": []any{
				map[string]any{"type": "message", "role": "assistant", "content": "final answer"},
			},
		}}},
		// Late deltas after the authoritative result must not leak into
		// the response text.
		{Event: "message.delta", Data: map[string]any{"delta": "stray tail"}},
	}}
	svc, run, pipe, agent := executorFixture(chat, nil)

	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDraft), agent, nil, false)
	require.NoError(t, err)

	assert.Equal(t, "final answer", out.ResponseText)
	assert.Equal(t, "resp-1", out.Result.ResponseID)
	assert.True(t, chat.lastReq.Stream)
	assert.Equal(t, "test-model", chat.lastReq.Model)
}

func TestExecuteStage_SynthesizesResultWithoutChatEnd(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "message.delta", Data: map[string]any{"delta": "hello "}},
		{Event: "reasoning.delta", Data: map[string]any{"delta": "thinking"}},
		{Event: "message.delta", Data: map[string]any{"delta": "world"}},
	}}
	svc, run, pipe, agent := executorFixture(chat, nil)

	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDraft), agent, nil, false)
	require.NoError(t, err)

	assert.Equal(t, "hello world", out.ResponseText)
	require.NotNil(t, out.Result)
	assert.NotEmpty(t, out.Result.Output)
}

func TestExecuteStage_ToolEventsDeduplicated(t *testing.T) {
	toolCall := map[string]any{"name": "web.search", "call_id": "c1", "arguments": map[string]any{"q": "containers"}}
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "tool_call", Data: toolCall},
		{Event: "tool_result", Data: map[string]any{"call_id": "c1", "output": "5 hits"}},
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"output": []any{
				// Same call reported again inside the final result.
				map[string]any{"type": "tool_call", "name": "web.search", "call_id": "c1", "arguments": map[string]any{"q": "containers"}},
				map[string]any{"type": "message", "role": "assistant", "content": "done"},
			},
		}}},
	}}
	svc, run, pipe, agent := executorFixture(chat, nil)

	sink := &memorySink{}
	cancel := svc.Subscribe(run.ID, sink)
	defer cancel()

	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDiscovery), agent, nil, true)
	require.NoError(t, err)

	require.Len(t, out.ToolEvents, 2)
	assert.Equal(t, "tool_call", out.ToolEvents[0]["event"])
	assert.Equal(t, "web.search", out.ToolEvents[0]["name"])
	assert.Equal(t, "tool_result", out.ToolEvents[1]["event"])

	var toolCalls int
	for _, ev := range sink.snapshot() {
		if ev == "tool_call" {
			toolCalls++
		}
	}
	assert.Equal(t, 1, toolCalls)
}

func TestExecuteStage_ToolEventsOnlyInResultStillEmitted(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"output": []any{
				map[string]any{"type": "tool_call", "name": "fetch", "call_id": "c9"},
				map[string]any{"type": "tool_result", "call_id": "c9", "output": "page text"},
				map[string]any{"type": "message", "role": "assistant", "content": "summary"},
			},
		}}},
	}}
	svc, run, pipe, agent := executorFixture(chat, nil)

	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDiscovery), agent, nil, true)
	require.NoError(t, err)
	assert.Len(t, out.ToolEvents, 2)
}

func TestExecuteStage_ToolEventNamesCaseInsensitive(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "TOOL_CALL", Data: map[string]any{"name": "web.search", "call_id": "c1"}},
		{Event: "Tool.Result", Data: map[string]any{"call_id": "c1", "output": "5 hits"}},
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"output": []any{map[string]any{"type": "message", "role": "assistant", "content": "done"}},
		}}},
	}}
	svc, run, pipe, agent := executorFixture(chat, nil)

	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDiscovery), agent, nil, true)
	require.NoError(t, err)

	require.Len(t, out.ToolEvents, 2)
	assert.Equal(t, "tool_call", out.ToolEvents[0]["event"])
	assert.Equal(t, "tool_result", out.ToolEvents[1]["event"])
}

func TestExecuteStage_SearchContextPrependedWhenAgentLacksSearch(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"output": []any{map[string]any{"type": "message", "role": "assistant", "content": "ok"}},
		}}},
	}}
	searcher := &fakeSearcher{results: []search.Result{
		{Title: "Hit", URL: "https://example.com", Snippet: "snippet"},
	}}
	svc, run, pipe, agent := executorFixture(chat, searcher)
	run.ToolsPolicy = &types.ToolsPolicy{Default: types.StagePolicy{AllowWebSearch: boolPtr(true)}}

	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDiscovery), agent, nil, true)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out.Prompt, "# Web search context"))
	assert.Contains(t, out.Prompt, "https://example.com")
	assert.Equal(t, []string{"container security"}, searcher.queries)
}

func TestExecuteStage_NoSearchContextWhenAgentHasSearchIntegration(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"output": []any{map[string]any{"type": "message", "role": "assistant", "content": "ok"}},
		}}},
	}}
	searcher := &fakeSearcher{}
	svc, run, pipe, agent := executorFixture(chat, searcher)
	agent.Integrations = []any{"web-search"}
	run.ToolsPolicy = &types.ToolsPolicy{Default: types.StagePolicy{AllowWebSearch: boolPtr(true)}}

	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDiscovery), agent, nil, true)
	require.NoError(t, err)

	assert.False(t, strings.HasPrefix(out.Prompt, "# Web search context"))
	assert.Empty(t, searcher.queries)
	assert.Equal(t, []any{"web-search"}, chat.lastReq.Integrations)
}

func TestExecuteStage_NoSearchFallbackOutsideDiscovery(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"output": []any{map[string]any{"type": "message", "role": "assistant", "content": "ok"}},
		}}},
	}}
	searcher := &fakeSearcher{results: []search.Result{
		{Title: "Hit", URL: "https://example.com", Snippet: "snippet"},
	}}
	svc, run, pipe, agent := executorFixture(chat, searcher)
	run.ToolsPolicy = &types.ToolsPolicy{Default: types.StagePolicy{AllowWebSearch: boolPtr(true)}}

	// Search augmentation belongs to discovery; later stages never get the
	// preamble even when the policy allows web search.
	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDraft), agent, nil, false)
	require.NoError(t, err)

	assert.False(t, strings.HasPrefix(out.Prompt, "# Web search context"))
	assert.Empty(t, searcher.queries)
}

func TestExecuteStage_SearchFailureIsNotFatal(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"output": []any{map[string]any{"type": "message", "role": "assistant", "content": "ok"}},
		}}},
	}}
	searcher := &fakeSearcher{err: assert.AnError}
	svc, run, pipe, agent := executorFixture(chat, searcher)
	run.ToolsPolicy = &types.ToolsPolicy{Default: types.StagePolicy{AllowWebSearch: boolPtr(true)}}

	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDiscovery), agent, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.ResponseText)
}

func TestExecuteStage_MaterialsIncludedInPrompt(t *testing.T) {
	chat := &scriptedChat{frames: []llm.Frame{
		{Event: "chat.end", Data: map[string]any{"result": map[string]any{
			"output": []any{map[string]any{"type": "message", "role": "assistant", "content": "ok"}},
		}}},
	}}
	svc, run, pipe, agent := executorFixture(chat, nil)

	materials := []prompts.Material{{Name: "draft_longform.md", Content: "the draft body"}}
	out, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageAdapt), agent, materials, false)
	require.NoError(t, err)

	assert.Contains(t, out.Prompt, "## draft_longform.md")
	assert.Contains(t, out.Prompt, "the draft body")
}

func TestExecuteStage_UpstreamErrorPropagates(t *testing.T) {
	chat := &scriptedChat{err: &llm.UpstreamError{Status: 429, Message: "rate limited"}}
	svc, run, pipe, agent := executorFixture(chat, nil)

	_, err := svc.executeStage(context.Background(), run, pipe, *CanonicalStageByID(StageDraft), agent, nil, false)
	var upstream *llm.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 429, upstream.Status)
}

func TestDeltaText(t *testing.T) {
	assert.Equal(t, "plain", deltaText("plain"))
	assert.Equal(t, "d", deltaText(map[string]any{"delta": "d"}))
	assert.Equal(t, "t", deltaText(map[string]any{"text": "t"}))
	assert.Equal(t, "", deltaText(map[string]any{"other": 1}))
	assert.Equal(t, "", deltaText(42))
}

func TestNormalizeToolPayload(t *testing.T) {
	payload := normalizeToolPayload(map[string]any{
		"tool_name":    "fetch",
		"id":           "c1",
		"type":         "tool_call",
		"args":         map[string]any{"url": "https://example.com"},
		"result":       "body",
		"providerInfo": map[string]any{"server": "srv-1"},
	})
	require.NotNil(t, payload)
	assert.Equal(t, "fetch", payload["name"])
	assert.Equal(t, "c1", payload["callId"])
	assert.Equal(t, "tool_call", payload["type"])
	assert.NotNil(t, payload["arguments"])
	assert.Equal(t, "body", payload["output"])
	assert.Equal(t, map[string]any{"server": "srv-1"}, payload["providerInfo"])

	assert.Nil(t, normalizeToolPayload("not an object"))
	assert.Nil(t, normalizeToolPayload(map[string]any{"unrelated": true}))
}
