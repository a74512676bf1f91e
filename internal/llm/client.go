package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatRequest is the payload for the backend's streaming chat endpoint.
// Input is either a plain string or a list of structured parts.
type ChatRequest struct {
	Model              string   `json:"model"`
	Input              any      `json:"input"`
	Stream             bool     `json:"stream"`
	Store              bool     `json:"store"`
	SystemPrompt       string   `json:"system_prompt,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	TopP               *float64 `json:"top_p,omitempty"`
	TopK               *int     `json:"top_k,omitempty"`
	MinP               *float64 `json:"min_p,omitempty"`
	RepeatPenalty      *float64 `json:"repeat_penalty,omitempty"`
	MaxOutputTokens    *int     `json:"max_output_tokens,omitempty"`
	ContextLength      *int     `json:"context_length,omitempty"`
	Reasoning          *bool    `json:"reasoning,omitempty"`
	Integrations       []any    `json:"integrations,omitempty"`
	PreviousResponseID string   `json:"previous_response_id,omitempty"`
}

// ChatResult is the backend's final response shape, either returned whole
// (non-streaming) or carried in the result field of a chat.end frame.
type ChatResult struct {
	Output     []map[string]any `json:"output"`
	ResponseID string           `json:"response_id,omitempty"`
	Stats      map[string]any   `json:"stats,omitempty"`
}

// Client is an abstraction over the chat backend transport.
type Client interface {
	// StreamChat issues a streaming chat call and invokes handle for every
	// decoded frame in arrival order. It returns after the stream is fully
	// drained, or with an *UpstreamError on backend failure.
	StreamChat(ctx context.Context, req *ChatRequest, handle func(Frame)) error
}

// HTTPClient talks to the chat backend over HTTP.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient creates a chat backend client. baseURL is the backend root,
// e.g. "http://localhost:8081"; the chat endpoint is derived from it.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimSuffix(baseURL, "/") + "/v1/chat",
		apiKey:   apiKey,
		// No overall timeout: stage calls are long-lived streams. Dial and
		// header timeouts still bound connection establishment.
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
	}
}

// StreamChat implements Client.
func (c *HTTPClient) StreamChat(ctx context.Context, req *ChatRequest, handle func(Frame)) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &UpstreamError{Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return &UpstreamError{Status: http.StatusBadGateway, Message: "chat backend returned no body"}
	}

	var carry []byte
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			var frames []Frame
			frames, carry = ConsumeStream(carry, buf[:n])
			for _, frame := range frames {
				handle(frame)
			}
		}
		if readErr == io.EOF {
			for _, frame := range FlushStream(carry) {
				handle(frame)
			}
			return nil
		}
		if readErr != nil {
			return &UpstreamError{Status: http.StatusBadGateway, Message: readErr.Error()}
		}
	}
}

// readErrorMessage extracts a human-readable message from a JSON error body.
// Backends differ on shape, so several common layouts are tried before
// falling back to a generic message.
func readErrorMessage(body io.Reader) string {
	const fallback = "chat backend request failed"

	raw, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil || len(raw) == 0 {
		return fallback
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fallback
	}
	switch v := parsed["error"].(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if msg, ok := v["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if msg, ok := parsed["message"].(string); ok && msg != "" {
		return msg
	}
	return fallback
}
