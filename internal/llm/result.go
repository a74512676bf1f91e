package llm

import "strings"

// ResponseText joins the text content of every assistant message item in
// the result's output list.
func (r *ChatResult) ResponseText() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, item := range r.Output {
		itemType, _ := item["type"].(string)
		if itemType != "" && itemType != "message" {
			continue
		}
		if content := contentText(item["content"]); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "")
}

// contentText flattens a content field that may be a string or a list of
// {type, text} parts.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "")
	}
	return ""
}

// SynthesizeResult builds a final result from accumulated stream text for
// backends that never send an authoritative chat.end result.
func SynthesizeResult(assistantText, reasoningText string) *ChatResult {
	result := &ChatResult{Output: []map[string]any{}}
	if reasoningText != "" {
		result.Output = append(result.Output, map[string]any{
			"type":    "reasoning",
			"content": reasoningText,
		})
	}
	result.Output = append(result.Output, map[string]any{
		"type":    "message",
		"role":    "assistant",
		"content": assistantText,
	})
	return result
}

// ParseResult converts a loosely-typed frame payload (the data of a
// chat.end frame's result field, or a whole non-streaming response body)
// into a ChatResult.
func ParseResult(value any) *ChatResult {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	result := &ChatResult{}
	if id, ok := m["response_id"].(string); ok {
		result.ResponseID = id
	}
	if stats, ok := m["stats"].(map[string]any); ok {
		result.Stats = stats
	}
	if output, ok := m["output"].([]any); ok {
		for _, item := range output {
			if entry, ok := item.(map[string]any); ok {
				result.Output = append(result.Output, entry)
			}
		}
	}
	return result
}
