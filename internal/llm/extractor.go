// Package llm - extractor.go provides best-effort extraction of structured
// JSON from free-form model output.
package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSONFromText attempts to pull a JSON value out of free-form model
// text. Models often wrap JSON in prose or markdown fences even when
// instructed not to. Attempts, in order:
//
//  1. parse the whole trimmed text as JSON
//  2. parse the contents of a fenced ```json ... ``` block
//  3. parse the first {...} substring (greedy)
//  4. parse the first [...] substring (greedy)
//
// Returns nil when every attempt fails.
func ExtractJSONFromText(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed
	}

	if fenced := FencedJSONBlock(trimmed); fenced != "" {
		if err := json.Unmarshal([]byte(fenced), &parsed); err == nil {
			return parsed
		}
	}

	if candidate := greedySubstring(trimmed, '{', '}'); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return parsed
		}
	}

	if candidate := greedySubstring(trimmed, '[', ']'); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return parsed
		}
	}

	return nil
}

// FencedJSONBlock returns the contents of the first ```json ... ``` fence in
// text, or "" when no complete fence is present.
func FencedJSONBlock(text string) string {
	const open = "```json"
	start := strings.Index(text, open)
	if start < 0 {
		return ""
	}
	rest := text[start+len(open):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// greedySubstring returns the widest substring from the first open delimiter
// to the last close delimiter, or "" when either is absent.
func greedySubstring(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(text, close)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}
