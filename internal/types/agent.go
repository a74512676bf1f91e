package types

import "time"

// Agent is a configured LLM-backed persona that executes pipeline stages.
// Sampling fields are pointers so that unset values are omitted from the
// chat backend payload rather than sent as zeros.
type Agent struct {
	ID              string    `json:"agent_id"`
	Name            string    `json:"name"`
	Model           string    `json:"model"`
	SystemPrompt    string    `json:"system_prompt,omitempty"`
	Temperature     *float64  `json:"temperature,omitempty"`
	TopP            *float64  `json:"top_p,omitempty"`
	TopK            *int      `json:"top_k,omitempty"`
	MinP            *float64  `json:"min_p,omitempty"`
	RepeatPenalty   *float64  `json:"repeat_penalty,omitempty"`
	MaxOutputTokens *int      `json:"max_output_tokens,omitempty"`
	ContextLength   *int      `json:"context_length,omitempty"`
	Reasoning       *bool     `json:"reasoning,omitempty"`
	Integrations    []any     `json:"integrations,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IntegrationKey extracts the identifying key of a configured integration
// entry: the string itself, or an object's id / server_label / serverLabel
// field. Returns "" when no key can be determined.
func IntegrationKey(entry any) string {
	switch v := entry.(type) {
	case string:
		return v
	case map[string]any:
		for _, field := range []string{"id", "server_label", "serverLabel"} {
			if s, ok := v[field].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
