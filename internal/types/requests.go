package types

import (
	"github.com/go-playground/validator/v10"
)

// CreateRunRequest is the request body for launching a new run.
type CreateRunRequest struct {
	PipelineID      string       `json:"pipeline_id" validate:"required"`
	Topic           string       `json:"topic" validate:"required,min=3"`
	SeedLinks       []string     `json:"seed_links,omitempty" validate:"omitempty,dive,url"`
	BrandVoice      string       `json:"brand_voice,omitempty"`
	TargetPlatforms []string     `json:"target_platforms,omitempty"`
	ToolsPolicy     *ToolsPolicy `json:"tools_policy,omitempty"`
}

// Validate validates the CreateRunRequest using the validator.
func (r *CreateRunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// AppendLogRequest is the request body for an out-of-band run log append.
type AppendLogRequest struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message" validate:"required"`
}

// Validate validates the AppendLogRequest using the validator.
func (r *AppendLogRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// AppendArtifactRequest is the request body for an out-of-band artifact append.
type AppendArtifactRequest struct {
	StageID string `json:"stage_id,omitempty"`
	Title   string `json:"title" validate:"required"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content" validate:"required"`
}

// Validate validates the AppendArtifactRequest using the validator.
func (r *AppendArtifactRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ChatRequestBody is the request body for the single-turn chat proxy.
type ChatRequestBody struct {
	AgentID string `json:"agent_id" validate:"required"`
	Input   string `json:"input" validate:"required"`
	Store   bool   `json:"store,omitempty"`
}

// Validate validates the ChatRequestBody using the validator.
func (r *ChatRequestBody) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
