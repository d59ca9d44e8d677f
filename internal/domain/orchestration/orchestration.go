// Package orchestration defines the OrchestrationRequest domain entity:
// the record behind the "/orchestrate" natural-language entry point, which
// resolves a free-form request to a project, session, and model before
// handing off to the agent.
package orchestration

import "time"

// Status is the lifecycle state of an OrchestrationRequest.
type Status string

const (
	StatusPending    Status = "pending"
	StatusThinking   Status = "thinking"
	StatusDelegating Status = "delegating"
	StatusStarting   Status = "starting"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Request is a single natural-language orchestration request and its
// resolution state. ChannelID is set when the request was raised over the
// multiplayer channel bus rather than a direct HTTP call.
type Request struct {
	ID                string    `json:"id"`
	ChannelID         *string   `json:"channel_id,omitempty"`
	Content           string    `json:"content"`
	Status            Status    `json:"status"`
	ResolvedProjectID *string   `json:"resolved_project_id,omitempty"`
	ResolvedSessionID *string   `json:"resolved_session_id,omitempty"`
	ModelID           *string   `json:"model_id,omitempty"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to submit a new orchestration
// request.
type CreateRequest struct {
	ChannelID string `json:"channel_id,omitempty"`
	Content   string `json:"content"`
}
