// Package session defines the Session domain entity and its lifecycle.
package session

import "time"

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusCreating Status = "creating"
	StatusPooled   Status = "pooled"
	StatusRunning  Status = "running"
	StatusDeleting Status = "deleting"
	StatusError    Status = "error"
)

// Session is a running (or pooled, or being torn down) instance of a
// Project's container cluster. A pooled session has no title and no user
// messages yet; it becomes a real session only once claimed.
type Session struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Title          *string    `json:"title,omitempty"`
	Status         Status     `json:"status"`
	AgentSessionID *string    `json:"agent_session_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields needed to spawn a Session for a project,
// claiming a pooled session if one is available before cold-starting a
// new cluster.
type CreateRequest struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title,omitempty"`
}

// ClaimRequest holds the fields needed to claim a pooled Session.
type ClaimRequest struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
}
