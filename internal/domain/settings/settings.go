// Package settings defines the GithubSettings domain entity, a singleton
// row holding the caller-supplied configuration needed to attribute
// sessions to a GitHub identity. Credential storage itself (token vaulting,
// OAuth flow) is out of scope; the token field is an opaque caller-managed
// string.
package settings

import "time"

// GithubSettings is the single configured GitHub integration record.
type GithubSettings struct {
	Configured     bool      `json:"configured"`
	Name           string    `json:"name,omitempty"`
	OAuthClientID  string    `json:"oauth_client_id,omitempty"`
	Token          string    `json:"-"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// UpdateRequest holds the fields accepted by POST /github/settings.
type UpdateRequest struct {
	Name          string `json:"name"`
	OAuthClientID string `json:"oauth_client_id"`
	Token         string `json:"token"`
}
