// Package volume defines the Volume domain entity: a named Sandbox
// Provider volume that may outlive the session that created it.
package volume

import "time"

// Kind identifies what a Volume is used for.
type Kind string

const (
	// KindWorkspace is a container's persistent working directory.
	KindWorkspace Kind = "workspace"
	// KindCache is a container's dependency/build cache.
	KindCache Kind = "cache"
)

// Volume is a Sandbox Provider volume. SessionID is nil once the owning
// session has been destroyed and the volume has been orphaned rather than
// reclaimed.
type Volume struct {
	Name       string     `json:"name"`
	SessionID  *string    `json:"session_id,omitempty"`
	Kind       Kind       `json:"kind"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt time.Time  `json:"last_used_at"`
}
