// Package daemoncontroller defines the port interface onto the external
// browser-daemon HTTP API that the browser orchestrator drives.
package daemoncontroller

import (
	"context"
	"fmt"
)

// Status is the observed readiness of a session's browser daemon.
type Status struct {
	Running bool
	Ready   bool
	Port    int
}

// CommandResult is the typed envelope returned by ExecuteCommand.
type CommandResult struct {
	ID      string
	Success bool
	Data    []byte
	Error   string
}

// DaemonStartFailed is returned by Start when the daemon fails to come up.
type DaemonStartFailed struct {
	SessionID string
	Detail    string
}

func (e *DaemonStartFailed) Error() string {
	return fmt.Sprintf("daemon start failed for session %s: %s", e.SessionID, e.Detail)
}

// NavigationFailed is returned by Navigate when the daemon rejects or
// fails to complete a navigation.
type NavigationFailed struct {
	SessionID string
	URL       string
	Detail    string
}

func (e *NavigationFailed) Error() string {
	return fmt.Sprintf("navigation to %s failed for session %s: %s", e.URL, e.SessionID, e.Detail)
}

// ConnectionFailed is returned by ExecuteCommand when the request fails or
// its reply cannot be decoded.
type ConnectionFailed struct {
	SessionID string
	Detail    string
}

func (e *ConnectionFailed) Error() string {
	return fmt.Sprintf("connection failed for session %s: %s", e.SessionID, e.Detail)
}

// Controller is the port interface onto the browser daemon API.
type Controller interface {
	// Start launches (or resumes) the daemon for sessionID, optionally
	// navigating to url immediately, and returns the allocated port.
	Start(ctx context.Context, sessionID string, url string) (port int, err error)

	// Stop is idempotent; a 404 from the daemon is treated as success.
	Stop(ctx context.Context, sessionID string) error

	Navigate(ctx context.Context, sessionID, url string) error

	// GetStatus returns nil when no daemon exists for sessionID.
	GetStatus(ctx context.Context, sessionID string) (*Status, error)

	// GetCurrentURL returns "" when the daemon reports no current URL.
	GetCurrentURL(ctx context.Context, sessionID string) (string, error)

	// Launch marks the viewport active, used to lazily materialize the
	// browser on first view.
	Launch(ctx context.Context, sessionID string) error

	IsHealthy(ctx context.Context) bool

	ExecuteCommand(ctx context.Context, sessionID string, cmd []byte) (*CommandResult, error)
}
