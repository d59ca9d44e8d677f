// Package database defines the persistence port for session lifecycle
// state: projects, sessions, their container clusters, port reservations,
// volumes, browser daemon state, agent events, orchestration requests, and
// the GitHub settings singleton.
package database

import (
	"context"

	"github.com/Strob0t/CodeForge/internal/domain/browser"
	"github.com/Strob0t/CodeForge/internal/domain/container"
	"github.com/Strob0t/CodeForge/internal/domain/orchestration"
	"github.com/Strob0t/CodeForge/internal/domain/project"
	"github.com/Strob0t/CodeForge/internal/domain/reservation"
	"github.com/Strob0t/CodeForge/internal/domain/session"
	"github.com/Strob0t/CodeForge/internal/domain/settings"
	"github.com/Strob0t/CodeForge/internal/domain/volume"
)

// SessionWithContainers is the read model for GET /sessions/{id}: a
// Session plus its current container cluster.
type SessionWithContainers struct {
	session.Session
	Containers []container.SessionContainer `json:"containers"`
}

// Store is the persistence port used by every service in the session
// lifecycle and reconciliation subsystem.
type Store interface {
	// Projects
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	DeleteProject(ctx context.Context, id string) error

	// Sessions
	ListSessions(ctx context.Context) ([]session.Session, error)
	GetSession(ctx context.Context, id string) (*SessionWithContainers, error)
	CreateSession(ctx context.Context, projectID, title string) (*session.Session, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	UpdateSessionAgentSessionID(ctx context.Context, id, agentSessionID string) error
	UpdateSessionStatus(ctx context.Context, id string, status session.Status) error
	DeleteSession(ctx context.Context, id string) error

	// Pool: ClaimPooledSession performs a single compare-and-set, taking the
	// oldest pooled session for projectID and transitioning it to running
	// with the given title. Returns domain.ErrNotFound if none is pooled.
	ClaimPooledSession(ctx context.Context, projectID, title string) (*session.Session, error)
	CountPooledSessions(ctx context.Context, projectID string) (int, error)

	// SessionContainers
	CreateSessionContainer(ctx context.Context, sessionID, containerID, hostname string) (*container.SessionContainer, error)
	ListSessionContainers(ctx context.Context, sessionID string) ([]container.SessionContainer, error)
	UpdateSessionContainerStatus(ctx context.Context, id string, status container.Status, errMsg *string) error
	UpdateSessionContainerRuntimeID(ctx context.Context, id, runtimeID string) error
	GetSessionContainerByRuntimeID(ctx context.Context, runtimeID string) (*container.SessionContainer, error)

	// ContainerPorts
	SetContainerPorts(ctx context.Context, containerID string, ports []container.ContainerPort) error
	ListContainerPorts(ctx context.Context, containerID string) ([]container.ContainerPort, error)

	// PortReservations
	CreatePortReservation(ctx context.Context, sessionID string, port int, kind reservation.Kind) (*reservation.PortReservation, error)
	DeletePortReservation(ctx context.Context, port int, kind reservation.Kind) error
	ListPortReservations(ctx context.Context) ([]reservation.PortReservation, error)

	// Volumes
	EnsureVolume(ctx context.Context, name string, sessionID *string, kind volume.Kind) (*volume.Volume, error)
	OrphanSessionVolumes(ctx context.Context, sessionID string) error

	// BrowserSessionState
	GetBrowserState(ctx context.Context, sessionID string) (*browser.State, error)
	UpsertBrowserState(ctx context.Context, state browser.State) error
	DeleteBrowserState(ctx context.Context, sessionID string) error
	ListBrowserStates(ctx context.Context) ([]browser.State, error)

	// OrchestrationRequests
	CreateOrchestrationRequest(ctx context.Context, req orchestration.CreateRequest) (*orchestration.Request, error)
	UpdateOrchestrationRequest(ctx context.Context, req orchestration.Request) error
	GetOrchestrationRequest(ctx context.Context, id string) (*orchestration.Request, error)

	// GithubSettings (singleton)
	GetGithubSettings(ctx context.Context) (*settings.GithubSettings, error)
	PutGithubSettings(ctx context.Context, req settings.UpdateRequest) (*settings.GithubSettings, error)
	DeleteGithubSettings(ctx context.Context) error
}
