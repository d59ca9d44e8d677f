package project

import (
	"context"

	"github.com/Strob0t/CodeForge/internal/domain"
	"github.com/Strob0t/CodeForge/internal/domain/browser"
	"github.com/Strob0t/CodeForge/internal/domain/container"
	"github.com/Strob0t/CodeForge/internal/domain/orchestration"
	"github.com/Strob0t/CodeForge/internal/domain/project"
	"github.com/Strob0t/CodeForge/internal/domain/reservation"
	"github.com/Strob0t/CodeForge/internal/domain/session"
	"github.com/Strob0t/CodeForge/internal/domain/settings"
	"github.com/Strob0t/CodeForge/internal/domain/volume"
	"github.com/Strob0t/CodeForge/internal/port/database"
)

// stubStore implements database.Store with no-op stubs for every
// method project's tests don't exercise, so fakeStore
// only has to override the handful it actually needs.
type stubStore struct{}

func (stubStore) ListProjects(context.Context) ([]project.Project, error) { return nil, nil }
func (stubStore) GetProject(context.Context, string) (*project.Project, error) {
	return nil, domain.ErrNotFound
}
func (stubStore) CreateProject(context.Context, project.CreateRequest) (*project.Project, error) {
	return nil, nil
}
func (stubStore) DeleteProject(context.Context, string) error { return nil }

func (stubStore) ListSessions(context.Context) ([]session.Session, error) { return nil, nil }
func (stubStore) GetSession(context.Context, string) (*database.SessionWithContainers, error) {
	return nil, domain.ErrNotFound
}
func (stubStore) CreateSession(context.Context, string, string) (*session.Session, error) {
	return nil, nil
}
func (stubStore) UpdateSessionTitle(context.Context, string, string) error          { return nil }
func (stubStore) UpdateSessionAgentSessionID(context.Context, string, string) error { return nil }
func (stubStore) UpdateSessionStatus(context.Context, string, session.Status) error { return nil }
func (stubStore) DeleteSession(context.Context, string) error                       { return nil }

func (stubStore) ClaimPooledSession(context.Context, string, string) (*session.Session, error) {
	return nil, domain.ErrNotFound
}
func (stubStore) CountPooledSessions(context.Context, string) (int, error) { return 0, nil }

func (stubStore) CreateSessionContainer(context.Context, string, string, string) (*container.SessionContainer, error) {
	return nil, nil
}
func (stubStore) ListSessionContainers(context.Context, string) ([]container.SessionContainer, error) {
	return nil, nil
}
func (stubStore) UpdateSessionContainerStatus(context.Context, string, container.Status, *string) error {
	return nil
}
func (stubStore) UpdateSessionContainerRuntimeID(context.Context, string, string) error { return nil }
func (stubStore) GetSessionContainerByRuntimeID(context.Context, string) (*container.SessionContainer, error) {
	return nil, domain.ErrNotFound
}

func (stubStore) SetContainerPorts(context.Context, string, []container.ContainerPort) error {
	return nil
}
func (stubStore) ListContainerPorts(context.Context, string) ([]container.ContainerPort, error) {
	return nil, nil
}

func (stubStore) CreatePortReservation(context.Context, string, int, reservation.Kind) (*reservation.PortReservation, error) {
	return nil, nil
}
func (stubStore) DeletePortReservation(context.Context, int, reservation.Kind) error { return nil }
func (stubStore) ListPortReservations(context.Context) ([]reservation.PortReservation, error) {
	return nil, nil
}

func (stubStore) EnsureVolume(context.Context, string, *string, volume.Kind) (*volume.Volume, error) {
	return nil, nil
}
func (stubStore) OrphanSessionVolumes(context.Context, string) error { return nil }

func (stubStore) GetBrowserState(context.Context, string) (*browser.State, error) {
	return nil, domain.ErrNotFound
}
func (stubStore) UpsertBrowserState(context.Context, browser.State) error { return nil }
func (stubStore) DeleteBrowserState(context.Context, string) error        { return nil }
func (stubStore) ListBrowserStates(context.Context) ([]browser.State, error) { return nil, nil }

func (stubStore) CreateOrchestrationRequest(context.Context, orchestration.CreateRequest) (*orchestration.Request, error) {
	return nil, nil
}
func (stubStore) UpdateOrchestrationRequest(context.Context, orchestration.Request) error { return nil }
func (stubStore) GetOrchestrationRequest(context.Context, string) (*orchestration.Request, error) {
	return nil, domain.ErrNotFound
}

func (stubStore) GetGithubSettings(context.Context) (*settings.GithubSettings, error) {
	return &settings.GithubSettings{}, nil
}
func (stubStore) PutGithubSettings(context.Context, settings.UpdateRequest) (*settings.GithubSettings, error) {
	return nil, nil
}
func (stubStore) DeleteGithubSettings(context.Context) error { return nil }
