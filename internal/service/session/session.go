// Package session implements the session orchestrator: spawning,
// claiming, and destroying a Project's container cluster, and keeping the
// pool of pre-warmed sessions at its configured size.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/CodeForge/internal/adapter/otel"
	"github.com/Strob0t/CodeForge/internal/adapter/proxyrouter"
	"github.com/Strob0t/CodeForge/internal/domain"
	"github.com/Strob0t/CodeForge/internal/domain/container"
	"github.com/Strob0t/CodeForge/internal/domain/project"
	"github.com/Strob0t/CodeForge/internal/domain/reservation"
	"github.com/Strob0t/CodeForge/internal/domain/session"
	"github.com/Strob0t/CodeForge/internal/domain/volume"
	"github.com/Strob0t/CodeForge/internal/keyedmutex"
	"github.com/Strob0t/CodeForge/internal/portalloc"
	"github.com/Strob0t/CodeForge/internal/port/bus"
	"github.com/Strob0t/CodeForge/internal/port/database"
	"github.com/Strob0t/CodeForge/internal/port/sandbox"
)

// ErrNoContainerDefinitions is returned when a project has no container
// definitions to spawn a cluster from.
var ErrNoContainerDefinitions = fmt.Errorf("project has no container definitions: %w", domain.ErrValidation)

// normalizeTitle trims and collapses internal whitespace in a caller-supplied
// task summary before it's persisted as a session title.
func normalizeTitle(taskSummary string) string {
	return strings.Join(strings.Fields(taskSummary), " ")
}

// clusterNetwork is the Sandbox Provider network every container of a
// session's cluster is attached to, so they can reach each other by
// hostname.
func clusterNetwork(sessionID string) string { return "codeforge-session-" + sessionID }

// Service implements the session lifecycle operations of spec.md §4.5:
// spawn, claim, destroy, and pool top-up.
type Service struct {
	store    database.Store
	provider sandbox.Provider
	router   *proxyrouter.Router
	ports    *portalloc.Allocator
	locks    *keyedmutex.Map
	publish  bus.Publisher
	metrics  *otel.Metrics

	workspacesVolume string
}

// WithMetrics attaches OpenTelemetry counters to the session lifecycle
// operations. Safe to omit; a nil metrics field is just not recorded.
func (s *Service) WithMetrics(m *otel.Metrics) *Service {
	s.metrics = m
	return s
}

// New creates a Service. workspacesVolume is the shared volume name mounted
// into every spawned container's working directory.
func New(store database.Store, provider sandbox.Provider, router *proxyrouter.Router, ports *portalloc.Allocator, publish bus.Publisher, workspacesVolume string) *Service {
	return &Service{
		store:            store,
		provider:         provider,
		router:           router,
		ports:            ports,
		locks:            keyedmutex.New(),
		publish:          publish,
		workspacesVolume: workspacesVolume,
	}
}

// List returns every Session, newest first by creation time (spec.md §6.1
// GET /sessions).
func (s *Service) List(ctx context.Context) ([]session.Session, error) {
	return s.store.ListSessions(ctx)
}

// Get returns a single Session with its current container cluster.
func (s *Service) Get(ctx context.Context, id string) (*database.SessionWithContainers, error) {
	return s.store.GetSession(ctx, id)
}

// Spawn creates a Session for projectID, first attempting to claim a
// pooled session (so warm-pool capacity is actually exercised by the
// documented creation endpoint) and only falling back to a cold-start
// cluster initialization when the pool has nothing to offer.
func (s *Service) Spawn(ctx context.Context, req session.CreateRequest) (*session.Session, error) {
	title := normalizeTitle(req.Title)

	if claimed, err := s.store.ClaimPooledSession(ctx, req.ProjectID, title); err == nil {
		if s.metrics != nil {
			s.metrics.SessionsClaimed.Add(ctx, 1)
		}
		s.publishSessionsList(ctx)
		go func() {
			bgCtx := context.Background()
			if err := s.TopUpPool(bgCtx, req.ProjectID); err != nil {
				slog.Error("pool top-up after spawn claim failed", "project_id", req.ProjectID, "error", err)
			}
		}()
		return claimed, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("spawn: claim pooled session: %w", err)
	}

	proj, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	if len(proj.ContainerDefinitions) == 0 {
		return nil, fmt.Errorf("spawn: %w", ErrNoContainerDefinitions)
	}

	sess, err := s.store.CreateSession(ctx, proj.ID, title)
	if err != nil {
		return nil, fmt.Errorf("spawn: create session: %w", err)
	}

	ctx, span := otel.StartSpawnSpan(ctx, sess.ID, proj.ID)
	defer span.End()

	if err := s.initCluster(ctx, sess.ID, proj); err != nil {
		_ = s.store.UpdateSessionStatus(ctx, sess.ID, session.StatusError)
		return nil, fmt.Errorf("spawn: init cluster: %w", err)
	}

	if err := s.store.UpdateSessionStatus(ctx, sess.ID, session.StatusRunning); err != nil {
		return nil, fmt.Errorf("spawn: mark running: %w", err)
	}
	sess.Status = session.StatusRunning

	if s.metrics != nil {
		s.metrics.SessionsSpawned.Add(ctx, 1)
	}

	s.publishSessionsList(ctx)
	return sess, nil
}

// Claim takes the oldest pooled Session for projectID, atomically
// transitioning it to running with title, then top up the pool in the
// background to replace it.
func (s *Service) Claim(ctx context.Context, req session.ClaimRequest) (*session.Session, error) {
	sess, err := s.store.ClaimPooledSession(ctx, req.ProjectID, normalizeTitle(req.Title))
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SessionsClaimed.Add(ctx, 1)
	}

	s.publishSessionsList(ctx)

	go func() {
		bgCtx := context.Background()
		if err := s.TopUpPool(bgCtx, req.ProjectID); err != nil {
			slog.Error("pool top-up after claim failed", "project_id", req.ProjectID, "error", err)
		}
	}()

	return sess, nil
}

// TopUpPool spawns pooled sessions for projectID until its pool reaches the
// Project's configured PoolSize.
func (s *Service) TopUpPool(ctx context.Context, projectID string) error {
	proj, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("top up pool: %w", err)
	}
	if len(proj.ContainerDefinitions) == 0 {
		return fmt.Errorf("top up pool: %w", ErrNoContainerDefinitions)
	}

	for {
		count, err := s.store.CountPooledSessions(ctx, projectID)
		if err != nil {
			return fmt.Errorf("top up pool: count: %w", err)
		}
		if count >= proj.PoolSize {
			return nil
		}

		sess, err := s.store.CreateSession(ctx, proj.ID, "")
		if err != nil {
			return fmt.Errorf("top up pool: create: %w", err)
		}
		if err := s.initCluster(ctx, sess.ID, proj); err != nil {
			_ = s.store.UpdateSessionStatus(ctx, sess.ID, session.StatusError)
			return fmt.Errorf("top up pool: init cluster: %w", err)
		}
		if err := s.store.UpdateSessionStatus(ctx, sess.ID, session.StatusPooled); err != nil {
			return fmt.Errorf("top up pool: mark pooled: %w", err)
		}
	}
}

// Destroy tears down a Session's cluster and removes it. Serialized per
// session, so concurrent Destroy calls for the same id never interleave;
// Claim and the browser orchestrator do not take this lock.
func (s *Service) Destroy(ctx context.Context, id string) error {
	var outerErr error
	s.locks.With(id, func() {
		outerErr = s.destroyLocked(ctx, id)
	})
	return outerErr
}

func (s *Service) destroyLocked(ctx context.Context, id string) error {
	ctx, span := otel.StartDestroySpan(ctx, id)
	defer span.End()

	if err := s.store.UpdateSessionStatus(ctx, id, session.StatusDeleting); err != nil {
		return fmt.Errorf("destroy: mark deleting: %w", err)
	}

	withContainers, err := s.store.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("destroy: get: %w", err)
	}

	for _, c := range withContainers.Containers {
		if c.RuntimeID != nil {
			if err := s.provider.StopContainer(ctx, *c.RuntimeID); err != nil {
				slog.Warn("stop container during destroy failed", "session_id", id, "runtime_id", *c.RuntimeID, "error", err)
			}
			if err := s.provider.RemoveContainer(ctx, *c.RuntimeID, true); err != nil {
				slog.Warn("remove container during destroy failed", "session_id", id, "runtime_id", *c.RuntimeID, "error", err)
			}
		}
	}

	if err := s.provider.RemoveNetwork(ctx, clusterNetwork(id)); err != nil {
		slog.Warn("remove cluster network during destroy failed", "session_id", id, "error", err)
	}

	s.router.UnregisterCluster(id)

	reservations, err := s.store.ListPortReservations(ctx)
	if err == nil {
		for _, r := range reservations {
			if r.SessionID == id {
				s.ports.Release(r.Port, r.Kind)
				_ = s.store.DeletePortReservation(ctx, r.Port, r.Kind)
			}
		}
	}

	// Volumes outlive the session: orphan rather than reclaim, per
	// spec.md §4.5.4.
	if err := s.store.OrphanSessionVolumes(ctx, id); err != nil {
		slog.Warn("orphan session volumes failed", "session_id", id, "error", err)
	}

	if err := s.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("destroy: delete: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SessionsDestroyed.Add(ctx, 1)
	}

	s.publishSessionsList(ctx)
	return nil
}

// initCluster creates the network, containers, and volumes for a Project's
// ContainerDefinitions under sessionID, persisting each SessionContainer
// and its ports, and registers the resulting routes with the proxy router.
func (s *Service) initCluster(ctx context.Context, sessionID string, proj *project.Project) error {
	network := clusterNetwork(sessionID)
	if err := s.provider.CreateNetwork(ctx, network); err != nil {
		return fmt.Errorf("create network: %w", err)
	}

	volName := s.workspacesVolume + "-" + sessionID
	if _, err := s.store.EnsureVolume(ctx, volName, &sessionID, volume.KindWorkspace); err != nil {
		return fmt.Errorf("ensure workspace volume: %w", err)
	}
	if err := s.provider.CreateVolume(ctx, volName); err != nil {
		return fmt.Errorf("create workspace volume: %w", err)
	}

	var routes []proxyrouter.ContainerRoute

	for _, def := range proj.ContainerDefinitions {
		hostname := def.Hostname
		if hostname == "" {
			hostname = def.ID + "-" + sessionID
		}

		sc, err := s.store.CreateSessionContainer(ctx, sessionID, def.ID, hostname)
		if err != nil {
			return fmt.Errorf("create session container %s: %w", def.ID, err)
		}

		runtimeID, err := s.provider.CreateContainer(ctx, sandbox.ContainerSpec{
			Image:      def.Image,
			Hostname:   hostname,
			Labels:     map[string]string{"codeforge.session_id": sessionID, "codeforge.container_id": def.ID},
			Env:        def.EnvTemplate,
			Binds:      []string{volName + ":/workspace"},
			WorkingDir: "/workspace",
		})
		if err != nil {
			_ = s.store.UpdateSessionContainerStatus(ctx, sc.ID, container.StatusError, errPtr(err))
			return fmt.Errorf("create container %s: %w", def.ID, err)
		}
		if err := s.store.UpdateSessionContainerRuntimeID(ctx, sc.ID, runtimeID); err != nil {
			return fmt.Errorf("set runtime id %s: %w", def.ID, err)
		}

		if err := s.provider.Connect(ctx, runtimeID, network, sandbox.ConnectOpts{Aliases: []string{hostname}}); err != nil {
			return fmt.Errorf("connect container %s: %w", def.ID, err)
		}
		if err := s.provider.StartContainer(ctx, runtimeID); err != nil {
			_ = s.store.UpdateSessionContainerStatus(ctx, sc.ID, container.StatusError, errPtr(err))
			return fmt.Errorf("start container %s: %w", def.ID, err)
		}
		if err := s.store.UpdateSessionContainerStatus(ctx, sc.ID, container.StatusStarting, nil); err != nil {
			return fmt.Errorf("mark starting %s: %w", def.ID, err)
		}

		var ports []container.ContainerPort
		portMap := make(map[int]*int, len(def.Ports))
		for _, p := range def.Ports {
			ports = append(ports, container.ContainerPort{ContainerID: def.ID, Port: p, Protocol: container.ProtocolTCP})
			portMap[p] = nil
		}
		if len(ports) > 0 {
			if err := s.store.SetContainerPorts(ctx, def.ID, ports); err != nil {
				return fmt.Errorf("set ports %s: %w", def.ID, err)
			}
		}

		routes = append(routes, proxyrouter.ContainerRoute{ContainerID: def.ID, Hostname: hostname, Ports: portMap})
	}

	s.router.RegisterCluster(sessionID, routes)
	return nil
}

func errPtr(err error) *string {
	msg := err.Error()
	return &msg
}

// publishSessionsList broadcasts the current session list to every
// subscriber of the "sessions" channel.
func (s *Service) publishSessionsList(ctx context.Context) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		slog.Warn("list sessions for publish failed", "error", err)
		return
	}
	s.publish.PublishDelta("sessions", nil, bus.Delta{Type: bus.DeltaUpdate, Data: sessions})
}

// ReservePort allocates a host port for a session and persists the
// reservation, releasing the port again if persisting fails.
func (s *Service) ReservePort(ctx context.Context, sessionID string, kind reservation.Kind) (int, error) {
	port, err := s.ports.Allocate(kind)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PortAllocFailures.Add(ctx, 1)
		}
		return 0, fmt.Errorf("reserve port: %w", err)
	}
	if _, err := s.store.CreatePortReservation(ctx, sessionID, port, kind); err != nil {
		s.ports.Release(port, kind)
		return 0, fmt.Errorf("reserve port: persist: %w", err)
	}
	return port, nil
}

// ReleasePort frees a previously reserved port.
func (s *Service) ReleasePort(ctx context.Context, port int, kind reservation.Kind) error {
	s.ports.Release(port, kind)
	if err := s.store.DeletePortReservation(ctx, port, kind); err != nil {
		return fmt.Errorf("release port: %w", err)
	}
	return nil
}
