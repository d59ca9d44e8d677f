package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/CodeForge/internal/adapter/browserdaemon"
	cfbus "github.com/Strob0t/CodeForge/internal/adapter/bus"
	cfhttp "github.com/Strob0t/CodeForge/internal/adapter/http"
	cfnats "github.com/Strob0t/CodeForge/internal/adapter/nats"
	"github.com/Strob0t/CodeForge/internal/adapter/natskv"
	cfotel "github.com/Strob0t/CodeForge/internal/adapter/otel"
	"github.com/Strob0t/CodeForge/internal/adapter/postgres"
	"github.com/Strob0t/CodeForge/internal/adapter/proxyrouter"
	"github.com/Strob0t/CodeForge/internal/adapter/ristretto"
	"github.com/Strob0t/CodeForge/internal/adapter/sandboxdocker"
	"github.com/Strob0t/CodeForge/internal/adapter/tiered"
	"github.com/Strob0t/CodeForge/internal/config"
	sessiondomain "github.com/Strob0t/CodeForge/internal/domain/session"
	"github.com/Strob0t/CodeForge/internal/logger"
	cfmw "github.com/Strob0t/CodeForge/internal/middleware"
	"github.com/Strob0t/CodeForge/internal/port/database"
	"github.com/Strob0t/CodeForge/internal/port/eventstore"
	"github.com/Strob0t/CodeForge/internal/portalloc"
	"github.com/Strob0t/CodeForge/internal/resilience"
	browsersvc "github.com/Strob0t/CodeForge/internal/service/browser"
	"github.com/Strob0t/CodeForge/internal/service/containermonitor"
	"github.com/Strob0t/CodeForge/internal/service/githubsettings"
	"github.com/Strob0t/CodeForge/internal/service/orchestration"
	"github.com/Strob0t/CodeForge/internal/service/project"
	sessionsvc "github.com/Strob0t/CodeForge/internal/service/session"
)

func main() {
	root := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(root)

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"proxy_port", cfg.Proxy.Port,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	shutdownTracer, err := cfotel.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	store := postgres.NewStore(pool)
	eventStore := postgres.NewEventStore(pool)

	sandboxBreaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	sandboxClient, err := sandboxdocker.New(cfg.Sandbox.Endpoint, cfg.Sandbox.MaxConcurrent, cfg.Sandbox.CallTimeout, sandboxBreaker)
	if err != nil {
		return fmt.Errorf("sandbox provider: %w", err)
	}

	daemonBreaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	daemonClient := browserdaemon.New(cfg.Browser.APIURL, cfg.Sandbox.CallTimeout, daemonBreaker)

	proxy := proxyrouter.New(cfg.Proxy.BaseDomain, cfg.Proxy.IdleTimeout)

	ports, err := portalloc.New(cfg.Ports.StreamLow, cfg.Ports.StreamHigh)
	if err != nil {
		return fmt.Errorf("port allocator: %w", err)
	}
	if err := rehydratePorts(ctx, store, ports); err != nil {
		return fmt.Errorf("rehydrate ports: %w", err)
	}

	channelBus := cfbus.New()

	// Frame cache: L1 in-process ristretto backed by L2 NATS JetStream KV,
	// so the last screencast frame survives an orchestrator restart long
	// enough for a reconnecting viewer to see it instead of a blank tile.
	l1, err := ristretto.New(64 << 20)
	if err != nil {
		return fmt.Errorf("frame cache l1: %w", err)
	}
	frameKV, err := queue.KeyValueBucket(ctx, "browser-frames", 2*time.Minute)
	if err != nil {
		return fmt.Errorf("frame cache l2 bucket: %w", err)
	}
	frameCache := tiered.New(l1, natskv.New(frameKV), 5*time.Second)

	// --- Services ---

	sessionSvc := sessionsvc.New(store, sandboxClient, proxy, ports, channelBus, cfg.Pool.WorkspacesVolume).
		WithMetrics(metrics)
	browserOrch := browsersvc.New(store, daemonClient, channelBus, cfg.Browser.CleanupDelay, cfg.Browser.MaxDaemonRetries, sessionSvc.ReservePort, sessionSvc.ReleasePort).
		WithFrameCache(frameCache).
		WithMetrics(metrics)
	monitor := containermonitor.New(store, sandboxClient, channelBus).WithQueue(queue).WithMetrics(metrics)
	proxy.WithMetrics(metrics)
	orchestrationSvc := orchestration.New(store, unimplementedResolver{}, channelBus)
	githubSvc := githubsettings.New(store)
	projectSvc := project.New(store)

	registerChannels(channelBus, store, eventStore, sessionSvc, browserOrch)

	if err := recoverOnBoot(ctx, store, sessionSvc, proxy); err != nil {
		slog.Error("crash recovery sweep failed", "error", err)
	}

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	go monitor.Run(bgCtx)
	go browserOrch.Run(bgCtx, cfg.Reconcile.Interval)

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Projects:       projectSvc,
		Sessions:       sessionSvc,
		Proxy:          proxy,
		Orchestration:  orchestrationSvc,
		GithubSettings: githubSvc,
		Bus:            channelBus.HandleWS,
	}

	limiter := cfmw.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopLimiterCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopLimiterCleanup()

	r := chi.NewRouter()
	r.Use(cfotel.HTTPMiddleware(cfg.Telemetry.ServiceName))
	r.Use(cfmw.RequestID)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(limiter.Handler)

	r.Get("/health", healthHandler(queue))
	cfhttp.MountRoutes(r, handlers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	proxySrv := &http.Server{
		Addr:              ":" + cfg.Proxy.Port,
		Handler:           proxy,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       cfg.Proxy.IdleTimeout,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting api server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
		}
	}()

	go func() {
		slog.Info("starting proxy listener", "addr", proxySrv.Addr, "base_domain", cfg.Proxy.BaseDomain)
		if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("proxy listener failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")
	cancelBg()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if proxyErr := proxySrv.Shutdown(shutdownCtx); proxyErr != nil && err == nil {
		err = proxyErr
	}
	return err
}

// rehydratePorts loads every persisted PortReservation into the in-process
// allocator's busy set, so a restart doesn't hand out a port a running
// container or browser daemon already holds.
func rehydratePorts(ctx context.Context, store database.Store, ports *portalloc.Allocator) error {
	reservations, err := store.ListPortReservations(ctx)
	if err != nil {
		return fmt.Errorf("list port reservations: %w", err)
	}
	for _, r := range reservations {
		ports.Reserve(r.Port, r.Kind)
	}
	return nil
}

// registerChannels registers the closed channel set of spec.md §6.2.
// Channels with no persistence in this subsystem (chat, file tree, task
// list, branch, link and log streams) carry no snapshot loader: they are
// delta/event-only surfaces whose producers live in the agent runtime, not
// the session lifecycle subsystem. sessionAcpEvents is the one exception:
// its events are durable, so a reconnecting client replays the full
// trajectory from the append-only event log instead of starting blank.
func registerChannels(b *cfbus.Bus, store database.Store, events eventstore.Store, sessionSvc *sessionsvc.Service, browserOrch *browsersvc.Orchestrator) {
	b.RegisterChannel("projects", func(ctx context.Context, _ string, _ map[string]string) (any, error) {
		return store.ListProjects(ctx)
	}, nil, nil, nil)

	b.RegisterChannel("sessions", func(ctx context.Context, _ string, _ map[string]string) (any, error) {
		return sessionSvc.List(ctx)
	}, nil, nil, nil)

	b.RegisterChannel("sessionMetadata/{sessionId}", func(ctx context.Context, _ string, params map[string]string) (any, error) {
		return sessionSvc.Get(ctx, params["sessionId"])
	}, nil, nil, nil)

	b.RegisterChannel("sessionContainers/{sessionId}", func(ctx context.Context, _ string, params map[string]string) (any, error) {
		withContainers, err := sessionSvc.Get(ctx, params["sessionId"])
		if err != nil {
			return nil, err
		}
		return withContainers.Containers, nil
	}, nil, nil, nil)

	b.RegisterChannel("sessionTyping/{sessionId}", nil, nil, nil, nil)
	b.RegisterChannel("sessionChangedFiles/{sessionId}", nil, nil, nil, nil)
	b.RegisterChannel("sessionTasks/{sessionId}", nil, nil, nil, nil)
	b.RegisterChannel("sessionBranches/{sessionId}", nil, nil, nil, nil)
	b.RegisterChannel("sessionLinks/{sessionId}", nil, nil, nil, nil)
	b.RegisterChannel("sessionLogs/{sessionId}", nil, nil, nil, nil)
	b.RegisterChannel("sessionMessages/{sessionId}", nil, nil, nil, nil)
	b.RegisterChannel("sessionAcpEvents/{sessionId}", func(ctx context.Context, _ string, params map[string]string) (any, error) {
		return events.LoadSince(ctx, params["sessionId"], 0)
	}, nil, nil, nil)
	b.RegisterChannel("sessionComplete/{sessionId}", nil, nil, nil, nil)

	b.RegisterChannel("sessionBrowserState/{sessionId}", func(ctx context.Context, _ string, params map[string]string) (any, error) {
		return store.GetBrowserState(ctx, params["sessionId"])
	}, nil, nil, browserOrch)

	b.RegisterChannel("sessionBrowserFrames/{sessionId}", func(ctx context.Context, _ string, params map[string]string) (any, error) {
		return browserOrch.LatestFrame(ctx, params["sessionId"])
	}, nil, nil, browserOrch)

	b.RegisterChannel("sessionBrowserInput/{sessionId}", nil, nil, nil, nil)

	b.RegisterChannel("orchestrationStatus/{sessionId}", nil, nil, nil, nil)
}

// recoverOnBoot re-registers proxy routes for every session left running
// from a prior process, and finishes destroying every session left
// mid-deletion, per spec.md §4.5.5.
func recoverOnBoot(ctx context.Context, store database.Store, sessionSvc *sessionsvc.Service, proxy *proxyrouter.Router) error {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	for _, sess := range sessions {
		switch sess.Status {
		case sessiondomain.StatusRunning:
			if err := reregisterRoutes(ctx, store, proxy, sess.ID); err != nil {
				slog.Warn("re-register routes on boot failed", "session_id", sess.ID, "error", err)
			}
		case sessiondomain.StatusDeleting:
			slog.Info("resuming interrupted destroy", "session_id", sess.ID)
			if err := sessionSvc.Destroy(ctx, sess.ID); err != nil {
				slog.Warn("resume destroy on boot failed", "session_id", sess.ID, "error", err)
			}
		}
	}
	return nil
}

func reregisterRoutes(ctx context.Context, store database.Store, proxy *proxyrouter.Router, sessionID string) error {
	withContainers, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	var routes []proxyrouter.ContainerRoute
	for _, c := range withContainers.Containers {
		containerPorts, err := store.ListContainerPorts(ctx, c.ContainerID)
		if err != nil {
			return fmt.Errorf("list container ports %s: %w", c.ContainerID, err)
		}
		portMap := make(map[int]*int, len(containerPorts))
		for _, p := range containerPorts {
			portMap[p.Port] = nil
		}
		routes = append(routes, proxyrouter.ContainerRoute{ContainerID: c.ContainerID, Hostname: c.Hostname, Ports: portMap})
	}
	proxy.RegisterCluster(sessionID, routes)
	return nil
}

// unimplementedResolver is wired as the orchestration service's Resolver
// until model/session resolution, which lives outside the session
// lifecycle subsystem, is implemented.
type unimplementedResolver struct{}

func (unimplementedResolver) Resolve(context.Context, string) (string, string, string, error) {
	return "", "", "", errors.New("orchestration resolver not implemented")
}

func healthHandler(queue *cfnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status string `json:"status"`
		NATS   bool   `json:"nats_connected"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthStatus{Status: "ok", NATS: queue.IsConnected()})
	}
}
