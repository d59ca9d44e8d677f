// Package browser implements the browser orchestrator: a reconciliation
// loop that drives each session's browser daemon toward its desired state
// (running/stopped) as computed by browser.NextAction, and a
// RefCountObserver that flips the desired state based on live viewer
// subscriptions to a session's browser channels.
package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/CodeForge/internal/adapter/otel"
	browserdomain "github.com/Strob0t/CodeForge/internal/domain/browser"
	"github.com/Strob0t/CodeForge/internal/domain/reservation"
	"github.com/Strob0t/CodeForge/internal/keyedmutex"
	"github.com/Strob0t/CodeForge/internal/port/bus"
	"github.com/Strob0t/CodeForge/internal/port/cache"
	"github.com/Strob0t/CodeForge/internal/port/daemoncontroller"
	"github.com/Strob0t/CodeForge/internal/port/database"
)

// frameTTL bounds how long the most recent screencast frame for a session
// stays cached once its viewer disconnects.
const frameTTL = 30 * time.Second

// Orchestrator reconciles every session's BrowserSessionState against its
// daemon, and implements busport.RefCountObserver for the
// sessionBrowserState/sessionBrowserFrames channels.
type Orchestrator struct {
	store    database.Store
	daemon   daemoncontroller.Controller
	publish  bus.Publisher
	frames   cache.Cache
	locks    *keyedmutex.Map
	reserve  func(ctx context.Context, sessionID string, kind reservation.Kind) (int, error)
	release  func(ctx context.Context, port int, kind reservation.Kind) error
	metrics  *otel.Metrics

	cleanupDelay time.Duration
	maxRetries   int
}

// WithMetrics attaches OpenTelemetry counters to the reconciliation loop.
func (o *Orchestrator) WithMetrics(m *otel.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithFrameCache attaches the L1+L2 screencast frame cache used by the
// sessionBrowserFrames channel's snapshot loader.
func (o *Orchestrator) WithFrameCache(frames cache.Cache) *Orchestrator {
	o.frames = frames
	return o
}

// PutFrame caches sessionID's most recent screencast frame, called as
// frames arrive over the daemon's stream connection.
func (o *Orchestrator) PutFrame(ctx context.Context, sessionID string, frame []byte) error {
	if o.frames == nil {
		return nil
	}
	return o.frames.Set(ctx, frameKey(sessionID), frame, frameTTL)
}

// LatestFrame is the sessionBrowserFrames channel's SnapshotLoader: it
// returns the last cached frame, or nil if the daemon hasn't produced one
// yet.
func (o *Orchestrator) LatestFrame(ctx context.Context, sessionID string) ([]byte, error) {
	if o.frames == nil {
		return nil, nil
	}
	data, ok, err := o.frames.Get(ctx, frameKey(sessionID))
	if err != nil || !ok {
		return nil, err
	}
	return data, nil
}

func frameKey(sessionID string) string { return "browser-frame:" + sessionID }

// New creates an Orchestrator. reservePort/releasePort are the session
// service's port reservation hooks: a browser daemon's stream port is
// drawn from the session service's port allocator. maxRetries is the
// configured MAX_DAEMON_RETRIES ceiling passed to browserdomain.NextAction.
func New(
	store database.Store,
	daemon daemoncontroller.Controller,
	publish bus.Publisher,
	cleanupDelay time.Duration,
	maxRetries int,
	reservePort func(ctx context.Context, sessionID string, kind reservation.Kind) (int, error),
	releasePort func(ctx context.Context, port int, kind reservation.Kind) error,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		daemon:       daemon,
		publish:      publish,
		locks:        keyedmutex.New(),
		reserve:      reservePort,
		release:      releasePort,
		cleanupDelay: cleanupDelay,
		maxRetries:   maxRetries,
	}
}

// OnFirstSubscribe implements busport.RefCountObserver, setting the
// session's desired browser state to running as soon as the first viewer
// subscribes to its browser state or frames channel.
func (o *Orchestrator) OnFirstSubscribe(ctx context.Context, params map[string]string) {
	sessionID := params["sessionId"]
	if sessionID == "" {
		return
	}
	o.setDesired(ctx, sessionID, browserdomain.DesiredRunning)
}

// OnLastUnsubscribe implements busport.RefCountObserver, debouncing by
// cleanupDelay before setting the desired state to stopped, so a brief
// reconnect doesn't tear the daemon down and immediately rebuild it.
func (o *Orchestrator) OnLastUnsubscribe(ctx context.Context, params map[string]string) {
	sessionID := params["sessionId"]
	if sessionID == "" {
		return
	}
	go func() {
		select {
		case <-time.After(o.cleanupDelay):
		case <-ctx.Done():
			return
		}
		o.setDesired(context.Background(), sessionID, browserdomain.DesiredStopped)
	}()
}

func (o *Orchestrator) setDesired(ctx context.Context, sessionID string, desired browserdomain.Desired) {
	o.locks.With(sessionID, func() {
		state, err := o.store.GetBrowserState(ctx, sessionID)
		if err != nil {
			state = &browserdomain.State{SessionID: sessionID, Actual: browserdomain.ActualStopped}
		}
		state.Desired = desired
		if err := o.store.UpsertBrowserState(ctx, *state); err != nil {
			slog.Error("upsert browser state failed", "session_id", sessionID, "error", err)
		}
	})
}

// Tick runs one reconciliation pass over every tracked BrowserSessionState,
// advancing each by at most one action.
func (o *Orchestrator) Tick(ctx context.Context) {
	states, err := o.store.ListBrowserStates(ctx)
	if err != nil {
		slog.Error("list browser states failed", "error", err)
		return
	}
	for _, state := range states {
		o.reconcileOne(ctx, state)
	}
}

func (o *Orchestrator) reconcileOne(ctx context.Context, state browserdomain.State) {
	ctx, span := otel.StartReconcileSpan(ctx, state.SessionID)
	defer span.End()
	start := time.Now()
	if o.metrics != nil {
		o.metrics.ReconcileTicks.Add(ctx, 1)
		defer func() { o.metrics.ReconcileDuration.Record(ctx, time.Since(start).Seconds()) }()
	}

	o.locks.With(state.SessionID, func() {
		action := browserdomain.NextAction(state.Desired, state.Actual, state.RetryCount, o.maxRetries)
		switch action {
		case browserdomain.ActionNoOp:
			return
		case browserdomain.ActionStartDaemon:
			o.startDaemon(ctx, state)
		case browserdomain.ActionWaitForReady:
			o.checkReady(ctx, state)
		case browserdomain.ActionCheckAlive:
			o.checkAlive(ctx, state)
		case browserdomain.ActionResetStopped:
			state.Actual = browserdomain.ActualStopped
			o.save(ctx, state)
		case browserdomain.ActionStopDaemon:
			o.stopDaemon(ctx, state)
		case browserdomain.ActionWaitStopped:
			o.checkStopped(ctx, state)
		}
	})
}

func (o *Orchestrator) startDaemon(ctx context.Context, state browserdomain.State) {
	if state.StreamPort == nil {
		port, err := o.reserve(ctx, state.SessionID, reservation.KindStream)
		if err != nil {
			slog.Error("reserve browser stream port failed", "session_id", state.SessionID, "error", err)
			return
		}
		state.StreamPort = &port
	}

	url := ""
	if state.LastURL != nil {
		url = *state.LastURL
	}
	if _, err := o.daemon.Start(ctx, state.SessionID, url); err != nil {
		msg := err.Error()
		state.ErrorMessage = &msg
		state.Actual = browserdomain.ActualError
		state.RetryCount++
		o.save(ctx, state)
		return
	}

	state.Actual = browserdomain.ActualStarting
	state.ErrorMessage = nil
	o.save(ctx, state)
}

func (o *Orchestrator) checkReady(ctx context.Context, state browserdomain.State) {
	status, err := o.daemon.GetStatus(ctx, state.SessionID)
	if err != nil {
		return
	}
	if status == nil {
		// Daemon no longer exists; fall back to stopped so the reconciler
		// re-issues Start on the next tick if still desired.
		state.Actual = browserdomain.ActualStopped
		o.save(ctx, state)
		return
	}
	if status.Ready {
		state.Actual = browserdomain.ActualRunning
		state.LastHeartbeatAt = time.Now()
		o.save(ctx, state)
	}
}

func (o *Orchestrator) checkAlive(ctx context.Context, state browserdomain.State) {
	status, err := o.daemon.GetStatus(ctx, state.SessionID)
	if err != nil {
		msg := err.Error()
		state.ErrorMessage = &msg
		state.Actual = browserdomain.ActualError
		state.RetryCount++
		o.save(ctx, state)
		return
	}
	if status == nil {
		// Daemon no longer exists; fall back to stopped so the reconciler
		// re-issues Start on the next tick if still desired.
		state.Actual = browserdomain.ActualStopped
		o.save(ctx, state)
		return
	}
	if !status.Running {
		msg := "daemon health check failed"
		state.ErrorMessage = &msg
		state.Actual = browserdomain.ActualError
		state.RetryCount++
		o.save(ctx, state)
		return
	}
	state.LastHeartbeatAt = time.Now()
	o.save(ctx, state)
}

func (o *Orchestrator) stopDaemon(ctx context.Context, state browserdomain.State) {
	if url, err := o.daemon.GetCurrentURL(ctx, state.SessionID); err == nil && url != "" {
		state.LastURL = &url
	}

	if err := o.daemon.Stop(ctx, state.SessionID); err != nil {
		slog.Error("stop daemon failed", "session_id", state.SessionID, "error", err)
		return
	}
	state.Actual = browserdomain.ActualStopping
	o.save(ctx, state)
}

func (o *Orchestrator) checkStopped(ctx context.Context, state browserdomain.State) {
	status, err := o.daemon.GetStatus(ctx, state.SessionID)
	if err != nil {
		return
	}
	if status == nil || !status.Running {
		state.Actual = browserdomain.ActualStopped
		state.RetryCount = 0
		state.ErrorMessage = nil
		if state.StreamPort != nil {
			if err := o.release(ctx, *state.StreamPort, reservation.KindStream); err != nil {
				slog.Warn("release browser stream port failed", "session_id", state.SessionID, "error", err)
			}
			state.StreamPort = nil
		}
		o.save(ctx, state)
	}
}

func (o *Orchestrator) save(ctx context.Context, state browserdomain.State) {
	if err := o.store.UpsertBrowserState(ctx, state); err != nil {
		slog.Error("upsert browser state failed", "session_id", state.SessionID, "error", err)
		return
	}
	o.publish.PublishDelta("sessionBrowserState/{sessionId}", map[string]string{"sessionId": state.SessionID}, bus.Delta{
		Type: bus.DeltaUpdate,
		Data: state,
	})
}

// Run ticks the reconciliation loop every interval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}
