// Package containermonitor consumes the Sandbox Provider's container
// event stream and keeps SessionContainer status in sync with what the
// provider actually observes, reconnecting with exponential backoff if the
// stream breaks.
package containermonitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/CodeForge/internal/adapter/otel"
	"github.com/Strob0t/CodeForge/internal/domain/container"
	"github.com/Strob0t/CodeForge/internal/port/bus"
	"github.com/Strob0t/CodeForge/internal/port/database"
	"github.com/Strob0t/CodeForge/internal/port/messagequeue"
	"github.com/Strob0t/CodeForge/internal/port/sandbox"
)

// minBackoff and maxBackoff bound the stream-reconnect delay (spec.md
// §4.6: 1s up to a 60s cap).
const (
	minBackoff = time.Second
	maxBackoff = 60 * time.Second
)

// Monitor drives SessionContainer status from Sandbox Provider events.
type Monitor struct {
	store    database.Store
	provider sandbox.Provider
	publish  bus.Publisher
	queue    messagequeue.Queue // optional; nil disables the best-effort NATS republish
	metrics  *otel.Metrics
}

// New creates a Monitor.
func New(store database.Store, provider sandbox.Provider, publish bus.Publisher) *Monitor {
	return &Monitor{store: store, provider: provider, publish: publish}
}

// WithMetrics attaches an OpenTelemetry counter for container status
// transitions observed from the sandbox provider.
func (m *Monitor) WithMetrics(metrics *otel.Metrics) *Monitor {
	m.metrics = metrics
	return m
}

// WithQueue enables a best-effort republish of every status transition to
// messagequeue.SubjectContainerStatus, for observers that don't want to
// hold a bus WebSocket open.
func (m *Monitor) WithQueue(queue messagequeue.Queue) *Monitor {
	m.queue = queue
	return m
}

// Run consumes the container event stream until ctx is cancelled,
// reconnecting with exponential backoff between 1s and 60s on any stream
// error.
func (m *Monitor) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		ch := make(chan sandbox.Event, 32)
		errCh := make(chan error, 1)
		streamCtx, cancel := context.WithCancel(ctx)

		go func() {
			errCh <- m.provider.StreamContainerEvents(streamCtx, sandbox.EventFilter{LabelKey: "codeforge.session_id"}, ch)
			cancel()
		}()

		drained := m.consume(streamCtx, ch)
		cancel()
		<-errCh
		<-drained

		if ctx.Err() != nil {
			return
		}

		slog.Warn("container event stream disconnected, reconnecting", "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (m *Monitor) consume(ctx context.Context, ch <-chan sandbox.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m.handle(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

func (m *Monitor) handle(ctx context.Context, ev sandbox.Event) {
	sc, err := m.store.GetSessionContainerByRuntimeID(ctx, ev.RuntimeID)
	if err != nil {
		// Unknown containers (e.g. not ours, or already torn down) are
		// expected noise on a shared Docker Engine.
		return
	}

	status, errMsg := mapAction(ev.Action)
	if status == "" {
		return
	}

	if err := m.store.UpdateSessionContainerStatus(ctx, sc.ID, status, errMsg); err != nil {
		slog.Error("update session container status failed", "session_container_id", sc.ID, "error", err)
		return
	}

	if m.metrics != nil {
		m.metrics.ContainerTransitions.Add(ctx, 1)
	}

	if status == container.StatusRunning {
		if state, err := m.provider.Inspect(ctx, ev.RuntimeID); err == nil && len(state.Ports) > 0 {
			ports := make([]container.ContainerPort, 0, len(state.Ports))
			for _, p := range state.Ports {
				ports = append(ports, container.ContainerPort{ContainerID: sc.ContainerID, Port: p, Protocol: container.ProtocolTCP})
			}
			if err := m.store.SetContainerPorts(ctx, sc.ContainerID, ports); err != nil {
				slog.Error("set container ports failed", "container_id", sc.ContainerID, "error", err)
			}
		}
	}

	m.publish.PublishDelta("sessionContainers/{sessionId}", map[string]string{"sessionId": sc.SessionID}, bus.Delta{
		Type: bus.DeltaUpdate,
		Data: sc,
	})

	if m.queue != nil {
		if data, err := json.Marshal(sc); err == nil {
			if err := m.queue.Publish(ctx, messagequeue.SubjectContainerStatus, data); err != nil {
				slog.Warn("republish container status to nats failed", "session_container_id", sc.ID, "error", err)
			}
		}
	}
}

// mapAction translates a Sandbox Provider event action into a
// SessionContainer status. Unrecognized actions are ignored rather than
// erroring, since the provider's event vocabulary is broader than the
// subset this subsystem tracks.
func mapAction(action string) (container.Status, *string) {
	switch action {
	case "start":
		return container.StatusRunning, nil
	case "restart":
		return container.StatusStarting, nil
	case "stop", "die", "kill":
		return container.StatusStopped, nil
	case "oom", "health_status: unhealthy":
		msg := "container terminated: " + action
		return container.StatusError, &msg
	default:
		return "", nil
	}
}
