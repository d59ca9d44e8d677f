// Package bus defines the port interface for the multiplayer channel bus:
// the typed pub/sub layer publishers use to push snapshots and deltas to
// subscribed clients without depending on the transport (WebSocket)
// underneath.
package bus

import "context"

// DeltaType identifies the shape of an incremental update.
type DeltaType string

const (
	DeltaAdd    DeltaType = "add"
	DeltaRemove DeltaType = "remove"
	DeltaUpdate DeltaType = "update"
	DeltaAppend DeltaType = "append"
	DeltaPatch  DeltaType = "patch"
)

// Delta is a single incremental update published to a channel path.
type Delta struct {
	Type DeltaType `json:"type"`
	Data any       `json:"data"`
}

// Publisher is the narrow interface services use to fan out snapshots and
// deltas without depending on the bus's subscription bookkeeping.
type Publisher interface {
	// PublishDelta resolves channel+params to a concrete path and
	// broadcasts delta to every subscriber of that path. Safe to call with
	// zero subscribers.
	PublishDelta(channel string, params map[string]string, delta Delta)

	// PublishEvent broadcasts a server-originated event (not a delta) to a
	// channel path, e.g. sessionTyping's set_typing notifications.
	PublishEvent(channel string, params map[string]string, data any)
}

// RefCountObserver is implemented by components (the browser orchestrator)
// that need to know when a channel's subscriber count transitions to/from
// zero, to drive reference-counted side effects like starting or stopping
// a browser daemon.
type RefCountObserver interface {
	OnFirstSubscribe(ctx context.Context, params map[string]string)
	OnLastUnsubscribe(ctx context.Context, params map[string]string)
}
