// Package event defines the AgentEvent domain entity: the append-only
// per-session log a UI or reconnecting client replays to rebuild state.
package event

import (
	"encoding/json"
	"time"
)

// AgentEvent is a single immutable event in a session's trajectory.
// Sequence is monotonically increasing and dense per session, which lets
// consumers detect gaps and request a resync instead of silently missing
// an event.
type AgentEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Sequence  int64           `json:"sequence"`
	EventData json.RawMessage `json:"event_data"`
	CreatedAt time.Time       `json:"created_at"`
}
