// Package eventstore defines the port interface for the append-only
// per-session AgentEvent log.
package eventstore

import (
	"context"

	"github.com/Strob0t/CodeForge/internal/domain/event"
)

// Store appends and loads AgentEvents. Append assigns the next dense
// sequence number for the session atomically, so concurrent appends for
// the same session never produce a gap or a duplicate.
type Store interface {
	// Append persists a new event for sessionID, assigning the next
	// sequence number, and returns the stored event.
	Append(ctx context.Context, sessionID string, eventData []byte) (*event.AgentEvent, error)

	// LoadSince returns all events for sessionID with sequence > afterSeq,
	// ordered by sequence, so a reconnecting client can resync from a
	// known point.
	LoadSince(ctx context.Context, sessionID string, afterSeq int64) ([]event.AgentEvent, error)

	// LastSequence returns the highest sequence number recorded for
	// sessionID, or 0 if none exist.
	LastSequence(ctx context.Context, sessionID string) (int64, error)
}
