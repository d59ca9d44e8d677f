package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/CodeForge/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL. Sequence numbers
// are assigned by taking a row lock on the session's highest sequence and
// incrementing inside the same transaction, so concurrent Append calls for
// the same session serialize instead of racing. A session's first event has
// no row to lock; the unique (session_id, sequence) constraint rejects a
// concurrent duplicate.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) Append(ctx context.Context, sessionID string, eventData []byte) (*event.AgentEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("append event: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lastSeq int64
	err = tx.QueryRow(ctx, `
		SELECT sequence FROM agent_events WHERE session_id = $1
		ORDER BY sequence DESC LIMIT 1 FOR UPDATE`,
		sessionID,
	).Scan(&lastSeq)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("append event: lock last sequence: %w", err)
	}

	ev := event.AgentEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sequence:  lastSeq + 1,
		EventData: eventData,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO agent_events (id, session_id, sequence, event_data, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at`,
		ev.ID, ev.SessionID, ev.Sequence, ev.EventData,
	).Scan(&ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append event: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("append event: commit: %w", err)
	}
	return &ev, nil
}

func (s *EventStore) LoadSince(ctx context.Context, sessionID string, afterSeq int64) ([]event.AgentEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, sequence, event_data, created_at
		FROM agent_events WHERE session_id = $1 AND sequence > $2
		ORDER BY sequence ASC`, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("load events since %d: %w", afterSeq, err)
	}
	defer rows.Close()

	var out []event.AgentEvent
	for rows.Next() {
		var ev event.AgentEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Sequence, &ev.EventData, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return orEmpty(out), rows.Err()
}

func (s *EventStore) LastSequence(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT coalesce(max(sequence), 0) FROM agent_events WHERE session_id = $1`, sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence for session %s: %w", sessionID, err)
	}
	return seq, nil
}
