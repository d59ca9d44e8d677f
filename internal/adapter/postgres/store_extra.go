package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/CodeForge/internal/domain/browser"
	"github.com/Strob0t/CodeForge/internal/domain/orchestration"
	"github.com/Strob0t/CodeForge/internal/domain/reservation"
	"github.com/Strob0t/CodeForge/internal/domain/settings"
	"github.com/Strob0t/CodeForge/internal/domain/volume"
)

// --- PortReservations ---

func (s *Store) CreatePortReservation(ctx context.Context, sessionID string, port int, kind reservation.Kind) (*reservation.PortReservation, error) {
	r := reservation.PortReservation{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Port:       port,
		Kind:       kind,
		ReservedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO port_reservations (id, session_id, port, kind, reserved_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.SessionID, r.Port, r.Kind, r.ReservedAt, r.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create port reservation (%d, %s): %w", port, kind, err)
	}
	return &r, nil
}

func (s *Store) DeletePortReservation(ctx context.Context, port int, kind reservation.Kind) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM port_reservations WHERE port = $1 AND kind = $2`, port, kind)
	if err != nil {
		return fmt.Errorf("delete port reservation (%d, %s): %w", port, kind, err)
	}
	return nil
}

func (s *Store) ListPortReservations(ctx context.Context) ([]reservation.PortReservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, port, kind, reserved_at, expires_at
		FROM port_reservations ORDER BY port`)
	if err != nil {
		return nil, fmt.Errorf("list port reservations: %w", err)
	}
	defer rows.Close()

	var out []reservation.PortReservation
	for rows.Next() {
		var r reservation.PortReservation
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Port, &r.Kind, &r.ReservedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan port reservation: %w", err)
		}
		out = append(out, r)
	}
	return orEmpty(out), rows.Err()
}

// --- Volumes ---

// EnsureVolume upserts a volume row, bumping last_used_at on every call so
// repeated cluster-init runs against an already-provisioned volume keep its
// liveness marker fresh.
func (s *Store) EnsureVolume(ctx context.Context, name string, sessionID *string, kind volume.Kind) (*volume.Volume, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO volumes (name, session_id, kind, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE SET last_used_at = $4
		RETURNING name, session_id, kind, created_at, last_used_at`,
		name, sessionID, kind, now,
	)

	var v volume.Volume
	if err := row.Scan(&v.Name, &v.SessionID, &v.Kind, &v.CreatedAt, &v.LastUsedAt); err != nil {
		return nil, fmt.Errorf("ensure volume %s: %w", name, err)
	}
	return &v, nil
}

// OrphanSessionVolumes clears session_id on every volume owned by sessionID,
// leaving the rows (and the underlying Sandbox Provider volumes) in place
// per spec.md §4.5.4's "orphan, don't reclaim" destroy behavior.
func (s *Store) OrphanSessionVolumes(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE volumes SET session_id = NULL WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("orphan volumes for session %s: %w", sessionID, err)
	}
	return nil
}

// --- BrowserSessionState ---

func (s *Store) GetBrowserState(ctx context.Context, sessionID string) (*browser.State, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, desired, actual, stream_port, last_url, retry_count, error_message, last_heartbeat_at
		FROM browser_sessions WHERE session_id = $1`, sessionID)

	st, err := scanBrowserState(row)
	if err != nil {
		return nil, notFoundWrap(err, "get browser state %s", sessionID)
	}
	return &st, nil
}

func (s *Store) UpsertBrowserState(ctx context.Context, state browser.State) error {
	if state.LastHeartbeatAt.IsZero() {
		state.LastHeartbeatAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO browser_sessions (session_id, desired, actual, stream_port, last_url, retry_count, error_message, last_heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			desired = $2, actual = $3, stream_port = $4, last_url = $5,
			retry_count = $6, error_message = $7, last_heartbeat_at = $8`,
		state.SessionID, state.Desired, state.Actual, state.StreamPort, state.LastURL,
		state.RetryCount, state.ErrorMessage, state.LastHeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("upsert browser state %s: %w", state.SessionID, err)
	}
	return nil
}

func (s *Store) DeleteBrowserState(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM browser_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete browser state %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) ListBrowserStates(ctx context.Context) ([]browser.State, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, desired, actual, stream_port, last_url, retry_count, error_message, last_heartbeat_at
		FROM browser_sessions`)
	if err != nil {
		return nil, fmt.Errorf("list browser states: %w", err)
	}
	defer rows.Close()

	var out []browser.State
	for rows.Next() {
		st, err := scanBrowserState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan browser state: %w", err)
		}
		out = append(out, st)
	}
	return orEmpty(out), rows.Err()
}

func scanBrowserState(row scannable) (browser.State, error) {
	var st browser.State
	err := row.Scan(&st.SessionID, &st.Desired, &st.Actual, &st.StreamPort, &st.LastURL, &st.RetryCount, &st.ErrorMessage, &st.LastHeartbeatAt)
	if err != nil {
		return browser.State{}, err
	}
	return st, nil
}

// --- OrchestrationRequests ---

func (s *Store) CreateOrchestrationRequest(ctx context.Context, req orchestration.CreateRequest) (*orchestration.Request, error) {
	now := time.Now().UTC()
	r := orchestration.Request{
		ID:        uuid.NewString(),
		ChannelID: nullIfEmpty(req.ChannelID),
		Content:   req.Content,
		Status:    orchestration.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO orchestration_requests (id, channel_id, content, status, resolved_project_id, resolved_session_id, model_id, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.ChannelID, r.Content, r.Status, r.ResolvedProjectID, r.ResolvedSessionID, r.ModelID, r.ErrorMessage, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create orchestration request: %w", err)
	}
	return &r, nil
}

func (s *Store) UpdateOrchestrationRequest(ctx context.Context, req orchestration.Request) error {
	req.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE orchestration_requests SET
			status = $2, resolved_project_id = $3, resolved_session_id = $4,
			model_id = $5, error_message = $6, updated_at = $7
		WHERE id = $1`,
		req.ID, req.Status, req.ResolvedProjectID, req.ResolvedSessionID, req.ModelID, req.ErrorMessage, req.UpdatedAt,
	)
	return execExpectOne(tag, err, "update orchestration request %s", req.ID)
}

func (s *Store) GetOrchestrationRequest(ctx context.Context, id string) (*orchestration.Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, content, status, resolved_project_id, resolved_session_id, model_id, error_message, created_at, updated_at
		FROM orchestration_requests WHERE id = $1`, id)

	var r orchestration.Request
	err := row.Scan(&r.ID, &r.ChannelID, &r.Content, &r.Status, &r.ResolvedProjectID, &r.ResolvedSessionID, &r.ModelID, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get orchestration request %s", id)
	}
	return &r, nil
}

// --- GithubSettings (singleton, id=1) ---

func (s *Store) GetGithubSettings(ctx context.Context) (*settings.GithubSettings, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, oauth_client_id, token, updated_at FROM github_settings WHERE id = 1`)

	var g settings.GithubSettings
	err := row.Scan(&g.Name, &g.OAuthClientID, &g.Token, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &settings.GithubSettings{Configured: false}, nil
		}
		return nil, fmt.Errorf("get github settings: %w", err)
	}
	g.Configured = true
	return &g, nil
}

func (s *Store) PutGithubSettings(ctx context.Context, req settings.UpdateRequest) (*settings.GithubSettings, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO github_settings (id, name, oauth_client_id, token, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $1, oauth_client_id = $2, token = $3, updated_at = $4`,
		req.Name, req.OAuthClientID, req.Token, now,
	)
	if err != nil {
		return nil, fmt.Errorf("put github settings: %w", err)
	}
	return &settings.GithubSettings{
		Configured:    true,
		Name:          req.Name,
		OAuthClientID: req.OAuthClientID,
		Token:         req.Token,
		UpdatedAt:     now,
	}, nil
}

func (s *Store) DeleteGithubSettings(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM github_settings WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("delete github settings: %w", err)
	}
	return nil
}
