package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/CodeForge/internal/domain/container"
	"github.com/Strob0t/CodeForge/internal/domain/project"
	"github.com/Strob0t/CodeForge/internal/domain/session"
	"github.com/Strob0t/CodeForge/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, system_prompt, container_definitions, pool_size, created_at, updated_at
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, system_prompt, container_definitions, pool_size, created_at, updated_at
		FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	defsJSON, err := json.Marshal(req.ContainerDefinitions)
	if err != nil {
		return nil, fmt.Errorf("marshal container_definitions: %w", err)
	}

	now := time.Now().UTC()
	p := project.Project{
		ID:                   uuid.NewString(),
		Name:                 req.Name,
		SystemPrompt:         req.SystemPrompt,
		ContainerDefinitions: req.ContainerDefinitions,
		PoolSize:             req.PoolSize,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (id, name, system_prompt, container_definitions, pool_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.SystemPrompt, defsJSON, p.PoolSize, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete project %s", id)
}

func scanProject(row scannable) (project.Project, error) {
	var p project.Project
	var defsJSON []byte
	err := row.Scan(&p.ID, &p.Name, &p.SystemPrompt, &defsJSON, &p.PoolSize, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return project.Project{}, err
	}
	if len(defsJSON) > 0 {
		if err := json.Unmarshal(defsJSON, &p.ContainerDefinitions); err != nil {
			return project.Project{}, fmt.Errorf("unmarshal container_definitions: %w", err)
		}
	}
	return p, nil
}

// --- Sessions ---

func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, title, status, agent_session_id, created_at, updated_at
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) GetSession(ctx context.Context, id string) (*database.SessionWithContainers, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, title, status, agent_session_id, created_at, updated_at
		FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "get session %s", id)
	}

	containers, err := s.ListSessionContainers(ctx, id)
	if err != nil {
		return nil, err
	}

	return &database.SessionWithContainers{Session: sess, Containers: containers}, nil
}

func (s *Store) CreateSession(ctx context.Context, projectID, title string) (*session.Session, error) {
	now := time.Now().UTC()
	sess := session.Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Status:    session.StatusCreating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if title != "" {
		sess.Title = &title
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, project_id, title, status, agent_session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.ProjectID, sess.Title, sess.Status, sess.AgentSessionID, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET title = $2, updated_at = $3 WHERE id = $1`,
		id, title, time.Now().UTC(),
	)
	return execExpectOne(tag, err, "update session title %s", id)
}

func (s *Store) UpdateSessionAgentSessionID(ctx context.Context, id, agentSessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET agent_session_id = $2, updated_at = $3 WHERE id = $1`,
		id, agentSessionID, time.Now().UTC(),
	)
	return execExpectOne(tag, err, "update session agent_session_id %s", id)
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status session.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	return execExpectOne(tag, err, "update session status %s", id)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete session %s", id)
}

func scanSession(row scannable) (session.Session, error) {
	var sess session.Session
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Title, &sess.Status, &sess.AgentSessionID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// --- Pool ---

// ClaimPooledSession performs the oldest-pooled-session claim as a single
// UPDATE ... WHERE id = (SELECT ... FOR UPDATE SKIP LOCKED) statement so
// two concurrent claims for the same project never return the same row.
func (s *Store) ClaimPooledSession(ctx context.Context, projectID, title string) (*session.Session, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE sessions
		SET status = $3, title = $2, updated_at = $4
		WHERE id = (
			SELECT id FROM sessions
			WHERE project_id = $1 AND status = $5
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, project_id, title, status, agent_session_id, created_at, updated_at`,
		projectID, title, session.StatusRunning, time.Now().UTC(), session.StatusPooled,
	)

	sess, err := scanSession(row)
	if err != nil {
		return nil, notFoundWrap(err, "claim pooled session for project %s", projectID)
	}
	return &sess, nil
}

func (s *Store) CountPooledSessions(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM sessions WHERE project_id = $1 AND status = $2`,
		projectID, session.StatusPooled,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pooled sessions: %w", err)
	}
	return n, nil
}

// --- SessionContainers ---

func (s *Store) CreateSessionContainer(ctx context.Context, sessionID, containerID, hostname string) (*container.SessionContainer, error) {
	sc := container.SessionContainer{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ContainerID: containerID,
		Status:      container.StatusStarting,
		Hostname:    hostname,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_containers (id, session_id, container_id, runtime_id, status, hostname, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sc.ID, sc.SessionID, sc.ContainerID, sc.RuntimeID, sc.Status, sc.Hostname, sc.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("create session container: %w", err)
	}
	return &sc, nil
}

func (s *Store) ListSessionContainers(ctx context.Context, sessionID string) ([]container.SessionContainer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, container_id, runtime_id, status, hostname, error_message
		FROM session_containers WHERE session_id = $1 ORDER BY container_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session containers: %w", err)
	}
	defer rows.Close()

	var out []container.SessionContainer
	for rows.Next() {
		var sc container.SessionContainer
		if err := rows.Scan(&sc.ID, &sc.SessionID, &sc.ContainerID, &sc.RuntimeID, &sc.Status, &sc.Hostname, &sc.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan session container: %w", err)
		}
		out = append(out, sc)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) UpdateSessionContainerStatus(ctx context.Context, id string, status container.Status, errMsg *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session_containers SET status = $2, error_message = $3 WHERE id = $1`,
		id, status, errMsg,
	)
	return execExpectOne(tag, err, "update session container status %s", id)
}

func (s *Store) UpdateSessionContainerRuntimeID(ctx context.Context, id, runtimeID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session_containers SET runtime_id = $2 WHERE id = $1`,
		id, runtimeID,
	)
	return execExpectOne(tag, err, "update session container runtime_id %s", id)
}

func (s *Store) GetSessionContainerByRuntimeID(ctx context.Context, runtimeID string) (*container.SessionContainer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, container_id, runtime_id, status, hostname, error_message
		FROM session_containers WHERE runtime_id = $1`, runtimeID)

	var sc container.SessionContainer
	err := row.Scan(&sc.ID, &sc.SessionID, &sc.ContainerID, &sc.RuntimeID, &sc.Status, &sc.Hostname, &sc.ErrorMessage)
	if err != nil {
		return nil, notFoundWrap(err, "get session container by runtime id %s", runtimeID)
	}
	return &sc, nil
}

// --- ContainerPorts ---

// SetContainerPorts replaces the recorded port set for a session container,
// materializing it once the Sandbox Provider has assigned the container a
// runtime identity and the proxy router needs concrete host/container ports
// to build route tables from.
func (s *Store) SetContainerPorts(ctx context.Context, containerID string, ports []container.ContainerPort) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("set container ports: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM container_ports WHERE container_id = $1`, containerID); err != nil {
		return fmt.Errorf("set container ports: clear %s: %w", containerID, err)
	}

	for _, p := range ports {
		_, err := tx.Exec(ctx, `
			INSERT INTO container_ports (container_id, port, protocol) VALUES ($1, $2, $3)`,
			containerID, p.Port, p.Protocol,
		)
		if err != nil {
			return fmt.Errorf("set container ports: insert %s:%d: %w", containerID, p.Port, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("set container ports: commit: %w", err)
	}
	return nil
}

func (s *Store) ListContainerPorts(ctx context.Context, containerID string) ([]container.ContainerPort, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT container_id, port, protocol FROM container_ports WHERE container_id = $1 ORDER BY port`, containerID)
	if err != nil {
		return nil, fmt.Errorf("list container ports %s: %w", containerID, err)
	}
	defer rows.Close()

	var out []container.ContainerPort
	for rows.Next() {
		var p container.ContainerPort
		if err := rows.Scan(&p.ContainerID, &p.Port, &p.Protocol); err != nil {
			return nil, fmt.Errorf("scan container port: %w", err)
		}
		out = append(out, p)
	}
	return orEmpty(out), rows.Err()
}
