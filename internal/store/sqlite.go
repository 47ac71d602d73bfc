// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/agent/key persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'idle',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_activity DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_owner_name
			ON sessions(owner, name);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

		CREATE TABLE IF NOT EXISTS auth_state (
			session_id TEXT PRIMARY KEY,
			blob BLOB NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			triggers TEXT NOT NULL DEFAULT '[]',
			knowledge TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_owner_name
			ON agents(owner, name);
		CREATE INDEX IF NOT EXISTS idx_agents_owner_active ON agents(owner, is_active);

		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			secret_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_used_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner);

		CREATE TABLE IF NOT EXISTS autoresponse_config (
			owner TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 1,
			keyword TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			peer TEXT NOT NULL,
			push_name TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_created
			ON messages(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// CreateSession inserts a new session row.
// If the owner already has a session with the same name, it returns
// ErrDuplicateSession.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, owner, name, phone, status, created_at, updated_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.Owner,
		session.Name,
		session.Phone,
		session.Status,
		fmtTime(session.CreatedAt),
		fmtTime(session.UpdatedAt),
		fmtTime(session.LastActivity),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "owner", session.Owner, "name", session.Name)
	return nil
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var createdAt, updatedAt, lastActivity string

	err := row.Scan(
		&sess.ID,
		&sess.Owner,
		&sess.Name,
		&sess.Phone,
		&sess.Status,
		&createdAt,
		&updatedAt,
		&lastActivity,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if sess.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parsing last_activity: %w", err)
	}

	return &sess, nil
}

const sessionColumns = `id, owner, name, phone, status, created_at, updated_at, last_activity`

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`
	return s.scanSession(s.db.QueryRowContext(ctx, query, id))
}

// GetSessionByName retrieves a session by its owner-scoped name.
func (s *SQLiteStore) GetSessionByName(ctx context.Context, owner, name string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE owner = ? AND name = ?`
	return s.scanSession(s.db.QueryRowContext(ctx, query, owner, name))
}

// ListSessions returns all sessions for an owner, oldest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, owner string) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE owner = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		var sess Session
		var createdAt, updatedAt, lastActivity string

		err := rows.Scan(
			&sess.ID,
			&sess.Owner,
			&sess.Name,
			&sess.Phone,
			&sess.Status,
			&createdAt,
			&updatedAt,
			&lastActivity,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if sess.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		if sess.LastActivity, err = parseTime(lastActivity); err != nil {
			return nil, fmt.Errorf("parsing last_activity: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// CountSessions returns the number of sessions an owner currently has.
func (s *SQLiteStore) CountSessions(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE owner = ?`, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return count, nil
}

// UpdateSessionStatus sets the session status and bumps updated_at.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return requireRow(result)
}

// SetSessionPhone records the linked phone number once the handshake completes.
func (s *SQLiteStore) SetSessionPhone(ctx context.Context, id, phone string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET phone = ?, updated_at = ? WHERE id = ?`,
		phone, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating session phone: %w", err)
	}
	return requireRow(result)
}

// TouchSession bumps the session's last_activity timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`,
		fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return requireRow(result)
}

// ListConnectedIdleSince returns connected sessions whose last activity is
// older than cutoff. Used by the inactivity sweep.
func (s *SQLiteStore) ListConnectedIdleSince(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = ? AND last_activity < ?`

	rows, err := s.db.QueryContext(ctx, query, StatusConnected, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying idle sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// DeleteSession removes a session and its dependent rows.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAuthState upserts the opaque credential blob for a session.
func (s *SQLiteStore) SaveAuthState(ctx context.Context, sessionID string, blob []byte) error {
	query := `
		INSERT INTO auth_state (session_id, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, sessionID, blob, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving auth state: %w", err)
	}
	return nil
}

// GetAuthState returns the credential blob for a session, or ErrNotFound.
func (s *SQLiteStore) GetAuthState(ctx context.Context, sessionID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM auth_state WHERE session_id = ?`, sessionID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying auth state: %w", err)
	}
	return blob, nil
}

// DeleteAuthState removes a session's credential blob. Deleting a blob that
// doesn't exist is not an error.
func (s *SQLiteStore) DeleteAuthState(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_state WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting auth state: %w", err)
	}
	return nil
}

// CreateAgent inserts a new agent row.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	triggers, err := json.Marshal(agent.Triggers)
	if err != nil {
		return fmt.Errorf("encoding triggers: %w", err)
	}
	knowledge, err := json.Marshal(agent.Knowledge)
	if err != nil {
		return fmt.Errorf("encoding knowledge: %w", err)
	}

	query := `
		INSERT INTO agents (id, owner, name, prompt, triggers, knowledge, is_active, usage_count, last_used_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Owner,
		agent.Name,
		agent.Prompt,
		string(triggers),
		string(knowledge),
		agent.IsActive,
		agent.UsageCount,
		nullableTime(agent.LastUsedAt),
		fmtTime(agent.CreatedAt),
		fmtTime(agent.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "owner", agent.Owner, "name", agent.Name)
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

const agentColumns = `id, owner, name, prompt, triggers, knowledge, is_active, usage_count, last_used_at, created_at, updated_at`

func scanAgent(scan func(dest ...any) error) (*Agent, error) {
	var agent Agent
	var triggers, knowledge, createdAt, updatedAt string
	var lastUsedAt sql.NullString

	err := scan(
		&agent.ID,
		&agent.Owner,
		&agent.Name,
		&agent.Prompt,
		&triggers,
		&knowledge,
		&agent.IsActive,
		&agent.UsageCount,
		&lastUsedAt,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	if err := json.Unmarshal([]byte(triggers), &agent.Triggers); err != nil {
		return nil, fmt.Errorf("decoding triggers: %w", err)
	}
	if err := json.Unmarshal([]byte(knowledge), &agent.Knowledge); err != nil {
		return nil, fmt.Errorf("decoding knowledge: %w", err)
	}
	if lastUsedAt.Valid {
		t, err := parseTime(lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		agent.LastUsedAt = &t
	}
	if agent.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if agent.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &agent, nil
}

// GetAgent retrieves an agent by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`
	return scanAgent(s.db.QueryRowContext(ctx, query, id).Scan)
}

// ListAgents returns all agents for an owner, oldest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, owner string) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE owner = ? ORDER BY created_at ASC`
	return s.queryAgents(ctx, query, owner)
}

// ListActiveAgents returns only the active agents for an owner, oldest first.
// The ordering matters: trigger matching walks agents in creation order.
func (s *SQLiteStore) ListActiveAgents(ctx context.Context, owner string) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE owner = ? AND is_active = 1 ORDER BY created_at ASC`
	return s.queryAgents(ctx, query, owner)
}

func (s *SQLiteStore) queryAgents(ctx context.Context, query string, args ...any) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpdateAgent rewrites the mutable fields of an agent.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	triggers, err := json.Marshal(agent.Triggers)
	if err != nil {
		return fmt.Errorf("encoding triggers: %w", err)
	}
	knowledge, err := json.Marshal(agent.Knowledge)
	if err != nil {
		return fmt.Errorf("encoding knowledge: %w", err)
	}

	query := `
		UPDATE agents
		SET name = ?, prompt = ?, triggers = ?, knowledge = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		agent.Name,
		agent.Prompt,
		string(triggers),
		string(knowledge),
		agent.IsActive,
		fmtTime(time.Now()),
		agent.ID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("updating agent: %w", err)
	}
	return requireRow(result)
}

// DeleteAgent removes an agent.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return requireRow(result)
}

// RecordAgentUse increments the agent's usage counter and stamps last_used_at.
func (s *SQLiteStore) RecordAgentUse(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`,
		fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("recording agent use: %w", err)
	}
	return requireRow(result)
}

// CreateAPIKey inserts a new API key row. Only the bcrypt hash is stored.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	query := `
		INSERT INTO api_keys (id, owner, name, secret_hash, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		key.ID,
		key.Owner,
		key.Name,
		key.SecretHash,
		fmtTime(key.CreatedAt),
		nullableTime(key.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

func scanAPIKey(scan func(dest ...any) error) (*APIKey, error) {
	var key APIKey
	var createdAt string
	var lastUsedAt sql.NullString

	err := scan(
		&key.ID,
		&key.Owner,
		&key.Name,
		&key.SecretHash,
		&createdAt,
		&lastUsedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	if key.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastUsedAt.Valid {
		t, err := parseTime(lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_used_at: %w", err)
		}
		key.LastUsedAt = &t
	}
	return &key, nil
}

// GetAPIKey retrieves an API key by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	query := `SELECT id, owner, name, secret_hash, created_at, last_used_at FROM api_keys WHERE id = ?`
	return scanAPIKey(s.db.QueryRowContext(ctx, query, id).Scan)
}

// ListAPIKeys returns all API keys for an owner, oldest first.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context, owner string) ([]*APIKey, error) {
	query := `SELECT id, owner, name, secret_hash, created_at, last_used_at FROM api_keys WHERE owner = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes an API key.
func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return requireRow(result)
}

// TouchAPIKey stamps last_used_at on a key. Best effort on the auth path.
func (s *SQLiteStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

// GetAutoResponse returns an owner's auto-response config, or ErrNotFound
// when the owner never saved one.
func (s *SQLiteStore) GetAutoResponse(ctx context.Context, owner string) (*AutoResponseConfig, error) {
	var cfg AutoResponseConfig
	var updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT owner, enabled, keyword, prompt, updated_at FROM autoresponse_config WHERE owner = ?`,
		owner).Scan(&cfg.Owner, &cfg.Enabled, &cfg.Keyword, &cfg.Prompt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying autoresponse config: %w", err)
	}

	if cfg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &cfg, nil
}

// PutAutoResponse upserts an owner's auto-response config.
func (s *SQLiteStore) PutAutoResponse(ctx context.Context, cfg *AutoResponseConfig) error {
	query := `
		INSERT INTO autoresponse_config (owner, enabled, keyword, prompt, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			enabled = excluded.enabled,
			keyword = excluded.keyword,
			prompt = excluded.prompt,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		cfg.Owner, cfg.Enabled, cfg.Keyword, cfg.Prompt, fmtTime(cfg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving autoresponse config: %w", err)
	}
	return nil
}

// SaveMessage appends a message history row.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *MessageRecord) error {
	query := `
		INSERT INTO messages (id, session_id, direction, peer, push_name, body, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.Direction,
		msg.Peer,
		msg.PushName,
		msg.Body,
		msg.Kind,
		fmtTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns the most recent messages for a session, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, direction, peer, push_name, body, kind, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*MessageRecord
	for rows.Next() {
		var msg MessageRecord
		var createdAt string
		err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Direction,
			&msg.Peer,
			&msg.PushName,
			&msg.Body,
			&msg.Kind,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
