// Package sqlstore is a durable store.Store backed by a single SQLite
// database file, for deployments that need the log to survive a restart.
// It mirrors internal/store.MemoryStore's semantics exactly (single-open-
// session invariant, append-only messages) over real tables instead of
// in-process maps.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo toolchain needed

	"github.com/riverrun/agentcp/internal/sessionstore"
	"github.com/riverrun/agentcp/internal/tasks"
	"github.com/riverrun/agentcp/pkg/models"
)

// Store is a SQLite-backed implementation of store.Store.
type Store struct {
	db    *sql.DB
	tasks *taskStore
}

// Open creates or attaches to a SQLite database at path and ensures the
// schema exists. path may be ":memory:" for ephemeral use in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	s := &Store{db: db, tasks: &taskStore{db: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			closed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_results TEXT,
			metadata TEXT,
			tokens INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS notables (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notables_session_created ON notables(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			tool_name TEXT NOT NULL,
			tool_call_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			result TEXT,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) OpenSession(ctx context.Context) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, status, summary, created_at, closed_at FROM sessions WHERE status = ? LIMIT 1`, models.SessionOpen)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

func (s *Store) CreateSession(ctx context.Context) (*models.Session, error) {
	existing, err := s.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, sessionstore.ErrSessionAlreadyOpen
	}

	session := &models.Session{
		ID:        uuid.NewString(),
		Status:    models.SessionOpen,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, summary, created_at, closed_at) VALUES (?, ?, '', ?, NULL)`,
		session.ID, session.Status, session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, summary = ?, closed_at = ? WHERE id = ?`,
		models.SessionClosed, summary, time.Now(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sessionstore.ErrSessionNotFound
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.SessionID = sessionID

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, tool_calls, tool_results, metadata, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, msg.Role, msg.Content, string(toolCalls), string(toolResults), string(metadata), msg.Tokens, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ReplaceMessages overwrites a session's entire message log, used by hard
// compaction's window reset. Unlike AppendMessage this does mutate history,
// which is why only the compaction path is allowed to call it.
func (s *Store) ReplaceMessages(ctx context.Context, sessionID string, msgs []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace messages: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("replace messages: clear: %w", err)
	}

	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		msg.SessionID = sessionID

		toolCalls, _ := json.Marshal(msg.ToolCalls)
		toolResults, _ := json.Marshal(msg.ToolResults)
		metadata, _ := json.Marshal(msg.Metadata)

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, tool_calls, tool_results, metadata, tokens, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, sessionID, msg.Role, msg.Content, string(toolCalls), string(toolResults), string(metadata), msg.Tokens, msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("replace messages: insert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `SELECT id, session_id, role, content, tool_calls, tool_results, metadata, tokens, created_at
	          FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` DESC LIMIT ?) ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	out := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("get history: scan: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) AddNotable(ctx context.Context, notable *models.Notable) error {
	if notable == nil {
		return nil
	}
	if notable.ID == "" {
		notable.ID = uuid.NewString()
	}
	if notable.CreatedAt.IsZero() {
		notable.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notables (id, session_id, kind, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		notable.ID, notable.SessionID, notable.Kind, notable.Content, notable.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add notable: %w", err)
	}
	return nil
}

func (s *Store) ListNotables(ctx context.Context, sessionID string) ([]*models.Notable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, content, created_at FROM notables WHERE session_id = ? ORDER BY created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notables: %w", err)
	}
	defer rows.Close()

	out := []*models.Notable{}
	for rows.Next() {
		n := &models.Notable{}
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Kind, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("list notables: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) Tasks() tasks.Store {
	return s.tasks
}

func (s *Store) GetKV(ctx context.Context, key string) (string, bool) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (s *Store) SetKV(ctx context.Context, key, value string) {
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
}

func scanSession(row *sql.Row) (*models.Session, error) {
	session := &models.Session{}
	var closedAt sql.NullTime
	if err := row.Scan(&session.ID, &session.Status, &session.Summary, &session.CreatedAt, &closedAt); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		session.ClosedAt = closedAt.Time
	}
	return session, nil
}

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	msg := &models.Message{}
	var toolCalls, toolResults, metadata string
	if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &toolCalls, &toolResults, &metadata, &msg.Tokens, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if toolCalls != "" && toolCalls != "null" {
		_ = json.Unmarshal([]byte(toolCalls), &msg.ToolCalls)
	}
	if toolResults != "" && toolResults != "null" {
		_ = json.Unmarshal([]byte(toolResults), &msg.ToolResults)
	}
	if metadata != "" && metadata != "null" {
		_ = json.Unmarshal([]byte(metadata), &msg.Metadata)
	}
	return msg, nil
}
