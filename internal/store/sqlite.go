package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// SQLite is an EventStore backed by a local SQLite file (or ":memory:"),
// for single-user installs and the test suite. It mirrors Postgres's
// shape but uses modernc.org/sqlite's pure-Go driver and '?' placeholders.
type SQLite struct {
	db *sql.DB

	stmtAppend      *sql.Stmt
	stmtBySession   *sql.Stmt
	stmtByAgent     *sql.Stmt
	stmtCreateAgent *sql.Stmt
	stmtListAgents  *sql.Stmt
	stmtMarkDead    *sql.Stmt
}

// NewSQLite opens path (use ":memory:" for an ephemeral store), ensures
// the events table exists, and prepares its statements.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// The events table is append-mostly and single-writer per process;
	// one connection avoids SQLITE_BUSY from concurrent writers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	data TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS events_session_idx ON events (session_id, created_at);
CREATE INDEX IF NOT EXISTS events_agent_idx ON events (session_id, agent_id, created_at);
CREATE TABLE IF NOT EXISTS agents (
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	dead INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, agent_id)
);
`

func (s *SQLite) prepare() error {
	var err error
	s.stmtAppend, err = s.db.Prepare(`
		INSERT INTO events (session_id, agent_id, kind, content, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare append: %w", err)
	}
	s.stmtBySession, err = s.db.Prepare(`
		SELECT id, session_id, agent_id, kind, content, data, created_at
		FROM events WHERE session_id = ? ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("store: prepare by-session: %w", err)
	}
	s.stmtByAgent, err = s.db.Prepare(`
		SELECT id, session_id, agent_id, kind, content, data, created_at
		FROM events WHERE session_id = ? AND agent_id = ? ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("store: prepare by-agent: %w", err)
	}
	s.stmtCreateAgent, err = s.db.Prepare(`
		INSERT INTO agents (session_id, agent_id, parent_id, created_at, dead)
		VALUES (?, ?, ?, ?, 0)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare create-agent: %w", err)
	}
	s.stmtListAgents, err = s.db.Prepare(`
		SELECT agent_id, parent_id, created_at, dead
		FROM agents WHERE session_id = ? ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("store: prepare list-agents: %w", err)
	}
	s.stmtMarkDead, err = s.db.Prepare(`
		UPDATE agents SET dead = 1 WHERE session_id = ? AND agent_id = ?
	`)
	if err != nil {
		return fmt.Errorf("store: prepare mark-dead: %w", err)
	}
	return nil
}

func (s *SQLite) CreateAgent(ctx context.Context, rec models.AgentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.stmtCreateAgent.ExecContext(ctx, rec.SessionID, rec.AgentID, rec.ParentID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create agent: %w", err)
	}
	return nil
}

func (s *SQLite) ListAgents(ctx context.Context, sessionID string) ([]models.AgentRecord, error) {
	rows, err := s.stmtListAgents.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()
	var out []models.AgentRecord
	for rows.Next() {
		var rec models.AgentRecord
		var createdAt string
		var dead int
		if err := rows.Scan(&rec.AgentID, &rec.ParentID, &createdAt, &dead); err != nil {
			return nil, fmt.Errorf("store: scan agent: %w", err)
		}
		ts, err := parseSQLiteTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse agent created_at: %w", err)
		}
		rec.SessionID = sessionID
		rec.CreatedAt = ts
		rec.Dead = dead != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkAgentDead(ctx context.Context, sessionID, agentID string) error {
	res, err := s.stmtMarkDead.ExecContext(ctx, sessionID, agentID)
	if err != nil {
		return fmt.Errorf("store: mark agent dead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: agent %s not found in session %s", agentID, sessionID)
	}
	return nil
}

func (s *SQLite) AppendEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	data := ev.Data
	if data == nil {
		data = json.RawMessage("null")
	}
	res, err := s.stmtAppend.ExecContext(ctx, ev.SessionID, ev.AgentID, string(ev.Kind), ev.Content, string(data), ev.CreatedAt)
	if err != nil {
		return models.Event{}, fmt.Errorf("store: append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Event{}, fmt.Errorf("store: read inserted id: %w", err)
	}
	ev.ID = id
	return ev, nil
}

func (s *SQLite) EventsForSession(ctx context.Context, sessionID string) ([]models.Event, error) {
	rows, err := s.stmtBySession.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: query by session: %w", err)
	}
	return scanSQLiteEvents(rows)
}

func (s *SQLite) EventsForAgent(ctx context.Context, sessionID, agentID string) ([]models.Event, error) {
	rows, err := s.stmtByAgent.QueryContext(ctx, sessionID, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: query by agent: %w", err)
	}
	return scanSQLiteEvents(rows)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// scanSQLiteEvents scans created_at as text: modernc.org/sqlite round-trips
// DATETIME columns as strings rather than time.Time, unlike lib/pq.
func scanSQLiteEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var data sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.AgentID, &ev.Kind, &ev.Content, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if data.Valid && data.String != "" && data.String != "null" {
			ev.Data = json.RawMessage(data.String)
		}
		ts, err := parseSQLiteTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse created_at: %w", err)
		}
		ev.CreatedAt = ts
		out = append(out, ev)
	}
	return out, rows.Err()
}

func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

var _ EventStore = (*SQLite)(nil)
