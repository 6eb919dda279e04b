package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// Postgres is an EventStore backed by PostgreSQL (or CockroachDB, which
// speaks the same wire protocol), grounded on the teacher's
// sessions.CockroachStore: a pooled *sql.DB plus prepared statements for
// every hot-path query.
type Postgres struct {
	db *sql.DB

	stmtAppend      *sql.Stmt
	stmtBySession   *sql.Stmt
	stmtByAgent     *sql.Stmt
	stmtCreateAgent *sql.Stmt
	stmtListAgents  *sql.Stmt
	stmtMarkDead    *sql.Stmt
}

// PostgresConfig configures the connection pool, mirroring
// sessions.CockroachConfig's field set.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane pool defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgres opens db, verifies connectivity, ensures the events table
// exists, and prepares its statements.
func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: postgres DSN is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	data JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS events_session_idx ON events (session_id, created_at);
CREATE INDEX IF NOT EXISTS events_agent_idx ON events (session_id, agent_id, created_at);
CREATE TABLE IF NOT EXISTS agents (
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	dead BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (session_id, agent_id)
);
`

func (p *Postgres) prepare() error {
	var err error
	p.stmtAppend, err = p.db.Prepare(`
		INSERT INTO events (session_id, agent_id, kind, content, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`)
	if err != nil {
		return fmt.Errorf("store: prepare append: %w", err)
	}
	p.stmtBySession, err = p.db.Prepare(`
		SELECT id, session_id, agent_id, kind, content, data, created_at
		FROM events WHERE session_id = $1 ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("store: prepare by-session: %w", err)
	}
	p.stmtByAgent, err = p.db.Prepare(`
		SELECT id, session_id, agent_id, kind, content, data, created_at
		FROM events WHERE session_id = $1 AND agent_id = $2 ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("store: prepare by-agent: %w", err)
	}
	p.stmtCreateAgent, err = p.db.Prepare(`
		INSERT INTO agents (session_id, agent_id, parent_id, created_at, dead)
		VALUES ($1, $2, $3, $4, false)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare create-agent: %w", err)
	}
	p.stmtListAgents, err = p.db.Prepare(`
		SELECT agent_id, parent_id, created_at, dead
		FROM agents WHERE session_id = $1 ORDER BY created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("store: prepare list-agents: %w", err)
	}
	p.stmtMarkDead, err = p.db.Prepare(`
		UPDATE agents SET dead = true WHERE session_id = $1 AND agent_id = $2
	`)
	if err != nil {
		return fmt.Errorf("store: prepare mark-dead: %w", err)
	}
	return nil
}

func (p *Postgres) CreateAgent(ctx context.Context, rec models.AgentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if _, err := p.stmtCreateAgent.ExecContext(ctx, rec.SessionID, rec.AgentID, rec.ParentID, rec.CreatedAt); err != nil {
		return fmt.Errorf("store: create agent: %w", err)
	}
	return nil
}

func (p *Postgres) ListAgents(ctx context.Context, sessionID string) ([]models.AgentRecord, error) {
	rows, err := p.stmtListAgents.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()
	var out []models.AgentRecord
	for rows.Next() {
		rec := models.AgentRecord{SessionID: sessionID}
		if err := rows.Scan(&rec.AgentID, &rec.ParentID, &rec.CreatedAt, &rec.Dead); err != nil {
			return nil, fmt.Errorf("store: scan agent: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkAgentDead(ctx context.Context, sessionID, agentID string) error {
	res, err := p.stmtMarkDead.ExecContext(ctx, sessionID, agentID)
	if err != nil {
		return fmt.Errorf("store: mark agent dead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: agent %s not found in session %s", agentID, sessionID)
	}
	return nil
}

func (p *Postgres) AppendEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	data := ev.Data
	if data == nil {
		data = json.RawMessage("null")
	}
	row := p.stmtAppend.QueryRowContext(ctx, ev.SessionID, ev.AgentID, string(ev.Kind), ev.Content, []byte(data), ev.CreatedAt)
	if err := row.Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return models.Event{}, fmt.Errorf("store: append event: %w", err)
	}
	return ev, nil
}

func (p *Postgres) EventsForSession(ctx context.Context, sessionID string) ([]models.Event, error) {
	rows, err := p.stmtBySession.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: query by session: %w", err)
	}
	return scanEvents(rows)
}

func (p *Postgres) EventsForAgent(ctx context.Context, sessionID, agentID string) ([]models.Event, error) {
	rows, err := p.stmtByAgent.QueryContext(ctx, sessionID, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: query by agent: %w", err)
	}
	return scanEvents(rows)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()
	var out []models.Event
	for rows.Next() {
		var ev models.Event
		var data []byte
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.AgentID, &ev.Kind, &ev.Content, &data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if len(data) > 0 && string(data) != "null" {
			ev.Data = json.RawMessage(data)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ EventStore = (*Postgres)(nil)
