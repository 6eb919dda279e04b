package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// Memory is an in-memory EventStore for tests and local single-process
// runs, grounded on the teacher's sessions.MemoryStore (a guarded map plus
// an append-only per-key slice).
type Memory struct {
	mu     sync.RWMutex
	events []models.Event
	agents []models.AgentRecord
	nextID int64
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) AppendEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = m.nextID
	m.nextID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *Memory) EventsForSession(ctx context.Context, sessionID string) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Event
	for _, ev := range m.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) EventsForAgent(ctx context.Context, sessionID, agentID string) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Event
	for _, ev := range m.events {
		if ev.SessionID == sessionID && ev.AgentID == agentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) CreateAgent(ctx context.Context, rec models.AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.SessionID == rec.SessionID && a.AgentID == rec.AgentID {
			return fmt.Errorf("store: agent %s already exists in session %s", rec.AgentID, rec.SessionID)
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.agents = append(m.agents, rec)
	return nil
}

func (m *Memory) ListAgents(ctx context.Context, sessionID string) ([]models.AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AgentRecord
	for _, a := range m.agents {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sortAgentsByCreatedAt(out)
	return out, nil
}

func (m *Memory) MarkAgentDead(ctx context.Context, sessionID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if m.agents[i].SessionID == sessionID && m.agents[i].AgentID == agentID {
			m.agents[i].Dead = true
			return nil
		}
	}
	return fmt.Errorf("store: agent %s not found in session %s", agentID, sessionID)
}

func (m *Memory) Close() error { return nil }

var _ EventStore = (*Memory)(nil)
