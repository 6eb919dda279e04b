package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

func testEvent(sessionID, agentID, kind, content string, data json.RawMessage) models.Event {
	return models.Event{
		SessionID: sessionID,
		AgentID:   agentID,
		Kind:      models.EventKind(kind),
		Content:   content,
		Data:      data,
	}
}

// agentSeq lets callers of testAgentRecord hand out strictly increasing
// timestamps so ListAgents' created_at ordering is deterministic in tests
// even when a backend's clock resolution is coarser than the test run.
var agentSeq int64

func testAgentRecord(sessionID, agentID, parentID string) models.AgentRecord {
	agentSeq++
	return models.AgentRecord{
		SessionID: sessionID,
		AgentID:   agentID,
		ParentID:  parentID,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(agentSeq) * time.Second),
	}
}

func TestMemoryAppendAssignsIDAndTimestamp(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.AppendEvent(ctx, testEvent("s1", "a1", "user", "hi", nil))
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	second, err := m.AppendEvent(ctx, testEvent("s1", "a1", "assistant", "hello", nil))
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected distinct sequential ids")
	}
	if first.CreatedAt.IsZero() || second.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be defaulted")
	}
}

func TestMemoryScopesBySessionAndAgent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	mustAppend := func(sessionID, agentID, kind string) {
		if _, err := m.AppendEvent(ctx, testEvent(sessionID, agentID, kind, "", nil)); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	mustAppend("s1", "a1", "user")
	mustAppend("s1", "a2", "user")
	mustAppend("s2", "a1", "user")

	bySession, err := m.EventsForSession(ctx, "s1")
	if err != nil {
		t.Fatalf("EventsForSession: %v", err)
	}
	if len(bySession) != 2 {
		t.Fatalf("expected 2 events in session s1, got %d", len(bySession))
	}

	byAgent, err := m.EventsForAgent(ctx, "s1", "a1")
	if err != nil {
		t.Fatalf("EventsForAgent: %v", err)
	}
	if len(byAgent) != 1 {
		t.Fatalf("expected 1 event for s1/a1, got %d", len(byAgent))
	}
}

func TestMemoryClose(t *testing.T) {
	if err := NewMemory().Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMemoryAgentBookkeeping(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.CreateAgent(ctx, testAgentRecord("s1", "root", "")); err != nil {
		t.Fatalf("CreateAgent root: %v", err)
	}
	if err := m.CreateAgent(ctx, testAgentRecord("s1", "child", "root")); err != nil {
		t.Fatalf("CreateAgent child: %v", err)
	}
	if err := m.CreateAgent(ctx, testAgentRecord("s1", "root", "")); err == nil {
		t.Fatal("expected error creating a duplicate agent id")
	}

	agents, err := m.ListAgents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 || agents[0].AgentID != "root" || agents[1].AgentID != "child" {
		t.Fatalf("expected [root child] ordered by created_at, got %+v", agents)
	}

	if err := m.MarkAgentDead(ctx, "s1", "child"); err != nil {
		t.Fatalf("MarkAgentDead: %v", err)
	}
	agents, _ = m.ListAgents(ctx, "s1")
	if !agents[1].Dead {
		t.Fatalf("expected child dead, got %+v", agents[1])
	}

	if err := m.MarkAgentDead(ctx, "s1", "ghost"); err == nil {
		t.Fatal("expected error marking an unknown agent dead")
	}
}
