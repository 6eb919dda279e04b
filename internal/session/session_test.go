package session

import (
	"context"
	"testing"

	"github.com/mgreenly/ikigai-sub009/internal/agentfsm"
	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/provider"
	"github.com/mgreenly/ikigai-sub009/internal/store"
	"github.com/mgreenly/ikigai-sub009/internal/tools"
)

func testDispatcher() *tools.Dispatcher {
	return tools.NewDispatcher(tools.NewRegistry(), tools.NewExternalRunner())
}

func testAdapterFactory() AdapterFactory {
	return func(string) provider.Adapter {
		return provider.NewScripted(nil, models.Completion{})
	}
}

func TestBootstrapFreshCreatesRootWithBootstrapEvents(t *testing.T) {
	es := store.NewMemory()
	m := New("sess-1", "/data/system/prompt.md", es, testDispatcher(), testAdapterFactory(), agentfsm.DefaultConfig(), nil)

	restored, err := m.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if restored.RootID == "" {
		t.Fatal("expected a root agent id")
	}
	root, ok := restored.Agents[restored.RootID]
	if !ok {
		t.Fatal("expected root agent in the restored map")
	}
	if len(root.Conversation) != 0 {
		t.Fatalf("expected fresh bootstrap to have an empty conversation, got %d messages", len(root.Conversation))
	}

	events, err := es.EventsForAgent(context.Background(), "sess-1", restored.RootID)
	if err != nil {
		t.Fatalf("EventsForAgent: %v", err)
	}
	if len(events) != 2 || events[0].Kind != models.EventClear || events[1].Kind != models.EventCommand {
		t.Fatalf("expected [clear command] bootstrap events, got %+v", events)
	}
}

func TestBootstrapRestoresExistingAgentsInOrder(t *testing.T) {
	es := store.NewMemory()
	ctx := context.Background()

	m := New("sess-1", "/data/system/prompt.md", es, testDispatcher(), testAdapterFactory(), agentfsm.DefaultConfig(), nil)
	first, err := m.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	root := first.Agents[first.RootID]
	if err := root.SubmitUserLine(ctx, "hello"); err != nil {
		t.Fatalf("SubmitUserLine: %v", err)
	}

	second, err := m.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if second.RootID != first.RootID {
		t.Fatalf("expected stable root id across restores, got %s vs %s", first.RootID, second.RootID)
	}
	restoredRoot, ok := second.Agents[second.RootID]
	if !ok {
		t.Fatal("expected restored root agent")
	}
	if len(restoredRoot.Conversation) != 1 {
		t.Fatalf("expected 1 message restored, got %d", len(restoredRoot.Conversation))
	}
}

func TestBootstrapMarksFailedReplayAgentDead(t *testing.T) {
	es := store.NewMemory()
	ctx := context.Background()

	if err := es.CreateAgent(ctx, models.AgentRecord{SessionID: "sess-1", AgentID: "broken"}); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if _, err := es.AppendEvent(ctx, models.Event{SessionID: "sess-1", AgentID: "broken", Kind: models.EventKind("not_a_real_kind")}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	m := New("sess-1", "/data/system/prompt.md", es, testDispatcher(), testAdapterFactory(), agentfsm.DefaultConfig(), nil)
	restored, err := m.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if _, ok := restored.Agents["broken"]; ok {
		t.Fatal("expected the broken agent to be excluded from the restored set")
	}

	agents, err := es.ListAgents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 || !agents[0].Dead {
		t.Fatalf("expected the broken agent to be marked dead, got %+v", agents)
	}
}

func TestForkInheritsConversationAndRecordsBothSides(t *testing.T) {
	es := store.NewMemory()
	ctx := context.Background()

	m := New("sess-1", "/data/system/prompt.md", es, testDispatcher(), testAdapterFactory(), agentfsm.DefaultConfig(), nil)
	restored, err := m.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	parent := restored.Agents[restored.RootID]
	if err := parent.SubmitUserLine(ctx, "hello"); err != nil {
		t.Fatalf("SubmitUserLine: %v", err)
	}

	child, err := m.Fork(ctx, parent, "continue from here")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.ParentID != parent.ID {
		t.Fatalf("expected child.ParentID == parent.ID, got %s", child.ParentID)
	}
	if len(child.Conversation) != len(parent.Conversation) {
		t.Fatalf("expected child to inherit %d messages, got %d", len(parent.Conversation), len(child.Conversation))
	}
	prompt, ok := child.TakePendingPrompt()
	if !ok || prompt != "continue from here" {
		t.Fatalf("expected pending prompt to be set, got %q ok=%v", prompt, ok)
	}

	parentEvents, err := es.EventsForAgent(ctx, "sess-1", parent.ID)
	if err != nil {
		t.Fatalf("EventsForAgent parent: %v", err)
	}
	if parentEvents[len(parentEvents)-1].Kind != models.EventFork {
		t.Fatalf("expected parent's last event to be a fork event, got %s", parentEvents[len(parentEvents)-1].Kind)
	}

	childEvents, err := es.EventsForAgent(ctx, "sess-1", child.ID)
	if err != nil {
		t.Fatalf("EventsForAgent child: %v", err)
	}
	if len(childEvents) != 1 || childEvents[0].Kind != models.EventFork {
		t.Fatalf("expected exactly one fork event for the child, got %+v", childEvents)
	}

	agents, err := es.ListAgents(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agent records, got %d", len(agents))
	}
}

func TestForkRejectsNilParent(t *testing.T) {
	es := store.NewMemory()
	m := New("sess-1", "/data/system/prompt.md", es, testDispatcher(), testAdapterFactory(), agentfsm.DefaultConfig(), nil)
	if _, err := m.Fork(context.Background(), nil, ""); err == nil {
		t.Fatal("expected an error forking from a nil parent")
	}
}
