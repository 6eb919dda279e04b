package replay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

func at(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, n, 0, time.UTC)
}

func TestAgentReplaysSimpleTurn(t *testing.T) {
	events := []models.Event{
		{ID: 1, Kind: models.EventUser, Content: "hi", CreatedAt: at(1)},
		{ID: 2, Kind: models.EventAssistant, Content: "hello", CreatedAt: at(2)},
	}
	r, err := Agent(events)
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if len(r.Conversation) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(r.Conversation))
	}
	if r.Conversation[0].Role != models.RoleUser || r.Conversation[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", r.Conversation)
	}
	if r.Scrollback.Len() == 0 {
		t.Fatal("expected rendered scrollback lines")
	}
}

func TestAgentSortsByCreatedAt(t *testing.T) {
	events := []models.Event{
		{ID: 2, Kind: models.EventAssistant, Content: "second", CreatedAt: at(2)},
		{ID: 1, Kind: models.EventUser, Content: "first", CreatedAt: at(1)},
	}
	r, err := Agent(events)
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if r.Conversation[0].Text() != "first" {
		t.Fatalf("expected events reordered by created_at, got %+v", r.Conversation)
	}
}

func TestAgentClearDropsConversationNotMarks(t *testing.T) {
	markData, _ := json.Marshal(models.DataMark{Label: "cp"})
	events := []models.Event{
		{ID: 1, Kind: models.EventUser, Content: "hi", CreatedAt: at(1)},
		{ID: 2, Kind: models.EventMark, Data: markData, CreatedAt: at(2)},
		{ID: 3, Kind: models.EventClear, CreatedAt: at(3)},
		{ID: 4, Kind: models.EventUser, Content: "after clear", CreatedAt: at(4)},
	}
	r, err := Agent(events)
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if len(r.Conversation) != 1 || r.Conversation[0].Text() != "after clear" {
		t.Fatalf("expected conversation reset by clear, got %+v", r.Conversation)
	}
	if len(r.Marks) != 1 {
		t.Fatalf("expected marks to survive a clear, got %d", len(r.Marks))
	}
}

func TestAgentToolCallIncludesThinkingBlocks(t *testing.T) {
	data, _ := json.Marshal(models.DataToolCall{
		ToolCallID: "call-1",
		ToolName:   "echo",
		ToolArgs:   json.RawMessage(`{}`),
		Thinking:   &models.DataThinking{Text: "pondering"},
	})
	events := []models.Event{
		{ID: 1, Kind: models.EventToolCall, Data: data, CreatedAt: at(1)},
	}
	r, err := Agent(events)
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if len(r.Conversation) != 1 {
		t.Fatalf("expected 1 message, got %d", len(r.Conversation))
	}
	blocks := r.Conversation[0].Blocks
	if len(blocks) != 2 {
		t.Fatalf("expected [thinking, tool_call] blocks, got %d", len(blocks))
	}
	if blocks[0].Kind != models.BlockThinking || blocks[1].Kind != models.BlockToolCall {
		t.Fatalf("unexpected block kinds: %+v", blocks)
	}
}

func TestAgentToolResult(t *testing.T) {
	data, _ := json.Marshal(models.DataToolResult{ToolCallID: "call-1", Output: json.RawMessage(`{"ok":true}`), Success: true})
	events := []models.Event{
		{ID: 1, Kind: models.EventToolResult, Content: "ok", Data: data, CreatedAt: at(1)},
	}
	r, err := Agent(events)
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if len(r.Conversation) != 1 || r.Conversation[0].Role != models.RoleTool {
		t.Fatalf("expected one tool message, got %+v", r.Conversation)
	}
}

func TestAgentRewindTruncatesAndKeepsTargetMark(t *testing.T) {
	mark1, _ := json.Marshal(models.DataMark{Label: "checkpoint"})
	rewindData, _ := json.Marshal(models.DataRewind{TargetMessageID: 2})
	events := []models.Event{
		{ID: 1, Kind: models.EventUser, Content: "first", CreatedAt: at(1)},
		{ID: 2, Kind: models.EventMark, Data: mark1, CreatedAt: at(2)},
		{ID: 3, Kind: models.EventAssistant, Content: "reply", CreatedAt: at(3)},
		{ID: 4, Kind: models.EventUser, Content: "second", CreatedAt: at(4)},
		{ID: 5, Kind: models.EventRewind, Data: rewindData, CreatedAt: at(5)},
	}
	r, err := Agent(events)
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if len(r.Conversation) != 1 {
		t.Fatalf("expected conversation truncated to 1 message, got %d", len(r.Conversation))
	}
	if len(r.Marks) != 1 {
		t.Fatalf("expected the target mark to survive, got %d", len(r.Marks))
	}
}

func TestAgentRewindUnknownTargetFails(t *testing.T) {
	rewindData, _ := json.Marshal(models.DataRewind{TargetMessageID: 999})
	events := []models.Event{
		{ID: 1, Kind: models.EventRewind, Data: rewindData, CreatedAt: at(1)},
	}
	if _, err := Agent(events); err == nil {
		t.Fatal("expected an error for an unknown rewind target")
	}
}

func TestAgentInterruptedMarksLastUserTurn(t *testing.T) {
	events := []models.Event{
		{ID: 1, Kind: models.EventUser, Content: "first", CreatedAt: at(1)},
		{ID: 2, Kind: models.EventAssistant, Content: "reply", CreatedAt: at(2)},
		{ID: 3, Kind: models.EventUser, Content: "second", CreatedAt: at(3)},
		{ID: 4, Kind: models.EventInterrupted, CreatedAt: at(4)},
	}
	r, err := Agent(events)
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if r.Conversation[0].Interrupted {
		t.Fatal("the first turn should not be marked interrupted")
	}
	if !r.Conversation[2].Interrupted {
		t.Fatal("expected the most recent user turn marked interrupted")
	}
}

func TestAgentUnknownKindFails(t *testing.T) {
	events := []models.Event{{ID: 1, Kind: models.EventKind("bogus"), CreatedAt: at(1)}}
	if _, err := Agent(events); err == nil {
		t.Fatal("expected an error for an unrecognized event kind")
	}
}

func TestBootstrapIfEmptySynthesizesClearAndPin(t *testing.T) {
	events := BootstrapIfEmpty(nil, "session-1", "root", "/etc/ikigai/system.md")
	if len(events) != 2 {
		t.Fatalf("expected 2 synthetic events, got %d", len(events))
	}
	if events[0].Kind != models.EventClear || events[1].Kind != models.EventCommand {
		t.Fatalf("unexpected synthetic event kinds: %v, %v", events[0].Kind, events[1].Kind)
	}
}

func TestBootstrapIfEmptyLeavesExistingEventsAlone(t *testing.T) {
	original := []models.Event{{ID: 1, Kind: models.EventUser, CreatedAt: at(1)}}
	events := BootstrapIfEmpty(original, "session-1", "root", "/etc/ikigai/system.md")
	if len(events) != 1 {
		t.Fatalf("expected the existing event slice untouched, got %d events", len(events))
	}
}
