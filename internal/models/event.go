package models

import (
	"encoding/json"
	"time"
)

// EventKind enumerates the log-entry kinds the core appends and consumes.
// See spec.md §3 for the full per-kind contract.
type EventKind string

const (
	EventUser        EventKind = "user"
	EventAssistant   EventKind = "assistant"
	EventToolCall    EventKind = "tool_call"
	EventToolResult  EventKind = "tool_result"
	EventMark        EventKind = "mark"
	EventRewind      EventKind = "rewind"
	EventClear       EventKind = "clear"
	EventCommand     EventKind = "command"
	EventFork        EventKind = "fork"
	EventInterrupted EventKind = "interrupted"
	EventSystem      EventKind = "system"
	EventUsage       EventKind = "usage"
)

// Event is one append-only log record. Data is kind-specific and
// JSON-shaped; the per-kind field sets are documented in spec.md §3 and
// reproduced as the Data*  helper structs below for ergonomic
// marshal/unmarshal without losing the "opaque JSON object" wire contract.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	AgentID   string          `json:"agent_id,omitempty"` // empty for session-wide events
	Kind      EventKind       `json:"kind"`
	Content   string          `json:"content,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DataToolCall is the Data payload of an EventToolCall.
type DataToolCall struct {
	ToolCallID       string          `json:"tool_call_id"`
	ToolName         string          `json:"tool_name"`
	ToolArgs         json.RawMessage `json:"tool_args"`
	Thinking         *DataThinking   `json:"thinking,omitempty"`
	RedactedThinking *DataRedacted   `json:"redacted_thinking,omitempty"`
}

// DataThinking is the nested thinking payload optionally attached to a
// tool_call event (spec.md §4.5 Thinking-block handling).
type DataThinking struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// DataRedacted is the nested redacted-thinking payload optionally attached
// to a tool_call event.
type DataRedacted struct {
	Data string `json:"data"`
}

// DataToolResult is the Data payload of an EventToolResult.
type DataToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Output     json.RawMessage `json:"output"`
	Success    bool            `json:"success"`
}

// DataMark is the Data payload of an EventMark.
type DataMark struct {
	Label string `json:"label,omitempty"`
}

// DataRewind is the Data payload of an EventRewind.
type DataRewind struct {
	TargetMessageID int64  `json:"target_message_id"`
	TargetLabel     string `json:"target_label,omitempty"`
}

// DataCommand is the Data payload of an EventCommand.
type DataCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// DataFork is the Data payload of an EventFork.
type DataFork struct {
	Role string `json:"role"` // "parent" | "child"
}

// DataUsage is the Data payload of an EventUsage.
type DataUsage struct {
	InputTokens    int `json:"input_tokens"`
	OutputTokens   int `json:"output_tokens"`
	ThinkingTokens int `json:"thinking_tokens"`
}
