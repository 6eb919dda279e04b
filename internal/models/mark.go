package models

import "time"

// Mark is a labeled or unlabeled checkpoint into an agent's conversation.
// MessageIndex is the conversation length at the moment the mark was
// created (or, after a rewind, the exact truncation point it still names).
type Mark struct {
	// EventID is the event-log row ID of the originating EventMark, used by
	// rewind events to name their target (spec.md §3 invariant 4).
	EventID      int64
	MessageIndex int
	Label        string // empty for unlabeled marks
	Timestamp    time.Time
}

// AgentRecord is the session-wide bookkeeping row for one agent: its
// parentage and liveness, independent of the event log an agent's
// conversation is replayed from (spec.md §3 Lifecycle, §6 "list agents").
type AgentRecord struct {
	AgentID   string
	SessionID string
	ParentID  string // empty for the root agent
	CreatedAt time.Time
	Dead      bool
}
