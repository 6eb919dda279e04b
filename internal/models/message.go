// Package models holds the wire and in-memory data types shared across the
// agent runtime: messages, content blocks, marks, and event-log records.
package models

import "encoding/json"

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlock is the sum type of everything a Message can carry. Exactly
// one of the typed fields is meaningful for a given Kind; the rest are
// zero. A slice type would let invalid combinations type-check, so instead
// each constructor below returns a ContentBlock with Kind set correctly.
type ContentBlockKind string

const (
	BlockText             ContentBlockKind = "text"
	BlockThinking         ContentBlockKind = "thinking"
	BlockRedactedThinking ContentBlockKind = "redacted_thinking"
	BlockToolCall         ContentBlockKind = "tool_call"
	BlockToolResult       ContentBlockKind = "tool_result"
)

// ContentBlock is one block of a Message's content.
type ContentBlock struct {
	Kind ContentBlockKind

	// BlockText
	Text string

	// BlockThinking
	ThinkingText      string
	ThinkingSignature string // optional, empty when absent

	// BlockRedactedThinking
	RedactedBlob string

	// BlockToolCall
	ToolCallID       string
	ToolName         string
	ToolArgumentsRaw json.RawMessage
	ThoughtSignature string // optional

	// BlockToolResult
	ToolResultCallID string
	ToolResultJSON   json.RawMessage
}

// TextBlock builds a BlockText content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ThinkingBlock builds a BlockThinking content block.
func ThinkingBlock(text, signature string) ContentBlock {
	return ContentBlock{Kind: BlockThinking, ThinkingText: text, ThinkingSignature: signature}
}

// RedactedThinkingBlock builds a BlockRedactedThinking content block.
func RedactedThinkingBlock(blob string) ContentBlock {
	return ContentBlock{Kind: BlockRedactedThinking, RedactedBlob: blob}
}

// ToolCallBlock builds a BlockToolCall content block.
func ToolCallBlock(id, name string, args json.RawMessage, thoughtSig string) ContentBlock {
	return ContentBlock{Kind: BlockToolCall, ToolCallID: id, ToolName: name, ToolArgumentsRaw: args, ThoughtSignature: thoughtSig}
}

// ToolResultBlock builds a BlockToolResult content block.
func ToolResultBlock(callID string, result json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResultCallID: callID, ToolResultJSON: result}
}

// Message is one turn's worth of content from a single Role.
//
// Interrupted starts false and may flip to true exactly once, when the
// turn it belongs to is interrupted (spec.md §3 Lifecycle).
type Message struct {
	Role        Role
	Blocks      []ContentBlock
	Interrupted bool
}

// FirstToolCall returns the message's first BlockToolCall, if any. Only the
// first tool call in a response is consumed by the core (spec.md §4.4).
func (m *Message) FirstToolCall() (ContentBlock, bool) {
	for _, b := range m.Blocks {
		if b.Kind == BlockToolCall {
			return b, true
		}
	}
	return ContentBlock{}, false
}

// Text concatenates every BlockText in the message, which is how the event
// renderer and replay engine recover a plain-text rendering of a message
// built purely from Text blocks (user/assistant turns without tool calls).
func (m *Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}
