package models

import "encoding/json"

// Usage is per-response token accounting (spec.md §3 EventUsage / §4.4).
type Usage struct {
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
}

// FinishReason mirrors the provider's reported stop reason. The only value
// the core branches on is ToolUse (spec.md §4.5 should_continue_tool_loop).
type FinishReason string

const (
	FinishStop    FinishReason = "stop"
	FinishToolUse FinishReason = "tool_use"
	FinishLength  FinishReason = "length"
	FinishError   FinishReason = "error"
)

// Response is the structured accumulation of one provider turn
// (spec.md §4.4 Completion.response).
type Response struct {
	Model         string
	ContentBlocks []ContentBlock
	FinishReason  FinishReason
	Usage         Usage
}

// Completion is what a ProviderAdapter reports when a stream ends, whether
// by natural completion, error, or cancellation.
type Completion struct {
	Success      bool
	Response     *Response // nil unless Success
	ErrorMessage string    // set when !Success
}

// StreamEventKind enumerates the incremental updates a ProviderAdapter may
// emit while a stream is in flight (spec.md §4.4).
type StreamEventKind string

const (
	StreamStart          StreamEventKind = "start"
	StreamTextDelta      StreamEventKind = "text_delta"
	StreamThinkingDelta  StreamEventKind = "thinking_delta"
	StreamToolCallStart  StreamEventKind = "tool_call_start"
	StreamToolCallDelta  StreamEventKind = "tool_call_delta"
	StreamToolCallDone   StreamEventKind = "tool_call_done"
	StreamDone           StreamEventKind = "done"
	StreamError          StreamEventKind = "error"
)

// StreamEvent is one incremental update from a ProviderAdapter.
type StreamEvent struct {
	Kind StreamEventKind

	TextDelta     string // StreamTextDelta
	ThinkingDelta string // StreamThinkingDelta

	ToolCallID   string          // StreamToolCallStart/Delta/Done
	ToolCallName string          // StreamToolCallStart
	ToolCallArgs json.RawMessage // StreamToolCallDelta/Done (accumulated so far)

	Usage        Usage  // StreamDone
	ErrorMessage string // StreamError
}

// ProviderSelector names which provider/model/thinking-level an agent is
// configured to use.
type ProviderSelector struct {
	Provider string
	Model    string
	Thinking string // provider-specific thinking/effort level, opaque here
}

// Request is the normalized request the core hands to a ProviderAdapter.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
	Selector    ProviderSelector
}

// ToolSpec is the provider-facing description of one registered tool.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}
