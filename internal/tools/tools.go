// Package tools implements the tool registry and dispatcher of spec.md
// §4.3: name-to-handler lookup, execution of internal (in-process) and
// external (subprocess) tools, and the {tool_success, ...} result envelope.
package tools

import (
	"context"
	"encoding/json"
)

// Result is the envelope wrapping a tool's raw output, per spec.md §4.3
// "Result wrapping": {tool_success: bool, output_or_error: ...}.
type Result struct {
	Success bool            `json:"tool_success"`
	Output  json.RawMessage `json:"output_or_error"`
}

// InternalHandler is the signature of an in-process tool running on the
// tool-worker thread. Returning ok=false signals failure (spec.md §4.3).
type InternalHandler func(ctx context.Context, agentID string, arguments json.RawMessage) (result json.RawMessage, ok bool)

// Tool is one entry in the registry: either an internal handler or an
// external subprocess path, never both.
type Tool struct {
	Name string

	// Internal, when non-nil, is run on the tool worker thread in-process.
	Internal InternalHandler

	// ExternalPath, when non-empty, names a subprocess to spawn for every
	// call (spec.md §4.3 External tool contract).
	ExternalPath string
}

// IsExternal reports whether this tool dispatches to a subprocess.
func (t Tool) IsExternal() bool { return t.Internal == nil }
