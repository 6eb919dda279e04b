package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
)

// MaxToolNameLength bounds a tool name, mirroring the teacher's
// ToolRegistry resource-exhaustion guards (internal/agent/tool_registry.go).
const MaxToolNameLength = 256

// MaxToolParamsSize bounds a tool call's arguments JSON (10MiB), mirroring
// the teacher's MaxToolParamsSize.
const MaxToolParamsSize = 10 << 20

// Registry maps a tool name to its handler with thread-safe registration
// and lookup (spec.md §4.3).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// Dispatcher executes a resolved tool call and produces its result
// envelope, honoring the External tool contract in spec.md §4.3.
type Dispatcher struct {
	registry *Registry
	external *ExternalRunner
}

// NewDispatcher builds a Dispatcher over registry, using runner for
// external tool execution.
func NewDispatcher(registry *Registry, runner *ExternalRunner) *Dispatcher {
	return &Dispatcher{registry: registry, external: runner}
}

// Dispatch runs the named tool and returns its envelope. It never returns
// a Go error for a tool-level failure: that is reported via
// Result.Success=false, per spec.md §4.3. A Go error here means the
// dispatcher itself couldn't even attempt the call (bad name/args).
func (d *Dispatcher) Dispatch(ctx context.Context, agentID, name string, args json.RawMessage) (Result, error) {
	if len(name) > MaxToolNameLength {
		return Result{}, ikerr.Wrap(ikerr.InvalidArg, "tools.Dispatch", "tool name exceeds %d characters", MaxToolNameLength)
	}
	if len(args) > MaxToolParamsSize {
		return Result{}, ikerr.Wrap(ikerr.InvalidArg, "tools.Dispatch", "tool arguments exceed %d bytes", MaxToolParamsSize)
	}
	tool, ok := d.registry.Get(name)
	if !ok {
		return errEnvelope("tool not found: " + name), nil
	}
	if tool.IsExternal() {
		return d.external.Run(ctx, agentID, tool.ExternalPath, args)
	}
	out, ok := tool.Internal(ctx, agentID, args)
	if !ok {
		return errEnvelope("tool failed: " + name), nil
	}
	return Result{Success: true, Output: out}, nil
}

func errEnvelope(msg string) Result {
	b, _ := json.Marshal(msg)
	return Result{Success: false, Output: b}
}

// Handle is one started tool invocation. For external tools Pid() reports
// the child's process group ID while it's running, which is what the
// interrupt coordinator (spec.md §4.11) needs to kill it; internal tools
// report Pid()==0 since there is nothing to signal.
type Handle struct {
	pid  int
	wait func() Result
}

// Pid returns the external subprocess's PID, or 0 for an internal tool.
func (h *Handle) Pid() int { return h.pid }

// Wait blocks until the tool finishes and returns its result envelope.
func (h *Handle) Wait() Result { return h.wait() }

// Start begins executing the named tool and returns a Handle immediately.
// External tools run in the background from the moment Start returns;
// internal tools have already run to completion by the time Start returns,
// so Wait on their Handle is instant. Dispatch is a synchronous convenience
// built on top of Start for callers that never need interrupt access.
func (d *Dispatcher) Start(ctx context.Context, agentID, name string, args json.RawMessage) (*Handle, error) {
	if len(name) > MaxToolNameLength {
		return nil, ikerr.Wrap(ikerr.InvalidArg, "tools.Dispatcher.Start", "tool name exceeds %d characters", MaxToolNameLength)
	}
	if len(args) > MaxToolParamsSize {
		return nil, ikerr.Wrap(ikerr.InvalidArg, "tools.Dispatcher.Start", "tool arguments exceed %d bytes", MaxToolParamsSize)
	}
	tool, ok := d.registry.Get(name)
	if !ok {
		res := errEnvelope("tool not found: " + name)
		return &Handle{wait: func() Result { return res }}, nil
	}
	if tool.IsExternal() {
		rt, err := d.external.Start(ctx, agentID, tool.ExternalPath, args)
		if err != nil {
			res := errEnvelope("failed to start tool: " + err.Error())
			return &Handle{wait: func() Result { return res }}, nil
		}
		return &Handle{pid: rt.Pid(), wait: rt.Wait}, nil
	}
	out, ok := tool.Internal(ctx, agentID, args)
	var res Result
	if !ok {
		res = errEnvelope("tool failed: " + name)
	} else {
		res = Result{Success: true, Output: out}
	}
	return &Handle{wait: func() Result { return res }}, nil
}
