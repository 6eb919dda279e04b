package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestDispatchInternalSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{
		Name: "glob",
		Internal: func(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, bool) {
			return json.RawMessage(`{"files":["a.c"]}`), true
		},
	})
	d := NewDispatcher(reg, NewExternalRunner())
	res, err := d.Dispatch(context.Background(), "agent-1", "glob", json.RawMessage(`{"pattern":"*.c"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestDispatchInternalFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{
		Name: "broken",
		Internal: func(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, bool) {
			return nil, false
		},
	})
	d := NewDispatcher(reg, NewExternalRunner())
	res, err := d.Dispatch(context.Background(), "agent-1", "broken", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure envelope")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, NewExternalRunner())
	res, err := d.Dispatch(context.Background(), "agent-1", "nope", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure envelope for unknown tool")
	}
}

func TestDispatchNameTooLong(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, NewExternalRunner())
	longName := make([]byte, MaxToolNameLength+1)
	for i := range longName {
		longName[i] = 'a'
	}
	_, err := d.Dispatch(context.Background(), "agent-1", string(longName), nil)
	if err == nil {
		t.Fatal("expected error for oversized tool name")
	}
}

func TestExternalRunnerSuccess(t *testing.T) {
	runner := NewExternalRunner()
	// /bin/cat echoes stdin straight to stdout, which is valid JSON here.
	res, err := runner.Run(context.Background(), "agent-1", "/bin/cat", json.RawMessage(`{"ok":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator()
	schema := json.RawMessage(`{"type":"object","required":["pattern"],"properties":{"pattern":{"type":"string"}}}`)
	if err := v.Register("glob", schema); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := v.Validate("glob", json.RawMessage(`{"pattern":"*.go"}`)); err != nil {
		t.Fatalf("expected valid args, got %v", err)
	}
	if err := v.Validate("glob", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}
