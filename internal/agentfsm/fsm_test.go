package agentfsm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/provider"
	"github.com/mgreenly/ikigai-sub009/internal/tools"
	"github.com/mgreenly/ikigai-sub009/internal/worker"
)

type memSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *memSink) AppendEvent(ctx context.Context, ev models.Event) (models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *memSink) kinds() []models.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EventKind, len(m.events))
	for i, e := range m.events {
		out[i] = e.Kind
	}
	return out
}

func waitIdle(t *testing.T, a *Agent) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if a.State() == Idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("agent never returned to idle, stuck at %s", a.State())
}

func newTestAgent(t *testing.T, adapter provider.Adapter) (*Agent, *memSink) {
	t.Helper()
	reg := tools.NewRegistry()
	dispatcher := tools.NewDispatcher(reg, tools.NewExternalRunner())
	w := worker.New(dispatcher)
	sink := &memSink{}
	a := New("agent-1", adapter, w, sink, DefaultConfig())
	return a, sink
}

func TestSimpleTurnNoToolCall(t *testing.T) {
	completion := models.Completion{Success: true, Response: &models.Response{
		ContentBlocks: []models.ContentBlock{models.TextBlock("hello there")},
		FinishReason:  models.FinishStop,
	}}
	adapter := provider.NewScripted([]models.StreamEvent{
		{Kind: models.StreamTextDelta, TextDelta: "hello there"},
	}, completion)

	a, sink := newTestAgent(t, adapter)

	if err := a.SubmitUserLine(context.Background(), "hi"); err != nil {
		t.Fatalf("SubmitUserLine: %v", err)
	}
	if _, err := adapter.Pump(context.Background()); err != nil {
		t.Fatalf("Pump: %v", err)
	}

	if got := a.State(); got != Idle {
		t.Fatalf("expected Idle after a no-tool-call completion, got %s", got)
	}
	if len(a.Conversation) != 2 {
		t.Fatalf("expected 2 messages (user+assistant), got %d", len(a.Conversation))
	}

	kinds := sink.kinds()
	if len(kinds) < 2 || kinds[0] != models.EventUser || kinds[1] != models.EventAssistant {
		t.Fatalf("unexpected event kinds: %v", kinds)
	}
}

func TestShouldContinueToolLoop(t *testing.T) {
	a, _ := newTestAgent(t, provider.NewScripted(nil, models.Completion{}))
	if !a.ShouldContinueToolLoop(models.FinishToolUse) {
		t.Fatal("expected to continue: under the iteration budget")
	}
	a.toolIterationCount = a.cfg.MaxToolTurns
	if a.ShouldContinueToolLoop(models.FinishToolUse) {
		t.Fatal("expected loop to stop once the iteration budget is exhausted")
	}
	if a.ShouldContinueToolLoop(models.FinishStop) {
		t.Fatal("a non tool_use finish reason should never continue the loop")
	}
}

func TestToolCallLoopsThenCompletes(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(tools.Tool{
		Name: "echo",
		Internal: func(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, bool) {
			return json.RawMessage(`{"ok":true}`), true
		},
	})
	dispatcher := tools.NewDispatcher(reg, tools.NewExternalRunner())
	w := worker.New(dispatcher)

	toolCallCompletion := models.Completion{Success: true, Response: &models.Response{
		ContentBlocks: []models.ContentBlock{
			models.ToolCallBlock("call-1", "echo", json.RawMessage(`{}`), ""),
		},
		FinishReason: models.FinishToolUse,
	}}
	finalCompletion := models.Completion{Success: true, Response: &models.Response{
		ContentBlocks: []models.ContentBlock{models.TextBlock("done")},
		FinishReason:  models.FinishStop,
	}}

	adapter := &sequencedAdapter{completions: []models.Completion{toolCallCompletion, finalCompletion}}
	sink := &memSink{}
	a := New("agent-1", adapter, w, sink, DefaultConfig())

	if err := a.SubmitUserLine(context.Background(), "run echo"); err != nil {
		t.Fatalf("SubmitUserLine: %v", err)
	}

	waitIdle(t, a)

	kinds := sink.kinds()
	joined := make([]string, len(kinds))
	for i, k := range kinds {
		joined[i] = string(k)
	}
	seq := strings.Join(joined, ",")
	if !strings.Contains(seq, "tool_call") || !strings.Contains(seq, "tool_result") {
		t.Fatalf("expected tool_call and tool_result events in sequence, got %s", seq)
	}
}

func TestToolCallPersistsThinkingAndRedactedBlocks(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(tools.Tool{
		Name: "echo",
		Internal: func(ctx context.Context, agentID string, args json.RawMessage) (json.RawMessage, bool) {
			return json.RawMessage(`{"ok":true}`), true
		},
	})
	dispatcher := tools.NewDispatcher(reg, tools.NewExternalRunner())
	w := worker.New(dispatcher)

	toolCallCompletion := models.Completion{Success: true, Response: &models.Response{
		ContentBlocks: []models.ContentBlock{
			models.ThinkingBlock("let me check", "sig-123"),
			models.RedactedThinkingBlock("opaque-blob"),
			models.ToolCallBlock("call-1", "echo", json.RawMessage(`{}`), ""),
		},
		FinishReason: models.FinishToolUse,
	}}
	finalCompletion := models.Completion{Success: true, Response: &models.Response{
		ContentBlocks: []models.ContentBlock{models.TextBlock("done")},
		FinishReason:  models.FinishStop,
	}}

	adapter := &sequencedAdapter{completions: []models.Completion{toolCallCompletion, finalCompletion}}
	sink := &memSink{}
	a := New("agent-1", adapter, w, sink, DefaultConfig())

	if err := a.SubmitUserLine(context.Background(), "run echo"); err != nil {
		t.Fatalf("SubmitUserLine: %v", err)
	}
	waitIdle(t, a)

	sink.mu.Lock()
	var toolCallEvent *models.Event
	for i := range sink.events {
		if sink.events[i].Kind == models.EventToolCall {
			toolCallEvent = &sink.events[i]
			break
		}
	}
	sink.mu.Unlock()
	if toolCallEvent == nil {
		t.Fatal("expected a tool_call event to have been persisted")
	}

	var data models.DataToolCall
	if err := json.Unmarshal(toolCallEvent.Data, &data); err != nil {
		t.Fatalf("unmarshal tool_call data: %v", err)
	}
	if data.Thinking == nil || data.Thinking.Text != "let me check" || data.Thinking.Signature != "sig-123" {
		t.Fatalf("expected thinking text+signature on tool_call event, got %+v", data.Thinking)
	}
	if data.RedactedThinking == nil || data.RedactedThinking.Data != "opaque-blob" {
		t.Fatalf("expected redacted-thinking blob on tool_call event, got %+v", data.RedactedThinking)
	}
}

// sequencedAdapter is a minimal Adapter that delivers one queued Completion
// per StartStream call, synchronously, to drive multi-turn tool loops in
// tests without relying on Scripted's single-stream assumption.
type sequencedAdapter struct {
	mu          sync.Mutex
	completions []models.Completion
	i           int
}

func (s *sequencedAdapter) StartStream(ctx context.Context, req models.Request, onStream provider.StreamCallback, onComplete provider.CompletionCallback) error {
	s.mu.Lock()
	idx := s.i
	s.i++
	s.mu.Unlock()
	if idx >= len(s.completions) {
		onComplete(models.Completion{Success: false, ErrorMessage: "no more scripted completions"})
		return nil
	}
	onComplete(s.completions[idx])
	return nil
}

func (s *sequencedAdapter) Cancel()                                {}
func (s *sequencedAdapter) Pump(ctx context.Context) (bool, error) { return false, nil }
func (s *sequencedAdapter) NextTimeout() (int, bool)               { return 0, false }

var _ provider.Adapter = (*sequencedAdapter)(nil)
