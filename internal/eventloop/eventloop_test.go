package eventloop

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/agentfsm"
	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/provider"
	"github.com/mgreenly/ikigai-sub009/internal/tools"
	"github.com/mgreenly/ikigai-sub009/internal/worker"
)

func newTestLoopAgent(t *testing.T) *agentfsm.Agent {
	t.Helper()
	reg := tools.NewRegistry()
	dispatcher := tools.NewDispatcher(reg, tools.NewExternalRunner())
	w := worker.New(dispatcher)
	adapter := provider.NewScripted([]models.StreamEvent{{Kind: models.StreamTextDelta, TextDelta: "hi"}}, models.Completion{
		Success: true,
		Response: &models.Response{
			ContentBlocks: []models.ContentBlock{models.TextBlock("hi")},
			FinishReason:  models.FinishStop,
		},
	})
	return agentfsm.New("agent-1", adapter, w, nil, agentfsm.DefaultConfig())
}

func TestDispatchLineSubmitsPrompt(t *testing.T) {
	a := newTestLoopAgent(t)
	lines := make(chan string)
	l := New(map[string]*agentfsm.Agent{"agent-1": a}, "agent-1", lines, nil)

	if err := l.dispatchLine(context.Background(), "hello there"); err != nil {
		t.Fatalf("dispatchLine: %v", err)
	}
	if len(a.Conversation) != 1 || a.Conversation[0].Text() != "hello there" {
		t.Fatalf("expected the line submitted as a user message, got %+v", a.Conversation)
	}
}

func TestDispatchLineClearCommand(t *testing.T) {
	a := newTestLoopAgent(t)
	a.Conversation = append(a.Conversation, models.Message{Role: models.RoleUser, Blocks: []models.ContentBlock{models.TextBlock("x")}})
	lines := make(chan string)
	l := New(map[string]*agentfsm.Agent{"agent-1": a}, "agent-1", lines, nil)

	if err := l.dispatchLine(context.Background(), "/clear"); err != nil {
		t.Fatalf("dispatchLine: %v", err)
	}
	if len(a.Conversation) != 0 {
		t.Fatalf("expected /clear to empty the conversation, got %d messages", len(a.Conversation))
	}
}

func TestDispatchLineMarkAndRewind(t *testing.T) {
	a := newTestLoopAgent(t)
	a.Conversation = append(a.Conversation, models.Message{Role: models.RoleUser, Blocks: []models.ContentBlock{models.TextBlock("first")}})
	lines := make(chan string)
	l := New(map[string]*agentfsm.Agent{"agent-1": a}, "agent-1", lines, nil)

	if err := l.dispatchLine(context.Background(), "/mark checkpoint"); err != nil {
		t.Fatalf("dispatchLine mark: %v", err)
	}
	a.Conversation = append(a.Conversation, models.Message{Role: models.RoleUser, Blocks: []models.ContentBlock{models.TextBlock("second")}})

	if err := l.dispatchLine(context.Background(), "/rewind checkpoint"); err != nil {
		t.Fatalf("dispatchLine rewind: %v", err)
	}
	if len(a.Conversation) != 1 {
		t.Fatalf("expected rewind to truncate back to the mark, got %d messages", len(a.Conversation))
	}
}

func TestDispatchLineQuit(t *testing.T) {
	a := newTestLoopAgent(t)
	lines := make(chan string)
	l := New(map[string]*agentfsm.Agent{"agent-1": a}, "agent-1", lines, nil)

	if err := l.dispatchLine(context.Background(), "/quit"); err != errQuit {
		t.Fatalf("expected errQuit, got %v", err)
	}
}

func TestDispatchLineUnknownCommand(t *testing.T) {
	a := newTestLoopAgent(t)
	lines := make(chan string)
	l := New(map[string]*agentfsm.Agent{"agent-1": a}, "agent-1", lines, nil)

	if err := l.dispatchLine(context.Background(), "/bogus"); err == nil {
		t.Fatal("expected an error for an unrecognized command")
	}
}

func TestInjectKeysDrainsByteAtATime(t *testing.T) {
	lines := make(chan string)
	l := New(map[string]*agentfsm.Agent{}, "agent-1", lines, nil)
	if err := l.InjectKeys("ab\n"); err != nil {
		t.Fatalf("InjectKeys: %v", err)
	}
	var got []byte
	for {
		b, ok := l.popInjectedByte()
		if !ok {
			break
		}
		got = append(got, b)
	}
	if string(got) != "ab\n" {
		t.Fatalf("expected bytes to drain in order, got %q", got)
	}
}

func TestRunExitsOnQuitLine(t *testing.T) {
	a := newTestLoopAgent(t)
	lines := NewLineScanner(strings.NewReader("/quit\n"))
	l := New(map[string]*agentfsm.Agent{"agent-1": a}, "agent-1", lines, nil)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after /quit")
	}
}

func TestRunExitsOnContextCancel(t *testing.T) {
	a := newTestLoopAgent(t)
	lines := make(chan string)
	l := New(map[string]*agentfsm.Agent{"agent-1": a}, "agent-1", lines, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
