package agentfsm

import (
	"context"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// pollInterval and killGrace match the original C source's interrupt
// timing (apps/ikigai/repl.c): poll waitpid every ~25ms, escalate to
// SIGKILL if the child hasn't exited within ~250ms of SIGTERM.
const (
	pollInterval = 25 * time.Millisecond
	killGrace    = 250 * time.Millisecond
)

// Interrupt implements spec.md §4.11: cancel whatever is in flight for the
// agent's current state, mark every message of the current turn
// interrupted, and re-render the scrollback so the change is visible
// immediately.
func (a *Agent) Interrupt(ctx context.Context) error {
	a.mu.Lock()
	state := a.state
	a.interruptRequested = true
	a.mu.Unlock()

	switch state {
	case WaitingForLLM:
		a.adapter.Cancel()
	case ExecutingTool:
		a.killToolProcessGroup()
	case Idle:
		a.mu.Lock()
		a.interruptRequested = false
		a.mu.Unlock()
		return nil
	}

	a.markCurrentTurnInterrupted()
	a.appendEvent(ctx, models.EventInterrupted, "", nil)
	a.rerenderScrollback()

	a.mu.Lock()
	a.state = Idle
	a.interruptRequested = false
	a.mu.Unlock()
	return nil
}

// killToolProcessGroup sends SIGTERM to the running tool's process group,
// polls briefly for exit, and escalates to SIGKILL if it's still alive —
// then waits for the worker to report completion so the caller never races
// a half-reaped child.
func (a *Agent) killToolProcessGroup() {
	pid := a.tool.ChildPid()
	if pid == 0 {
		// Internal tool or nothing running; still wait for it to finish.
		a.waitForWorker()
		return
	}

	sendSignal(pid, sigterm)
	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if a.tool.Complete() {
			return
		}
		time.Sleep(pollInterval)
	}
	if !a.tool.Complete() {
		sendSignal(pid, sigkill)
	}
	a.waitForWorker()
}

func (a *Agent) waitForWorker() {
	for !a.tool.Complete() {
		time.Sleep(pollInterval)
	}
}

// markCurrentTurnInterrupted flips Interrupted=true on every message from
// the start of the current (last user) turn onward (spec.md §4.11: "the
// last user-message index is the turn boundary").
func (a *Agent) markCurrentTurnInterrupted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := lastUserMessageIndex(a.Conversation)
	if start < 0 {
		return
	}
	for i := start; i < len(a.Conversation); i++ {
		a.Conversation[i].Interrupted = true
	}
}

func lastUserMessageIndex(conv []models.Message) int {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}

// rerenderScrollback clears and rebuilds the live scrollback from the
// in-memory conversation and marks, using the exact rendering path replay
// uses, so interrupted messages pick up their new styling without a second
// render implementation (spec.md §8 invariant 2).
func (a *Agent) rerenderScrollback() {
	a.mu.Lock()
	conv := append([]models.Message(nil), a.Conversation...)
	marks := append([]models.Mark(nil), a.Marks...)
	system := a.SystemPrompt
	a.mu.Unlock()

	a.Scrollback.Clear()
	renderConversationAndMarks(a.Scrollback, system, conv, marks)
}
