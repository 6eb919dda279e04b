package agentfsm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/render"
)

// MaxSystemPromptBytes is the hard-coded fallback cap from spec.md §6: a
// /system submission larger than this is rejected rather than silently
// truncated.
const MaxSystemPromptBytes = 1024

// SetModel implements the /model slash command: it changes which
// provider/model the agent's next SubmitUserLine request targets. It is
// recorded as a command event purely for audit — the live selector is
// what buildRequest actually reads.
func (a *Agent) SetModel(ctx context.Context, provider, model, thinking string) {
	a.mu.Lock()
	a.Selector = models.ProviderSelector{Provider: provider, Model: model, Thinking: thinking}
	a.mu.Unlock()

	a.appendEvent(ctx, models.EventCommand, "", mustJSON(models.DataCommand{
		Command: "model",
		Args:    []string{provider, model, thinking},
	}))
}

// SetSystemPrompt implements the /system slash command: replaces the
// agent's system prompt, enforcing spec.md §6's size cap, and records an
// EventSystem so replay reconstructs the same prompt (system messages
// render exactly like any other event, per spec.md §4.2).
func (a *Agent) SetSystemPrompt(ctx context.Context, text string) error {
	if len(text) > MaxSystemPromptBytes {
		return ikerr.Wrap(ikerr.OutOfRange, "agentfsm.SetSystemPrompt", "system prompt exceeds %d bytes", MaxSystemPromptBytes)
	}
	a.mu.Lock()
	a.SystemPrompt = text
	a.mu.Unlock()

	a.appendEvent(ctx, models.EventSystem, text, nil)
	_ = render.RenderEvent(a.Scrollback, models.EventSystem, text, nil, false)
	return nil
}

// Pin implements the /pin slash command. Pin/toolset semantics belong to a
// collaborator outside this core (spec.md §9 Open Question 3); the agent
// runtime's only obligation is to append the synthetic command event so a
// later replay sees the same pin history a live session did.
func (a *Agent) Pin(ctx context.Context, path string) {
	a.appendEvent(ctx, models.EventCommand, "", mustJSON(models.DataCommand{
		Command: "pin",
		Args:    []string{path},
	}))
}

// RecordFork appends a fork event to this agent's own stream, role being
// "parent" or "child" from this agent's perspective (spec.md §3's fork
// event kind). Rendering is a no-op by design (render.RenderEvent treats
// fork as status-only) but the record still lets replay reconstruct
// lineage and lets a reader of the raw log see where the split happened.
func (a *Agent) RecordFork(ctx context.Context, role string) {
	a.appendEvent(ctx, models.EventFork, "", mustJSON(models.DataFork{Role: role}))
}

// OnIdle registers fn to run exactly once the next time the agent settles
// back to Idle, overwriting any previously registered hook. This is the
// Agent's "on-completion hook for deferred commands" slot (spec.md §3); in
// this runtime /wait is its only caller.
func (a *Agent) OnIdle(fn func()) {
	a.mu.Lock()
	a.onIdleHook = fn
	a.mu.Unlock()
}

// Wait implements the /wait slash command (spec.md §6, §9 Open Question
// 1). The event loop's single goroutine can never block on a turn in
// progress, so /wait does not suspend anything: if the agent is already
// Idle there is nothing to wait for; otherwise it arranges a status line
// for the moment the in-flight turn settles.
func (a *Agent) Wait(ctx context.Context) {
	if a.State() != Idle {
		a.OnIdle(func() {
			a.Scrollback.AppendLineString(render.StylePrefix(render.StyleStatus) + "turn complete" + string(render.StyleNormal))
		})
		return
	}
	a.Scrollback.AppendLineString(render.StylePrefix(render.StyleStatus) + "nothing to wait for" + string(render.StyleNormal))
}

const helpText = "commands:\n" +
	"  /mark [label]     create a checkpoint\n" +
	"  /rewind [label]   rewind to a checkpoint (most recent if no label)\n" +
	"  /clear            drop the conversation and scrollback\n" +
	"  /model <name>     change the model for the next turn\n" +
	"  /system <text>    replace the system prompt\n" +
	"  /fork [prompt]    create a child agent, optionally seeded with prompt\n" +
	"  /wait             wait for the current turn to settle\n" +
	"  /pin <path>       pin a file into context\n" +
	"  /help             show this text\n" +
	"  /exit             quit"

// Help implements the /help slash command by rendering a static command
// summary directly to scrollback. It is deliberately not an event: it is
// the same on every invocation and on replay, so persisting it would only
// bloat the log for no replay-visible benefit.
func (a *Agent) Help() {
	for _, line := range strings.Split(helpText, "\n") {
		a.Scrollback.AppendLineString(render.StylePrefix(render.StyleStatus) + line + string(render.StyleNormal))
	}
}

// TakePendingPrompt clears and returns PendingPrompt if set, for the event
// loop's per-iteration step 11 (spec.md §4.9): a prompt queued by Fork is
// injected into the child's input pipeline on the next tick rather than
// synchronously, so the parent's fork call never blocks on a provider
// round trip.
func (a *Agent) TakePendingPrompt() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.PendingPrompt == "" {
		return "", false
	}
	p := a.PendingPrompt
	a.PendingPrompt = ""
	return p, true
}

// IsDead reports whether the agent has been dismissed or failed replay
// (spec.md §3 Lifecycle).
func (a *Agent) IsDead() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dead
}

// MarkDead flips the agent to dead. Once dead an agent accepts no further
// transitions; its UUID is never reused (spec.md §3 invariant 5).
func (a *Agent) MarkDead() {
	a.mu.Lock()
	a.dead = true
	a.mu.Unlock()
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
