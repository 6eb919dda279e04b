// Package eventloop implements the Event Loop & Scheduler of spec.md §4.9:
// a single cooperative dispatcher that serializes TTY input, injected
// control-socket keys, signals, and the spinner tick through one goroutine.
//
// The original design is a raw select(2) multiplexer over file
// descriptors; idiomatic Go replaces that with a select statement over
// channels fed by a handful of small reader goroutines, the same
// restructuring the teacher applies throughout (infra.ShutdownCoordinator,
// internal/gateway/lifecycle.go) — signal.Notify into a buffered channel,
// one goroutine per I/O source, one select loop owning all the
// decision-making. Per-agent state is still only ever mutated by this
// loop's goroutine or by an agentfsm.Agent's own lock-guarded callbacks,
// so the determinism invariant (spec.md §8) holds the same way it would
// under a literal select(2) port.
package eventloop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/agentfsm"
	"github.com/mgreenly/ikigai-sub009/internal/controlsocket"
)

// DefaultSpinnerInterval is the UI tick period used when advancing the
// current agent's busy-spinner frame (spec.md §4.9 step 9).
const DefaultSpinnerInterval = 120 * time.Millisecond

// errQuit is returned internally by dispatchLine to unwind Run on /quit.
var errQuit = fmt.Errorf("eventloop: quit requested")

// Loop owns the agents map and drives the one dispatcher goroutine.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	agents  map[string]*agentfsm.Agent
	current string

	control         *controlsocket.Server
	spinnerInterval time.Duration
	onSpinnerTick   func(agentID string)
	forkFunc        ForkFunc

	keyMu  sync.Mutex
	keyBuf []byte

	lines <-chan string
}

// Option configures a Loop at construction.
type Option func(*Loop)

// ForkFunc creates a child agent of parentID, optionally seeded with
// prompt as its pending first message, and persists whatever bookkeeping
// the caller's session layer needs (spec.md §4.6 Fork). The event loop
// itself owns no store or provider factories, so Fork is always supplied
// by the caller that does.
type ForkFunc func(ctx context.Context, parentID, prompt string) (*agentfsm.Agent, error)

// WithForkFunc wires /fork to fn. Without it, /fork renders an error
// instead of silently doing nothing.
func WithForkFunc(fn ForkFunc) Option {
	return func(l *Loop) { l.forkFunc = fn }
}

// WithControlSocket registers the control-socket server whose Serve loop
// runs alongside the dispatcher; its send_keys requests feed InjectKeys.
func WithControlSocket(s *controlsocket.Server) Option {
	return func(l *Loop) { l.control = s }
}

// WithSpinnerInterval overrides DefaultSpinnerInterval.
func WithSpinnerInterval(d time.Duration) Option {
	return func(l *Loop) { l.spinnerInterval = d }
}

// WithSpinnerTick registers a callback invoked on every spinner advance for
// the current agent, letting the terminal UI layer re-render.
func WithSpinnerTick(fn func(agentID string)) Option {
	return func(l *Loop) { l.onSpinnerTick = fn }
}

// New builds a Loop reading lines from lines (the TTY input parser's
// output channel — see NewLineScanner), dispatching into agents, with
// current naming the initially focused agent.
func New(agents map[string]*agentfsm.Agent, current string, lines <-chan string, logger *slog.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		logger:          logger,
		agents:          agents,
		current:         current,
		spinnerInterval: DefaultSpinnerInterval,
		lines:           lines,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// InjectKeys enqueues keys for consumption one byte at a time on the next
// iterations of Run, ahead of select — this is the controlsocket.KeyInjectFunc
// wired to the control socket's send_keys request.
func (l *Loop) InjectKeys(keys string) error {
	l.keyMu.Lock()
	l.keyBuf = append(l.keyBuf, keys...)
	l.keyMu.Unlock()
	return nil
}

func (l *Loop) popInjectedByte() (byte, bool) {
	l.keyMu.Lock()
	defer l.keyMu.Unlock()
	if len(l.keyBuf) == 0 {
		return 0, false
	}
	b := l.keyBuf[0]
	l.keyBuf = l.keyBuf[1:]
	return b, true
}

// SetCurrent changes which agent plain (non-command) lines are submitted
// to.
func (l *Loop) SetCurrent(agentID string) {
	l.mu.Lock()
	l.current = agentID
	l.mu.Unlock()
}

func (l *Loop) currentAgent() (*agentfsm.Agent, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[l.current]
	return a, l.current, ok
}

// CurrentAgent exposes the focused agent to external collaborators, such as
// the control socket's FramebufferFunc, which snapshots whichever agent's
// scrollback is currently on screen (spec.md §4.8).
func (l *Loop) CurrentAgent() (*agentfsm.Agent, bool) {
	a, _, ok := l.currentAgent()
	return a, ok
}

// GetAgent looks up any registered agent by ID, including ones AddAgent
// registered after Run started (e.g. a grandchild forked from a previously
// forked agent) — a ForkFunc needs this to resolve its parent, since the
// caller-supplied restored-agents snapshot passed at construction time only
// covers agents that existed at startup.
func (l *Loop) GetAgent(id string) (*agentfsm.Agent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	return a, ok
}

// AddAgent registers a newly forked agent so it is reachable by SetCurrent
// and polled for spinner/background activity, without requiring a loop
// restart (spec.md §4.9's agents map is the event loop's exclusive
// ownership, per spec.md §3 Ownership).
func (l *Loop) AddAgent(id string, agent *agentfsm.Agent) {
	l.mu.Lock()
	l.agents[id] = agent
	l.mu.Unlock()
}

// RemoveAgent drops a dismissed or dead agent from the loop's agent map
// (spec.md §3 Lifecycle). Removing the current agent leaves current
// pointing at a dangling ID; callers should SetCurrent first.
func (l *Loop) RemoveAgent(id string) {
	l.mu.Lock()
	delete(l.agents, id)
	l.mu.Unlock()
}

// Agents returns every registered agent ID, for commands (like /fork) that
// need to enumerate or pick a sibling.
func (l *Loop) Agents() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.agents))
	for id := range l.agents {
		ids = append(ids, id)
	}
	return ids
}

// Run executes the dispatcher until ctx is cancelled, a SIGINT/SIGTERM is
// received, or /quit is entered. It implements spec.md §4.9's per-iteration
// steps: injected-key short circuit (step 2), TTY/control/signal
// readiness (steps 3-7), and the spinner tick (step 9). Tool-completion
// harvesting (step 10) and provider pumping (step 8) are not polled here —
// agentfsm.Agent and worker.Worker already drive those transitions from
// their own lock-guarded callbacks, so there is nothing left to poll; this
// loop's only remaining job is serializing the *input* side.
func (l *Loop) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	if l.control != nil {
		go func() {
			if err := l.control.Serve(ctx); err != nil {
				l.logger.Warn("control socket stopped", "error", err)
			}
		}()
	}

	ticker := time.NewTicker(l.spinnerInterval)
	defer ticker.Stop()

	var injectedLine strings.Builder
	for {
		if b, ok := l.popInjectedByte(); ok {
			if b == '\n' {
				if err := l.dispatchLine(ctx, injectedLine.String()); err != nil {
					if err == errQuit {
						return nil
					}
					l.logger.Error("dispatch injected line failed", "error", err)
				}
				injectedLine.Reset()
			} else {
				injectedLine.WriteByte(b)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig, ok := <-sigCh:
			if !ok {
				return nil
			}
			if sig == syscall.SIGINT || sig == syscall.SIGTERM {
				l.logger.Info("received shutdown signal", "signal", sig)
				return l.interruptAll(ctx)
			}
			l.logger.Debug("received sigwinch")

		case line, ok := <-l.lines:
			if !ok {
				return nil
			}
			if err := l.dispatchLine(ctx, line); err != nil {
				if err == errQuit {
					return nil
				}
				l.logger.Error("dispatch line failed", "error", err)
			}

		case <-ticker.C:
			l.advanceSpinner()
			l.drainPendingPrompts(ctx)
		}
	}
}

// drainPendingPrompts implements spec.md §4.9 step 11: for every agent, if
// a pending prompt was queued (by Fork), move it into the agent's input
// pipeline, render the user event, and start a provider stream. It is
// folded into the spinner tick since that is the loop's only existing
// periodic hook and the step itself has no other natural trigger.
func (l *Loop) drainPendingPrompts(ctx context.Context) {
	l.mu.Lock()
	agents := make([]*agentfsm.Agent, 0, len(l.agents))
	for _, a := range l.agents {
		agents = append(agents, a)
	}
	l.mu.Unlock()

	for _, a := range agents {
		prompt, ok := a.TakePendingPrompt()
		if !ok {
			continue
		}
		if err := a.SubmitUserLine(ctx, prompt); err != nil {
			l.logger.Warn("pending prompt submit failed", "agent", a.ID, "error", err)
		}
	}
}

func (l *Loop) advanceSpinner() {
	if l.onSpinnerTick == nil {
		return
	}
	_, id, ok := l.currentAgent()
	if !ok {
		return
	}
	l.onSpinnerTick(id)
}

// interruptAll signals every agent's Interrupt (spec.md §4.9 step 12: on
// SIGINT/SIGTERM, invalidate every agent's provider handle before exiting).
func (l *Loop) interruptAll(ctx context.Context) error {
	l.mu.Lock()
	agents := make([]*agentfsm.Agent, 0, len(l.agents))
	for _, a := range l.agents {
		agents = append(agents, a)
	}
	l.mu.Unlock()

	for _, a := range agents {
		if err := a.Interrupt(ctx); err != nil {
			l.logger.Warn("interrupt on shutdown failed", "agent", a.ID, "error", err)
		}
	}
	return nil
}

// dispatchLine routes one line of input: slash commands run directly
// against the current agent; anything else is submitted as a user prompt.
func (l *Loop) dispatchLine(ctx context.Context, line string) error {
	agent, id, ok := l.currentAgent()
	if !ok {
		return fmt.Errorf("eventloop: no current agent %q", id)
	}

	if !strings.HasPrefix(line, "/") {
		return agent.SubmitUserLine(ctx, line)
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "clear":
		return agent.Clear(ctx)
	case "mark":
		agent.CreateMark(ctx, arg)
		return nil
	case "rewind":
		mark, err := agent.FindMark(arg)
		if err != nil {
			return err
		}
		return agent.RewindToMark(ctx, mark)
	case "model":
		if arg == "" {
			return fmt.Errorf("eventloop: /model requires a model name")
		}
		agent.SetModel(ctx, agent.Selector.Provider, arg, agent.Selector.Thinking)
		return nil
	case "system":
		return agent.SetSystemPrompt(ctx, arg)
	case "pin":
		if arg == "" {
			return fmt.Errorf("eventloop: /pin requires a path")
		}
		agent.Pin(ctx, arg)
		return nil
	case "wait":
		agent.Wait(ctx)
		return nil
	case "help":
		agent.Help()
		return nil
	case "fork":
		return l.dispatchFork(ctx, agent, id, arg)
	default:
		return fmt.Errorf("eventloop: unknown command /%s", cmd)
	}
}

// dispatchFork implements /fork: a new child agent is created via forkFunc,
// registered with the loop, and made current, so the user's next line goes
// to the child rather than the parent (spec.md §4.6 Fork).
func (l *Loop) dispatchFork(ctx context.Context, parent *agentfsm.Agent, parentID, prompt string) error {
	if l.forkFunc == nil {
		return fmt.Errorf("eventloop: /fork is not supported in this configuration")
	}
	child, err := l.forkFunc(ctx, parentID, prompt)
	if err != nil {
		return err
	}
	l.AddAgent(child.ID, child)
	l.SetCurrent(child.ID)
	return nil
}
