// Package session implements the multi-agent orchestration spec.md §3 and
// §4.6 describe but assign to no single component: bootstrapping a fresh
// session's root agent, restoring every surviving agent from the event
// store in parent-before-child order, and forking a child agent at
// runtime. agentfsm.Agent deliberately knows nothing about the store
// backend or how sibling agents get constructed — this package is where
// those concerns meet, the same separation the teacher draws between
// internal/agent (one conversation's state machine) and internal/gateway
// (which conversations exist and how they're wired together).
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mgreenly/ikigai-sub009/internal/agentfsm"
	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/provider"
	"github.com/mgreenly/ikigai-sub009/internal/render"
	"github.com/mgreenly/ikigai-sub009/internal/replay"
	"github.com/mgreenly/ikigai-sub009/internal/scrollback"
	"github.com/mgreenly/ikigai-sub009/internal/store"
	"github.com/mgreenly/ikigai-sub009/internal/tools"
	"github.com/mgreenly/ikigai-sub009/internal/worker"
)

// AdapterFactory builds a fresh provider.Adapter for one agent. Each agent
// owns its adapter exclusively (spec.md §5 Shared resources), so a new
// instance is required per agent rather than a shared one.
type AdapterFactory func(agentID string) provider.Adapter

// Manager owns the pieces needed to create and restore agents for one
// session: the event store, the shared tool dispatcher, a per-agent
// provider factory, and the agentfsm.Config every agent is built with.
type Manager struct {
	sessionID        string
	systemPromptPath string

	store      store.EventStore
	dispatcher *tools.Dispatcher
	newAdapter AdapterFactory
	cfg        agentfsm.Config
	logger     *slog.Logger
}

// New builds a Manager. systemPromptPath is the path recorded in the
// bootstrap's synthetic pin command (spec.md S5 Fresh install bootstrap).
func New(sessionID, systemPromptPath string, es store.EventStore, dispatcher *tools.Dispatcher, newAdapter AdapterFactory, cfg agentfsm.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessionID:        sessionID,
		systemPromptPath: systemPromptPath,
		store:            es,
		dispatcher:       dispatcher,
		newAdapter:       newAdapter,
		cfg:              cfg,
		logger:           logger,
	}
}

// Restored is the outcome of Bootstrap: every live agent keyed by ID, plus
// which one is the root (the one with no ParentID), the agent a freshly
// attached TTY should start focused on.
type Restored struct {
	Agents map[string]*agentfsm.Agent
	RootID string
}

// Bootstrap loads every agent row for the session, replaying each one's
// event log in turn (spec.md §4.6: restore order is created_at ascending,
// so a parent's state exists before any child is replayed). If the store
// holds no agent rows yet, it creates the root agent and persists the
// synthetic clear+pin bootstrap events spec.md S5 describes. An agent
// whose replay fails is marked dead in the store and excluded from the
// result, per spec.md §7's per-agent replay error handling; this never
// fails the whole session.
func (m *Manager) Bootstrap(ctx context.Context) (Restored, error) {
	records, err := m.store.ListAgents(ctx, m.sessionID)
	if err != nil {
		return Restored{}, ikerr.Wrap(ikerr.IO, "session.Bootstrap", "list agents: %v", err)
	}

	if len(records) == 0 {
		return m.bootstrapFresh(ctx)
	}

	out := Restored{Agents: make(map[string]*agentfsm.Agent, len(records))}
	for _, rec := range records {
		if rec.Dead {
			continue
		}
		events, err := m.store.EventsForAgent(ctx, m.sessionID, rec.AgentID)
		if err != nil {
			return Restored{}, ikerr.Wrap(ikerr.IO, "session.Bootstrap", "load events for agent %s: %v", rec.AgentID, err)
		}
		result, err := replay.Agent(events)
		if err != nil {
			m.logger.Warn("agent replay failed, marking dead", "agent", rec.AgentID, "error", err)
			if derr := m.store.MarkAgentDead(ctx, m.sessionID, rec.AgentID); derr != nil {
				m.logger.Warn("mark agent dead failed", "agent", rec.AgentID, "error", derr)
			}
			continue
		}

		agent := agentfsm.New(rec.AgentID, m.newAdapter(rec.AgentID), worker.New(m.dispatcher), m.store, m.cfg)
		agent.ParentID = rec.ParentID
		agent.Conversation = result.Conversation
		agent.Scrollback = result.Scrollback
		agent.Marks = result.Marks
		out.Agents[rec.AgentID] = agent
		if rec.ParentID == "" {
			out.RootID = rec.AgentID
		}
	}
	return out, nil
}

func (m *Manager) bootstrapFresh(ctx context.Context) (Restored, error) {
	rootID := uuid.NewString()
	now := time.Now()
	if err := m.store.CreateAgent(ctx, models.AgentRecord{
		SessionID: m.sessionID, AgentID: rootID, CreatedAt: now,
	}); err != nil {
		return Restored{}, ikerr.Wrap(ikerr.IO, "session.Bootstrap", "create root agent: %v", err)
	}

	synthetic := replay.BootstrapIfEmpty(nil, m.sessionID, rootID, m.systemPromptPath)
	events := make([]models.Event, 0, len(synthetic))
	for _, ev := range synthetic {
		stored, err := m.store.AppendEvent(ctx, ev)
		if err != nil {
			return Restored{}, ikerr.Wrap(ikerr.IO, "session.Bootstrap", "persist bootstrap event %s: %v", ev.Kind, err)
		}
		events = append(events, stored)
	}

	result, err := replay.Agent(events)
	if err != nil {
		return Restored{}, ikerr.Wrap(ikerr.Parse, "session.Bootstrap", "replay fresh bootstrap: %v", err)
	}

	agent := agentfsm.New(rootID, m.newAdapter(rootID), worker.New(m.dispatcher), m.store, m.cfg)
	agent.Conversation = result.Conversation
	agent.Scrollback = result.Scrollback
	agent.Marks = result.Marks

	return Restored{Agents: map[string]*agentfsm.Agent{rootID: agent}, RootID: rootID}, nil
}

// Fork implements spec.md §4.6 Fork: a new child agent is registered in
// the store, inherits the parent's conversation, system prompt, and
// provider selector as of this moment, and records a fork event on both
// sides. If prompt is non-empty it becomes the child's pending prompt, so
// the event loop's next tick (spec.md §4.9 step 11) submits it without the
// caller blocking on a provider round trip.
func (m *Manager) Fork(ctx context.Context, parent *agentfsm.Agent, prompt string) (*agentfsm.Agent, error) {
	if parent == nil {
		return nil, ikerr.Wrap(ikerr.InvalidArg, "session.Fork", "fork requires a parent agent")
	}

	childID := uuid.NewString()
	if err := m.store.CreateAgent(ctx, models.AgentRecord{
		SessionID: m.sessionID, AgentID: childID, ParentID: parent.ID, CreatedAt: time.Now(),
	}); err != nil {
		return nil, ikerr.Wrap(ikerr.IO, "session.Fork", "create child agent: %v", err)
	}

	child := agentfsm.New(childID, m.newAdapter(childID), worker.New(m.dispatcher), m.store, m.cfg)
	child.ParentID = parent.ID
	child.SystemPrompt = parent.SystemPrompt
	child.Selector = parent.Selector
	child.Conversation = append([]models.Message(nil), parent.Conversation...)
	renderInheritedConversation(child.Scrollback, child.SystemPrompt, child.Conversation)

	parent.RecordFork(ctx, "parent")
	child.RecordFork(ctx, "child")

	if prompt != "" {
		child.PendingPrompt = prompt
	}
	return child, nil
}

// renderInheritedConversation seeds a freshly forked child's scrollback
// from the conversation it inherited, the same reconstruction
// agentfsm.RewindToMark and replay.applyRewind perform from a conversation
// slice — there is no event log yet to replay the child from, since the
// fork itself is the child's first event.
func renderInheritedConversation(sb *scrollback.Scrollback, system string, conv []models.Message) {
	if system != "" {
		_ = render.RenderEvent(sb, models.EventSystem, system, nil, false)
	}
	for _, msg := range conv {
		kind := models.EventUser
		switch msg.Role {
		case models.RoleAssistant:
			kind = models.EventAssistant
		case models.RoleTool:
			kind = models.EventToolResult
		}
		_ = render.RenderEvent(sb, kind, msg.Text(), nil, msg.Interrupted)
	}
}
