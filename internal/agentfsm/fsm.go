// Package agentfsm implements the per-agent state machine, marks subsystem,
// and interrupt coordinator of spec.md §4.5, §4.10, §4.11: the three states
// Idle/WaitingForLLM/ExecutingTool, their transition table, streaming line
// buffering, thinking-block stashing, and the mark/rewind operations that
// mutate an agent's conversation and scrollback together.
package agentfsm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/logging"
	"github.com/mgreenly/ikigai-sub009/internal/metrics"
	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/provider"
	"github.com/mgreenly/ikigai-sub009/internal/render"
	"github.com/mgreenly/ikigai-sub009/internal/scrollback"
	"github.com/mgreenly/ikigai-sub009/internal/tools"
	"github.com/mgreenly/ikigai-sub009/internal/trace"
	"github.com/mgreenly/ikigai-sub009/internal/worker"
)

// State is one of the three states an Agent occupies (spec.md §4.5).
type State int

const (
	Idle State = iota
	WaitingForLLM
	ExecutingTool
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForLLM:
		return "waiting_for_llm"
	case ExecutingTool:
		return "executing_tool"
	default:
		return "unknown"
	}
}

// EventSink is the Event Store seam the state machine depends on: it only
// ever appends, never reads back (spec.md §2 notes the Event Store is a
// consumed interface, not a component this package owns).
type EventSink interface {
	AppendEvent(ctx context.Context, event models.Event) (models.Event, error)
}

// Config bounds the tool-use loop.
type Config struct {
	// MaxToolTurns caps tool_use iterations per user turn before the loop
	// is forced back to Idle regardless of finish reason.
	MaxToolTurns int
}

// DefaultConfig mirrors the teacher's DefaultLoopConfig pattern, using the
// hard-coded fallback spec.md §6 names for max_tool_turns.
func DefaultConfig() Config {
	return Config{MaxToolTurns: 50}
}

// Agent is one conversational agent's runtime state: conversation history,
// scrollback, marks, and the bookkeeping the state machine needs to
// transition correctly and render deterministically.
type Agent struct {
	ID       string
	ParentID string // empty for the root agent (spec.md §3 Agent)

	mu    sync.Mutex
	state State
	dead  bool

	Conversation []models.Message
	Scrollback   *scrollback.Scrollback
	Marks        []models.Mark
	SystemPrompt string
	Selector     models.ProviderSelector

	// PendingPrompt is injected into the conversation by the event loop's
	// per-iteration step 11 once set (spec.md §4.9, §3 Agent "pending
	// prompt to be injected after a fork").
	PendingPrompt string

	toolIterationCount int

	assistantResponse   strings.Builder
	streamingLineBuffer strings.Builder
	streamingFirstLine  bool

	pendingThinkingText      string
	pendingThinkingSignature string
	pendingRedactedBlob      string

	currentToolCallID   string
	currentToolName     string
	currentToolArgsJSON json.RawMessage

	adapter provider.Adapter
	tool    *worker.Worker
	sink    EventSink
	cfg     Config
	metrics *metrics.Metrics

	interruptRequested bool

	// onIdleHook is the Agent's on-completion hook for deferred commands
	// (spec.md §3 Agent field list). /wait is its only caller today: it
	// arranges for a status line the next time the agent settles back to
	// Idle instead of blocking the single-threaded event loop.
	onIdleHook func()

	// turnEnd closes the trace.StartTurn span opened by SubmitUserLine,
	// fired the next time the agent settles back to Idle.
	turnEnd trace.EndFunc
}

// New builds an Idle agent wired to the given provider adapter, tool
// worker, and event sink.
func New(id string, adapter provider.Adapter, toolWorker *worker.Worker, sink EventSink, cfg Config) *Agent {
	if cfg.MaxToolTurns <= 0 {
		cfg = DefaultConfig()
	}
	return &Agent{
		ID:         id,
		state:      Idle,
		Scrollback: scrollback.New(),
		adapter:    adapter,
		tool:       toolWorker,
		sink:       sink,
		cfg:        cfg,
	}
}

// WithMetrics attaches m so the agent's usage events also feed
// ProviderTokensTotal. Safe to call with nil, which disables recording.
func (a *Agent) WithMetrics(m *metrics.Metrics) *Agent {
	a.metrics = m
	return a
}

// State returns the agent's current state under lock.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) transition(from, to State) error {
	if a.state != from {
		return fmt.Errorf("agentfsm: invalid transition %s->%s from actual state %s", from, to, a.state)
	}
	a.state = to
	return nil
}

// ShouldContinueToolLoop implements spec.md §4.5's should_continue_tool_loop:
// true iff the completion's finish reason was tool_use and the per-turn
// iteration budget has not been exhausted.
func (a *Agent) ShouldContinueToolLoop(finish models.FinishReason) bool {
	return finish == models.FinishToolUse && a.toolIterationCount < a.cfg.MaxToolTurns
}

// SubmitUserLine handles the Idle -> WaitingForLLM transition: a non-command
// line submitted by the user starts a new provider stream.
func (a *Agent) SubmitUserLine(ctx context.Context, text string) error {
	a.mu.Lock()
	if err := a.transition(Idle, WaitingForLLM); err != nil {
		a.mu.Unlock()
		return err
	}
	a.assistantResponse.Reset()
	a.streamingLineBuffer.Reset()
	a.streamingFirstLine = true
	a.toolIterationCount = 0
	_, turnEnd := trace.StartTurn(ctx, a.ID)
	a.turnEnd = turnEnd
	a.mu.Unlock()

	msg := models.Message{Role: models.RoleUser, Blocks: []models.ContentBlock{models.TextBlock(text)}}
	a.appendConversation(msg)
	a.appendEvent(ctx, models.EventUser, text, nil)
	_ = render.RenderEvent(a.Scrollback, models.EventUser, text, nil, false)

	req := a.buildRequest()
	return a.adapter.StartStream(ctx, req, a.onStreamEvent, a.onCompletion)
}

func (a *Agent) buildRequest() models.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.Request{
		System:    a.SystemPrompt,
		Messages:  append([]models.Message(nil), a.Conversation...),
		MaxTokens: 4096,
		Selector:  a.Selector,
	}
}

// onStreamEvent is the adapter's StreamCallback. It accumulates text into
// the durable assistant_response and the incremental streaming_line_buffer,
// stashes thinking blocks, and tracks the in-flight tool call.
func (a *Agent) onStreamEvent(ev models.StreamEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case models.StreamTextDelta:
		a.assistantResponse.WriteString(ev.TextDelta)
		a.streamingLineBuffer.WriteString(ev.TextDelta)
		a.flushCompleteLinesLocked()
	case models.StreamThinkingDelta:
		a.pendingThinkingText += ev.ThinkingDelta
	case models.StreamToolCallStart:
		a.currentToolCallID = ev.ToolCallID
		a.currentToolName = ev.ToolCallName
	case models.StreamToolCallDelta, models.StreamToolCallDone:
		if len(ev.ToolCallArgs) > 0 {
			a.currentToolArgsJSON = ev.ToolCallArgs
		}
	}
}

// flushCompleteLinesLocked flushes every \n-terminated line currently in
// streaming_line_buffer to scrollback, prepending the assistant style
// prefix once on the first line of the response (spec.md §4.5 Streaming
// line buffering). Caller holds a.mu.
func (a *Agent) flushCompleteLinesLocked() {
	buf := a.streamingLineBuffer.String()
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		a.flushLineLocked(line)
	}
	a.streamingLineBuffer.Reset()
	a.streamingLineBuffer.WriteString(buf)
}

func (a *Agent) flushLineLocked(line string) {
	if a.streamingFirstLine {
		a.Scrollback.AppendLineString(render.StylePrefix(render.StyleAssistant) + line)
		a.streamingFirstLine = false
	} else {
		a.Scrollback.AppendLineString(line)
	}
}

// onCompletion is the adapter's CompletionCallback, dispatched from
// WaitingForLLM. Its branch depends on success, tool-call presence, and
// interrupt state (spec.md §4.5 transition table).
func (a *Agent) onCompletion(c models.Completion) {
	ctx := context.Background()

	a.mu.Lock()
	interrupted := a.interruptRequested
	a.mu.Unlock()

	if interrupted {
		return // Interrupt() already drove the state to Idle.
	}

	if !c.Success {
		a.mu.Lock()
		_ = a.transition(WaitingForLLM, Idle)
		tail := a.drainStreamingTailLocked()
		hook := a.fireIdleHookLocked()
		turnEnd := a.fireTurnEndLocked()
		a.mu.Unlock()
		if tail != "" {
			a.Scrollback.AppendLineString(tail)
		}
		a.Scrollback.AppendLineString(render.StylePrefix(render.StyleToolFail) + "error: " + c.ErrorMessage)
		if turnEnd != nil {
			turnEnd(fmt.Errorf("%s", c.ErrorMessage))
		}
		if hook != nil {
			hook()
		}
		return
	}

	resp := c.Response
	toolCall, hasToolCall := firstToolCall(resp.ContentBlocks)
	respThinkingText, respThinkingSig, respRedacted := thinkingBlocks(resp.ContentBlocks)

	a.mu.Lock()
	tail := a.drainStreamingTailLocked()
	thinkingText, thinkingSig, redacted := a.pendingThinkingText, a.pendingThinkingSignature, a.pendingRedactedBlob
	a.pendingThinkingText, a.pendingThinkingSignature, a.pendingRedactedBlob = "", "", ""
	a.mu.Unlock()
	if thinkingText == "" {
		thinkingText = respThinkingText
	}
	if thinkingSig == "" {
		thinkingSig = respThinkingSig
	}
	if redacted == "" {
		redacted = respRedacted
	}

	if tail != "" {
		a.Scrollback.AppendLineString(tail)
	}
	a.Scrollback.AppendLineString("")

	assistantMsg := models.Message{Role: models.RoleAssistant, Blocks: resp.ContentBlocks}
	a.appendConversation(assistantMsg)

	if !hasToolCall {
		a.appendEvent(ctx, models.EventAssistant, assistantMsg.Text(), nil)
		a.appendUsageEvent(ctx, resp.Usage)
		a.mu.Lock()
		_ = a.transition(WaitingForLLM, Idle)
		hook := a.fireIdleHookLocked()
		turnEnd := a.fireTurnEndLocked()
		a.mu.Unlock()
		if turnEnd != nil {
			turnEnd(nil)
		}
		if hook != nil {
			hook()
		}
		return
	}

	data := models.DataToolCall{
		ToolCallID: toolCall.ToolCallID,
		ToolName:   toolCall.ToolName,
		ToolArgs:   toolCall.ToolArgumentsRaw,
	}
	if thinkingText != "" {
		data.Thinking = &models.DataThinking{Text: thinkingText, Signature: thinkingSig}
	}
	if redacted != "" {
		data.RedactedThinking = &models.DataRedacted{Data: redacted}
	}
	raw, _ := json.Marshal(data)
	a.appendEvent(ctx, models.EventToolCall, "", raw)

	a.mu.Lock()
	_ = a.transition(WaitingForLLM, ExecutingTool)
	a.currentToolCallID = toolCall.ToolCallID
	a.currentToolName = toolCall.ToolName
	a.currentToolArgsJSON = toolCall.ToolArgumentsRaw
	a.mu.Unlock()

	logging.Debug("agent %s dispatching tool %s", a.ID, toolCall.ToolName)
	toolCtx, toolEnd := trace.StartToolCall(ctx, toolCall.ToolName)
	if err := a.tool.StartDeferred(toolCtx, a.ID, toolCall.ToolName, toolCall.ToolArgumentsRaw, func(result tools.Result) {
		a.onToolComplete(ctx, toolCall, result, toolEnd)
	}); err != nil {
		a.onToolComplete(ctx, toolCall, tools.Result{Success: false, Output: json.RawMessage(fmt.Sprintf("%q", err.Error()))}, toolEnd)
	}
}

func (a *Agent) drainStreamingTailLocked() string {
	tail := a.streamingLineBuffer.String()
	a.streamingLineBuffer.Reset()
	if tail == "" {
		return ""
	}
	if a.streamingFirstLine {
		a.streamingFirstLine = false
		return render.StylePrefix(render.StyleAssistant) + tail
	}
	return tail
}

func firstToolCall(blocks []models.ContentBlock) (models.ContentBlock, bool) {
	for _, b := range blocks {
		if b.Kind == models.BlockToolCall {
			return b, true
		}
	}
	return models.ContentBlock{}, false
}

// thinkingBlocks pulls the thinking text/signature and redacted-thinking
// blob out of a completion's structured content blocks (spec.md §4.5
// "Thinking-block handling"), mirroring firstToolCall's scan. Streaming
// deltas only ever carry thinking text, never the signature or a redacted
// blob, so onCompletion falls back to these whenever the streamed value is
// still empty.
func thinkingBlocks(blocks []models.ContentBlock) (text, signature, redacted string) {
	for _, b := range blocks {
		switch b.Kind {
		case models.BlockThinking:
			text = b.ThinkingText
			signature = b.ThinkingSignature
		case models.BlockRedactedThinking:
			redacted = b.RedactedBlob
		}
	}
	return text, signature, redacted
}

// onToolComplete is the tool worker's on_complete hook for an
// ExecutingTool turn: it decides whether to loop back to WaitingForLLM or
// settle at Idle (spec.md §4.5, §4.7).
func (a *Agent) onToolComplete(ctx context.Context, call models.ContentBlock, result tools.Result, toolEnd trace.EndFunc) {
	if toolEnd != nil {
		if !result.Success {
			toolEnd(fmt.Errorf("tool %s failed", call.ToolName))
		} else {
			toolEnd(nil)
		}
	}

	a.mu.Lock()
	interrupted := a.interruptRequested
	a.mu.Unlock()
	if interrupted {
		return
	}

	resultMsg := models.Message{Role: models.RoleTool, Blocks: []models.ContentBlock{
		models.ToolResultBlock(call.ToolCallID, result.Output),
	}}
	a.appendConversation(resultMsg)

	data := models.DataToolResult{ToolCallID: call.ToolCallID, Name: call.ToolName, Output: result.Output, Success: result.Success}
	raw, _ := json.Marshal(data)
	a.appendEvent(ctx, models.EventToolResult, "", raw)

	a.mu.Lock()
	a.toolIterationCount++
	cont := a.ShouldContinueToolLoop(models.FinishToolUse)
	if cont {
		_ = a.transition(ExecutingTool, WaitingForLLM)
	} else {
		_ = a.transition(ExecutingTool, Idle)
	}
	var hook func()
	var turnEnd trace.EndFunc
	if !cont {
		hook = a.fireIdleHookLocked()
		turnEnd = a.fireTurnEndLocked()
	}
	a.mu.Unlock()

	if !cont {
		if turnEnd != nil {
			turnEnd(nil)
		}
		if hook != nil {
			hook()
		}
		return
	}

	req := a.buildRequest()
	if err := a.adapter.StartStream(ctx, req, a.onStreamEvent, a.onCompletion); err != nil {
		a.Scrollback.AppendLineString(render.StylePrefix(render.StyleToolFail) + "error: " + err.Error())
		a.mu.Lock()
		_ = a.transition(WaitingForLLM, Idle)
		hook := a.fireIdleHookLocked()
		turnEnd := a.fireTurnEndLocked()
		a.mu.Unlock()
		if turnEnd != nil {
			turnEnd(err)
		}
		if hook != nil {
			hook()
		}
	}
}

// fireIdleHookLocked returns and clears the pending idle hook. Caller holds
// a.mu; the returned function must be invoked after unlocking since it may
// itself touch Scrollback or call back into the agent.
func (a *Agent) fireIdleHookLocked() func() {
	fn := a.onIdleHook
	a.onIdleHook = nil
	return fn
}

// fireTurnEndLocked returns and clears the pending turn-trace end
// function. Caller holds a.mu; the returned function must be invoked
// after unlocking.
func (a *Agent) fireTurnEndLocked() trace.EndFunc {
	fn := a.turnEnd
	a.turnEnd = nil
	return fn
}

func (a *Agent) appendConversation(msg models.Message) {
	a.mu.Lock()
	a.Conversation = append(a.Conversation, msg)
	a.mu.Unlock()
}

func (a *Agent) appendEvent(ctx context.Context, kind models.EventKind, content string, data json.RawMessage) {
	_ = a.appendEventStored(ctx, kind, content, data)
}

// appendEventStored is appendEvent's sibling for callers that need the
// store-assigned event (CreateMark needs its row ID so a later rewind can
// name it in DataRewind.TargetMessageID, per spec.md §3 invariant 4). A
// store write failure returns the zero Event; per spec.md §7 that is a
// warn-in-the-debug-log tradeoff, not a fatal one, so the in-memory mark
// still exists for this session even though a restart would lose its
// event row.
func (a *Agent) appendEventStored(ctx context.Context, kind models.EventKind, content string, data json.RawMessage) models.Event {
	if a.sink == nil {
		return models.Event{}
	}
	ev := models.Event{AgentID: a.ID, Kind: kind, Content: content, Data: data, CreatedAt: time.Now()}
	stored, err := a.sink.AppendEvent(ctx, ev)
	if err != nil {
		logging.Debug("agent %s append event %s failed: %v", a.ID, kind, err)
		return models.Event{}
	}
	return stored
}

// Clear drops the conversation and scrollback (marks and out-of-band
// streams are untouched), mirroring the replay engine's handling of an
// EventClear record (replay.Result.apply). Only valid from Idle.
func (a *Agent) Clear(ctx context.Context) error {
	a.mu.Lock()
	if a.state != Idle {
		a.mu.Unlock()
		return fmt.Errorf("agentfsm: clear requires idle state, agent is %s", a.state)
	}
	a.Conversation = nil
	a.Scrollback.Clear()
	a.mu.Unlock()

	a.appendEvent(ctx, models.EventClear, "", nil)
	return nil
}

func (a *Agent) appendUsageEvent(ctx context.Context, usage models.Usage) {
	data := models.DataUsage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, ThinkingTokens: usage.ThinkingTokens}
	raw, _ := json.Marshal(data)
	a.appendEvent(ctx, models.EventUsage, "", raw)
	if a.metrics != nil {
		a.metrics.RecordUsage(a.Selector.Provider, a.Selector.Model, usage.InputTokens, usage.OutputTokens, usage.ThinkingTokens)
	}
}
