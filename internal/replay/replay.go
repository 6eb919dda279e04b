// Package replay implements the Replay Engine of spec.md §4.6: a pure
// function from one agent's event log to its reconstructed conversation,
// scrollback, and marks. It performs no I/O, so unit tests exercise it
// directly without a store, the same way the teacher's agent package keeps
// its phase functions free of persistence concerns (loop.go's streamPhase /
// continuePhase take already-loaded state and return decisions, leaving the
// store calls to their caller).
package replay

import (
	"encoding/json"
	"sort"

	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/render"
	"github.com/mgreenly/ikigai-sub009/internal/scrollback"
)

// Result is one agent's reconstructed state.
type Result struct {
	Conversation []models.Message
	Scrollback   *scrollback.Scrollback
	Marks        []models.Mark
}

// Agent replays events (already filtered to a single agent, in any order)
// into a Result. Events are sorted by CreatedAt ascending before
// replaying, per spec.md §4.6's ordering rule.
func Agent(events []models.Event) (Result, error) {
	sorted := make([]models.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	r := Result{Scrollback: scrollback.New()}

	for _, ev := range sorted {
		if err := r.apply(ev); err != nil {
			return Result{}, ikerr.Wrap(ikerr.Parse, "replay.Agent", "event id %d: %v", ev.ID, err)
		}
	}
	return r, nil
}

func (r *Result) apply(ev models.Event) error {
	switch ev.Kind {
	case models.EventClear:
		r.Conversation = nil
		r.Scrollback.Clear()
		return nil

	case models.EventSystem:
		return render.RenderEvent(r.Scrollback, ev.Kind, ev.Content, ev.Data, false)

	case models.EventUser:
		r.Conversation = append(r.Conversation, models.Message{
			Role:   models.RoleUser,
			Blocks: []models.ContentBlock{models.TextBlock(ev.Content)},
		})
		return render.RenderEvent(r.Scrollback, ev.Kind, ev.Content, ev.Data, false)

	case models.EventAssistant:
		r.Conversation = append(r.Conversation, models.Message{
			Role:   models.RoleAssistant,
			Blocks: []models.ContentBlock{models.TextBlock(ev.Content)},
		})
		return render.RenderEvent(r.Scrollback, ev.Kind, ev.Content, ev.Data, false)

	case models.EventUsage:
		// Rendered by RenderEvent as a no-op visually, but still appended
		// to the event stream the caller folds through; nothing to add to
		// the conversation.
		return render.RenderEvent(r.Scrollback, ev.Kind, ev.Content, ev.Data, false)

	case models.EventToolCall:
		var d models.DataToolCall
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &d); err != nil {
				return err
			}
		}
		var blocks []models.ContentBlock
		if d.Thinking != nil {
			blocks = append(blocks, models.ThinkingBlock(d.Thinking.Text, d.Thinking.Signature))
		}
		if d.RedactedThinking != nil {
			blocks = append(blocks, models.RedactedThinkingBlock(d.RedactedThinking.Data))
		}
		blocks = append(blocks, models.ToolCallBlock(d.ToolCallID, d.ToolName, d.ToolArgs, ""))
		r.Conversation = append(r.Conversation, models.Message{Role: models.RoleAssistant, Blocks: blocks})
		return render.RenderEvent(r.Scrollback, ev.Kind, ev.Content, ev.Data, false)

	case models.EventToolResult:
		var d models.DataToolResult
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &d); err != nil {
				return err
			}
		}
		r.Conversation = append(r.Conversation, models.Message{
			Role:   models.RoleTool,
			Blocks: []models.ContentBlock{models.ToolResultBlock(d.ToolCallID, d.Output)},
		})
		return render.RenderEvent(r.Scrollback, ev.Kind, ev.Content, ev.Data, false)

	case models.EventMark:
		var d models.DataMark
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &d); err != nil {
				return err
			}
		}
		r.Marks = append(r.Marks, models.Mark{
			EventID:      ev.ID,
			MessageIndex: len(r.Conversation),
			Label:        d.Label,
			Timestamp:    ev.CreatedAt,
		})
		return render.RenderEvent(r.Scrollback, ev.Kind, ev.Content, ev.Data, false)

	case models.EventRewind:
		var d models.DataRewind
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &d); err != nil {
				return err
			}
		}
		return r.applyRewind(d)

	case models.EventInterrupted:
		r.markLastUserTurnInterrupted()
		return nil

	case models.EventFork, models.EventCommand:
		return render.RenderEvent(r.Scrollback, ev.Kind, ev.Content, ev.Data, false)

	default:
		return ikerr.Wrap(ikerr.InvalidKind, "replay.apply", "unknown event kind %q", ev.Kind)
	}
}

// applyRewind truncates the conversation to the target mark's message
// index, drops marks that come after it while keeping the target mark
// itself, and rebuilds the scrollback from scratch by re-rendering the
// surviving conversation and marks — the same reconstruction
// agentfsm.Agent.RewindToMark performs live.
func (r *Result) applyRewind(d models.DataRewind) error {
	targetIdx := -1
	for i, m := range r.Marks {
		if m.EventID == d.TargetMessageID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return ikerr.Wrap(ikerr.OutOfRange, "replay.applyRewind", "rewind target mark %d not found", d.TargetMessageID)
	}
	target := r.Marks[targetIdx]
	if target.MessageIndex > len(r.Conversation) {
		return ikerr.Wrap(ikerr.OutOfRange, "replay.applyRewind", "mark index %d exceeds conversation length %d", target.MessageIndex, len(r.Conversation))
	}

	r.Conversation = r.Conversation[:target.MessageIndex]
	survivingMarks := r.Marks[:targetIdx+1]
	r.Marks = append([]models.Mark(nil), survivingMarks...)

	r.Scrollback.Clear()
	for _, msg := range r.Conversation {
		kind, content := eventKindForMessage(msg)
		if err := render.RenderEvent(r.Scrollback, kind, content, nil, msg.Interrupted); err != nil {
			return err
		}
	}
	for _, m := range r.Marks {
		data, _ := json.Marshal(models.DataMark{Label: m.Label})
		if err := render.RenderEvent(r.Scrollback, models.EventMark, "", data, false); err != nil {
			return err
		}
	}

	rewindData, _ := json.Marshal(d)
	return render.RenderEvent(r.Scrollback, models.EventRewind, "", rewindData, false)
}

func eventKindForMessage(msg models.Message) (models.EventKind, string) {
	switch msg.Role {
	case models.RoleUser:
		return models.EventUser, msg.Text()
	case models.RoleTool:
		return models.EventToolResult, msg.Text()
	default:
		return models.EventAssistant, msg.Text()
	}
}

// markLastUserTurnInterrupted marks every message from the most recent
// user message onward as interrupted, mirroring
// agentfsm.markCurrentTurnInterrupted's turn-boundary rule.
func (r *Result) markLastUserTurnInterrupted() {
	start := -1
	for i := len(r.Conversation) - 1; i >= 0; i-- {
		if r.Conversation[i].Role == models.RoleUser {
			start = i
			break
		}
	}
	if start < 0 {
		return
	}
	for i := start; i < len(r.Conversation); i++ {
		r.Conversation[i].Interrupted = true
	}
}
