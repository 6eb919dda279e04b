package agentfsm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/render"
	"github.com/mgreenly/ikigai-sub009/internal/scrollback"
)

// CreateMark implements spec.md §4.10 mark_create: records the current
// conversation length under an optional label and renders a /mark event.
func (a *Agent) CreateMark(ctx context.Context, label string) models.Mark {
	a.mu.Lock()
	mark := models.Mark{
		MessageIndex: len(a.Conversation),
		Label:        label,
		Timestamp:    time.Now(),
	}
	a.Marks = append(a.Marks, mark)
	a.mu.Unlock()

	data, _ := json.Marshal(models.DataMark{Label: label})
	stored := a.appendEventStored(ctx, models.EventMark, "", data)
	_ = render.RenderEvent(a.Scrollback, models.EventMark, "", data, false)

	a.mu.Lock()
	mark.EventID = stored.ID
	if n := len(a.Marks); n > 0 {
		a.Marks[n-1].EventID = stored.ID
	}
	a.mu.Unlock()

	return mark
}

// FindMark implements spec.md §4.10 mark_find: the most recent mark if
// label is empty, else the most recent mark with a matching label,
// searched newest-first.
func (a *Agent) FindMark(label string) (models.Mark, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.Marks) == 0 {
		return models.Mark{}, ikerr.Wrap(ikerr.InvalidArg, "agentfsm.FindMark", "no marks found")
	}
	if label == "" {
		return a.Marks[len(a.Marks)-1], nil
	}
	for i := len(a.Marks) - 1; i >= 0; i-- {
		if a.Marks[i].Label == label {
			return a.Marks[i], nil
		}
	}
	return models.Mark{}, ikerr.Wrap(ikerr.InvalidArg, "agentfsm.FindMark", "mark not found: %s", label)
}

// RewindToMark implements spec.md §4.10 rewind_to_mark: truncates the
// conversation to the mark's position, drops marks after it (keeping the
// target), then clears and rebuilds the scrollback from what survives.
func (a *Agent) RewindToMark(ctx context.Context, target models.Mark) error {
	a.mu.Lock()
	if target.MessageIndex > len(a.Conversation) {
		a.mu.Unlock()
		return ikerr.Wrap(ikerr.OutOfRange, "agentfsm.RewindToMark", "mark index %d beyond conversation length %d", target.MessageIndex, len(a.Conversation))
	}
	a.Conversation = a.Conversation[:target.MessageIndex]

	keep := a.Marks[:0:0]
	targetPos := -1
	for i, m := range a.Marks {
		if m == target {
			targetPos = i
			break
		}
	}
	if targetPos >= 0 {
		keep = append(keep, a.Marks[:targetPos+1]...)
	} else {
		for _, m := range a.Marks {
			if m.MessageIndex <= target.MessageIndex {
				keep = append(keep, m)
			}
		}
	}
	a.Marks = keep

	conv := append([]models.Message(nil), a.Conversation...)
	marks := append([]models.Mark(nil), a.Marks...)
	system := a.SystemPrompt
	a.mu.Unlock()

	a.Scrollback.Clear()
	renderConversationAndMarks(a.Scrollback, system, conv, marks)

	data, _ := json.Marshal(models.DataRewind{TargetMessageID: target.EventID, TargetLabel: target.Label})
	_ = render.RenderEvent(a.Scrollback, models.EventRewind, "", data, false)
	a.appendEvent(ctx, models.EventRewind, "", data)
	return nil
}

// renderConversationAndMarks rebuilds a scrollback from scratch: the
// system message first (if any), then the conversation in order, then the
// surviving marks. It is the one place both Interrupt and RewindToMark
// rebuild from, so a restart-free rewind and the replay engine agree on
// what a given conversation+marks state looks like.
func renderConversationAndMarks(sb *scrollback.Scrollback, system string, conv []models.Message, marks []models.Mark) {
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
	for _, m := range marks {
		data, _ := json.Marshal(models.DataMark{Label: m.Label})
		_ = render.RenderEvent(sb, models.EventMark, "", data, false)
	}
}
