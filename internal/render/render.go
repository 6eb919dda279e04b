// Package render implements the event renderer of spec.md §4.2: a pure,
// deterministic mapping from (kind, content, data, interrupted) to a
// sequence of scrollback lines. The same function backs live dispatch and
// replay, which is what makes a restart invisible to the user.
package render

import (
	"encoding/json"
	"fmt"

	"github.com/mgreenly/ikigai-sub009/internal/ikerr"
	"github.com/mgreenly/ikigai-sub009/internal/models"
	"github.com/mgreenly/ikigai-sub009/internal/scrollback"
)

// Style is an opaque ANSI wrapper. The same Kind+interrupted combination
// always maps to the same Style, satisfying spec.md §4.2's determinism
// requirement without committing to one specific palette.
type Style string

const (
	StyleNormal      Style = "\x1b[0m"
	StyleAssistant   Style = "\x1b[36m" // cyan
	StyleUser        Style = "\x1b[37m" // white
	StyleSystem      Style = "\x1b[90m" // bright black
	StyleToolCall    Style = "\x1b[33m" // yellow
	StyleToolOK      Style = "\x1b[32m" // green
	StyleToolFail    Style = "\x1b[31m" // red
	StyleMark        Style = "\x1b[35m" // magenta
	StyleInterrupted Style = "\x1b[9m"  // strikethrough
	StyleStatus      Style = "\x1b[2m"  // dim
)

func wrap(style Style, text string) string {
	if text == "" {
		return ""
	}
	return string(style) + text + string(StyleNormal)
}

// StylePrefix returns the raw ANSI escape for style with no trailing reset.
// It exists for incremental streaming display (agentfsm's line buffering),
// which prepends it once to the first flushed line of a response; the
// durable EventAssistant record is rendered afterward through RenderEvent
// like any other event, so this never becomes a second replay path.
func StylePrefix(style Style) string {
	return string(style)
}

// RenderEvent appends the lines produced by one event to sb. It is the
// single entry point both live dispatch and the replay engine call.
func RenderEvent(sb *scrollback.Scrollback, kind models.EventKind, content string, data json.RawMessage, interrupted bool) error {
	content = trimTrailingNewlines(content)

	switch kind {
	case models.EventUser:
		renderContentBlock(sb, StyleUser, content, interrupted)
	case models.EventAssistant:
		renderContentBlock(sb, StyleAssistant, content, interrupted)
	case models.EventSystem:
		renderContentBlock(sb, StyleSystem, content, interrupted)
	case models.EventToolResult:
		style := StyleToolOK
		if d, err := decodeToolResult(data); err == nil && !d.Success {
			style = StyleToolFail
		}
		renderContentBlock(sb, style, content, interrupted)
	case models.EventToolCall:
		renderToolCall(sb, data, interrupted)
	case models.EventMark:
		renderMark(sb, data)
	case models.EventRewind:
		renderRewind(sb, data)
	case models.EventClear, models.EventInterrupted, models.EventUsage, models.EventFork, models.EventCommand:
		// No visible rendering; status-only kinds (spec.md §4.2).
	default:
		return ikerr.Wrap(ikerr.InvalidKind, "render.RenderEvent", "unknown event kind %q", kind)
	}
	return nil
}

func trimTrailingNewlines(s string) string {
	for len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}

// renderContentBlock renders content as a styled block followed by one
// blank line, per spec.md §4.2. Empty content renders nothing at all — no
// spurious blank line.
func renderContentBlock(sb *scrollback.Scrollback, style Style, content string, interrupted bool) {
	if content == "" {
		return
	}
	if interrupted {
		style = StyleInterrupted
	}
	sb.AppendLineString(wrap(style, content))
	sb.AppendLineString("")
}

func renderToolCall(sb *scrollback.Scrollback, data json.RawMessage, interrupted bool) {
	var d models.DataToolCall
	name := "?"
	hint := ""
	if data != nil {
		if err := json.Unmarshal(data, &d); err == nil {
			name = d.ToolName
			hint = argHint(d.ToolArgs)
		}
	}
	line := fmt.Sprintf("→ %s(%s)", name, hint)
	style := StyleToolCall
	if interrupted {
		style = StyleInterrupted
	}
	sb.AppendLineString(wrap(style, line))
	sb.AppendLineString("")
}

// argHint renders a short human-readable summary of a tool call's
// arguments: the first key=value pair found, or "..." for anything that
// doesn't decode as a JSON object.
func argHint(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(args, &m); err != nil || len(m) == 0 {
		return "..."
	}
	for k, v := range m {
		return fmt.Sprintf("%s=%s", k, string(v))
	}
	return ""
}

// renderMark renders the box-drawing checkpoint indicator recovered from
// the original source's marks.c (`─── Mark: LABEL ───` / `─── Mark ───`),
// in place of the literal "/mark" line.
func renderMark(sb *scrollback.Scrollback, data json.RawMessage) {
	var d models.DataMark
	if data != nil {
		_ = json.Unmarshal(data, &d)
	}
	var line string
	if d.Label != "" {
		line = "─── Mark: " + d.Label + " ───"
	} else {
		line = "─── Mark ───"
	}
	sb.AppendLineString(wrap(StyleMark, line))
	sb.AppendLineString("")
}

// renderRewind renders the box-drawing rewind indicator from marks.c
// (`─── Rewound to: LABEL ───` / `─── Rewound to last mark ───`). It is
// appended last, after the surviving conversation and marks have already
// been rebuilt, matching ik_mark_rewind_to's ordering.
func renderRewind(sb *scrollback.Scrollback, data json.RawMessage) {
	var d models.DataRewind
	if data != nil {
		_ = json.Unmarshal(data, &d)
	}
	var line string
	if d.TargetLabel != "" {
		line = "─── Rewound to: " + d.TargetLabel + " ───"
	} else {
		line = "─── Rewound to last mark ───"
	}
	sb.AppendLineString(wrap(StyleMark, line))
	sb.AppendLineString("")
}

func decodeToolResult(data json.RawMessage) (models.DataToolResult, error) {
	var d models.DataToolResult
	if len(data) == 0 {
		return d, fmt.Errorf("no data")
	}
	err := json.Unmarshal(data, &d)
	return d, err
}
