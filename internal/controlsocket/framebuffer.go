package controlsocket

import (
	"regexp"

	"github.com/mgreenly/ikigai-sub009/internal/scrollback"
)

// Span is one styled run of text within a Line. Style is the raw ANSI
// escape that was active for Text, or "" for unstyled text.
type Span struct {
	Text  string `json:"text"`
	Style string `json:"style,omitempty"`
}

// Line is one row of the framebuffer, decomposed into styled spans.
type Line struct {
	Spans []Span `json:"spans"`
}

// Framebuffer is a snapshot of the renderer's current output.
type Framebuffer struct {
	Lines []Line
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")

// FromScrollback decomposes every logical line of sb into spans by
// splitting on embedded ANSI SGR escapes — the inverse of the styling
// that render.wrap and render.StylePrefix (used by agentfsm) introduce.
func FromScrollback(sb *scrollback.Scrollback) Framebuffer {
	fb := Framebuffer{Lines: make([]Line, 0, sb.Len())}
	for i := 0; i < sb.Len(); i++ {
		raw, _ := sb.GetLineText(i)
		fb.Lines = append(fb.Lines, Line{Spans: splitSpans(string(raw))})
	}
	return fb
}

func splitSpans(line string) []Span {
	if line == "" {
		return []Span{{Text: ""}}
	}

	var spans []Span
	style := ""
	pos := 0
	matches := ansiEscape.FindAllStringIndex(line, -1)
	for _, m := range matches {
		if m[0] > pos {
			spans = append(spans, Span{Text: line[pos:m[0]], Style: style})
		}
		style = line[m[0]:m[1]]
		pos = m[1]
	}
	if pos < len(line) {
		spans = append(spans, Span{Text: line[pos:], Style: style})
	}
	if len(spans) == 0 {
		spans = append(spans, Span{Text: ""})
	}
	return spans
}
