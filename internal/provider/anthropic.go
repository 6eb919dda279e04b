package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// AnthropicConfig configures an Anthropic-backed Adapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Anthropic is the production Adapter talking to Anthropic's Messages API.
// The wire-level request/response shapes are the SDK's own concern (out of
// scope per spec.md §1); this type's job is only to translate
// models.Request/StreamEvent/Completion at the edges and drive the SDK's
// streaming iterator from Pump.
type Anthropic struct {
	client anthropic.Client
	model  string

	mu       sync.Mutex
	cancel   context.CancelFunc
	pumpDone chan struct{}
	running  bool
}

// NewAnthropic builds an Anthropic adapter from cfg.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model}
}

func (a *Anthropic) StartStream(ctx context.Context, req models.Request, onStream StreamCallback, onComplete CompletionCallback) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("anthropic: stream already in flight")
	}
	streamCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	done := make(chan struct{})
	a.pumpDone = done
	a.mu.Unlock()

	model := req.Selector.Model
	if model == "" {
		model = a.model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages:  toAnthropicMessages(req.Messages),
	}

	stream := a.client.Messages.NewStreaming(streamCtx, params)

	go func() {
		defer close(done)
		defer func() {
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
		}()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				onComplete(models.Completion{Success: false, ErrorMessage: err.Error()})
				return
			}
			emitStreamEvent(event, onStream)
		}
		if err := stream.Err(); err != nil {
			onComplete(models.Completion{Success: false, ErrorMessage: err.Error()})
			return
		}
		onComplete(completionFromMessage(acc))
	}()

	return nil
}

func (a *Anthropic) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Anthropic) Pump(ctx context.Context) (bool, error) {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	return running, nil
}

func (a *Anthropic) NextTimeout() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return 20, true
	}
	return 0, false
}

func toAnthropicMessages(msgs []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Blocks {
			switch b.Kind {
			case models.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case models.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolResultCallID, string(b.ToolResultJSON), false))
			}
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == models.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

// emitStreamEvent maps one Anthropic SSE event onto a models.StreamEvent.
// The SDK's event union covers far more than the core distinguishes; only
// the deltas spec.md §4.4 names are translated.
func emitStreamEvent(event anthropic.MessageStreamEventUnion, onStream StreamCallback) {
	switch event.Type {
	case "content_block_delta":
		delta := event.Delta
		if delta.Text != "" {
			onStream(models.StreamEvent{Kind: models.StreamTextDelta, TextDelta: delta.Text})
		}
		if delta.Thinking != "" {
			onStream(models.StreamEvent{Kind: models.StreamThinkingDelta, ThinkingDelta: delta.Thinking})
		}
		if delta.PartialJSON != "" {
			onStream(models.StreamEvent{Kind: models.StreamToolCallDelta, ToolCallArgs: json.RawMessage(delta.PartialJSON)})
		}
	case "content_block_start":
		if event.ContentBlock.Type == "tool_use" {
			onStream(models.StreamEvent{Kind: models.StreamToolCallStart, ToolCallID: event.ContentBlock.ID, ToolCallName: event.ContentBlock.Name})
		}
	case "content_block_stop":
		onStream(models.StreamEvent{Kind: models.StreamToolCallDone})
	case "message_start":
		onStream(models.StreamEvent{Kind: models.StreamStart})
	}
}

func completionFromMessage(msg anthropic.Message) models.Completion {
	var blocks []models.ContentBlock
	for _, c := range msg.Content {
		switch c.Type {
		case "text":
			blocks = append(blocks, models.TextBlock(c.Text))
		case "thinking":
			blocks = append(blocks, models.ThinkingBlock(c.Thinking, c.Signature))
		case "redacted_thinking":
			blocks = append(blocks, models.RedactedThinkingBlock(c.Data))
		case "tool_use":
			args, _ := json.Marshal(c.Input)
			blocks = append(blocks, models.ToolCallBlock(c.ID, c.Name, args, ""))
		}
	}
	finish := models.FinishStop
	if msg.StopReason == "tool_use" {
		finish = models.FinishToolUse
	} else if msg.StopReason == "max_tokens" {
		finish = models.FinishLength
	}
	return models.Completion{
		Success: true,
		Response: &models.Response{
			Model:         string(msg.Model),
			ContentBlocks: blocks,
			FinishReason:  finish,
			Usage: models.Usage{
				InputTokens:  int(msg.Usage.InputTokens),
				OutputTokens: int(msg.Usage.OutputTokens),
			},
		},
	}
}

var _ Adapter = (*Anthropic)(nil)
