package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mgreenly/ikigai-sub009/internal/models"
)

// OpenAIConfig configures an OpenAI-backed Adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAI is a production Adapter over the Chat Completions streaming API.
type OpenAI struct {
	client *openai.Client
	model  string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewOpenAI builds an OpenAI adapter from cfg.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClientWithConfig(config), model: model}
}

func (o *OpenAI) StartStream(ctx context.Context, req models.Request, onStream StreamCallback, onComplete CompletionCallback) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("openai: stream already in flight")
	}
	streamCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	model := req.Selector.Model
	if model == "" {
		model = o.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.System, req.Messages),
		Tools:    toOpenAITools(req.Tools),
		Stream:   true,
	}

	stream, err := o.client.CreateChatCompletionStream(streamCtx, chatReq)
	if err != nil {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return err
	}

	go o.pumpStream(stream, onStream, onComplete)
	return nil
}

func (o *OpenAI) pumpStream(stream *openai.ChatCompletionStream, onStream StreamCallback, onComplete CompletionCallback) {
	defer stream.Close()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	var text, finishReason string
	toolCalls := map[int]*openai.ToolCall{}
	var usage openai.Usage

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			onComplete(models.Completion{Success: false, ErrorMessage: err.Error()})
			return
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		delta := choice.Delta
		if delta.Content != "" {
			text += delta.Content
			onStream(models.StreamEvent{Kind: models.StreamTextDelta, TextDelta: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			existing, ok := toolCalls[idx]
			if !ok {
				existing = &openai.ToolCall{ID: tc.ID, Type: tc.Type}
				toolCalls[idx] = existing
				onStream(models.StreamEvent{Kind: models.StreamToolCallStart, ToolCallID: tc.ID, ToolCallName: tc.Function.Name})
			}
			existing.Function.Name += tc.Function.Name
			existing.Function.Arguments += tc.Function.Arguments
			if tc.Function.Arguments != "" {
				onStream(models.StreamEvent{Kind: models.StreamToolCallDelta, ToolCallID: existing.ID, ToolCallArgs: json.RawMessage(tc.Function.Arguments)})
			}
		}
	}

	for _, tc := range toolCalls {
		onStream(models.StreamEvent{Kind: models.StreamToolCallDone, ToolCallID: tc.ID})
	}

	onComplete(completionFromOpenAI(text, finishReason, toolCalls, usage))
}

func (o *OpenAI) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *OpenAI) Pump(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running, nil
}

func (o *OpenAI) NextTimeout() (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return 20, true
	}
	return 0, false
}

func toOpenAIMessages(system string, msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.RoleTool:
			role = openai.ChatMessageRoleTool
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text()})
	}
	return out
}

func toOpenAITools(specs []models.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.InputSchema,
			},
		})
	}
	return out
}

func completionFromOpenAI(text, finishReason string, toolCalls map[int]*openai.ToolCall, usage openai.Usage) models.Completion {
	var blocks []models.ContentBlock
	if text != "" {
		blocks = append(blocks, models.TextBlock(text))
	}
	for _, tc := range toolCalls {
		blocks = append(blocks, models.ToolCallBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments), ""))
	}
	finish := models.FinishStop
	switch openai.FinishReason(finishReason) {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		finish = models.FinishToolUse
	case openai.FinishReasonLength:
		finish = models.FinishLength
	}
	return models.Completion{
		Success: true,
		Response: &models.Response{
			ContentBlocks: blocks,
			FinishReason:  finish,
			Usage: models.Usage{
				InputTokens:  usage.PromptTokens,
				OutputTokens: usage.CompletionTokens,
			},
		},
	}
}

var _ Adapter = (*OpenAI)(nil)
