// Package anthropic adapts model.Model onto the Anthropic Claude Messages
// API via github.com/anthropics/anthropic-sdk-go. The wire codec (message,
// tool, and tool-result encoding) stays entirely inside this package; no
// anthropic-sdk-go type ever crosses into model.CompletionRequest.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can supply a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the Anthropic adapter.
type Options struct {
	// DefaultModel is the Claude model identifier used for every request
	// (e.g. string(sdk.ModelClaudeSonnet4_5)).
	DefaultModel string
	// MaxTokens is sent when the request does not set Config.MaxTokens.
	MaxTokens int
	// Temperature is sent when the request does not set Config.Temperature.
	Temperature float64
}

// Client implements model.Model on top of Anthropic Claude Messages.
type Client struct {
	msg    MessagesClient
	model  string
	maxTok int
	temp   float64
}

// New builds a Client from an explicit Messages client, allowing tests to
// inject a fake.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP
// transport, reading ANTHROPIC_API_KEY-style defaults via apiKey.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, opts)
}

// Capabilities reports what this adapter supports.
func (c *Client) Capabilities() model.ModelCapabilities {
	return model.ModelCapabilities{
		Tools:          true,
		Images:         true,
		SystemMessages: true,
		Temperature:    true,
		MaxContext:     200_000,
	}
}

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.CompletionResponse{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return model.CompletionResponse{}, classify(err)
	}
	return translateResponse(msg)
}

// Stream issues a streaming Messages.New call and adapts SSE events into
// model.StreamEvent values.
func (c *Client) Stream(ctx context.Context, req model.CompletionRequest) (model.StreamSequence, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classify(err)
	}
	return newStreamer(stream), nil
}

func (c *Client) prepareRequest(req model.CompletionRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: "anthropic: messages are required"}
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: err.Error()}
	}
	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: "anthropic: max_tokens must be positive"}
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: err.Error()}
		}
		params.Tools = tools
	}
	temp := c.temp
	if req.Config.Temperature != nil {
		temp = *req.Config.Temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if len(req.Config.StopSequences) > 0 {
		params.StopSequences = req.Config.StopSequences
	}
	return &params, nil
}

func encodeMessages(msgs []message.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			if m.Text != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Text})
			}
		case message.RoleUser:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch p := part.(type) {
				case message.TextPart:
					if p.Text != "" {
						blocks = append(blocks, sdk.NewTextBlock(p.Text))
					}
				case message.ImagePart:
					blocks = append(blocks, sdk.NewImageBlockBase64(p.MimeType, base64.StdEncoding.EncodeToString(p.Data)))
				}
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewUserMessage(blocks...))
			}
		case message.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if m.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				var input any = json.RawMessage(tc.Arguments)
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case message.RoleToolResult:
			block := sdk.NewToolResultBlock(m.CallID, m.Content, m.IsError)
			conversation = append(conversation, sdk.NewUserMessage(block))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var fields map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &fields); err != nil {
				return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: fields}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) (model.CompletionResponse, error) {
	if msg == nil {
		return model.CompletionResponse{}, errors.New("anthropic: response message is nil")
	}
	var resp model.CompletionResponse
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, message.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	resp.Usage = message.Usage{
		Requests:     1,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	resp.StopReason = mapStopReason(msg.StopReason)
	return resp, nil
}

func mapStopReason(r sdk.StopReason) message.StopReason {
	switch r {
	case sdk.StopReasonEndTurn:
		return message.StopEndTurn
	case sdk.StopReasonToolUse:
		return message.StopToolUse
	case sdk.StopReasonMaxTokens:
		return message.StopMaxTokens
	case sdk.StopReasonStopSequence:
		return message.StopStopSequence
	default:
		return message.StopEndTurn
	}
}
