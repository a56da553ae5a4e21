// Package openai adapts model.Model onto the OpenAI Chat Completions API
// via github.com/openai/openai-go. As with the anthropic adapter, the wire
// codec stays entirely inside this package.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements model.Model on top of OpenAI Chat Completions.
type Client struct {
	chat   ChatClient
	model  string
	maxTok int
	temp   float64
}

// New builds a Client from an explicit ChatClient, allowing tests to inject
// a fake.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP transport.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, opts)
}

// Capabilities reports what this adapter supports.
func (c *Client) Capabilities() model.ModelCapabilities {
	return model.ModelCapabilities{
		Tools:          true,
		Images:         false,
		SystemMessages: true,
		Temperature:    true,
		MaxContext:     128_000,
	}
}

// Complete issues a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.CompletionResponse{}, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return model.CompletionResponse{}, classify(err)
	}
	return translateResponse(resp)
}

// Stream issues a streaming chat completion.
func (c *Client) Stream(ctx context.Context, req model.CompletionRequest) (model.StreamSequence, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = sdk.ChatCompletionStreamOptionsParam{IncludeUsage: param.NewOpt(true)}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, classify(err)
	}
	return newStreamer(stream), nil
}

func (c *Client) prepareRequest(req model.CompletionRequest) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: "openai: messages are required"}
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: err.Error()}
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: msgs,
	}
	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	}
	temp := c.temp
	if req.Config.Temperature != nil {
		temp = *req.Config.Temperature
	}
	if temp > 0 {
		params.Temperature = param.NewOpt(temp)
	}
	if len(req.Config.StopSequences) > 0 {
		params.Stop = sdk.ChatCompletionNewParamsStopUnion{OfStringArray: req.Config.StopSequences}
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	return &params, nil
}

func encodeMessages(msgs []message.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Text))
		case message.RoleUser:
			out = append(out, sdk.UserMessage(textOf(m.Parts)))
		case message.RoleAssistant:
			amsg := sdk.ChatCompletionAssistantMessageParam{}
			if m.Text != "" {
				amsg.Content.OfString = param.NewOpt(m.Text)
			}
			for _, tc := range m.ToolCalls {
				amsg.ToolCalls = append(amsg.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &amsg})
		case message.RoleToolResult:
			out = append(out, sdk.ToolMessage(m.Content, m.CallID))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func textOf(parts []message.Part) string {
	var text string
	for _, p := range parts {
		if tp, ok := p.(message.TextPart); ok {
			text += tp.Text
		}
	}
	return text
}

func encodeTools(defs []model.ToolDefinition) []sdk.ChatCompletionToolParam {
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var params map[string]any
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &params)
		}
		out = append(out, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: param.NewOpt(def.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func translateResponse(resp *sdk.ChatCompletion) (model.CompletionResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return model.CompletionResponse{}, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := model.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: mapFinishReason(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, message.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	out.Usage = message.Usage{
		Requests:     1,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	return out, nil
}

func mapFinishReason(reason string) message.StopReason {
	switch reason {
	case "stop":
		return message.StopEndTurn
	case "tool_calls":
		return message.StopToolUse
	case "length":
		return message.StopMaxTokens
	case "content_filter":
		return message.StopContentFiltered
	default:
		return message.StopEndTurn
	}
}
