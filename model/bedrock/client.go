// Package bedrock adapts model.Model onto the AWS Bedrock Converse API via
// github.com/aws/aws-sdk-go-v2/service/bedrockruntime. As with the other
// provider adapters, the wire codec (message/tool encoding, document
// marshaling) stays entirely inside this package.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/model"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client the adapter
// uses, so tests can supply a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements model.Model on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float32
}

// New builds a Client from an explicit runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, model: opts.DefaultModel, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
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

// Complete issues a Converse request.
func (c *Client) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	input, toolNames, err := c.prepareRequest(req)
	if err != nil {
		return model.CompletionResponse{}, err
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.CompletionResponse{}, classify(err)
	}
	return translateResponse(out, toolNames)
}

// Stream issues a ConverseStream request and adapts incremental events.
func (c *Client) Stream(ctx context.Context, req model.CompletionRequest) (model.StreamSequence, error) {
	input, toolNames, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		ToolConfig:      input.ToolConfig,
		InferenceConfig: input.InferenceConfig,
	}
	out, err := c.runtime.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, classify(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newStreamer(stream, toolNames), nil
}

func (c *Client) prepareRequest(req model.CompletionRequest) (*bedrockruntime.ConverseInput, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: "bedrock: messages are required"}
	}
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: err.Error()}
	}
	toolConfig, toolNames, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, &model.LlmError{Kind: model.ErrInvalidRequest, Msg: err.Error()}
	}

	inference := &brtypes.InferenceConfiguration{}
	maxTokens := int32(req.Config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int32(c.maxTok)
	}
	if maxTokens > 0 {
		inference.MaxTokens = &maxTokens
	}
	temp := c.temp
	if req.Config.Temperature != nil {
		temp = float32(*req.Config.Temperature)
	}
	if temp > 0 {
		inference.Temperature = &temp
	}
	if len(req.Config.StopSequences) > 0 {
		inference.StopSequences = req.Config.StopSequences
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         &c.model,
		Messages:        messages,
		System:          system,
		ToolConfig:      toolConfig,
		InferenceConfig: inference,
	}
	return input, toolNames, nil
}

func encodeMessages(msgs []message.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var out []brtypes.Message
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			if m.Text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
			}
		case message.RoleUser:
			var blocks []brtypes.ContentBlock
			for _, p := range m.Parts {
				if tp, ok := p.(message.TextPart); ok && tp.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: tp.Text})
				}
				if ip, ok := p.(message.ImagePart); ok {
					blocks = append(blocks, &brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
						Format: imageFormat(ip.MimeType),
						Source: &brtypes.ImageSourceMemberBytes{Value: ip.Data},
					}})
				}
			}
			if len(blocks) > 0 {
				out = append(out, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
			}
		case message.RoleAssistant:
			var blocks []brtypes.ContentBlock
			if m.Text != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Text})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: &tc.ID,
					Name:      &tc.Name,
					Input:     document.NewLazyDocument(json.RawMessage(tc.Arguments)),
				}})
			}
			if len(blocks) > 0 {
				out = append(out, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
			}
		case message.RoleToolResult:
			block := &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: &m.CallID,
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
			}}
			if m.IsError {
				block.Value.Status = brtypes.ToolResultStatusError
			}
			out = append(out, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{block}})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, system, nil
}

func imageFormat(mimeType string) brtypes.ImageFormat {
	switch mimeType {
	case "image/png":
		return brtypes.ImageFormatPng
	case "image/gif":
		return brtypes.ImageFormatGif
	case "image/webp":
		return brtypes.ImageFormatWebp
	default:
		return brtypes.ImageFormatJpeg
	}
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	names := make(map[string]string, len(defs))
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
			}
		}
		names[def.Name] = def.Name
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        &def.Name,
			Description: &def.Description,
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, names, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput, toolNames map[string]string) (model.CompletionResponse, error) {
	if out == nil {
		return model.CompletionResponse{}, errors.New("bedrock: response is nil")
	}
	var resp model.CompletionResponse
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Content += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				resp.ToolCalls = append(resp.ToolCalls, message.ToolCall{
					ID:        ptrStr(v.Value.ToolUseId),
					Name:      ptrStr(v.Value.Name),
					Arguments: decodeDocument(v.Value.Input),
				})
			}
		}
	}
	if u := out.Usage; u != nil {
		resp.Usage = message.Usage{
			Requests:     1,
			InputTokens:  int(ptrInt32(u.InputTokens)),
			OutputTokens: int(ptrInt32(u.OutputTokens)),
		}
	}
	resp.StopReason = mapStopReason(out.StopReason)
	return resp, nil
}

func mapStopReason(r brtypes.StopReason) message.StopReason {
	switch r {
	case brtypes.StopReasonEndTurn:
		return message.StopEndTurn
	case brtypes.StopReasonToolUse:
		return message.StopToolUse
	case brtypes.StopReasonMaxTokens:
		return message.StopMaxTokens
	case brtypes.StopReasonStopSequence:
		return message.StopStopSequence
	case brtypes.StopReasonContentFiltered:
		return message.StopContentFiltered
	default:
		return message.StopEndTurn
	}
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}

func ptrStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ptrInt32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}
