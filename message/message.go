// Package message defines the wire-independent conversation primitives
// shared by the model, tool, and agent packages: Message, ContentPart,
// ToolCall, Usage, and StopReason (spec §3).
package message

import (
	"encoding/json"
	"fmt"
)

// Role discriminates a Message's place in the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Part is implemented by the concrete content-part variants carried by a
// User message: TextPart and ImagePart.
type Part interface {
	isPart()
}

// TextPart is a plain-text content part.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) isPart() {}

// ImagePart is an inline image content part.
type ImagePart struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

func (ImagePart) isPart() {}

// Message is a tagged variant over the four conversation turn kinds: System,
// User, Assistant, and ToolResult (spec §3). Only the fields relevant to Role
// are populated; callers should not read fields outside a turn's shape.
type Message struct {
	Role Role

	// Text is set for System turns and optionally for Assistant turns.
	Text string

	// Parts is set for User turns.
	Parts []Part

	// ToolCalls is set for Assistant turns that request tool execution.
	ToolCalls []ToolCall

	// CallID and Content are set for ToolResult turns: CallID identifies the
	// ToolCall being answered and Content is the serialized tool output (or
	// error/feedback text) fed back to the model.
	CallID  string
	Content string
	// IsError marks a ToolResult turn produced from a tool Failure, so
	// providers that distinguish error tool-results can render accordingly.
	IsError bool
}

// System builds a System message.
func System(text string) Message { return Message{Role: RoleSystem, Text: text} }

// User builds a User message from one or more content parts.
func User(parts ...Part) Message { return Message{Role: RoleUser, Parts: parts} }

// UserText is shorthand for User(TextPart{Text: text}).
func UserText(text string) Message { return User(TextPart{Text: text}) }

// Assistant builds an Assistant message carrying optional text and tool calls.
func Assistant(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Text: text, ToolCalls: calls}
}

// ToolResultMessage builds a ToolResult message answering callID.
func ToolResultMessage(callID, content string, isError bool) Message {
	return Message{Role: RoleToolResult, CallID: callID, Content: content, IsError: isError}
}

// ToolCall is a single model-issued tool invocation request. Arguments are
// kept as raw JSON text because they come from the model byte-for-byte and
// must round-trip to/from provider wire formats without a decode/re-encode
// that could reorder fields or lose precision (spec §3).
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// StopReason classifies why a model completion ended (spec §4.1).
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopToolUse         StopReason = "tool_use"
	StopMaxTokens       StopReason = "max_tokens"
	StopStopSequence    StopReason = "stop_sequence"
	StopContentFiltered StopReason = "content_filtered"
	StopGuardrail       StopReason = "guardrail"
)

// Usage is additive-only accumulated token/request counters (spec §3).
type Usage struct {
	Requests     int
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns InputTokens + OutputTokens.
func (u Usage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Requests:     u.Requests + other.Requests,
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// messageJSON mirrors Message for JSON round-tripping via an explicit Kind
// discriminator, following the same shape the teacher uses for its Part
// union (runtime/agent/model's MarshalJSON/UnmarshalJSON).
type messageJSON struct {
	Role      Role            `json:"role"`
	Text      string          `json:"text,omitempty"`
	Parts     []json.RawMessage `json:"parts,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type partJSON struct {
	Kind string `json:"kind"`
	TextPart
	ImagePart
}

// MarshalJSON encodes Message, preserving concrete Part types via a Kind
// discriminator on each entry of Parts.
func (m Message) MarshalJSON() ([]byte, error) {
	aux := messageJSON{
		Role:      m.Role,
		Text:      m.Text,
		ToolCalls: m.ToolCalls,
		CallID:    m.CallID,
		Content:   m.Content,
		IsError:   m.IsError,
	}
	for i, p := range m.Parts {
		enc, err := encodePart(p)
		if err != nil {
			return nil, fmt.Errorf("message: encode parts[%d]: %w", i, err)
		}
		aux.Parts = append(aux.Parts, enc)
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes Message, materializing concrete Part implementations.
func (m *Message) UnmarshalJSON(data []byte) error {
	var aux messageJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Role = aux.Role
	m.Text = aux.Text
	m.ToolCalls = aux.ToolCalls
	m.CallID = aux.CallID
	m.Content = aux.Content
	m.IsError = aux.IsError
	m.Parts = nil
	for i, raw := range aux.Parts {
		part, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("message: decode parts[%d]: %w", i, err)
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func encodePart(p Part) (json.RawMessage, error) {
	switch v := p.(type) {
	case TextPart:
		return json.Marshal(partJSON{Kind: "text", TextPart: v})
	case ImagePart:
		return json.Marshal(partJSON{Kind: "image", ImagePart: v})
	default:
		return nil, fmt.Errorf("unknown part type %T", p)
	}
}

func decodePart(raw json.RawMessage) (Part, error) {
	var pj partJSON
	if err := json.Unmarshal(raw, &pj); err != nil {
		return nil, err
	}
	switch pj.Kind {
	case "text":
		return pj.TextPart, nil
	case "image":
		return pj.ImagePart, nil
	default:
		return nil, fmt.Errorf("unknown part kind %q", pj.Kind)
	}
}
