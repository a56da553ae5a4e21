// Package model defines the provider-agnostic Model contract the agent loop
// drives: a completion/streaming boundary, capability declaration, and the
// LlmError taxonomy (spec §4.1, §6). Concrete providers (Anthropic, OpenAI,
// Bedrock) live in sibling packages and translate to/from their own wire
// formats; this package never imports a provider SDK.
package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pelagus-ai/agentrt/message"
)

type (
	// ToolDefinition is the provider-facing shape of a callable tool: name,
	// description, and a JSON Schema describing its arguments.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// Config carries the optional sampling parameters of a completion
	// request.
	Config struct {
		Temperature   *float64
		MaxTokens     int
		StopSequences []string
	}

	// CompletionRequest is the provider-agnostic request shape (spec §6).
	CompletionRequest struct {
		Messages     []message.Message
		Tools        []ToolDefinition
		OutputSchema json.RawMessage
		Config       Config
	}

	// CompletionResponse is the provider-agnostic response shape (spec §3).
	CompletionResponse struct {
		Content    string
		Refusal    string
		ToolCalls  []message.ToolCall
		StopReason message.StopReason
		Usage      message.Usage
	}

	// ModelCapabilities declares what a Model implementation supports, so
	// the agent loop can fail fast with CapabilityNotSupported instead of
	// sending a request the provider will reject (spec §4.1).
	ModelCapabilities struct {
		Tools          bool
		Images         bool
		SystemMessages bool
		Temperature    bool
		MaxContext     int
	}

	// Model is the provider boundary: Complete and Stream (spec §4.1, §6).
	// Implementations must be safe for concurrent use across runs.
	Model interface {
		Capabilities() ModelCapabilities
		Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
		Stream(ctx context.Context, req CompletionRequest) (StreamSequence, error)
	}

	// StreamSequence is a lazy sequence of StreamEvent values. Next returns
	// (event, true, nil) for each event, then (zero, false, nil) once the
	// final Done event has been delivered, or (zero, false, err) on error.
	// Close must always be called, including after an error.
	StreamSequence interface {
		Next(ctx context.Context) (StreamEvent, bool, error)
		Close() error
	}
)

// StreamEventKind discriminates StreamEvent's variant (spec §3).
type StreamEventKind string

const (
	EventContentDelta    StreamEventKind = "content_delta"
	EventToolCallStart   StreamEventKind = "tool_call_start"
	EventToolCallArgs    StreamEventKind = "tool_call_args_delta"
	EventToolCallEnd     StreamEventKind = "tool_call_end"
	EventUsage           StreamEventKind = "usage"
	EventDone            StreamEventKind = "done"
)

// StreamEvent is a tagged variant over the streaming protocol (spec §3).
// Only the fields relevant to Kind are populated.
type StreamEvent struct {
	Kind StreamEventKind

	// ContentDelta
	TextDelta string

	// ToolCallStart / ToolCallArgsDelta / ToolCallEnd
	ToolCallID   string
	ToolCallName string
	ArgsDelta    string

	// Usage
	Usage message.Usage

	// Done
	Response CompletionResponse
}

// ErrorKind classifies an LlmError (spec §4.1). RetryPolicy consults this to
// decide whether an error is retryable.
type ErrorKind string

const (
	ErrRateLimited           ErrorKind = "rate_limited"
	ErrServerError           ErrorKind = "server_error"
	ErrNetworkError          ErrorKind = "network_error"
	ErrInvalidAPIKey         ErrorKind = "invalid_api_key"
	ErrInvalidRequest        ErrorKind = "invalid_request"
	ErrContextLengthExceeded ErrorKind = "context_length_exceeded"
	ErrContentFiltered       ErrorKind = "content_filtered"
	ErrCapabilityNotSupported ErrorKind = "capability_not_supported"
	ErrDecodingError         ErrorKind = "decoding_error"
)

// LlmError is the structured error type returned by Model implementations.
type LlmError struct {
	Kind ErrorKind
	Msg  string
	// RetryAfter is populated for ErrRateLimited when the provider supplied
	// a hint.
	RetryAfter *int // seconds
	// MaxContext is populated for ErrContextLengthExceeded.
	MaxContext int
	Cause      error
}

func (e *LlmError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *LlmError) Unwrap() error { return e.Cause }

// NewLlmError constructs an LlmError of the given kind.
func NewLlmError(kind ErrorKind, msg string) *LlmError {
	return &LlmError{Kind: kind, Msg: msg}
}

// WrapLlmError constructs an LlmError of the given kind wrapping cause.
func WrapLlmError(kind ErrorKind, cause error) *LlmError {
	if cause == nil {
		return nil
	}
	return &LlmError{Kind: kind, Msg: cause.Error(), Cause: cause}
}

// ValidateRequest fails fast when req asks for something caps does not
// support, producing an ErrCapabilityNotSupported error (spec §4.1).
func ValidateRequest(caps ModelCapabilities, req CompletionRequest) error {
	if len(req.Tools) > 0 && !caps.Tools {
		return NewLlmError(ErrCapabilityNotSupported, "model does not support tools")
	}
	if req.Config.Temperature != nil && !caps.Temperature {
		return NewLlmError(ErrCapabilityNotSupported, "model does not support temperature")
	}
	for _, m := range req.Messages {
		if m.Role == message.RoleSystem && !caps.SystemMessages {
			return NewLlmError(ErrCapabilityNotSupported, "model does not support system messages")
		}
		for _, p := range m.Parts {
			if _, ok := p.(message.ImagePart); ok && !caps.Images {
				return NewLlmError(ErrCapabilityNotSupported, "model does not support images")
			}
		}
	}
	return nil
}
