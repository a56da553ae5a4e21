package tool

import (
	"errors"
	"fmt"
)

// Error is a structured tool failure. It preserves a message and an optional
// wrapped cause, following the teacher's toolerrors.ToolError shape so
// errors.Is/As compose across retry/decode layers instead of collapsing to a
// plain string.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error with the given message.
func NewError(msg string) *Error { return &Error{Message: msg} }

// Errorf constructs an Error via fmt.Sprintf.
func Errorf(format string, args ...any) *Error { return &Error{Message: fmt.Sprintf(format, args...)} }

// FromError converts an arbitrary error into an Error, preserving it as a
// cause if it is not already one so errors.Is/As still reach it.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Message: err.Error(), Cause: err}
}

// ErrNotFound is wrapped by the Error returned when a model requests a tool
// name that is not registered (spec §4.3 step 1).
var ErrNotFound = errors.New("tool not found")

// NotFound builds the Error the tool execution engine returns for an unknown
// tool name.
func NotFound(name string) *Error {
	return &Error{Message: fmt.Sprintf("tool %q not found", name), Cause: ErrNotFound}
}

// ErrArgumentParsing is wrapped by the Error returned when a Handle fails to
// decode the model-supplied raw JSON arguments into the tool's typed Args.
var ErrArgumentParsing = errors.New("tool argument parsing failed")

// ArgumentParsing builds the Error returned for a decode failure.
func ArgumentParsing(cause error) *Error {
	return &Error{Message: "argument parsing failed", Cause: fmt.Errorf("%w: %v", ErrArgumentParsing, cause)}
}
