// Package errdefs defines the error taxonomy shared by every gateway
// operation. Errors carry a stable machine-readable code, a caller-safe
// message, a retryability hint, and optional structured details.
package errdefs

import (
	"errors"
	"fmt"
)

// Code identifies an error class. The set of values is part of the API
// contract and must not change between releases.
type Code string

const (
	CodeSessionNotFound      Code = "session_not_found"
	CodeSessionActive        Code = "session_active"
	CodeSessionBusy          Code = "session_busy"
	CodeSessionCrashed       Code = "session_crashed"
	CodeCapacityExhausted    Code = "capacity_exhausted"
	CodeInvalidPath          Code = "invalid_path"
	CodeFileTooLarge         Code = "file_too_large"
	CodeTimeout              Code = "timeout"
	CodeRuntimeUnavailable   Code = "runtime_unavailable"
	CodeImageMissing         Code = "image_missing"
	CodeEvaluatorUnreachable Code = "evaluator_unreachable"
	CodeInvalidArgument      Code = "invalid_argument"
	CodeInternal             Code = "internal"

	// CodeExecutionError reports that submitted code itself failed
	// (nonzero exit or an interpreter error), as opposed to a gateway
	// failure. Partial output still accompanies the error.
	CodeExecutionError Code = "execution_error"

	// CodeFileNotFound reports a read or list against a path that does
	// not exist inside the workspace.
	CodeFileNotFound Code = "file_not_found"
)

// defaultRetryable holds the per-code retryability policy. Timeout defaults
// to false (the execute policy); file-transfer paths override it.
var defaultRetryable = map[Code]bool{
	CodeSessionNotFound:      false,
	CodeSessionActive:        true,
	CodeSessionBusy:          true,
	CodeSessionCrashed:       false,
	CodeCapacityExhausted:    true,
	CodeInvalidPath:          false,
	CodeFileTooLarge:         false,
	CodeTimeout:              false,
	CodeRuntimeUnavailable:   true,
	CodeImageMissing:         false,
	CodeEvaluatorUnreachable: true,
	CodeInvalidArgument:      false,
	CodeInternal:             false,
	CodeExecutionError:       false,
	CodeFileNotFound:         false,
}

// Error is the concrete error value every operation returns on failure.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Details   map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports code equality so sentinel-style matching with errors.Is works
// against any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDetails attaches structured details and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRetryable overrides the default retryability for this error.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// New builds an Error with the code's default retryability.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: defaultRetryable[code],
	}
}

// Wrap is New with an underlying cause preserved for logging and
// errors.Is/As chains. The cause never appears in caller-facing envelopes.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.cause = cause
	return e
}

// AsError extracts the taxonomy error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code for err, or CodeInternal for errors that
// escaped classification.
func CodeOf(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
