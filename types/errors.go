package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an error for retry and reporting decisions.
type ErrorCode string

// Engine error codes
const (
	ErrValidation        ErrorCode = "VALIDATION_ERROR"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrStepLimitExceeded ErrorCode = "STEP_LIMIT_EXCEEDED"
	ErrUnknownTool       ErrorCode = "UNKNOWN_TOOL_REFERENCE"
	ErrMalformedMarker   ErrorCode = "MALFORMED_TOOL_CALL_MARKER"
	ErrUnknownNode       ErrorCode = "UNKNOWN_NODE_REFERENCE"
)

// Tool error codes
const (
	ErrToolUpstreamStatus ErrorCode = "TOOL_UPSTREAM_STATUS"
	ErrToolFetchFailed    ErrorCode = "TOOL_FETCH_FAILED"
	ErrToolDeliveryFailed ErrorCode = "TOOL_DELIVERY_FAILED"
	ErrToolUnsupportedOp  ErrorCode = "TOOL_UNSUPPORTED_OPERATION"
)

// Ambient error codes
const (
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrProvider     ErrorCode = "PROVIDER_ERROR"
	ErrStore        ErrorCode = "STORE_ERROR"
	ErrConfig       ErrorCode = "CONFIG_ERROR"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error is the structured error carried through the engine. Code drives
// the retry decision in the node executor; Fatal marks definition bugs
// and runaway loops that must end the run regardless of node policy.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Fatal      bool      `json:"fatal,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	e := &Error{Code: code, Message: message}
	switch code {
	case ErrTimeout, ErrToolUpstreamStatus, ErrToolFetchFailed, ErrToolDeliveryFailed:
		e.Retryable = true
	case ErrStepLimitExceeded, ErrUnknownTool, ErrUnknownNode:
		e.Fatal = true
	}
	return e
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the upstream HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// GetCode extracts the error code from an error chain.
func GetCode(err error) ErrorCode {
	if e := AsError(err); e != nil {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the node executor may retry after err.
// Fatal errors are never retryable.
func IsRetryable(err error) bool {
	if e := AsError(err); e != nil {
		return e.Retryable && !e.Fatal
	}
	return false
}

// IsFatal reports whether err must end the run regardless of the
// node's continue_on_error policy.
func IsFatal(err error) bool {
	if e := AsError(err); e != nil {
		return e.Fatal
	}
	return false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
