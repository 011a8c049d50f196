package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Request / transport error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUnreachable        ErrorCode = "UNREACHABLE"
	ErrNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrMalformed          ErrorCode = "MALFORMED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Pipeline stage error codes
const (
	ErrGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrConversionFailed ErrorCode = "CONVERSION_FAILED"
	ErrDecodeError      ErrorCode = "DECODE_ERROR"
)

// Stage names the pipeline step an error originated from.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageConvert  Stage = "convert"
	StagePublish  Stage = "publish"
	StageFetch    Stage = "fetch"
	StageDecode   Stage = "decode"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Stage      Stage     `json:"stage,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Stage != "" {
		prefix = string(e.Stage) + "/" + prefix
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStage records which pipeline stage produced the error.
func (e *Error) WithStage(stage Stage) *Error {
	e.Stage = stage
	return e
}

// WithProvider sets the collaborator backend name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// GetStage extracts the pipeline stage from an error.
func GetStage(err error) Stage {
	if e, ok := AsError(err); ok {
		return e.Stage
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
