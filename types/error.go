package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	ErrElementNotFound   ErrorCode = "ELEMENT_NOT_FOUND"
	ErrSecurityViolation ErrorCode = "SECURITY_VIOLATION"
	ErrNavigationBlocked ErrorCode = "NAVIGATION_BLOCKED"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrSessionClosed     ErrorCode = "SESSION_CLOSED"
	ErrSessionLimit      ErrorCode = "SESSION_LIMIT"
	ErrDriverInit        ErrorCode = "DRIVER_INIT"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrInvalidStep       ErrorCode = "INVALID_STEP"
	ErrPatternNotFound   ErrorCode = "PATTERN_NOT_FOUND"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured error with code, message, and metadata.
// RetryAfter is populated only for RATE_LIMITED errors.
type Error struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cause      error         `json:"-"`
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
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRetryAfter records how long the caller should wait before retrying.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable checks if an error is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// RetryAfter extracts the retry-after hint from a RATE_LIMITED error,
// returning zero when the error carries none.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
