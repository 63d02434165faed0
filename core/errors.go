package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes client errors.
type ErrorCode string

const (
	// ErrAnonymousDisabled means the backend rejected anonymous sign-in as a
	// matter of configuration. Recoverable: the host application can keep
	// running unauthenticated and surface a persistent warning.
	ErrAnonymousDisabled ErrorCode = "anonymous_disabled"
	// ErrSessionUnavailable means sign-in failed for any other reason and no
	// usable token exists.
	ErrSessionUnavailable ErrorCode = "session_unavailable"
	// ErrNetwork is a transport-level failure with no response obtained.
	ErrNetwork ErrorCode = "network"
	// ErrHTTP means the backend answered with a non-2xx status.
	ErrHTTP ErrorCode = "http"
	// ErrPollTimeout means the poll attempt budget ran out before a terminal
	// state was observed.
	ErrPollTimeout ErrorCode = "poll_timeout"
	// ErrJobFailed means the backend reported a terminal failure status.
	ErrJobFailed ErrorCode = "job_failed"
	// ErrMalformedResponse means a response body could not be parsed as the
	// expected JSON, or carried out-of-range data.
	ErrMalformedResponse ErrorCode = "malformed_response"
)

// Error provides rich context for SDK consumers. Details and Hint are
// backend-supplied diagnostics and are folded into the printed message so
// they are never dropped on the way to the user.
type Error struct {
	Code    ErrorCode
	Message string
	Status  int
	Details string
	Hint    string
	Raw     []byte
	wrapped error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Details != "" {
		fmt.Fprintf(&b, " (details: %s)", e.Details)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, " (hint: %s)", e.Hint)
	}
	if e.wrapped != nil {
		fmt.Fprintf(&b, ": %v", e.wrapped)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.wrapped }

// NewError builds an Error explicitly.
func NewError(code ErrorCode, message string, opts ...ErrorOption) *Error {
	e := &Error{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WrapError attaches a code to err unless it already carries one.
func WrapError(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: code, Message: err.Error(), wrapped: err}
}

// ErrorOption mutates an Error during construction.
type ErrorOption func(*Error)

// WithStatus sets the HTTP status code.
func WithStatus(status int) ErrorOption {
	return func(e *Error) { e.Status = status }
}

// WithDetails attaches the backend's details field.
func WithDetails(details string) ErrorOption {
	return func(e *Error) { e.Details = details }
}

// WithHint attaches the backend's hint field.
func WithHint(hint string) ErrorOption {
	return func(e *Error) { e.Hint = hint }
}

// WithRaw preserves the unparsed response body for downstream inspection.
func WithRaw(raw []byte) ErrorOption {
	return func(e *Error) { e.Raw = raw }
}

// WithWrapped attaches an underlying error.
func WithWrapped(err error) ErrorOption {
	return func(e *Error) { e.wrapped = err }
}

func classify(code ErrorCode) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		var ce *Error
		if errors.As(err, &ce) {
			return ce.Code == code
		}
		return false
	}
}

// Helper predicates for common error handling patterns.
var (
	IsAnonymousDisabled  = classify(ErrAnonymousDisabled)
	IsSessionUnavailable = classify(ErrSessionUnavailable)
	IsNetwork            = classify(ErrNetwork)
	IsHTTP               = classify(ErrHTTP)
	IsPollTimeout        = classify(ErrPollTimeout)
	IsJobFailed          = classify(ErrJobFailed)
	IsMalformedResponse  = classify(ErrMalformedResponse)
)

// HTTPStatus extracts the status code carried by err, or 0.
func HTTPStatus(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}
