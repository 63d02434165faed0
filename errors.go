package bunkscan

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure cases.
var (
	// ErrMissingBaseURL is returned when no backend base URL is configured.
	ErrMissingBaseURL = errors.New("backend base URL not configured")

	// ErrMissingAnonKey is returned when no public API key is configured.
	ErrMissingAnonKey = errors.New("anon key not configured")

	// ErrInvalidRequest is returned when an AnalyzeRequest does not populate
	// exactly one input field. Blank and whitespace-only values count as
	// absent. No network call is made for an invalid request.
	ErrInvalidRequest = errors.New("exactly one of URL, Text, or ImageRef must be set")
)

// OpError wraps errors from client operations with the operation name.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("bunkscan: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
