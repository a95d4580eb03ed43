package engine

import (
	"errors"
	"fmt"
)

// ErrEmptySessionID is returned when the engine accepts a start but names no session.
var ErrEmptySessionID = errors.New("engine returned empty session_id")

// TransientNetworkError wraps a request that never produced an engine answer
// (connection refused, reset, timeout). Callers retry per their own policy.
type TransientNetworkError struct {
	Op  string // e.g. "GET /crawl/status"
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient network error: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a payload the monitor could not understand.
// It is counted and dropped, never fatal.
type ProtocolError struct {
	Source string // "poll", "push", or the HTTP operation
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %v", e.Source, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx engine response with its machine-readable reason.
type APIError struct {
	Op         string
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: engine returned HTTP %d (%s): %s", e.Op, e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: engine returned HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsTransient reports whether err is a TransientNetworkError.
func IsTransient(err error) bool {
	var te *TransientNetworkError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
