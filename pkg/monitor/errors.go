package monitor

import (
	"errors"
	"fmt"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

var (
	// ErrInvalidTarget is returned when the start URL is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("invalid target url")

	// ErrNotTerminal is returned by Acknowledge while a session is still active.
	ErrNotTerminal = errors.New("session is not in a terminal phase")

	// ErrStopped is returned once the monitor has shut down.
	ErrStopped = errors.New("monitor stopped")
)

// ConflictError rejects a start while another session is active.
// Nothing was sent to the engine.
type ConflictError struct {
	SessionID string
	Phase     models.Phase
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("crawl session %s is %s", e.SessionID, e.Phase)
}

// ControlError reports a start or stop the engine rejected or never answered.
// The session phase is left at its last known value.
type ControlError struct {
	Op        string // "start" or "stop"
	SessionID string
	Err       error
}

func (e *ControlError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s crawl %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s crawl: %v", e.Op, e.Err)
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsControl reports whether err is a ControlError.
func IsControl(err error) bool {
	var ce *ControlError
	return errors.As(err, &ce)
}
