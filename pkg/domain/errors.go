package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrCorrelationTimeout is recorded when a bounded wait for an asynchronous response expires.
var ErrCorrelationTimeout = errors.New("correlation timeout")

// ConfigurationError is raised when configuration references a state or API that does not exist.
// It is the only error that aborts a turn.
type ConfigurationError struct {
	Ref    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Ref, e.Reason)
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(ref, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Ref: ref, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ActionExecutionError records a failed API or script call.
type ActionExecutionError struct {
	ActionID string
	Code     string
	Message  string
	Cause    error
}

func (e *ActionExecutionError) Error() string {
	msg := fmt.Sprintf("action %s failed", e.ActionID)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Cause
}

// UnresolvedDependencyError is recorded when required inputs are missing at execution time.
type UnresolvedDependencyError struct {
	ActionID string
	Missing  []string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("action %s has unresolved inputs: %s", e.ActionID, strings.Join(e.Missing, ", "))
}

// CycleError describes actions that could not be placed in a topological order.
type CycleError struct {
	Actions []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle or unresolved chain among: %s", strings.Join(e.Actions, ", "))
}

// PersistenceError wraps a failed session write. It is logged, never returned to the caller of a turn.
type PersistenceError struct {
	SessionID string
	Cause     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist session %s: %v", e.SessionID, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
