//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError indicates a local invariant was violated. Rejected
// synchronously; the offending mutation is never partially applied.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// InvalidTransitionError indicates an illegal status transition was requested.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// DependencyError indicates a feature or job dependency is unmet.
type DependencyError struct {
	ID      string
	Missing []string
	Message string
}

func (e *DependencyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dependency error for %s: %s", e.ID, e.Message)
	}
	return fmt.Sprintf("dependency error for %s: unmet dependencies %v", e.ID, e.Missing)
}

// NotFoundError indicates a session was not present in the store.
type NotFoundError struct {
	SessionID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// ConflictError indicates two writers touched overlapping state. It is a
// resolvable condition, not a failure; the session stays usable while
// conflicted.
type ConflictError struct {
	SessionID uuid.UUID
	Paths     []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync conflict on session %s: paths %v", e.SessionID, e.Paths)
}

// RetryableError wraps a failure that will be retried because budget remains.
type RetryableError struct {
	Err        error
	RetryCount int
	MaxRetries int
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable failure (attempt %d/%d): %v", e.RetryCount, e.MaxRetries, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// TerminalError wraps a failure whose retry budget is exhausted or that is
// not retryable. Always surfaced to the caller, never discarded.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal failure: %v", e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }
