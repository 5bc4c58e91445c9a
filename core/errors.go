/*
errors.go - Centralized error types for the service desk core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engines wrap these with context; the API maps them to HTTP statuses.

ERROR CATEGORIES:
  1. Store errors - Missing rows, uniqueness violations, oversized reads
  2. State errors - Lifecycle transitions attempted out of order
  3. Validation errors - Bad input from callers

USAGE:
  if errors.Is(err, core.ErrInvalidStateTransition) {
      // 409 Conflict
  }
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced row doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a uniqueness constraint rejects a write,
	// e.g. a second period for the same contract and month.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidStateTransition is returned when an operation is attempted
	// on a record whose status does not allow it.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrRowLimitExceeded is returned when a bounded read would be truncated.
	ErrRowLimitExceeded = errors.New("row limit exceeded")

	// ErrValidation is returned for malformed caller input.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthenticated is returned when an operation needs an actor.
	ErrUnauthenticated = errors.New("actor required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidStateTransitionError reports a lifecycle violation on a period.
type InvalidStateTransitionError struct {
	PeriodID PeriodID
	From     PeriodStatus
	To       PeriodStatus
	Reason   string
}

func (e *InvalidStateTransitionError) Error() string {
	msg := fmt.Sprintf("period %s: cannot move from %s to %s", e.PeriodID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFound builds a NotFoundError.
func NewNotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a state or uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition) || errors.Is(err, ErrDuplicate)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}
