package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the caller identity is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when a valid identity lacks operator rights.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when a stored record does not exist for the caller.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownFinancialYear is returned when no rule table exists for a code.
	ErrUnknownFinancialYear = errors.New("unknown financial year")
)

// ValidationError rejects a request before any computation runs.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// InvariantViolation signals corrupt statutory data or an internal defect.
// It aborts the request with a server error.
type InvariantViolation struct {
	Component string
	Reason    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Component, e.Reason)
}
