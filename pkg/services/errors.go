package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced entity is absent.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a concurrent race was lost, e.g. a job
	// was claimed by another agent or a submitted id already exists.
	ErrConflict = errors.New("conflict")

	// ErrIllegalState is returned when a requested transition is not
	// permitted from the entity's current state.
	ErrIllegalState = errors.New("illegal state transition")

	// ErrForbidden is returned when an agent acts on a job it does not own.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
