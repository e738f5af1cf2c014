package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)

// Tree and item rule violations. Each wraps ErrValidation or ErrConflict so
// callers can branch on the broad class.
var (
	ErrDepthExceeded    = fmt.Errorf("%w: maximum location depth exceeded", ErrValidation)
	ErrDuplicateName    = fmt.Errorf("%w: a sibling with this name already exists", ErrConflict)
	ErrLocationNotEmpty = fmt.Errorf("%w: location still has child locations or items", ErrConflict)
	ErrCycle            = fmt.Errorf("%w: a location cannot be moved under itself", ErrValidation)
	ErrInvalidTags      = fmt.Errorf("%w: invalid tags", ErrValidation)
)

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}
