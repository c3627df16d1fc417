package types

import "errors"

// Domain errors. Callers match them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrStaleUpdate         = errors.New("stale update")
	ErrNoEligibleVenues    = errors.New("no eligible venues")
	ErrInvalidOrderContext = errors.New("invalid order context")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// ValidationError describes a rejected order field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid order context [" + e.Field + "]: " + e.Reason
}

// Unwrap lets errors.Is match ErrInvalidOrderContext
func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrderContext
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ArgumentError describes a rejected field of an admin or request payload
// that is not part of an order
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return "invalid argument [" + e.Field + "]: " + e.Reason
}

// Unwrap lets errors.Is match ErrInvalidArgument
func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// NewArgumentError creates an ArgumentError for field
func NewArgumentError(field, reason string) *ArgumentError {
	return &ArgumentError{Field: field, Reason: reason}
}
