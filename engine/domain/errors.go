package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline failure classes. Callers match with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmbeddingFailed  = errors.New("embedding failed")
	ErrIndexUnavailable = errors.New("vector index unavailable")
	ErrTransport        = errors.New("transport failure")
)

// Finer-grained input errors. Each unwraps to ErrInvalidInput so fronts can
// classify without enumerating causes.
var (
	ErrEmptyQuestion   = fmt.Errorf("%w: empty question", ErrInvalidInput)
	ErrQuestionTooLong = fmt.Errorf("%w: question too long", ErrInvalidInput)
	ErrEmptyAnswer     = fmt.Errorf("%w: empty answer", ErrInvalidInput)
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// RowError records a single rejected ingestion row. Row errors are collected
// into the ingestion report, never raised as pipeline failures.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}
