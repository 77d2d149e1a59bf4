package query

import (
	"errors"
	"strings"
)

// ErrInvalidCriteria is matched by every *ValidationError.
var ErrInvalidCriteria = errors.New("invalid search criteria")

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when raw criteria fail validation.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrInvalidCriteria.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidCriteria
}
