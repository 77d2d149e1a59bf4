package source

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents a classification of source failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassServer represents 5xx responses from the source.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents the source pushing back (429).
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassClient represents 4xx responses other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassMalformed represents an unexpected or undecodable response.
	ErrorClassMalformed ErrorClass = "malformed"
)

// Transient reports whether failures of this class are worth retrying.
func (c ErrorClass) Transient() bool {
	switch c {
	case ErrorClassNetwork, ErrorClassServer, ErrorClassRateLimit:
		return true
	default:
		return false
	}
}

// Error is a classified source failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("source %s error", e.Class)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable network failure.
func Transient(err error) error {
	return &Error{Class: ErrorClassNetwork, Err: err}
}

// Permanent wraps err as a non-retryable malformed-response failure.
func Permanent(err error) error {
	return &Error{Class: ErrorClassMalformed, Err: err}
}

// Classify returns the class of err. Context deadline errors count as
// network failures; unclassified errors are treated as malformed so they
// are never retried blindly.
func Classify(err error) ErrorClass {
	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork
	}
	return ErrorClassMalformed
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return err != nil && Classify(err).Transient()
}
