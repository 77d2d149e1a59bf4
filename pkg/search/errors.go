package search

import "errors"

// Common errors returned by the orchestrator.
var (
	// ErrSourceUnavailable is returned when the source could not produce a
	// result and no stale entry was available.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrRetryExhausted is returned when all fetch attempts failed transiently.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a retry backoff.
	ErrContextCancelled = errors.New("context cancelled")
)
