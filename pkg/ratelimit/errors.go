package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRateLimitExceeded is matched by every *LimitError.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Scope identifies which admission check denied a request.
type Scope string

const (
	// ScopeIdentity limits requests per client identity per window.
	ScopeIdentity Scope = "identity"

	// ScopeSession limits concurrent searches per session.
	ScopeSession Scope = "session"

	// ScopeGlobal limits requests across all clients per window.
	ScopeGlobal Scope = "global"
)

// LimitError reports a denied request.
type LimitError struct {
	Scope      Scope
	Limit      int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s scope (limit %d), retry after %s",
		ErrRateLimitExceeded, e.Scope, e.Limit, e.RetryAfter.Round(time.Second))
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *LimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at least 1.
func (e *LimitError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
