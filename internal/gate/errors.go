package gate

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when no credential is supplied or the supplied
// credential does not resolve to a registered agent.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError reports the first problem found in a submission, named by
// field. Validation never mutates state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// RateLimitedError reports an exhausted quota scope. RetryAfter is the number
// of seconds until the next UTC midnight, when the daily counter starts fresh.
type RateLimitedError struct {
	Scope      string // "origin" or "agent"
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s scope, retry in %ds", e.Scope, e.RetryAfter)
}
