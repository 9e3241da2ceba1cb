package llm

import (
	"fmt"
	"time"
)

// AuthError is returned when the API rejects the credential.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%d): %s", e.Status, e.Message)
}

// RateLimitError is returned on HTTP 429. RetryAfter is zero when the
// server did not say.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "rate limited: " + e.Message
}

// TimeoutError is returned when the call's deadline passes.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "analysis call timed out: " + e.Err.Error() }
func (e *TimeoutError) Unwrap() error { return e.Err }

// UpstreamError covers every other failure: transport errors, 5xx and
// unexpected 4xx statuses, and responses that cannot be decoded.
type UpstreamError struct {
	Status int // 0 for transport or decode failures.
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream error (%d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upstream error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
