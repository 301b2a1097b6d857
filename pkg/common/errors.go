package common

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is returned when a public operation receives malformed
// input. Nothing has been mutated when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UpstreamError wraps a failure reported by one of the upstream services.
// Transient errors (rate limiting, 5xx) are retried, everything else is
// fatal and propagated immediately.
type UpstreamError struct {
	Service   string
	Status    int
	Transient bool
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream error (status %d): %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s upstream error: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode exposes the upstream status for retry classification.
func (e *UpstreamError) HTTPStatusCode() int {
	return e.Status
}

// ParseError is returned when a structured response cannot be decoded. Raw
// keeps the text exactly as received so it can be shown for diagnostics.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse structured response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned by the client-side limiter before any upstream
// call is attempted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// ErrNotFound is returned when a referenced node or slot does not exist.
var ErrNotFound = errors.New("not found")

// Caption reduces an error to a short message suitable for a status line.
func Caption(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	var rl *RateLimitError
	var pe *ParseError
	var ue *UpstreamError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &rl):
		return fmt.Sprintf("Too many requests, try again in %ds", int(rl.RetryAfter.Seconds())+1)
	case errors.As(err, &pe):
		return "The response could not be understood, please try again"
	case errors.As(err, &ue):
		if ue.Transient {
			return fmt.Sprintf("The %s service is busy, please try again", ue.Service)
		}
		return fmt.Sprintf("The %s service failed: %v", ue.Service, ue.Err)
	case errors.Is(err, ErrNotFound):
		return "Not found"
	default:
		return err.Error()
	}
}
