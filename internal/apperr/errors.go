// Package apperr defines the error kinds shared by the live-show services.
// Callers match them with errors.Is / errors.As; handlers translate them
// to HTTP statuses and WebSocket error events.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOption    = errors.New("invalid option")
	ErrAlreadyVoted     = errors.New("already voted")
	ErrPollClosed       = errors.New("poll closed")
	ErrLimitReached     = errors.New("limit reached")
	ErrFrameUnavailable = errors.New("frame unavailable")
	ErrNoActiveSession  = errors.New("no active session")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitedError is returned when a user exceeded an action quota.
type RateLimitedError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Action, e.RetryAfter.Round(time.Second))
}

// RetryAfterSeconds rounds up so clients never retry too early.
func (e *RateLimitedError) RetryAfterSeconds() int {
	s := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}

// UnavailableError wraps a failure of an external collaborator
// (camera source, speech vendor, artifact storage).
type UnavailableError struct {
	Resource string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return e.Resource + " unavailable"
	}
	return fmt.Sprintf("%s unavailable: %v", e.Resource, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as an UnavailableError for resource.
func Unavailable(resource string, err error) error {
	return &UnavailableError{Resource: resource, Err: err}
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	var ve *ValidationError
	var rl *RateLimitedError
	var ue *UnavailableError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidOption):
		return "invalid_option"
	case errors.Is(err, ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, ErrPollClosed):
		return "poll_closed"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrFrameUnavailable):
		return "frame_unavailable"
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.As(err, &ue):
		return "resource_unavailable"
	default:
		return "internal_error"
	}
}
