// Package ratelimit enforces per-user, per-action quotas over a trailing
// one-minute window.
package ratelimit

import (
	"context"
	"time"

	"github.com/moedor-live/backend/internal/apperr"
	"github.com/moedor-live/backend/internal/metrics"
)

// Window is the length of the sliding window every quota is measured over.
const Window = time.Minute

// Actions with a quota.
const (
	ActionMessage = "message"
	ActionLike    = "like"
)

// Decision is the outcome of a single check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks and records one attempt of action by userID. An allowed
// attempt counts against the quota; a rejected one does not.
type Limiter interface {
	Check(ctx context.Context, userID, action string, limit int) (Decision, error)
}

// Enforce turns a rejection into an *apperr.RateLimitedError.
func Enforce(ctx context.Context, l Limiter, userID, action string, limit int) error {
	d, err := l.Check(ctx, userID, action, limit)
	if err != nil {
		return err
	}
	if !d.Allowed {
		metrics.RateLimited.WithLabelValues(action).Inc()
		return &apperr.RateLimitedError{Action: action, RetryAfter: d.RetryAfter}
	}
	return nil
}

func key(userID, action string) string {
	return action + ":" + userID
}
