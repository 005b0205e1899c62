package core

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"dinerbell/internal/types"
)

// FailureClass groups failures by whether trying again can help.
type FailureClass string

const (
	FailureNone       FailureClass = ""
	FailureTransport  FailureClass = "transport"
	FailureValidation FailureClass = "validation"
	FailureStale      FailureClass = "stale"
	FailurePermanent  FailureClass = "permanent"
)

// Retryable reports whether a failure of this class may be retried.
func (c FailureClass) Retryable() bool { return c == FailureTransport }

// ErrStale marks a notification that is past its delivery window.
var ErrStale = errors.New("too old to send")

// ErrInvalidContent marks a notification with empty title or body.
var ErrInvalidContent = errors.New("invalid notification data")

// Classify maps an error to its failure class.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	switch {
	case errors.Is(err, ErrStale):
		return FailureStale
	case errors.Is(err, ErrInvalidContent):
		return FailureValidation
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTransport
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		code := string(appErr.Code)
		switch {
		case strings.HasPrefix(code, "upstream_"), appErr.Code == types.ErrCodeInternalDB:
			return FailureTransport
		case strings.HasPrefix(code, "validation_"):
			return FailureValidation
		}
		return FailurePermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransport
	}
	return FailurePermanent
}

// RetryPolicy defines exponential backoff for failed scheduled rows.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy is used when configuration does not override it.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     5 * time.Minute,
	MaxDelay:      2 * time.Hour,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before the next attempt:
// min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// overflow
		d = policy.MaxDelay
	}
	return d
}

// RetryInput describes a failed attempt on a scheduled row.
type RetryInput struct {
	Class        FailureClass
	Attempts     int
	Reached      int
	ScheduledFor time.Time
	Now          time.Time
	Staleness    time.Duration
}

// NextAttempt returns when a failed row should be retried, or nil when it
// should stay failed. Only transport failures that reached nobody are
// retried, so no recipient receives a duplicate push. The retry must land
// inside the staleness window.
func (p RetryPolicy) NextAttempt(in RetryInput) *time.Time {
	if !in.Class.Retryable() || in.Reached > 0 || in.Attempts >= p.MaxAttempts {
		return nil
	}
	at := in.Now.Add(CalculateNextRetry(p, in.Attempts-1))
	if in.Staleness > 0 && at.Sub(in.ScheduledFor) > in.Staleness {
		return nil
	}
	return &at
}
