package core

import (
	"context"
	"time"

	"dinerbell/internal/types"
)

// Authenticator decouples the HTTP layer from how bearer keys are verified.
type Authenticator interface {
	// ResolveToken returns the Actor owning token, or an AppError with
	// ErrCodeAuthTokenInvalid.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting.
// Production uses Redis; local runs without Redis use the in-memory store.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and reports
	// whether the limit for the current window has been exceeded.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
	// Peek returns the counter for key in the current window without
	// incrementing it.
	Peek(ctx context.Context, key string, window time.Duration) (int, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// IdempotencyStatus is the lifecycle state of an idempotency key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord is the stored state of one Idempotency-Key.
type IdempotencyRecord struct {
	Status IdempotencyStatus `json:"status"`
	// Fingerprint identifies the request body the key was first used with.
	Fingerprint  string `json:"fingerprint"`
	ResponseCode int    `json:"response_code,omitempty"`
	ResponseBody []byte `json:"response_body,omitempty"`
}

// IdempotencyStore persists Idempotency-Key state, scoped per actor.
type IdempotencyStore interface {
	// Get returns the record for key, or nil when unknown.
	Get(ctx context.Context, scope, key string) (*IdempotencyRecord, error)
	// Begin claims key as processing. It returns false when another request
	// already holds the key.
	Begin(ctx context.Context, scope, key, fingerprint string) (bool, error)
	// Complete stores the final response for replay.
	Complete(ctx context.Context, scope, key string, rec IdempotencyRecord) error
	// Abandon forgets key so the request can be retried.
	Abandon(ctx context.Context, scope, key string) error
}
