package types

import (
	"context"
	"slices"
)

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeService ActorType = "service"
	ActorTypeCron    ActorType = "cron"
	ActorTypeSystem  ActorType = "system"
)

// Scopes granted to authenticated callers.
const (
	ScopeNotificationsWrite = "notifications:write"
	ScopeTokensWrite        = "tokens:write"
	ScopeScheduledRead      = "scheduled:read"
	ScopeScheduledWrite     = "scheduled:write"
	ScopeCronRun            = "cron:run"
)

// Actor represents the authenticated entity performing an operation.
type Actor struct {
	ID     string
	Type   ActorType
	Scopes []string
}

// HasScope reports whether the actor was granted scope.
func (a Actor) HasScope(scope string) bool {
	return slices.Contains(a.Scopes, scope)
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
