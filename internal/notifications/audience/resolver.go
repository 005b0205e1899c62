// Package audience turns a target audience into the concrete set of devices
// that should receive a notification.
package audience

import (
	"context"
	"fmt"

	"dinerbell/internal/notifications/core"
	"dinerbell/internal/types"
)

// TokenLister reads active push tokens narrowed by an audience's user and
// platform filters.
type TokenLister interface {
	ListActive(ctx context.Context, audience types.TargetAudience) ([]types.PushToken, error)
}

// Resolver selects recipients for a notification.
type Resolver struct {
	tokens TokenLister
}

func NewResolver(tokens TokenLister) *Resolver {
	return &Resolver{tokens: tokens}
}

// Resolve returns the active devices in a that accept notifications of type
// t. An explicit empty user list resolves to nobody without a query.
func (r *Resolver) Resolve(ctx context.Context, a types.TargetAudience, t types.NotificationType) ([]core.Recipient, error) {
	if a.UserIDs != nil && len(a.UserIDs) == 0 {
		return nil, nil
	}

	tokens, err := r.tokens.ListActive(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	recipients := make([]core.Recipient, 0, len(tokens))
	for _, tok := range tokens {
		if !tok.IsActive || !tok.NotificationSettings.Allows(t) {
			continue
		}
		recipients = append(recipients, core.Recipient{
			UserID:   tok.UserID,
			Token:    tok.Token,
			Platform: tok.Platform,
		})
	}
	return recipients, nil
}
