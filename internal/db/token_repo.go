package db

import (
	"context"

	"dinerbell/internal/types"
)

// PushTokenRepository provides data access for push_tokens.
type PushTokenRepository struct {
	db DBTX
}

func NewPushTokenRepository(db DBTX) *PushTokenRepository {
	return &PushTokenRepository{db: db}
}

// ListActive returns active tokens narrowed by the audience's user and
// platform filters. Preference filtering happens in the caller.
func (r *PushTokenRepository) ListActive(ctx context.Context, audience types.TargetAudience) ([]types.PushToken, error) {
	var userIDs []string
	if audience.UserIDs != nil {
		userIDs = audience.UserIDs
	}
	rows, err := r.db.Query(ctx,
		`SELECT user_id, token, platform, notification_settings, is_active, created_at, updated_at
		   FROM push_tokens
		  WHERE is_active
		    AND ($1::text[] IS NULL OR user_id = ANY($1))
		    AND ($2 = '' OR platform = $2)
		  ORDER BY user_id, token`,
		userIDs,
		string(audience.Platform),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query push tokens", err)
	}
	defer rows.Close()

	var tokens []types.PushToken
	for rows.Next() {
		var t types.PushToken
		if err := rows.Scan(
			&t.UserID,
			&t.Token,
			&t.Platform,
			&t.NotificationSettings,
			&t.IsActive,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan push token", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating push tokens", err)
	}
	return tokens, nil
}

// Upsert registers a device token. Re-registering an existing token moves it
// to the new user, reactivates it, and keeps the stored settings unless new
// ones are supplied.
func (r *PushTokenRepository) Upsert(ctx context.Context, t *types.PushToken) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO push_tokens (token, user_id, platform, notification_settings, is_active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 ON CONFLICT (token) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   platform = EXCLUDED.platform,
		   notification_settings = COALESCE(EXCLUDED.notification_settings, push_tokens.notification_settings),
		   is_active = TRUE,
		   updated_at = NOW()
		 RETURNING notification_settings, is_active, created_at, updated_at`,
		t.Token,
		t.UserID,
		string(t.Platform),
		t.NotificationSettings,
	).Scan(&t.NotificationSettings, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert push token", err)
	}
	return nil
}
