package db

import (
	"context"
	"time"

	"dinerbell/internal/types"
)

// DeliveredBatch describes one notification delivered to many users.
type DeliveredBatch struct {
	ScheduledNotificationID *string
	Type                    types.NotificationType
	Title                   string
	Body                    string
	Data                    types.Payload
	SentAt                  time.Time
	UserIDs                 []string
}

// NotificationHistoryRepository provides data access for notification_history.
type NotificationHistoryRepository struct {
	db DBTX
}

func NewNotificationHistoryRepository(db DBTX) *NotificationHistoryRepository {
	return &NotificationHistoryRepository{db: db}
}

// InsertDelivered writes one history row per entry in b.UserIDs in a single
// statement.
func (r *NotificationHistoryRepository) InsertDelivered(ctx context.Context, b DeliveredBatch) (int64, error) {
	if len(b.UserIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO notification_history
		 (user_id, type, title, body, data, sent_at, scheduled_notification_id)
		 SELECT u, $2, $3, $4, $5, $6, $7
		   FROM unnest($1::text[]) AS u`,
		b.UserIDs,
		string(b.Type),
		b.Title,
		b.Body,
		b.Data,
		b.SentAt,
		b.ScheduledNotificationID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert notification history", err)
	}
	return tag.RowsAffected(), nil
}
