package db

import (
	"context"
	"time"

	"dinerbell/internal/types"
)

// DeliveryFailureRepository provides data access for notification_delivery_failures.
type DeliveryFailureRepository struct {
	db DBTX
}

func NewDeliveryFailureRepository(db DBTX) *DeliveryFailureRepository {
	return &DeliveryFailureRepository{db: db}
}

// InsertBatch records failed recipients in a single statement.
func (r *DeliveryFailureRepository) InsertBatch(ctx context.Context, scheduledID *string, failedAt time.Time, failures []types.DeliveryFailure) (int64, error) {
	if len(failures) == 0 {
		return 0, nil
	}
	userIDs := make([]string, len(failures))
	tokens := make([]string, len(failures))
	reasons := make([]string, len(failures))
	for i, f := range failures {
		userIDs[i], tokens[i], reasons[i] = f.UserID, f.Token, f.Reason
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO notification_delivery_failures
		 (scheduled_notification_id, user_id, token, reason, failed_at)
		 SELECT $1, f.user_id, f.token, f.reason, $5
		   FROM unnest($2::text[], $3::text[], $4::text[]) AS f(user_id, token, reason)`,
		scheduledID,
		userIDs,
		tokens,
		reasons,
		failedAt,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to record delivery failures", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteBefore purges failure records older than cutoff.
func (r *DeliveryFailureRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_delivery_failures WHERE failed_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge delivery failures", err)
	}
	return tag.RowsAffected(), nil
}
