package dispatch

import (
	"context"
	"log/slog"
	"time"

	"dinerbell/internal/db"
	"dinerbell/internal/notifications/core"
	"dinerbell/internal/types"
)

// HistoryWriter persists successful deliveries.
type HistoryWriter interface {
	InsertDelivered(ctx context.Context, b db.DeliveredBatch) (int64, error)
}

// FailureWriter persists failed deliveries.
type FailureWriter interface {
	InsertBatch(ctx context.Context, scheduledID *string, failedAt time.Time, failures []types.DeliveryFailure) (int64, error)
}

// Recorder writes per-recipient outcomes. Persistence errors are logged and
// counted; they never fail the delivery.
type Recorder struct {
	history  HistoryWriter
	failures FailureWriter
	clock    types.Clock
	logger   *slog.Logger
}

func NewRecorder(history HistoryWriter, failures FailureWriter, clock types.Clock, logger *slog.Logger) *Recorder {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{history: history, failures: failures, clock: clock, logger: logger}
}

// Record writes one history row per success and one failure row per failed
// recipient. Skipped recipients are counted only.
func (r *Recorder) Record(ctx context.Context, c core.Content, outcomes []core.RecipientOutcome) core.Summary {
	summary := core.Tally(outcomes)
	now := r.clock.Now()

	var delivered []string
	var failed []types.DeliveryFailure
	for _, o := range outcomes {
		switch {
		case o.Skipped:
		case o.Success:
			delivered = append(delivered, o.UserID)
		default:
			failed = append(failed, types.DeliveryFailure{
				ScheduledNotificationID: c.NotificationID,
				UserID:                  o.UserID,
				Token:                   o.Token,
				Reason:                  o.Error,
				FailedAt:                now,
			})
		}
	}

	if len(delivered) > 0 {
		_, err := r.history.InsertDelivered(ctx, db.DeliveredBatch{
			ScheduledNotificationID: c.NotificationID,
			Type:                    c.Type,
			Title:                   c.Title,
			Body:                    c.Body,
			Data:                    c.Data,
			SentAt:                  now,
			UserIDs:                 delivered,
		})
		if err != nil {
			summary.PersistErrors++
			r.logger.Error("failed to record notification history",
				"notification_type", string(c.Type),
				"recipients", len(delivered),
				"error", err,
			)
		}
	}

	if len(failed) > 0 {
		if _, err := r.failures.InsertBatch(ctx, c.NotificationID, now, failed); err != nil {
			summary.PersistErrors++
			r.logger.Error("failed to record delivery failures",
				"notification_type", string(c.Type),
				"recipients", len(failed),
				"error", err,
			)
		}
	}
	return summary
}
