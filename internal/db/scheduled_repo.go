package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"dinerbell/internal/types"
)

// scheduledColumns is the canonical column list for scheduled_notifications
// reads; scanScheduled depends on its order.
const scheduledColumns = `id, type, title, body, data, scheduled_for, target_audience,
	status, sent_count, failed_count, error, sent_at, attempts, next_attempt_at,
	claimed_by, lease_expires_at, created_at, updated_at`

// activeDedupPredicate must match the predicate of uq_scheduled_notifications_dedup.
const activeDedupPredicate = `status IN ('pending', 'claimed') OR (status = 'failed' AND next_attempt_at IS NOT NULL)`

// ScheduledNotificationRepository provides data access for scheduled_notifications.
type ScheduledNotificationRepository struct {
	db DBTX
}

// NewScheduledNotificationRepository creates a repository backed by db.
func NewScheduledNotificationRepository(db DBTX) *ScheduledNotificationRepository {
	return &ScheduledNotificationRepository{db: db}
}

// DedupRule describes how CreateUnlessPending detects an existing live row of
// the same type. Key guards against concurrent producers via the partial
// unique index; the window or data match catches rows created under a
// different key.
type DedupRule struct {
	Key string

	WindowStart *time.Time
	WindowEnd   *time.Time

	DataKey   string
	DataValue string
}

func scanScheduled(row pgx.Row) (*types.ScheduledNotification, error) {
	var n types.ScheduledNotification
	err := row.Scan(
		&n.ID,
		&n.Type,
		&n.Title,
		&n.Body,
		&n.Data,
		&n.ScheduledFor,
		&n.TargetAudience,
		&n.Status,
		&n.SentCount,
		&n.FailedCount,
		&n.Error,
		&n.SentAt,
		&n.Attempts,
		&n.NextAttemptAt,
		&n.ClaimedBy,
		&n.LeaseExpiresAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Create inserts a pending row. n.ID must be set by the caller.
func (r *ScheduledNotificationRepository) Create(ctx context.Context, n *types.ScheduledNotification) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO scheduled_notifications
		 (id, type, title, body, data, scheduled_for, target_audience, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		 RETURNING created_at, updated_at`,
		n.ID,
		string(n.Type),
		n.Title,
		n.Body,
		n.Data,
		n.ScheduledFor,
		n.TargetAudience,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create scheduled notification", err)
	}
	n.Status = types.StatusPending
	return nil
}

// CreateUnlessPending inserts a pending row unless a live row of the same type
// matches rule. The existence check and insert run as one statement. Returns
// false when the row was deduplicated.
func (r *ScheduledNotificationRepository) CreateUnlessPending(ctx context.Context, n *types.ScheduledNotification, rule DedupRule) (bool, error) {
	var dataKey, dataValue *string
	if rule.DataKey != "" {
		dataKey, dataValue = &rule.DataKey, &rule.DataValue
	}
	var dedupKey *string
	if rule.Key != "" {
		dedupKey = &rule.Key
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO scheduled_notifications
		 (id, type, title, body, data, scheduled_for, target_audience, status, dedup_key)
		 SELECT $1, $2, $3, $4, $5, $6, $7, 'pending', $8
		 WHERE NOT EXISTS (
		   SELECT 1 FROM scheduled_notifications
		    WHERE type = $2
		      AND (`+activeDedupPredicate+`)
		      AND (($9::timestamptz IS NOT NULL AND scheduled_for BETWEEN $9 AND $10)
		        OR ($11::text IS NOT NULL AND data->>$11 = $12)))
		 ON CONFLICT (dedup_key) WHERE `+activeDedupPredicate+` DO NOTHING`,
		n.ID,
		string(n.Type),
		n.Title,
		n.Body,
		n.Data,
		n.ScheduledFor,
		n.TargetAudience,
		dedupKey,
		rule.WindowStart,
		rule.WindowEnd,
		dataKey,
		dataValue,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create scheduled notification", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	n.Status = types.StatusPending
	return true, nil
}

// ClaimDue atomically moves up to limit due rows to claimed for workerID and
// returns them ordered by scheduled_for. A row is due when scheduled_for has
// passed and it is pending (with no deferral in the future), claimed under an
// expired lease, or failed with a retry that has come due. Rows locked by a
// concurrent claimer are skipped.
func (r *ScheduledNotificationRepository) ClaimDue(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]types.ScheduledNotification, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE scheduled_notifications AS s
		    SET status = 'claimed',
		        claimed_by = $1,
		        lease_expires_at = $3,
		        attempts = s.attempts + 1,
		        next_attempt_at = NULL,
		        updated_at = $2
		  WHERE s.id IN (
		    SELECT id FROM scheduled_notifications
		     WHERE scheduled_for <= $2
		       AND ((status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= $2))
		         OR (status = 'claimed' AND lease_expires_at < $2)
		         OR (status = 'failed' AND next_attempt_at <= $2))
		     ORDER BY scheduled_for
		     LIMIT $4
		     FOR UPDATE SKIP LOCKED)
		 RETURNING `+scheduledColumns,
		workerID,
		now,
		now.Add(lease),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim due notifications", err)
	}
	defer rows.Close()

	var claimed []types.ScheduledNotification
	for rows.Next() {
		n, err := scanScheduled(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed notification", err)
		}
		claimed = append(claimed, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating claimed notifications", err)
	}

	// UPDATE ... RETURNING does not preserve the subquery order.
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].ScheduledFor.Before(claimed[j].ScheduledFor)
	})
	return claimed, nil
}

// Complete writes the outcome of a claim. It only succeeds while workerID still
// holds the claim; otherwise it returns ErrCodeConflictLeaseLost.
func (r *ScheduledNotificationRepository) Complete(ctx context.Context, id, workerID string, out types.Outcome) error {
	if !out.Status.IsTerminal() {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("outcome status %q is not terminal", out.Status), nil)
	}
	var errText *string
	if out.Error != "" {
		errText = &out.Error
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		    SET status = $3, sent_count = $4, failed_count = $5, error = $6,
		        sent_at = $7, next_attempt_at = $8,
		        claimed_by = NULL, lease_expires_at = NULL, updated_at = $7
		  WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`,
		id,
		workerID,
		string(out.Status),
		out.SentCount,
		out.FailedCount,
		errText,
		out.ProcessedAt,
		out.NextAttemptAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record notification outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictLeaseLost,
			"claim no longer held", nil, map[string]any{"id": id, "worker_id": workerID})
	}
	return nil
}

// Release returns a claimed row to pending without counting the attempt, and
// holds it back until resumeAt.
func (r *ScheduledNotificationRepository) Release(ctx context.Context, id, workerID string, resumeAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE scheduled_notifications
		    SET status = 'pending', claimed_by = NULL, lease_expires_at = NULL,
		        attempts = GREATEST(attempts - 1, 0), next_attempt_at = $3, updated_at = NOW()
		  WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`,
		id,
		workerID,
		resumeAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release notification claim", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictLeaseLost,
			"claim no longer held", nil, map[string]any{"id": id, "worker_id": workerID})
	}
	return nil
}

// GetByID returns a single row or ErrCodeNotFoundNotification.
func (r *ScheduledNotificationRepository) GetByID(ctx context.Context, id string) (*types.ScheduledNotification, error) {
	n, err := scanScheduled(r.db.QueryRow(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_notifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "scheduled notification not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get scheduled notification", err)
	}
	return n, nil
}

// List returns rows matching filter, most recently scheduled first.
func (r *ScheduledNotificationRepository) List(ctx context.Context, filter types.ScheduledNotificationFilter) ([]types.ScheduledNotification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduledColumns+`
		   FROM scheduled_notifications
		  WHERE ($1 = '' OR status = $1)
		    AND ($2 = '' OR type = $2)
		  ORDER BY scheduled_for DESC
		  LIMIT $3`,
		string(filter.Status),
		string(filter.Type),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list scheduled notifications", err)
	}
	defer rows.Close()

	result := make([]types.ScheduledNotification, 0)
	for rows.Next() {
		n, err := scanScheduled(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan scheduled notification", err)
		}
		result = append(result, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating scheduled notifications", err)
	}
	return result, nil
}

// Requeue moves a finished row back to pending with a fresh attempt budget.
// When scheduledFor is nil the row becomes due at now.
func (r *ScheduledNotificationRepository) Requeue(ctx context.Context, id string, scheduledFor *time.Time, now time.Time) (*types.ScheduledNotification, error) {
	when := now
	if scheduledFor != nil {
		when = *scheduledFor
	}
	n, err := scanScheduled(r.db.QueryRow(ctx,
		`UPDATE scheduled_notifications
		    SET status = 'pending', scheduled_for = $2, attempts = 0,
		        sent_count = 0, failed_count = 0, error = NULL, sent_at = NULL,
		        next_attempt_at = NULL, updated_at = $3
		  WHERE id = $1 AND status IN ('sent', 'failed', 'skipped')
		 RETURNING `+scheduledColumns,
		id,
		when,
		now,
	))
	if err == nil {
		return n, nil
	}
	if isUniqueViolation(err) {
		return nil, types.NewAppError(types.ErrCodeConflictTransition,
			"an equivalent notification is already pending", err)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue scheduled notification", err)
	}
	return nil, r.transitionError(ctx, id, "only sent, failed, or skipped notifications can be requeued")
}

// Cancel marks a pending row (or a failed row awaiting retry) as skipped.
func (r *ScheduledNotificationRepository) Cancel(ctx context.Context, id string, now time.Time) (*types.ScheduledNotification, error) {
	n, err := scanScheduled(r.db.QueryRow(ctx,
		`UPDATE scheduled_notifications
		    SET status = 'skipped', error = 'cancelled', sent_at = $2,
		        next_attempt_at = NULL, updated_at = $2
		  WHERE id = $1
		    AND (status = 'pending' OR (status = 'failed' AND next_attempt_at IS NOT NULL))
		 RETURNING `+scheduledColumns,
		id,
		now,
	))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel scheduled notification", err)
	}
	return nil, r.transitionError(ctx, id, "only pending notifications can be cancelled")
}

// transitionError distinguishes a missing row from one in the wrong state.
func (r *ScheduledNotificationRepository) transitionError(ctx context.Context, id, msg string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return types.NewAppErrorWithDetails(types.ErrCodeConflictTransition, msg, nil,
		map[string]any{"id": id, "status": string(current.Status)})
}

// DeleteTerminalBefore removes finished rows processed before cutoff. Failed
// rows with a scheduled retry are kept.
func (r *ScheduledNotificationRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM scheduled_notifications
		  WHERE status IN ('sent', 'failed', 'skipped')
		    AND next_attempt_at IS NULL
		    AND sent_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete old scheduled notifications", err)
	}
	return tag.RowsAffected(), nil
}
