package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"dinerbell/internal/notifications/core"
	"dinerbell/internal/notifications/dispatch"
	"dinerbell/internal/types"
)

// QuietMode selects what the processor does with a row held by quiet hours.
type QuietMode string

const (
	// QuietModeSkip marks the row skipped.
	QuietModeSkip QuietMode = "skip"
	// QuietModeDefer releases the claim until the quiet window ends.
	QuietModeDefer QuietMode = "defer"
)

const quietHoursError = "quiet hours"

// ClaimStore is the lease-based access the processor needs to
// scheduled_notifications.
type ClaimStore interface {
	ClaimDue(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]types.ScheduledNotification, error)
	Complete(ctx context.Context, id, workerID string, out types.Outcome) error
	Release(ctx context.Context, id, workerID string, resumeAt time.Time) error
}

// Deliverer sends content to an audience.
type Deliverer interface {
	Deliver(ctx context.Context, c core.Content, a types.TargetAudience) (dispatch.Result, error)
}

// Cleaner enforces retention after a run.
type Cleaner interface {
	Cleanup(ctx context.Context, now time.Time) (RetentionResult, error)
}

// ProcessorConfig holds the processor's dependencies and policy.
type ProcessorConfig struct {
	Store     ClaimStore
	Deliverer Deliverer
	// Cleaner may be nil to skip retention cleanup.
	Cleaner Cleaner
	Clock   types.Clock
	Metrics core.PipelineMetrics
	Logger  *slog.Logger

	BatchLimit int
	Lease      time.Duration
	Staleness  time.Duration
	QuietMode  QuietMode
	Retry      core.RetryPolicy
}

// Processor claims due scheduled notifications and delivers them.
type Processor struct {
	store     ClaimStore
	deliverer Deliverer
	cleaner   Cleaner
	clock     types.Clock
	metrics   core.PipelineMetrics
	logger    *slog.Logger

	batchLimit int
	lease      time.Duration
	staleness  time.Duration
	quietMode  QuietMode
	retry      core.RetryPolicy
	newWorker  func() string
}

// NewProcessor applies defaults: 50 rows per run, a 10 minute lease, a 24
// hour staleness window and skip mode.
func NewProcessor(cfg ProcessorConfig) *Processor {
	p := &Processor{
		store:      cfg.Store,
		deliverer:  cfg.Deliverer,
		cleaner:    cfg.Cleaner,
		clock:      cfg.Clock,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		batchLimit: cfg.BatchLimit,
		lease:      cfg.Lease,
		staleness:  cfg.Staleness,
		quietMode:  cfg.QuietMode,
		retry:      cfg.Retry,
		newWorker:  uuid.NewString,
	}
	if p.clock == nil {
		p.clock = types.RealClock{}
	}
	if p.metrics == nil {
		p.metrics = core.NoopMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.batchLimit <= 0 {
		p.batchLimit = 50
	}
	if p.lease <= 0 {
		p.lease = 10 * time.Minute
	}
	if p.staleness <= 0 {
		p.staleness = 24 * time.Hour
	}
	if p.quietMode == "" {
		p.quietMode = QuietModeSkip
	}
	if p.retry.MaxAttempts == 0 {
		p.retry = core.DefaultRetryPolicy
	}
	return p
}

// Run claims up to the batch limit of due rows, processes them one at a time
// and then runs retention cleanup. Only a failed claim aborts the run; every
// other problem is logged and listed in RunSummary.Errors.
func (p *Processor) Run(ctx context.Context) (RunSummary, error) {
	started := time.Now()
	now := p.clock.Now()
	workerID := p.newWorker()
	summary := RunSummary{Errors: []string{}}

	logger := p.logger.With("worker_id", workerID)

	claimed, err := p.store.ClaimDue(ctx, workerID, now, p.lease, p.batchLimit)
	if err != nil {
		return summary, fmt.Errorf("claiming due notifications: %w", err)
	}
	summary.Processed = len(claimed)

	for i := range claimed {
		n := &claimed[i]
		status, err := p.process(ctx, workerID, n, now)
		switch status {
		case types.StatusSent:
			summary.Sent++
		case types.StatusFailed:
			summary.Failed++
		case types.StatusSkipped:
			summary.Skipped++
		case types.StatusPending:
			summary.Deferred++
		}
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", n.ID, err))
		}
	}

	if p.cleaner != nil {
		if _, err := p.cleaner.Cleanup(ctx, now); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("retention: %v", err))
		}
	}

	elapsed := time.Since(started)
	summary.ExecutionTimeMS = elapsed.Milliseconds()
	p.metrics.RecordRun(ctx, summary.Processed, elapsed)

	logger.InfoContext(ctx, "due notification run complete",
		"processed", summary.Processed,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"deferred", summary.Deferred,
		"errors", len(summary.Errors),
		"duration_ms", summary.ExecutionTimeMS,
	)
	return summary, nil
}

// process delivers one claimed row and writes its outcome. It returns the
// status written (pending when the claim was released) and the error to
// report, if any.
func (p *Processor) process(ctx context.Context, workerID string, n *types.ScheduledNotification, now time.Time) (types.NotificationStatus, error) {
	logger := p.logger.With("notification_id", n.ID, "type", string(n.Type), "attempt", n.Attempts)

	if now.Sub(n.ScheduledFor) > p.staleness {
		return p.complete(ctx, workerID, n, types.Outcome{
			Status:      types.StatusSkipped,
			Error:       core.ErrStale.Error(),
			ProcessedAt: now,
		}, logger)
	}
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Body) == "" {
		return p.complete(ctx, workerID, n, types.Outcome{
			Status:      types.StatusSkipped,
			Error:       core.ErrInvalidContent.Error(),
			ProcessedAt: now,
		}, logger)
	}

	id := n.ID
	res, err := p.deliverer.Deliver(ctx, core.Content{
		NotificationID: &id,
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		Data:           n.Data,
	}, n.TargetAudience)

	switch {
	case err != nil:
		logger.ErrorContext(ctx, "delivery failed", "error", err)
		out := types.Outcome{Status: types.StatusFailed, Error: err.Error(), ProcessedAt: now}
		out.NextAttemptAt = p.nextAttempt(err, n, 0, now)
		return p.complete(ctx, workerID, n, out, logger)

	case res.Quiet && p.quietMode == QuietModeDefer:
		if err := p.store.Release(ctx, n.ID, workerID, res.ResumeAt); err != nil {
			logger.ErrorContext(ctx, "failed to release quiet-hours claim", "error", err)
			return "", err
		}
		logger.InfoContext(ctx, "notification deferred by quiet hours",
			"resume_at", res.ResumeAt.Format(time.RFC3339))
		return types.StatusPending, nil

	case res.Quiet:
		return p.complete(ctx, workerID, n, types.Outcome{
			Status:      types.StatusSkipped,
			Error:       quietHoursError,
			ProcessedAt: now,
		}, logger)

	case res.TransportErr != nil:
		out := types.Outcome{
			Status:      types.StatusFailed,
			SentCount:   res.Summary.Succeeded,
			FailedCount: res.Summary.Failed,
			Error:       res.TransportErr.Error(),
			ProcessedAt: now,
		}
		out.NextAttemptAt = p.nextAttempt(res.TransportErr, n, res.Summary.Succeeded, now)
		return p.complete(ctx, workerID, n, out, logger)
	}

	return p.complete(ctx, workerID, n, types.Outcome{
		Status:      types.StatusSent,
		SentCount:   res.Summary.Succeeded,
		FailedCount: res.Summary.Failed,
		ProcessedAt: now,
	}, logger)
}

func (p *Processor) nextAttempt(err error, n *types.ScheduledNotification, reached int, now time.Time) *time.Time {
	return p.retry.NextAttempt(core.RetryInput{
		Class:        core.Classify(err),
		Attempts:     n.Attempts,
		Reached:      reached,
		ScheduledFor: n.ScheduledFor,
		Now:          now,
		Staleness:    p.staleness,
	})
}

// complete writes out for n. Failed outcomes are also returned as errors so
// they show up in the run summary.
func (p *Processor) complete(ctx context.Context, workerID string, n *types.ScheduledNotification, out types.Outcome, logger *slog.Logger) (types.NotificationStatus, error) {
	if err := p.store.Complete(ctx, n.ID, workerID, out); err != nil {
		if types.CodeOf(err) == types.ErrCodeConflictLeaseLost {
			logger.WarnContext(ctx, "claim lost before outcome was written", "status", string(out.Status))
		} else {
			logger.ErrorContext(ctx, "failed to write notification outcome", "status", string(out.Status), "error", err)
		}
		return "", err
	}

	p.metrics.RecordOutcome(ctx, n.Type, out.Status)

	attrs := []any{
		"status", string(out.Status),
		"sent_count", out.SentCount,
		"failed_count", out.FailedCount,
	}
	if out.NextAttemptAt != nil {
		attrs = append(attrs, "next_attempt_at", out.NextAttemptAt.Format(time.RFC3339))
	}
	if out.Error != "" {
		attrs = append(attrs, "reason", out.Error)
	}
	logger.InfoContext(ctx, "notification processed", attrs...)

	if out.Status == types.StatusFailed {
		return out.Status, errors.New(out.Error)
	}
	return out.Status, nil
}
