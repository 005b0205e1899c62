package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultRetention is how long terminal rows and failure records are kept.
const DefaultRetention = 90 * 24 * time.Hour

// TerminalRowPurger deletes finished scheduled notifications.
type TerminalRowPurger interface {
	// DeleteTerminalBefore removes terminal rows processed before cutoff,
	// keeping failed rows that still have a retry scheduled.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// FailurePurger deletes old delivery failure records.
type FailurePurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionResult counts rows removed by one cleanup.
type RetentionResult struct {
	ScheduledDeleted int64 `json:"scheduled_deleted"`
	FailuresDeleted  int64 `json:"failures_deleted"`
}

// RetentionService enforces the retention window on pipeline tables.
type RetentionService struct {
	notifications TerminalRowPurger
	failures      FailurePurger
	retention     time.Duration
	logger        *slog.Logger
}

// NewRetentionService creates a RetentionService. A non-positive retention
// uses DefaultRetention.
func NewRetentionService(notifications TerminalRowPurger, failures FailurePurger, retention time.Duration, logger *slog.Logger) *RetentionService {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionService{
		notifications: notifications,
		failures:      failures,
		retention:     retention,
		logger:        logger,
	}
}

// Cleanup deletes rows older than the retention window relative to now. Both
// tables are purged concurrently.
func (s *RetentionService) Cleanup(ctx context.Context, now time.Time) (RetentionResult, error) {
	cutoff := now.Add(-s.retention)
	var result RetentionResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.notifications.DeleteTerminalBefore(gctx, cutoff)
		if err != nil {
			return fmt.Errorf("purging scheduled notifications: %w", err)
		}
		result.ScheduledDeleted = n
		return nil
	})
	g.Go(func() error {
		n, err := s.failures.DeleteBefore(gctx, cutoff)
		if err != nil {
			return fmt.Errorf("purging delivery failures: %w", err)
		}
		result.FailuresDeleted = n
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "retention cleanup failed",
			"cutoff", cutoff.Format(time.RFC3339),
			"error", err,
		)
		return result, err
	}

	s.logger.InfoContext(ctx, "retention cleanup complete",
		"cutoff", cutoff.Format(time.RFC3339),
		"scheduled_deleted", result.ScheduledDeleted,
		"failures_deleted", result.FailuresDeleted,
	)
	return result, nil
}
