// Package main is the entrypoint for the dispatcher Lambda function.
//
// The dispatcher is a task multiplexer. EventBridge rules send a JSON
// TaskPayload and the handler routes it to the matching scheduler service:
//
//	process_due               every minute: claim and deliver due rows
//	schedule_weekly_offer     weekly: create the next weekly offer row
//	schedule_event_reminders  daily: create reminders for upcoming events
//	cleanup_retention         daily: purge terminal rows and failure records
//
// Each invocation takes a job lock so overlapping schedules do not run the
// same task twice, and records its outcome in job_history. With
// APP_ENV=local one payload is read from stdin instead of starting the
// Lambda runtime.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"dinerbell/internal/app"
	"dinerbell/internal/config"
	"dinerbell/internal/scheduler"
)

// lockTTL covers the Lambda timeout with margin.
const lockTTL = 5 * time.Minute

// process_due runs every minute, so its lock is bucketed per minute; the
// other tasks run at most hourly.
var lockBuckets = map[scheduler.TaskType]time.Duration{
	scheduler.TaskProcessDue: time.Minute,
}

// DueProcessor claims and delivers due notifications.
type DueProcessor interface {
	Run(ctx context.Context) (scheduler.RunSummary, error)
}

// ScheduleProducer creates scheduled rows for a reference time.
type ScheduleProducer interface {
	ScheduleWeeklyOfferAt(ctx context.Context, now time.Time) (scheduler.ScheduleResult, error)
	ScheduleEventRemindersAt(ctx context.Context, now time.Time) (scheduler.ScheduleResult, error)
}

// RetentionCleaner purges rows past the retention window.
type RetentionCleaner interface {
	Cleanup(ctx context.Context, now time.Time) (scheduler.RetentionResult, error)
}

// ServiceRegistry holds the services the multiplexer routes to. They are
// built once per cold start and reused across invocations.
type ServiceRegistry struct {
	Processor DueProcessor
	Producer  ScheduleProducer
	Retention RetentionCleaner
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies of the dispatcher Lambda.
type Handler struct {
	Services   ServiceRegistry
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Result is returned to the Lambda runtime and logged.
type Result struct {
	Task    scheduler.TaskType `json:"task"`
	Skipped bool               `json:"skipped,omitempty"`
	Items   int                `json:"items"`
	Detail  any                `json:"detail,omitempty"`
}

// Handle routes payload to its service under a job lock and records the run
// in job history.
func (h *Handler) Handle(ctx context.Context, payload scheduler.TaskPayload) (Result, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := h.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}

	if payload.Task == "" {
		return Result{}, fmt.Errorf("empty task type in dispatcher payload")
	}

	now := nowFn()
	if payload.ReferenceTime != nil && payload.Task != scheduler.TaskProcessDue {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "dispatcher invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	bucket, ok := lockBuckets[payload.Task]
	if !ok {
		bucket = time.Hour
	}
	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(bucket).Format("2006-01-02T15:04"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", lockID, "error", err)
		return Result{}, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock held by another worker", "lock_id", lockID)
		return Result{Task: payload.Task, Skipped: true}, nil
	}

	jobID, err := h.JobHistory.Start(ctx, taskStr)
	if err != nil {
		// History is best effort; a zero id skips Finish.
		logger.ErrorContext(ctx, "failed to start job history", "task", taskStr, "error", err)
		jobID = 0
	}

	res, execErr := h.dispatch(ctx, payload.Task, now)
	res.Task = payload.Task

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, res.Items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "task", taskStr, "error", finishErr)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed", "task", taskStr, "error", execErr, "items_before_error", res.Items)
		return res, fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	logger.InfoContext(ctx, "task complete", "task", taskStr, "items", res.Items)
	return res, nil
}

func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (Result, error) {
	switch task {
	case scheduler.TaskProcessDue:
		summary, err := h.Services.Processor.Run(ctx)
		return Result{Items: summary.Processed, Detail: summary}, err

	case scheduler.TaskScheduleWeeklyOffer:
		sr, err := h.Services.Producer.ScheduleWeeklyOfferAt(ctx, now)
		return Result{Items: sr.Scheduled, Detail: sr}, err

	case scheduler.TaskScheduleEventReminders:
		sr, err := h.Services.Producer.ScheduleEventRemindersAt(ctx, now)
		return Result{Items: sr.Scheduled, Detail: sr}, err

	case scheduler.TaskCleanupRetention:
		rr, err := h.Services.Retention.Cleanup(ctx, now)
		return Result{Items: int(rr.ScheduledDeleted + rr.FailuresDeleted), Detail: rr}, err

	default:
		return Result{}, fmt.Errorf("unknown task type: %q", task)
	}
}

// runLocal handles one payload read from r and writes the result to w.
func runLocal(ctx context.Context, h *Handler, r io.Reader, w io.Writer) error {
	var payload scheduler.TaskPayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return fmt.Errorf("decoding payload from stdin: %w", err)
	}
	res, err := h.Handle(ctx, payload)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// newLogger builds the JSON logger at the configured LOG_LEVEL. Unknown
// values fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("dispatcher initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = newLogger(os.Stdout, cfg.LogLevel)

	ctx := context.Background()
	application := app.New(cfg, logger)
	if err := application.Init(ctx); err != nil {
		logger.Error("failed to initialize app", "error", err)
		_ = application.Shutdown(ctx)
		os.Exit(1)
	}

	handler := &Handler{
		Services: ServiceRegistry{
			Processor: application.Processor,
			Producer:  application.Producer,
			Retention: application.Retention,
		},
		JobLock:    application.JobLocks,
		JobHistory: application.JobHistory,
		WorkerID:   uuid.NewString(),
		Logger:     logger,
	}
	logger.Info("dispatcher initialized", "worker_id", handler.WorkerID)

	if cfg.Environment == "local" {
		err := runLocal(ctx, handler, os.Stdin, os.Stdout)
		_ = application.Shutdown(ctx)
		if err != nil {
			logger.Error("local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}
