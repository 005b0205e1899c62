// Package scheduler drives the scheduled side of the notification pipeline:
// the producers that create ScheduledNotification rows ahead of time, the
// due-notification processor that claims and delivers them, and retention
// cleanup.
//
// The TaskPayload is the JSON structure sent by EventBridge rules (or read
// from stdin locally) to the dispatcher Lambda. Its Task selects which
// service method handles the invocation.
package scheduler

import "time"

// TaskType identifies which service should handle a dispatcher invocation.
type TaskType string

const (
	TaskProcessDue             TaskType = "process_due"
	TaskScheduleWeeklyOffer    TaskType = "schedule_weekly_offer"
	TaskScheduleEventReminders TaskType = "schedule_event_reminders"
	TaskCleanupRetention       TaskType = "cleanup_retention"
)

// TaskPayload is the JSON payload of a dispatcher invocation:
//
//	{
//	  "task": "schedule_weekly_offer",
//	  "reference_time": "2026-03-04T08:00:00Z"  // optional
//	}
type TaskPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for producers and cleanup, for manual
	// backfills. Ignored by process_due, which always uses the wall clock.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// ScheduleResult reports what a producer inserted. Reason explains a
// producer that declined to schedule anything.
type ScheduleResult struct {
	Scheduled int      `json:"scheduled_count"`
	IDs       []string `json:"ids,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// RunSummary is the result of one due-notification run.
type RunSummary struct {
	Processed       int      `json:"processed"`
	Sent            int      `json:"sent"`
	Failed          int      `json:"failed"`
	Skipped         int      `json:"skipped"`
	Deferred        int      `json:"deferred,omitempty"`
	Errors          []string `json:"errors"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
}
