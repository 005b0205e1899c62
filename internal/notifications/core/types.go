// Package core holds the pieces of the delivery pipeline shared by the
// dispatcher, the due-notification processor and the HTTP send path: the
// quiet-hours gate, failure classification and retry policy, and the
// pipeline metrics backends.
package core

import (
	"context"
	"time"

	"dinerbell/internal/types"
)

// Content is what a notification says, independent of who receives it.
type Content struct {
	// NotificationID links deliveries to a scheduled row. Nil for direct sends.
	NotificationID *string
	Type           types.NotificationType
	Title          string
	Body           string
	Data           types.Payload
	ImageURL       string
	Badge          *int
	Sound          string
}

// Recipient is one device selected by the audience resolver.
type Recipient struct {
	UserID   string
	Token    string
	Platform types.Platform
}

// RecipientOutcome is the delivery result for one recipient.
type RecipientOutcome struct {
	Recipient
	Success bool
	Skipped bool
	Error   string
}

// Summary counts the outcomes of one delivery. PersistErrors counts
// history/failure writes that did not land.
type Summary struct {
	Succeeded     int
	Failed        int
	Skipped       int
	PersistErrors int
}

// Tally counts outcomes by kind.
func Tally(outcomes []RecipientOutcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			s.Skipped++
		case o.Success:
			s.Succeeded++
		default:
			s.Failed++
		}
	}
	return s
}

// PipelineMetrics receives pipeline counters. Implementations must not block
// the caller on backend errors.
type PipelineMetrics interface {
	RecordDeliveries(ctx context.Context, t types.NotificationType, s Summary)
	RecordGatewayBatch(ctx context.Context, provider string, size int, latency time.Duration, err error)
	RecordOutcome(ctx context.Context, t types.NotificationType, status types.NotificationStatus)
	RecordRun(ctx context.Context, processed int, duration time.Duration)
	RecordScheduled(ctx context.Context, producer string, count int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDeliveries(context.Context, types.NotificationType, Summary) {}
func (NoopMetrics) RecordGatewayBatch(context.Context, string, int, time.Duration, error) {}
func (NoopMetrics) RecordOutcome(context.Context, types.NotificationType, types.NotificationStatus) {}
func (NoopMetrics) RecordRun(context.Context, int, time.Duration) {}
func (NoopMetrics) RecordScheduled(context.Context, string, int)  {}
