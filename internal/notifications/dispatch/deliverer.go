package dispatch

import (
	"context"
	"log/slog"
	"time"

	"dinerbell/internal/notifications/core"
	"dinerbell/internal/types"
)

// Resolver selects the recipients of a notification.
type Resolver interface {
	Resolve(ctx context.Context, a types.TargetAudience, t types.NotificationType) ([]core.Recipient, error)
}

// Gate decides whether a notification may be sent now.
type Gate interface {
	Evaluate(t types.NotificationType, now time.Time) core.GateResult
}

// Sender sends content to recipients.
type Sender interface {
	Dispatch(ctx context.Context, c core.Content, recipients []core.Recipient) ([]core.RecipientOutcome, error)
}

// OutcomeRecorder persists outcomes.
type OutcomeRecorder interface {
	Record(ctx context.Context, c core.Content, outcomes []core.RecipientOutcome) core.Summary
}

// Result is the outcome of one delivery.
type Result struct {
	Recipients int
	// Quiet is set when the gate held the notification. No gateway call was
	// made and every recipient is a skipped outcome.
	Quiet    bool
	ResumeAt time.Time
	Outcomes []core.RecipientOutcome
	Summary  core.Summary
	// TransportErr is the first batch failure, if any.
	TransportErr error
}

// Deliverer composes resolve, gate, dispatch and record.
type Deliverer struct {
	resolver Resolver
	gate     Gate
	sender   Sender
	recorder OutcomeRecorder
	clock    types.Clock
	metrics  core.PipelineMetrics
	logger   *slog.Logger
}

func NewDeliverer(resolver Resolver, gate Gate, sender Sender, recorder OutcomeRecorder, clock types.Clock, metrics core.PipelineMetrics, logger *slog.Logger) *Deliverer {
	if clock == nil {
		clock = types.RealClock{}
	}
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		resolver: resolver,
		gate:     gate,
		sender:   sender,
		recorder: recorder,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Deliver sends c to audience a. The returned error is set only when the
// audience could not be resolved; gateway failures are reported through
// Result.TransportErr.
func (d *Deliverer) Deliver(ctx context.Context, c core.Content, a types.TargetAudience) (Result, error) {
	recipients, err := d.resolver.Resolve(ctx, a, c.Type)
	if err != nil {
		return Result{}, err
	}
	res := Result{Recipients: len(recipients)}

	gate := d.gate.Evaluate(c.Type, d.clock.Now())
	if gate.Quiet {
		res.Quiet = true
		res.ResumeAt = gate.ResumeAt
		res.Outcomes = make([]core.RecipientOutcome, len(recipients))
		for i, r := range recipients {
			res.Outcomes[i] = core.RecipientOutcome{Recipient: r, Skipped: true, Error: core.QuietHoursReason}
		}
		res.Summary = core.Tally(res.Outcomes)
		d.metrics.RecordDeliveries(ctx, c.Type, res.Summary)
		d.logger.Info("notification held by quiet hours",
			"notification_type", string(c.Type),
			"local_hour", gate.LocalHour,
			"recipients", len(recipients),
		)
		return res, nil
	}

	if len(recipients) == 0 {
		res.Outcomes = []core.RecipientOutcome{}
		return res, nil
	}

	res.Outcomes, res.TransportErr = d.sender.Dispatch(ctx, c, recipients)
	res.Summary = d.recorder.Record(ctx, c, res.Outcomes)
	d.metrics.RecordDeliveries(ctx, c.Type, res.Summary)
	return res, nil
}
