// Package dispatch delivers notification content to resolved recipients:
// batching and pacing gateway calls, recording per-recipient outcomes, and
// composing resolve, gate, dispatch and record into a single delivery.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"dinerbell/internal/external"
	"dinerbell/internal/notifications/core"
	"dinerbell/internal/types"
)

// MaxBatchSize caps every gateway call regardless of gateway support.
const MaxBatchSize = 100

const noTicketReason = "no ticket returned"

// DispatcherConfig tunes batching and pacing.
type DispatcherConfig struct {
	BatchSize int
	// RatePerSecond bounds messages per second across batches. Zero disables
	// pacing.
	RatePerSecond float64
}

// Dispatcher sends content to recipients through a PushGateway, one batch at
// a time.
type Dispatcher struct {
	gateway   external.PushGateway
	batchSize int
	limiter   *rate.Limiter
	clock     types.Clock
	metrics   core.PipelineMetrics
	logger    *slog.Logger
}

func NewDispatcher(gw external.PushGateway, cfg DispatcherConfig, clock types.Clock, metrics core.PipelineMetrics, logger *slog.Logger) *Dispatcher {
	size := cfg.BatchSize
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	if gwMax := gw.MaxBatchSize(); gwMax > 0 && gwMax < size {
		size = gwMax
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		gateway:   gw,
		batchSize: size,
		limiter:   rate.NewLimiter(limit, size),
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// BatchSize is the effective number of recipients per gateway call.
func (d *Dispatcher) BatchSize() int { return d.batchSize }

// Dispatch sends c to every recipient and returns one outcome per recipient
// in input order. A failed batch marks all of its recipients failed and the
// remaining batches are still attempted. The first batch error is returned
// alongside the complete outcome list.
func (d *Dispatcher) Dispatch(ctx context.Context, c core.Content, recipients []core.Recipient) ([]core.RecipientOutcome, error) {
	outcomes := make([]core.RecipientOutcome, 0, len(recipients))
	if len(recipients) == 0 {
		return outcomes, nil
	}

	timestamp := d.clock.Now().UTC().Format(time.RFC3339)
	var firstErr error

	for start := 0; start < len(recipients); start += d.batchSize {
		end := min(start+d.batchSize, len(recipients))
		batch := recipients[start:end]

		tickets, err := d.sendBatch(ctx, c, batch, timestamp)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			d.logger.Error("push batch failed",
				"notification_type", string(c.Type),
				"batch_start", start,
				"batch_size", len(batch),
				"error", err,
			)
			for _, r := range batch {
				outcomes = append(outcomes, core.RecipientOutcome{Recipient: r, Error: err.Error()})
			}
			continue
		}

		for i, r := range batch {
			out := core.RecipientOutcome{Recipient: r}
			switch {
			case i >= len(tickets):
				out.Error = noTicketReason
			case tickets[i].OK():
				out.Success = true
			default:
				out.Error = ticketReason(tickets[i])
			}
			outcomes = append(outcomes, out)
		}
	}
	return outcomes, firstErr
}

func (d *Dispatcher) sendBatch(ctx context.Context, c core.Content, batch []core.Recipient, timestamp string) ([]external.PushTicket, error) {
	if err := d.limiter.WaitN(ctx, len(batch)); err != nil {
		return nil, fmt.Errorf("pacing push batch: %w", err)
	}

	msgs := make([]external.PushMessage, len(batch))
	for i, r := range batch {
		msgs[i] = buildMessage(c, r, timestamp)
	}

	started := time.Now()
	tickets, err := d.gateway.SendBatch(ctx, msgs)
	d.metrics.RecordGatewayBatch(ctx, d.gateway.Name(), len(batch), time.Since(started), err)
	return tickets, err
}

// buildMessage merges the routing keys into the content's data. The merged
// keys win over caller-supplied keys of the same name.
func buildMessage(c core.Content, r core.Recipient, timestamp string) external.PushMessage {
	data := c.Data.Clone()
	data["type"] = string(c.Type)
	data["user_id"] = r.UserID
	data["timestamp"] = timestamp

	sound := c.Sound
	if sound == "" {
		sound = "default"
	}
	msg := external.PushMessage{
		To:       r.Token,
		Title:    c.Title,
		Body:     c.Body,
		Data:     data,
		Badge:    c.Badge,
		Sound:    sound,
		ImageURL: c.ImageURL,
	}
	if r.Platform == types.PlatformAndroid {
		msg.ChannelID = "default"
	}
	return msg
}

func ticketReason(t external.PushTicket) string {
	if t.Message != "" {
		return t.Message
	}
	if code, ok := t.Details["error"].(string); ok && code != "" {
		return code
	}
	return "push rejected"
}
