package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"dinerbell/internal/db"
	"dinerbell/internal/notifications/core"
	"dinerbell/internal/types"
)

// Producer names used for metrics and job history.
const (
	ProducerWeeklyOffer    = "weekly_offer"
	ProducerEventReminders = "event_reminders"
	ProducerCustom         = "custom"
)

const maxOfferItemsInBody = 3

// NotificationStore persists new scheduled notifications.
type NotificationStore interface {
	Create(ctx context.Context, n *types.ScheduledNotification) error
	CreateUnlessPending(ctx context.Context, n *types.ScheduledNotification, rule db.DedupRule) (bool, error)
}

// Catalog reads the weekly offers and events maintained by the menu and
// events services.
type Catalog interface {
	ActiveWeeklyOffer(ctx context.Context, day time.Time) (*types.WeeklyOffer, error)
	EventsBetween(ctx context.Context, from, to time.Time) ([]types.RestaurantEvent, error)
}

// ProducerConfig holds the producer timing rules.
type ProducerConfig struct {
	Location           *time.Location
	WeeklyOfferWeekday time.Weekday
	WeeklyOfferHour    int
	EventReminderHour  int
	EventLookaheadDays int
	// MinLeadTime is the shortest gap between now and a weekly offer's send
	// time that is still worth scheduling.
	MinLeadTime time.Duration
}

// DefaultProducerConfig sends weekly offers on Monday 10:00 and event
// reminders at 18:00 the day before.
func DefaultProducerConfig(loc *time.Location) ProducerConfig {
	return ProducerConfig{
		Location:           loc,
		WeeklyOfferWeekday: time.Monday,
		WeeklyOfferHour:    10,
		EventReminderHour:  18,
		EventLookaheadDays: 30,
		MinLeadTime:        time.Hour,
	}
}

// Producer creates scheduled notifications for weekly offers, event
// reminders and operator-supplied custom notifications.
type Producer struct {
	store   NotificationStore
	catalog Catalog
	cfg     ProducerConfig
	clock   types.Clock
	metrics core.PipelineMetrics
	logger  *slog.Logger
	newID   func() string
}

func NewProducer(store NotificationStore, catalog Catalog, cfg ProducerConfig, clock types.Clock, metrics core.PipelineMetrics, logger *slog.Logger) *Producer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MinLeadTime <= 0 {
		cfg.MinLeadTime = time.Hour
	}
	if cfg.EventLookaheadDays <= 0 {
		cfg.EventLookaheadDays = 30
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
	return &Producer{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// ScheduleWeeklyOffer schedules the announcement of the active promotional
// week at its next send slot.
func (p *Producer) ScheduleWeeklyOffer(ctx context.Context) (ScheduleResult, error) {
	return p.ScheduleWeeklyOfferAt(ctx, p.clock.Now())
}

// ScheduleWeeklyOfferAt is ScheduleWeeklyOffer with an explicit reference time.
func (p *Producer) ScheduleWeeklyOfferAt(ctx context.Context, now time.Time) (ScheduleResult, error) {
	loc := p.cfg.Location

	week, err := p.catalog.ActiveWeeklyOffer(ctx, now.In(loc))
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("loading active weekly offer: %w", err)
	}
	if week == nil {
		p.logger.InfoContext(ctx, "no active weekly offer")
		return ScheduleResult{Reason: "no active weekly offer"}, nil
	}

	sendAt := nextWeekdayAt(now, loc, p.cfg.WeeklyOfferWeekday, p.cfg.WeeklyOfferHour)
	if sendAt.Sub(now) < p.cfg.MinLeadTime {
		p.logger.InfoContext(ctx, "weekly offer send time too close",
			"week_id", week.ID,
			"send_at", sendAt.Format(time.RFC3339),
		)
		return ScheduleResult{Reason: "send time is less than an hour away"}, nil
	}

	n := &types.ScheduledNotification{
		ID:           p.newID(),
		Type:         types.NotificationTypeWeeklyOffer,
		Title:        week.Theme + " is here!",
		Body:         weeklyOfferBody(week.Items),
		ScheduledFor: sendAt,
		Data: types.Payload{
			"week_id":    week.ID,
			"week_theme": week.Theme,
			"item_count": len(week.Items),
		},
		TargetAudience: types.AudienceAll(),
	}

	windowStart := sendAt.Add(-time.Hour)
	windowEnd := sendAt.Add(time.Hour)
	created, err := p.store.CreateUnlessPending(ctx, n, db.DedupRule{
		Key:         "weekly_offer:" + sendAt.UTC().Format("2006-01-02T15"),
		WindowStart: &windowStart,
		WindowEnd:   &windowEnd,
	})
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("scheduling weekly offer: %w", err)
	}
	if !created {
		p.logger.InfoContext(ctx, "weekly offer already scheduled",
			"week_id", week.ID,
			"send_at", sendAt.Format(time.RFC3339),
		)
		return ScheduleResult{Reason: "already scheduled"}, nil
	}

	p.metrics.RecordScheduled(ctx, ProducerWeeklyOffer, 1)
	p.logger.InfoContext(ctx, "weekly offer scheduled",
		"id", n.ID,
		"week_id", week.ID,
		"send_at", sendAt.Format(time.RFC3339),
	)
	return ScheduleResult{Scheduled: 1, IDs: []string{n.ID}}, nil
}

func weeklyOfferBody(items []types.WeeklyOfferItem) string {
	if len(items) == 0 {
		return "Our new weekly specials are waiting for you."
	}
	names := make([]string, 0, maxOfferItemsInBody)
	for _, it := range items {
		if len(names) == maxOfferItemsInBody {
			break
		}
		names = append(names, it.Name)
	}
	if len(items) > maxOfferItemsInBody {
		return fmt.Sprintf("Try %s and more this week.", strings.Join(names, ", "))
	}
	return fmt.Sprintf("Try %s this week.", joinNames(names))
}

// ScheduleEventReminders schedules a reminder the evening before every
// upcoming event that does not already have one.
func (p *Producer) ScheduleEventReminders(ctx context.Context) (ScheduleResult, error) {
	return p.ScheduleEventRemindersAt(ctx, p.clock.Now())
}

// ScheduleEventRemindersAt is ScheduleEventReminders with an explicit
// reference time. A failed insert is logged and the remaining events are
// still attempted; the errors are returned joined.
func (p *Producer) ScheduleEventRemindersAt(ctx context.Context, now time.Time) (ScheduleResult, error) {
	loc := p.cfg.Location
	today := startOfDay(now, loc)
	until := today.AddDate(0, 0, p.cfg.EventLookaheadDays)

	events, err := p.catalog.EventsBetween(ctx, today, until)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("loading upcoming events: %w", err)
	}

	var result ScheduleResult
	var errs []error
	past, duplicates := 0, 0

	for _, e := range events {
		remindAt := dayBeforeAt(e.EventDate, loc, p.cfg.EventReminderHour)
		if !remindAt.After(now) {
			past++
			continue
		}

		n := &types.ScheduledNotification{
			ID:           p.newID(),
			Type:         types.NotificationTypeEventReminder,
			Title:        "Tomorrow: " + e.Title,
			Body:         fmt.Sprintf("%s is tomorrow. We can't wait to see you!", e.Title),
			ScheduledFor: remindAt,
			Data: types.Payload{
				"event_id":    e.ID,
				"event_title": e.Title,
				"event_date":  e.EventDate.Format(time.DateOnly),
				"screen":      "events",
			},
			TargetAudience: types.AudienceAll(),
		}

		created, err := p.store.CreateUnlessPending(ctx, n, db.DedupRule{
			Key:       "event_reminder:" + e.ID,
			DataKey:   "event_id",
			DataValue: e.ID,
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to schedule event reminder",
				"event_id", e.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("event %s: %w", e.ID, err))
			continue
		}
		if !created {
			duplicates++
			continue
		}
		result.Scheduled++
		result.IDs = append(result.IDs, n.ID)
	}

	if result.Scheduled > 0 {
		p.metrics.RecordScheduled(ctx, ProducerEventReminders, result.Scheduled)
	}
	if result.Scheduled == 0 && len(errs) == 0 {
		result.Reason = "no new reminders"
	}

	p.logger.InfoContext(ctx, "event reminders scheduled",
		"events", len(events),
		"scheduled", result.Scheduled,
		"already_scheduled", duplicates,
		"past", past,
		"errors", len(errs),
	)
	return result, errors.Join(errs...)
}

// CustomRequest describes an operator-authored notification.
type CustomRequest struct {
	Type           types.NotificationType `json:"type,omitempty"`
	Title          string                 `json:"title" validate:"required,max=200"`
	Body           string                 `json:"body" validate:"required,max=2000"`
	Data           types.Payload          `json:"data,omitempty"`
	TargetAudience types.TargetAudience   `json:"target_audience"`
	ScheduledFor   time.Time              `json:"scheduled_for"`
}

// ScheduleCustom inserts a custom notification. The type defaults to custom
// and the send time must be strictly in the future.
func (p *Producer) ScheduleCustom(ctx context.Context, req CustomRequest) (ScheduleResult, error) {
	now := p.clock.Now()

	if req.Type == "" {
		req.Type = types.NotificationTypeCustom
	}
	if !req.Type.Valid() {
		return ScheduleResult{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidType,
			fmt.Sprintf("unknown notification type %q", req.Type), nil, map[string]any{"field": "type"})
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		return ScheduleResult{}, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"title and body are required", nil, map[string]any{"fields": []string{"title", "body"}})
	}
	if req.ScheduledFor.IsZero() {
		return ScheduleResult{}, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"scheduled_for is required", nil, map[string]any{"field": "scheduled_for"})
	}
	if !req.ScheduledFor.After(now) {
		return ScheduleResult{}, types.NewAppErrorWithDetails(types.ErrCodeValidationScheduleInPast,
			"scheduled_for must be in the future", nil,
			map[string]any{"scheduled_for": req.ScheduledFor.Format(time.RFC3339), "now": now.Format(time.RFC3339)})
	}

	n := &types.ScheduledNotification{
		ID:             p.newID(),
		Type:           req.Type,
		Title:          req.Title,
		Body:           req.Body,
		Data:           req.Data,
		ScheduledFor:   req.ScheduledFor,
		TargetAudience: req.TargetAudience,
	}
	if err := p.store.Create(ctx, n); err != nil {
		return ScheduleResult{}, fmt.Errorf("scheduling custom notification: %w", err)
	}

	p.metrics.RecordScheduled(ctx, ProducerCustom, 1)
	p.logger.InfoContext(ctx, "custom notification scheduled",
		"id", n.ID,
		"type", string(n.Type),
		"scheduled_for", n.ScheduledFor.Format(time.RFC3339),
	)
	return ScheduleResult{Scheduled: 1, IDs: []string{n.ID}}, nil
}
