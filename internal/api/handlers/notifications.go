// Package handlers contains the HTTP handlers for the notification API:
//   - direct sends and producer triggers (notifications.go)
//   - the cron driver (cron.go)
//   - push-token registration (tokens.go)
//   - scheduled-notification operations (scheduled.go)
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dinerbell/internal/core"
	ncore "dinerbell/internal/notifications/core"
	"dinerbell/internal/notifications/dispatch"
	"dinerbell/internal/scheduler"
	"dinerbell/internal/types"
)

// ScopeGuard builds middleware requiring a scope, normally
// core.Server.RequireScope.
type ScopeGuard func(scope string) func(http.Handler) http.Handler

// Deliverer sends content to an audience now.
type Deliverer interface {
	Deliver(ctx context.Context, c ncore.Content, a types.TargetAudience) (dispatch.Result, error)
}

// Producers creates scheduled rows.
type Producers interface {
	ScheduleWeeklyOffer(ctx context.Context) (scheduler.ScheduleResult, error)
	ScheduleEventReminders(ctx context.Context) (scheduler.ScheduleResult, error)
	ScheduleCustom(ctx context.Context, req scheduler.CustomRequest) (scheduler.ScheduleResult, error)
}

// SendRequest is the body of POST /v1/notifications/send.
type SendRequest struct {
	Type           types.NotificationType `json:"type" validate:"required,notification_type"`
	Title          string                 `json:"title" validate:"required,max=200"`
	Body           string                 `json:"body" validate:"required,max=2000"`
	Data           types.Payload          `json:"data,omitempty"`
	ImageURL       string                 `json:"image_url,omitempty" validate:"omitempty,url"`
	TargetAudience types.TargetAudience   `json:"target_audience"`
	Badge          *int                   `json:"badge,omitempty" validate:"omitempty,min=0"`
	Sound          string                 `json:"sound,omitempty" validate:"max=64"`
}

// SendDetail is one recipient outcome.
type SendDetail struct {
	UserID  string `json:"user_id"`
	Token   string `json:"token"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

// SendResponse is returned by POST /v1/notifications/send. Success is false
// when a gateway batch failed at the transport level.
type SendResponse struct {
	Success      bool         `json:"success"`
	SentCount    int          `json:"sent_count"`
	FailedCount  int          `json:"failed_count"`
	SkippedCount int          `json:"skipped_count"`
	QuietHours   bool         `json:"quiet_hours,omitempty"`
	Details      []SendDetail `json:"details"`
}

// Schedule request kinds.
const (
	ScheduleWeeklyOffers   = "weekly_offers"
	ScheduleEventReminders = "event_reminders"
	ScheduleCustom         = "custom"
)

// ScheduleRequest is the body of POST /v1/notifications/schedule.
type ScheduleRequest struct {
	Type               string                    `json:"type" validate:"required,oneof=weekly_offers event_reminders custom"`
	ScheduleTime       *time.Time                `json:"schedule_time,omitempty"`
	CustomNotification *CustomNotificationFields `json:"custom_notification,omitempty" validate:"required_if=Type custom"`
}

// CustomNotificationFields describes a custom notification to schedule.
type CustomNotificationFields struct {
	Type           types.NotificationType `json:"type,omitempty" validate:"omitempty,notification_type"`
	Title          string                 `json:"title" validate:"required,max=200"`
	Body           string                 `json:"body" validate:"required,max=2000"`
	Data           types.Payload          `json:"data,omitempty"`
	TargetAudience types.TargetAudience   `json:"target_audience"`
	ScheduledFor   *time.Time             `json:"scheduled_for,omitempty"`
}

// ScheduleResponse is returned by POST /v1/notifications/schedule.
type ScheduleResponse struct {
	Success        bool     `json:"success"`
	ScheduledCount int      `json:"scheduled_count"`
	IDs            []string `json:"ids,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// NotificationHandler serves direct sends and producer triggers.
type NotificationHandler struct {
	deliverer Deliverer
	producers Producers
	validator *core.Validator
	logger    *slog.Logger
}

func NewNotificationHandler(d Deliverer, p Producers, v *core.Validator, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{deliverer: d, producers: p, validator: v, logger: l}
}

// RegisterRoutes mounts the notification routes.
func (h *NotificationHandler) RegisterRoutes(r chi.Router, guard ScopeGuard) {
	r.Route("/notifications", func(r chi.Router) {
		r.Use(guard(types.ScopeNotificationsWrite))
		r.Post("/send", h.Send)
		r.Post("/schedule", h.Schedule)
	})
}

// Send handles POST /v1/notifications/send. The quiet-hours gate applies, so
// a non-custom send at night answers 200 with every recipient skipped.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	content := ncore.Content{
		Type:     req.Type,
		Title:    req.Title,
		Body:     req.Body,
		Data:     req.Data,
		ImageURL: req.ImageURL,
		Badge:    req.Badge,
		Sound:    req.Sound,
	}

	res, err := h.deliverer.Deliver(r.Context(), content, req.TargetAudience)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := SendResponse{
		Success:      res.TransportErr == nil,
		SentCount:    res.Summary.Succeeded,
		FailedCount:  res.Summary.Failed,
		SkippedCount: res.Summary.Skipped,
		QuietHours:   res.Quiet,
		Details:      make([]SendDetail, 0, len(res.Outcomes)),
	}
	for _, o := range res.Outcomes {
		resp.Details = append(resp.Details, SendDetail{
			UserID:  o.UserID,
			Token:   o.Token,
			Success: o.Success,
			Error:   o.Error,
			Skipped: o.Skipped,
		})
	}

	if res.TransportErr != nil {
		h.logger.WarnContext(r.Context(), "direct send hit a gateway failure",
			"type", string(req.Type),
			"sent", resp.SentCount,
			"failed", resp.FailedCount,
			"error", res.TransportErr,
		)
	}

	core.JSON(w, r, http.StatusOK, resp)
}

// Schedule handles POST /v1/notifications/schedule. For custom
// notifications, custom_notification.scheduled_for wins over schedule_time.
func (h *NotificationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var (
		res scheduler.ScheduleResult
		err error
	)
	switch req.Type {
	case ScheduleWeeklyOffers:
		res, err = h.producers.ScheduleWeeklyOffer(r.Context())
	case ScheduleEventReminders:
		res, err = h.producers.ScheduleEventReminders(r.Context())
	case ScheduleCustom:
		res, err = h.producers.ScheduleCustom(r.Context(), customRequest(req))
	}
	if err != nil && res.Scheduled == 0 {
		core.Error(w, r, err)
		return
	}
	if err != nil {
		// Partial event-reminder runs still report what was created.
		h.logger.WarnContext(r.Context(), "schedule completed with errors",
			"type", req.Type, "scheduled", res.Scheduled, "error", err)
	}

	status := http.StatusOK
	if res.Scheduled > 0 {
		status = http.StatusCreated
	}
	core.JSON(w, r, status, ScheduleResponse{
		Success:        true,
		ScheduledCount: res.Scheduled,
		IDs:            res.IDs,
		Reason:         res.Reason,
	})
}

func customRequest(req ScheduleRequest) scheduler.CustomRequest {
	c := req.CustomNotification
	out := scheduler.CustomRequest{
		Type:           c.Type,
		Title:          c.Title,
		Body:           c.Body,
		Data:           c.Data,
		TargetAudience: c.TargetAudience,
	}
	switch {
	case c.ScheduledFor != nil:
		out.ScheduledFor = *c.ScheduledFor
	case req.ScheduleTime != nil:
		out.ScheduledFor = *req.ScheduleTime
	}
	return out
}
