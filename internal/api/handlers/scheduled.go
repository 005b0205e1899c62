package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dinerbell/internal/core"
	"dinerbell/internal/types"
)

// ScheduledStore reads and transitions scheduled rows.
type ScheduledStore interface {
	GetByID(ctx context.Context, id string) (*types.ScheduledNotification, error)
	List(ctx context.Context, filter types.ScheduledNotificationFilter) ([]types.ScheduledNotification, error)
	Requeue(ctx context.Context, id string, scheduledFor *time.Time, now time.Time) (*types.ScheduledNotification, error)
	Cancel(ctx context.Context, id string, now time.Time) (*types.ScheduledNotification, error)
}

// RequeueRequest is the optional body of POST .../{id}/requeue.
type RequeueRequest struct {
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

const maxListLimit = 200

// ScheduledHandler serves operator access to scheduled notifications.
type ScheduledHandler struct {
	store  ScheduledStore
	clock  types.Clock
	logger *slog.Logger
}

func NewScheduledHandler(store ScheduledStore, clock types.Clock, l *slog.Logger) *ScheduledHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &ScheduledHandler{store: store, clock: clock, logger: l}
}

func (h *ScheduledHandler) RegisterRoutes(r chi.Router, guard ScopeGuard) {
	r.Route("/scheduled-notifications", func(r chi.Router) {
		r.With(guard(types.ScopeScheduledRead)).Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.With(guard(types.ScopeScheduledRead)).Get("/", h.Get)
			r.With(guard(types.ScopeScheduledWrite)).Post("/requeue", h.Requeue)
			r.With(guard(types.ScopeScheduledWrite)).Delete("/", h.Cancel)
		})
	})
}

// List handles GET /v1/scheduled-notifications?status=&type=&limit=.
func (h *ScheduledHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.ScheduledNotificationFilter{
		Status: types.NotificationStatus(q.Get("status")),
		Type:   types.NotificationType(q.Get("type")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidStatus,
			"unknown status", nil, map[string]any{"status": string(filter.Status)}))
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidType,
			"unknown notification type", nil, map[string]any{"type": string(filter.Type)}))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidParameter,
				"limit must be between 1 and 200", nil, map[string]any{"limit": raw}))
			return
		}
		filter.Limit = limit
	}

	items, err := h.store.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, types.ListResponse[types.ScheduledNotification]{Data: items, Count: len(items)})
}

// Get handles GET /v1/scheduled-notifications/{id}.
func (h *ScheduledHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, n)
}

// Requeue handles POST /v1/scheduled-notifications/{id}/requeue. Only
// terminal rows can be requeued; a new scheduled_for must be in the future.
func (h *ScheduledHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	var req RequeueRequest
	if err := core.DecodeOptionalJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	if req.ScheduledFor != nil && !req.ScheduledFor.After(now) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationScheduleInPast,
			"scheduled_for must be in the future", nil))
		return
	}

	id := chi.URLParam(r, "id")
	n, err := h.store.Requeue(r.Context(), id, req.ScheduledFor, now)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "scheduled notification requeued",
		"id", id,
		"scheduled_for", n.ScheduledFor.Format(time.RFC3339),
	)
	core.JSON(w, r, http.StatusOK, n)
}

// Cancel handles DELETE /v1/scheduled-notifications/{id}.
func (h *ScheduledHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.store.Cancel(r.Context(), id, h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "scheduled notification cancelled", "id", id)
	core.JSON(w, r, http.StatusOK, n)
}
