package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dinerbell/internal/core"
	"dinerbell/internal/types"
)

// TokenStore registers device tokens.
type TokenStore interface {
	Upsert(ctx context.Context, t *types.PushToken) error
}

// RegisterTokenRequest is the body of POST /v1/push-tokens.
type RegisterTokenRequest struct {
	UserID               string                     `json:"user_id" validate:"required,max=128"`
	Token                string                     `json:"token" validate:"required,max=512"`
	Platform             types.Platform             `json:"platform" validate:"required,platform"`
	NotificationSettings types.NotificationSettings `json:"notification_settings,omitempty"`
}

type TokenHandler struct {
	store     TokenStore
	validator *core.Validator
	logger    *slog.Logger
}

func NewTokenHandler(store TokenStore, v *core.Validator, l *slog.Logger) *TokenHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TokenHandler{store: store, validator: v, logger: l}
}

func (h *TokenHandler) RegisterRoutes(r chi.Router, guard ScopeGuard) {
	r.With(guard(types.ScopeTokensWrite)).Post("/push-tokens", h.Register)
}

// Register upserts a token keyed by its value and returns the stored row.
func (h *TokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterTokenRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	t := &types.PushToken{
		UserID:               req.UserID,
		Token:                req.Token,
		Platform:             req.Platform,
		NotificationSettings: req.NotificationSettings,
	}
	if err := h.store.Upsert(r.Context(), t); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "push token registered",
		"user_id", t.UserID,
		"platform", string(t.Platform),
	)
	core.JSON(w, r, http.StatusOK, t)
}
