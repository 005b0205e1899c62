package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dinerbell/internal/core"
	"dinerbell/internal/scheduler"
	"dinerbell/internal/types"
)

// DueRunner runs one due-notification pass.
type DueRunner interface {
	Run(ctx context.Context) (scheduler.RunSummary, error)
}

// CronHandler exposes the due-notification processor to an external cron.
type CronHandler struct {
	runner DueRunner
	logger *slog.Logger
}

func NewCronHandler(runner DueRunner, l *slog.Logger) *CronHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CronHandler{runner: runner, logger: l}
}

func (h *CronHandler) RegisterRoutes(r chi.Router, guard ScopeGuard) {
	r.Route("/cron", func(r chi.Router) {
		r.Use(guard(types.ScopeCronRun))
		r.Get("/process-due", h.ProcessDue)
		r.Post("/process-due", h.ProcessDue)
	})
}

// ProcessDue handles GET|POST /v1/cron/process-due. Per-row failures are
// reported in the summary; only a failed claim answers with an error.
func (h *CronHandler) ProcessDue(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "due run failed", "error", err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, summary)
}
