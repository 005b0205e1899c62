package handlers

import (
	"context"
	"net/http"
	"time"

	ncore "dinerbell/internal/notifications/core"
	"dinerbell/internal/notifications/dispatch"
	"dinerbell/internal/scheduler"
	"dinerbell/internal/types"
)

var testNow = time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)

// openGuard lets every request through; scope checks are covered in core.
func openGuard(string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

type mockDeliverer struct {
	DeliverFunc func(ctx context.Context, c ncore.Content, a types.TargetAudience) (dispatch.Result, error)

	lastContent  ncore.Content
	lastAudience types.TargetAudience
}

func (m *mockDeliverer) Deliver(ctx context.Context, c ncore.Content, a types.TargetAudience) (dispatch.Result, error) {
	m.lastContent = c
	m.lastAudience = a
	if m.DeliverFunc != nil {
		return m.DeliverFunc(ctx, c, a)
	}
	return dispatch.Result{}, nil
}

type mockProducers struct {
	weeklyFn func(ctx context.Context) (scheduler.ScheduleResult, error)
	eventsFn func(ctx context.Context) (scheduler.ScheduleResult, error)
	customFn func(ctx context.Context, req scheduler.CustomRequest) (scheduler.ScheduleResult, error)

	lastCustom *scheduler.CustomRequest
}

func (m *mockProducers) ScheduleWeeklyOffer(ctx context.Context) (scheduler.ScheduleResult, error) {
	if m.weeklyFn != nil {
		return m.weeklyFn(ctx)
	}
	return scheduler.ScheduleResult{}, nil
}

func (m *mockProducers) ScheduleEventReminders(ctx context.Context) (scheduler.ScheduleResult, error) {
	if m.eventsFn != nil {
		return m.eventsFn(ctx)
	}
	return scheduler.ScheduleResult{}, nil
}

func (m *mockProducers) ScheduleCustom(ctx context.Context, req scheduler.CustomRequest) (scheduler.ScheduleResult, error) {
	m.lastCustom = &req
	if m.customFn != nil {
		return m.customFn(ctx, req)
	}
	return scheduler.ScheduleResult{Scheduled: 1, IDs: []string{"n-1"}}, nil
}

type mockRunner struct {
	summary scheduler.RunSummary
	err     error
	calls   int
}

func (m *mockRunner) Run(context.Context) (scheduler.RunSummary, error) {
	m.calls++
	return m.summary, m.err
}

type mockTokenStore struct {
	upsertFn func(ctx context.Context, t *types.PushToken) error
	last     *types.PushToken
}

func (m *mockTokenStore) Upsert(ctx context.Context, t *types.PushToken) error {
	m.last = t
	if m.upsertFn != nil {
		return m.upsertFn(ctx, t)
	}
	t.IsActive = true
	t.CreatedAt = testNow
	t.UpdatedAt = testNow
	return nil
}

type mockScheduledStore struct {
	getFn     func(ctx context.Context, id string) (*types.ScheduledNotification, error)
	listFn    func(ctx context.Context, f types.ScheduledNotificationFilter) ([]types.ScheduledNotification, error)
	requeueFn func(ctx context.Context, id string, at *time.Time, now time.Time) (*types.ScheduledNotification, error)
	cancelFn  func(ctx context.Context, id string, now time.Time) (*types.ScheduledNotification, error)

	lastFilter types.ScheduledNotificationFilter
}

func (m *mockScheduledStore) GetByID(ctx context.Context, id string) (*types.ScheduledNotification, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &types.ScheduledNotification{ID: id, Status: types.StatusPending}, nil
}

func (m *mockScheduledStore) List(ctx context.Context, f types.ScheduledNotificationFilter) ([]types.ScheduledNotification, error) {
	m.lastFilter = f
	if m.listFn != nil {
		return m.listFn(ctx, f)
	}
	return []types.ScheduledNotification{}, nil
}

func (m *mockScheduledStore) Requeue(ctx context.Context, id string, at *time.Time, now time.Time) (*types.ScheduledNotification, error) {
	if m.requeueFn != nil {
		return m.requeueFn(ctx, id, at, now)
	}
	when := now
	if at != nil {
		when = *at
	}
	return &types.ScheduledNotification{ID: id, Status: types.StatusPending, ScheduledFor: when}, nil
}

func (m *mockScheduledStore) Cancel(ctx context.Context, id string, now time.Time) (*types.ScheduledNotification, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, id, now)
	}
	msg := "cancelled"
	return &types.ScheduledNotification{ID: id, Status: types.StatusSkipped, Error: &msg}, nil
}
