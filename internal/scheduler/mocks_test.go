package scheduler

import (
	"context"
	"fmt"
	"time"

	"dinerbell/internal/db"
	"dinerbell/internal/notifications/core"
	"dinerbell/internal/notifications/dispatch"
	"dinerbell/internal/types"
)

type mockClaimStore struct {
	ClaimDueFunc func(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]types.ScheduledNotification, error)
	CompleteFunc func(ctx context.Context, id, workerID string, out types.Outcome) error
	ReleaseFunc  func(ctx context.Context, id, workerID string, resumeAt time.Time) error

	outcomes map[string]types.Outcome
	released map[string]time.Time
}

func newMockClaimStore(rows ...types.ScheduledNotification) *mockClaimStore {
	return &mockClaimStore{
		ClaimDueFunc: func(context.Context, string, time.Time, time.Duration, int) ([]types.ScheduledNotification, error) {
			return rows, nil
		},
		outcomes: map[string]types.Outcome{},
		released: map[string]time.Time{},
	}
}

func (m *mockClaimStore) ClaimDue(ctx context.Context, workerID string, now time.Time, lease time.Duration, limit int) ([]types.ScheduledNotification, error) {
	return m.ClaimDueFunc(ctx, workerID, now, lease, limit)
}

func (m *mockClaimStore) Complete(ctx context.Context, id, workerID string, out types.Outcome) error {
	if m.CompleteFunc != nil {
		if err := m.CompleteFunc(ctx, id, workerID, out); err != nil {
			return err
		}
	}
	m.outcomes[id] = out
	return nil
}

func (m *mockClaimStore) Release(ctx context.Context, id, workerID string, resumeAt time.Time) error {
	if m.ReleaseFunc != nil {
		if err := m.ReleaseFunc(ctx, id, workerID, resumeAt); err != nil {
			return err
		}
	}
	m.released[id] = resumeAt
	return nil
}

type mockDeliverer struct {
	DeliverFunc func(ctx context.Context, c core.Content, a types.TargetAudience) (dispatch.Result, error)
	calls       []core.Content
}

func (m *mockDeliverer) Deliver(ctx context.Context, c core.Content, a types.TargetAudience) (dispatch.Result, error) {
	m.calls = append(m.calls, c)
	return m.DeliverFunc(ctx, c, a)
}

type mockCleaner struct {
	CleanupFunc func(ctx context.Context, now time.Time) (RetentionResult, error)
	calls       int
}

func (m *mockCleaner) Cleanup(ctx context.Context, now time.Time) (RetentionResult, error) {
	m.calls++
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, now)
	}
	return RetentionResult{}, nil
}

type mockStore struct {
	CreateFunc              func(ctx context.Context, n *types.ScheduledNotification) error
	CreateUnlessPendingFunc func(ctx context.Context, n *types.ScheduledNotification, rule db.DedupRule) (bool, error)

	created []*types.ScheduledNotification
	rules   []db.DedupRule
}

func (m *mockStore) Create(ctx context.Context, n *types.ScheduledNotification) error {
	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, n); err != nil {
			return err
		}
	}
	m.created = append(m.created, n)
	return nil
}

func (m *mockStore) CreateUnlessPending(ctx context.Context, n *types.ScheduledNotification, rule db.DedupRule) (bool, error) {
	m.rules = append(m.rules, rule)
	ok := true
	if m.CreateUnlessPendingFunc != nil {
		var err error
		ok, err = m.CreateUnlessPendingFunc(ctx, n, rule)
		if err != nil {
			return false, err
		}
	}
	if ok {
		m.created = append(m.created, n)
	}
	return ok, nil
}

type mockCatalog struct {
	ActiveWeeklyOfferFunc func(ctx context.Context, day time.Time) (*types.WeeklyOffer, error)
	EventsBetweenFunc     func(ctx context.Context, from, to time.Time) ([]types.RestaurantEvent, error)
}

func (m *mockCatalog) ActiveWeeklyOffer(ctx context.Context, day time.Time) (*types.WeeklyOffer, error) {
	return m.ActiveWeeklyOfferFunc(ctx, day)
}

func (m *mockCatalog) EventsBetween(ctx context.Context, from, to time.Time) ([]types.RestaurantEvent, error) {
	return m.EventsBetweenFunc(ctx, from, to)
}

// rowStore keeps inserted rows and applies DedupRule the way
// CreateUnlessPending does in SQL: a live row of the same type blocks the
// insert when it shares the key, falls inside the window, or carries the same
// data value.
type rowStore struct {
	rows []types.ScheduledNotification
	keys map[string]string
}

func (s *rowStore) Create(_ context.Context, n *types.ScheduledNotification) error {
	n.Status = types.StatusPending
	s.rows = append(s.rows, *n)
	return nil
}

func (s *rowStore) CreateUnlessPending(_ context.Context, n *types.ScheduledNotification, rule db.DedupRule) (bool, error) {
	if s.keys == nil {
		s.keys = map[string]string{}
	}
	for _, row := range s.rows {
		if row.Type != n.Type || !liveForDedup(row) {
			continue
		}
		if rule.Key != "" && s.keys[row.ID] == rule.Key {
			return false, nil
		}
		if rule.WindowStart != nil && !row.ScheduledFor.Before(*rule.WindowStart) && !row.ScheduledFor.After(*rule.WindowEnd) {
			return false, nil
		}
		if rule.DataKey != "" && fmt.Sprint(row.Data[rule.DataKey]) == rule.DataValue {
			return false, nil
		}
	}
	n.Status = types.StatusPending
	s.rows = append(s.rows, *n)
	s.keys[n.ID] = rule.Key
	return true, nil
}

func liveForDedup(n types.ScheduledNotification) bool {
	switch n.Status {
	case types.StatusPending, types.StatusClaimed:
		return true
	case types.StatusFailed:
		return n.NextAttemptAt != nil
	}
	return false
}

func (s *rowStore) pending(t types.NotificationType) []types.ScheduledNotification {
	var out []types.ScheduledNotification
	for _, row := range s.rows {
		if row.Type == t && row.Status == types.StatusPending {
			out = append(out, row)
		}
	}
	return out
}
