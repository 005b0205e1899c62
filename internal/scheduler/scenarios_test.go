package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinerbell/internal/db"
	"dinerbell/internal/external"
	"dinerbell/internal/notifications/audience"
	"dinerbell/internal/notifications/core"
	"dinerbell/internal/notifications/dispatch"
	"dinerbell/internal/types"
)

type fakeTokens []types.PushToken

func (f fakeTokens) ListActive(context.Context, types.TargetAudience) ([]types.PushToken, error) {
	return f, nil
}

type fakeGateway struct {
	err   error
	calls int
	sent  []external.PushMessage
}

func (g *fakeGateway) SendBatch(_ context.Context, msgs []external.PushMessage) ([]external.PushTicket, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	g.sent = append(g.sent, msgs...)
	tickets := make([]external.PushTicket, len(msgs))
	for i := range tickets {
		tickets[i] = external.PushTicket{Status: "ok"}
	}
	return tickets, nil
}

func (g *fakeGateway) Name() string      { return "fake" }
func (g *fakeGateway) MaxBatchSize() int { return external.MaxExpoBatch }

type fakeHistory struct{ rows []string }

func (h *fakeHistory) InsertDelivered(_ context.Context, b db.DeliveredBatch) (int64, error) {
	h.rows = append(h.rows, b.UserIDs...)
	return int64(len(b.UserIDs)), nil
}

type fakeFailures struct{ rows []types.DeliveryFailure }

func (f *fakeFailures) InsertBatch(_ context.Context, _ *string, _ time.Time, failures []types.DeliveryFailure) (int64, error) {
	f.rows = append(f.rows, failures...)
	return int64(len(failures)), nil
}

type pipeline struct {
	processor *Processor
	store     *mockClaimStore
	gateway   *fakeGateway
	history   *fakeHistory
	failures  *fakeFailures
}

// newPipeline wires the real resolver, gate, dispatcher and recorder with
// Berlin quiet hours 21-11.
func newPipeline(t *testing.T, now time.Time, tokens fakeTokens, rows ...types.ScheduledNotification) *pipeline {
	t.Helper()
	gate, err := core.NewQuietHoursGate(berlin(t), 21, 11)
	require.NoError(t, err)

	clock := types.FixedClock{T: now}
	p := &pipeline{
		store:    newMockClaimStore(rows...),
		gateway:  &fakeGateway{},
		history:  &fakeHistory{},
		failures: &fakeFailures{},
	}
	deliverer := dispatch.NewDeliverer(
		audience.NewResolver(tokens),
		gate,
		dispatch.NewDispatcher(p.gateway, dispatch.DispatcherConfig{}, clock, nil, nil),
		dispatch.NewRecorder(p.history, p.failures, clock, nil),
		clock, nil, nil,
	)
	p.processor = NewProcessor(ProcessorConfig{Store: p.store, Deliverer: deliverer, Clock: clock})
	return p
}

func optedIn(user string, on bool) types.PushToken {
	return types.PushToken{
		UserID:               user,
		Token:                "ExponentPushToken[" + user + "]",
		Platform:             types.PlatformIOS,
		IsActive:             true,
		NotificationSettings: types.NotificationSettings{"event_reminders": on},
	}
}

func TestScenario_EventReminderToOptedInUsers(t *testing.T) {
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, berlin(t))
	row := dueRow("n1", now.Add(-time.Minute))
	p := newPipeline(t, now, fakeTokens{optedIn("u1", true), optedIn("u2", true), optedIn("u3", false)}, row)

	summary, err := p.processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 1, p.gateway.calls)
	assert.Len(t, p.gateway.sent, 2)
	assert.ElementsMatch(t, []string{"u1", "u2"}, p.history.rows)

	out := p.store.outcomes["n1"]
	assert.Equal(t, types.StatusSent, out.Status)
	assert.Equal(t, 2, out.SentCount)
	assert.Zero(t, out.FailedCount)
}

func TestScenario_QuietHoursHoldEveningReminder(t *testing.T) {
	now := time.Date(2026, 3, 9, 22, 0, 0, 0, berlin(t))
	p := newPipeline(t, now, fakeTokens{optedIn("u1", true)}, dueRow("n1", now.Add(-time.Minute)))

	summary, err := p.processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, p.gateway.calls)
	assert.Empty(t, p.history.rows)
	assert.Equal(t, "quiet hours", p.store.outcomes["n1"].Error)
}

func TestScenario_GatewayDown(t *testing.T) {
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, berlin(t))
	p := newPipeline(t, now, fakeTokens{optedIn("u1", true), optedIn("u2", true)}, dueRow("n1", now.Add(-time.Minute)))
	p.gateway.err = types.NewAppError(types.ErrCodeUpstreamUnavailable, "push gateway request failed", nil)

	summary, err := p.processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, p.history.rows)
	assert.Len(t, p.failures.rows, 2)

	out := p.store.outcomes["n1"]
	assert.Equal(t, types.StatusFailed, out.Status)
	assert.Zero(t, out.SentCount)
	assert.Contains(t, out.Error, "push gateway request failed")
	assert.NotNil(t, out.NextAttemptAt, "nobody was reached so the row is retried")
}

func TestScenario_EmptyAudienceIsSent(t *testing.T) {
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, berlin(t))
	p := newPipeline(t, now, fakeTokens{}, dueRow("n1", now.Add(-time.Minute)))

	summary, err := p.processor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sent)
	assert.Zero(t, p.gateway.calls)
	assert.Equal(t, types.StatusSent, p.store.outcomes["n1"].Status)
	assert.Zero(t, p.store.outcomes["n1"].SentCount)
}
