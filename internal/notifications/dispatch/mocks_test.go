package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dinerbell/internal/db"
	"dinerbell/internal/external"
	"dinerbell/internal/notifications/core"
	"dinerbell/internal/types"
)

var testNow = time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

type mockGateway struct {
	SendBatchFunc func(ctx context.Context, msgs []external.PushMessage) ([]external.PushTicket, error)
	maxBatch      int

	mu      sync.Mutex
	batches [][]external.PushMessage
}

func (m *mockGateway) SendBatch(ctx context.Context, msgs []external.PushMessage) ([]external.PushTicket, error) {
	m.mu.Lock()
	m.batches = append(m.batches, msgs)
	m.mu.Unlock()
	if m.SendBatchFunc != nil {
		return m.SendBatchFunc(ctx, msgs)
	}
	return okTickets(len(msgs)), nil
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) MaxBatchSize() int {
	if m.maxBatch == 0 {
		return external.MaxExpoBatch
	}
	return m.maxBatch
}

func okTickets(n int) []external.PushTicket {
	out := make([]external.PushTicket, n)
	for i := range out {
		out[i] = external.PushTicket{Status: "ok", ID: "ticket"}
	}
	return out
}

type mockHistoryWriter struct {
	InsertDeliveredFunc func(ctx context.Context, b db.DeliveredBatch) (int64, error)
	batches             []db.DeliveredBatch
}

func (m *mockHistoryWriter) InsertDelivered(ctx context.Context, b db.DeliveredBatch) (int64, error) {
	m.batches = append(m.batches, b)
	if m.InsertDeliveredFunc != nil {
		return m.InsertDeliveredFunc(ctx, b)
	}
	return int64(len(b.UserIDs)), nil
}

type mockFailureWriter struct {
	InsertBatchFunc func(ctx context.Context, scheduledID *string, failedAt time.Time, failures []types.DeliveryFailure) (int64, error)
	failures        []types.DeliveryFailure
}

func (m *mockFailureWriter) InsertBatch(ctx context.Context, scheduledID *string, failedAt time.Time, failures []types.DeliveryFailure) (int64, error) {
	m.failures = append(m.failures, failures...)
	if m.InsertBatchFunc != nil {
		return m.InsertBatchFunc(ctx, scheduledID, failedAt, failures)
	}
	return int64(len(failures)), nil
}

type mockMetrics struct {
	core.NoopMetrics
	deliveries []core.Summary
	batches    []int
}

func (m *mockMetrics) RecordDeliveries(_ context.Context, _ types.NotificationType, s core.Summary) {
	m.deliveries = append(m.deliveries, s)
}

func (m *mockMetrics) RecordGatewayBatch(_ context.Context, _ string, size int, _ time.Duration, _ error) {
	m.batches = append(m.batches, size)
}

func recipients(n int) []core.Recipient {
	out := make([]core.Recipient, n)
	for i := range out {
		out[i] = core.Recipient{UserID: userID(i), Token: "tok-" + userID(i), Platform: types.PlatformIOS}
	}
	return out
}

func userID(i int) string {
	return fmt.Sprintf("u%d", i)
}
