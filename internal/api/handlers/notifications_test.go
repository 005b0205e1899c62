package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinerbell/internal/core"
	ncore "dinerbell/internal/notifications/core"
	"dinerbell/internal/notifications/dispatch"
	"dinerbell/internal/scheduler"
	"dinerbell/internal/types"
)

func newNotificationRouter(d *mockDeliverer, p *mockProducers) chi.Router {
	h := NewNotificationHandler(d, p, core.NewValidator(), slog.Default())
	r := chi.NewRouter()
	h.RegisterRoutes(r, openGuard)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Error.Code
}

func TestNotificationHandler_Send_Success(t *testing.T) {
	d := &mockDeliverer{DeliverFunc: func(_ context.Context, c ncore.Content, _ types.TargetAudience) (dispatch.Result, error) {
		outcomes := []ncore.RecipientOutcome{
			{Recipient: ncore.Recipient{UserID: "u1", Token: "t1"}, Success: true},
			{Recipient: ncore.Recipient{UserID: "u2", Token: "t2"}, Error: "DeviceNotRegistered"},
		}
		return dispatch.Result{Recipients: 2, Outcomes: outcomes, Summary: ncore.Tally(outcomes)}, nil
	}}
	r := newNotificationRouter(d, &mockProducers{})

	rr := doJSON(r, http.MethodPost, "/notifications/send", `{
		"type":"event_reminder","title":"Tomorrow: Jazz Night","body":"See you there",
		"data":{"event_id":"e1"},"target_audience":{"user_ids":["u1","u2"]},"badge":1
	}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp SendResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.SentCount)
	assert.Equal(t, 1, resp.FailedCount)
	require.Len(t, resp.Details, 2)
	assert.Equal(t, "DeviceNotRegistered", resp.Details[1].Error)

	assert.Equal(t, types.NotificationTypeEventReminder, d.lastContent.Type)
	assert.Nil(t, d.lastContent.NotificationID)
	assert.Equal(t, []string{"u1", "u2"}, d.lastAudience.UserIDs)
	require.NotNil(t, d.lastContent.Badge)
	assert.Equal(t, 1, *d.lastContent.Badge)
}

func TestNotificationHandler_Send_QuietHours(t *testing.T) {
	d := &mockDeliverer{DeliverFunc: func(context.Context, ncore.Content, types.TargetAudience) (dispatch.Result, error) {
		outcomes := []ncore.RecipientOutcome{{Recipient: ncore.Recipient{UserID: "u1"}, Skipped: true, Error: ncore.QuietHoursReason}}
		return dispatch.Result{Quiet: true, Outcomes: outcomes, Summary: ncore.Tally(outcomes)}, nil
	}}
	rr := doJSON(newNotificationRouter(d, &mockProducers{}), http.MethodPost, "/notifications/send",
		`{"type":"weekly_offer","title":"Burger Week","body":"Try it"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp SendResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.QuietHours)
	assert.Equal(t, 1, resp.SkippedCount)
	assert.True(t, resp.Details[0].Skipped)
	assert.Equal(t, "skipped: quiet hours", resp.Details[0].Error)
}

func TestNotificationHandler_Send_TransportFailure(t *testing.T) {
	d := &mockDeliverer{DeliverFunc: func(context.Context, ncore.Content, types.TargetAudience) (dispatch.Result, error) {
		outcomes := []ncore.RecipientOutcome{{Recipient: ncore.Recipient{UserID: "u1"}, Error: "gateway down"}}
		return dispatch.Result{Outcomes: outcomes, Summary: ncore.Tally(outcomes), TransportErr: errors.New("gateway down")}, nil
	}}
	rr := doJSON(newNotificationRouter(d, &mockProducers{}), http.MethodPost, "/notifications/send",
		`{"type":"custom","title":"t","body":"b"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"success":false`)
}

func TestNotificationHandler_Send_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"missing title", `{"type":"custom","body":"b"}`, types.ErrCodeValidationMissingField},
		{"unknown type", `{"type":"newsletter","title":"t","body":"b"}`, types.ErrCodeValidationInvalidType},
		{"bad audience", `{"type":"custom","title":"t","body":"b","target_audience":"everyone"}`, types.ErrCodeValidationInvalidJSON},
		{"unknown field", `{"type":"custom","title":"t","body":"b","priority":1}`, types.ErrCodeValidationInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDeliverer{}
			rr := doJSON(newNotificationRouter(d, &mockProducers{}), http.MethodPost, "/notifications/send", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, string(tt.code), errorCode(t, rr))
			assert.Empty(t, d.lastContent.Title, "deliverer must not run")
		})
	}
}

func TestNotificationHandler_Send_ResolveError(t *testing.T) {
	d := &mockDeliverer{DeliverFunc: func(context.Context, ncore.Content, types.TargetAudience) (dispatch.Result, error) {
		return dispatch.Result{}, types.NewAppError(types.ErrCodeInternalDB, "failed to query push tokens", errors.New("conn reset"))
	}}
	rr := doJSON(newNotificationRouter(d, &mockProducers{}), http.MethodPost, "/notifications/send",
		`{"type":"custom","title":"t","body":"b"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, string(types.ErrCodeInternalDB), errorCode(t, rr))
	assert.NotContains(t, rr.Body.String(), "conn reset")
}

func TestNotificationHandler_Schedule_Producers(t *testing.T) {
	p := &mockProducers{
		weeklyFn: func(context.Context) (scheduler.ScheduleResult, error) {
			return scheduler.ScheduleResult{Scheduled: 1, IDs: []string{"w-1"}}, nil
		},
		eventsFn: func(context.Context) (scheduler.ScheduleResult, error) {
			return scheduler.ScheduleResult{Reason: "no new reminders"}, nil
		},
	}
	r := newNotificationRouter(&mockDeliverer{}, p)

	rr := doJSON(r, http.MethodPost, "/notifications/schedule", `{"type":"weekly_offers"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var resp ScheduleResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.ScheduledCount)

	rr = doJSON(r, http.MethodPost, "/notifications/schedule", `{"type":"event_reminders"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.ScheduledCount)
	assert.Equal(t, "no new reminders", resp.Reason)
}

func TestNotificationHandler_Schedule_CustomTimePrecedence(t *testing.T) {
	p := &mockProducers{}
	r := newNotificationRouter(&mockDeliverer{}, p)

	rr := doJSON(r, http.MethodPost, "/notifications/schedule", `{
		"type":"custom","schedule_time":"2026-03-10T18:00:00Z",
		"custom_notification":{"title":"Happy hour","body":"2 for 1","target_audience":"all"}
	}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.NotNil(t, p.lastCustom)
	assert.Equal(t, time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC), p.lastCustom.ScheduledFor)
	assert.True(t, p.lastCustom.TargetAudience.IsAll())

	rr = doJSON(r, http.MethodPost, "/notifications/schedule", `{
		"type":"custom","schedule_time":"2026-03-10T18:00:00Z",
		"custom_notification":{"title":"Happy hour","body":"2 for 1","scheduled_for":"2026-03-11T09:30:00Z"}
	}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC), p.lastCustom.ScheduledFor)
}

func TestNotificationHandler_Schedule_Errors(t *testing.T) {
	p := &mockProducers{customFn: func(context.Context, scheduler.CustomRequest) (scheduler.ScheduleResult, error) {
		return scheduler.ScheduleResult{}, types.NewAppError(types.ErrCodeValidationScheduleInPast, "scheduled_for must be in the future", nil)
	}}
	r := newNotificationRouter(&mockDeliverer{}, p)

	rr := doJSON(r, http.MethodPost, "/notifications/schedule", `{"type":"daily"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(r, http.MethodPost, "/notifications/schedule", `{"type":"custom"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), errorCode(t, rr))

	rr = doJSON(r, http.MethodPost, "/notifications/schedule",
		`{"type":"custom","custom_notification":{"title":"t","body":"b","scheduled_for":"2020-01-01T00:00:00Z"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(types.ErrCodeValidationScheduleInPast), errorCode(t, rr))
}

func TestNotificationHandler_Schedule_PartialEventErrors(t *testing.T) {
	p := &mockProducers{eventsFn: func(context.Context) (scheduler.ScheduleResult, error) {
		return scheduler.ScheduleResult{Scheduled: 2}, errors.New("event e3: insert failed")
	}}
	rr := doJSON(newNotificationRouter(&mockDeliverer{}, p), http.MethodPost, "/notifications/schedule", `{"type":"event_reminders"}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"scheduled_count":2`)
}
