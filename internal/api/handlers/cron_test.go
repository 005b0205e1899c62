package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinerbell/internal/scheduler"
	"dinerbell/internal/types"
)

func TestCronHandler_ProcessDue(t *testing.T) {
	runner := &mockRunner{summary: scheduler.RunSummary{
		Processed: 3, Sent: 1, Failed: 1, Skipped: 1,
		Errors:          []string{"n-2: gateway down"},
		ExecutionTimeMS: 42,
	}}
	r := chi.NewRouter()
	NewCronHandler(runner, nil).RegisterRoutes(r, openGuard)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := doJSON(r, method, "/cron/process-due", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.EqualValues(t, 3, body["processed"])
		assert.EqualValues(t, 42, body["execution_time_ms"])
		assert.Len(t, body["errors"], 1)
	}
	assert.Equal(t, 2, runner.calls)
}

func TestCronHandler_ClaimFailure(t *testing.T) {
	runner := &mockRunner{err: types.NewAppError(types.ErrCodeInternalDB, "failed to claim due notifications", errors.New("timeout"))}
	r := chi.NewRouter()
	NewCronHandler(runner, nil).RegisterRoutes(r, openGuard)

	rr := doJSON(r, http.MethodPost, "/cron/process-due", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, string(types.ErrCodeInternalDB), errorCode(t, rr))
}
