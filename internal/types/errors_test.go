package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationMissingField,
		Message: "title is required",
	}

	expected := "validation_missing_required_field: title is required"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorErrorIncludesCause(t *testing.T) {
	appErr := NewAppError(ErrCodeUpstreamPushGateway, "push gateway request failed", errors.New("connection reset"))

	expected := "upstream_push_gateway_unavailable: push gateway request failed: connection reset"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := NewAppError(ErrCodeInternalDB, "failed to claim notifications", underlying)

	if !errors.Is(appErr, underlying) {
		t.Error("errors.Is should find the underlying error through Unwrap")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	appErr := NewAppError(ErrCodeConflictLeaseLost, "lease lost", nil)
	wrapped := fmt.Errorf("complete notification: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeConflictLeaseLost {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodeConflictLeaseLost)
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("send batch: %w", NewAppError(ErrCodeUpstreamRateLimited, "429", nil))
	if got := CodeOf(wrapped); got != ErrCodeUpstreamRateLimited {
		t.Errorf("CodeOf(wrapped) = %q, want %q", got, ErrCodeUpstreamRateLimited)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternalUnexpected {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrCodeInternalUnexpected)
	}
}

func TestAppErrorWithDetails(t *testing.T) {
	original := NewAppErrorWithDetails(
		ErrCodeValidationMissingField,
		"field is required",
		nil,
		map[string]any{"field": "title"},
	)

	enhanced := original.WithDetails(map[string]any{"hint": "provide a non-empty title"})

	if _, ok := original.Details["hint"]; ok {
		t.Error("WithDetails should not mutate the original error")
	}
	if enhanced.Details["field"] != "title" || enhanced.Details["hint"] == nil {
		t.Errorf("merged details = %v", enhanced.Details)
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationScheduleInPast, http.StatusBadRequest},
		{ErrCodeValidationInvalidAudience, http.StatusBadRequest},
		{ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{ErrCodePermissionScope, http.StatusForbidden},
		{ErrCodeRateLimit, http.StatusTooManyRequests},
		{ErrCodeNotFoundNotification, http.StatusNotFound},
		{ErrCodeConflictLeaseLost, http.StatusConflict},
		{ErrCodeConflictIdempotency, http.StatusConflict},
		{ErrCodeUpstreamPushGateway, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
