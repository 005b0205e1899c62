package core

import (
	"testing"
	"time"

	"dinerbell/internal/types"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	return loc
}

func TestQuietHoursGate_EveryHour(t *testing.T) {
	loc := berlin(t)
	gate, err := NewQuietHoursGate(loc, 21, 11)
	if err != nil {
		t.Fatalf("NewQuietHoursGate: %v", err)
	}

	for h := 0; h < 24; h++ {
		now := time.Date(2026, 3, 2, h, 30, 0, 0, loc).UTC()
		wantQuiet := h >= 21 || h < 11

		res := gate.Evaluate(types.NotificationTypeWeeklyOffer, now)
		if res.Quiet != wantQuiet {
			t.Errorf("hour %d: Quiet = %v, want %v", h, res.Quiet, wantQuiet)
		}
		if res.LocalHour != h {
			t.Errorf("hour %d: LocalHour = %d", h, res.LocalHour)
		}
		if custom := gate.Evaluate(types.NotificationTypeCustom, now); custom.Quiet {
			t.Errorf("hour %d: custom notification gated", h)
		}
	}
}

func TestQuietHoursGate_ResumeAt(t *testing.T) {
	loc := berlin(t)
	gate, _ := NewQuietHoursGate(loc, 21, 11)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before midnight resumes tomorrow", time.Date(2026, 3, 2, 22, 0, 0, 0, loc), time.Date(2026, 3, 3, 11, 0, 0, 0, loc)},
		{"after midnight resumes today", time.Date(2026, 3, 3, 4, 0, 0, 0, loc), time.Date(2026, 3, 3, 11, 0, 0, 0, loc)},
		{"across DST change", time.Date(2026, 3, 28, 23, 0, 0, 0, loc), time.Date(2026, 3, 29, 11, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := gate.Evaluate(types.NotificationTypeEventReminder, tt.now)
			if !res.Quiet {
				t.Fatal("expected quiet")
			}
			if !res.ResumeAt.Equal(tt.want) {
				t.Errorf("ResumeAt = %s, want %s", res.ResumeAt, tt.want)
			}
		})
	}
}

func TestQuietHoursGate_SameDayWindow(t *testing.T) {
	gate, err := NewQuietHoursGate(time.UTC, 13, 15)
	if err != nil {
		t.Fatalf("NewQuietHoursGate: %v", err)
	}
	if !gate.Evaluate(types.NotificationTypeAppUpdate, time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)).Quiet {
		t.Error("14:00 should be quiet")
	}
	if gate.Evaluate(types.NotificationTypeAppUpdate, time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)).Quiet {
		t.Error("15:00 should not be quiet")
	}
}

func TestNewQuietHoursGate_Validation(t *testing.T) {
	if _, err := NewQuietHoursGate(nil, 21, 11); err == nil {
		t.Error("expected error for nil location")
	}
	if _, err := NewQuietHoursGate(time.UTC, 24, 11); err == nil {
		t.Error("expected error for hour 24")
	}
	if _, err := NewQuietHoursGate(time.UTC, 9, 9); err == nil {
		t.Error("expected error for empty window")
	}
}
