package core

import (
	"fmt"
	"time"

	"dinerbell/internal/types"
)

// QuietHoursReason is recorded on recipients and rows held back by the gate.
const QuietHoursReason = "skipped: quiet hours"

// GateResult is the decision for one notification.
type GateResult struct {
	Quiet     bool
	LocalHour int
	// ResumeAt is the end of the current quiet window. Zero when not quiet.
	ResumeAt time.Time
}

// QuietHoursGate suppresses non-custom notifications during the restaurant's
// quiet window. The window is [start, end) in whole local hours and may wrap
// midnight.
type QuietHoursGate struct {
	loc   *time.Location
	start int
	end   int
}

// NewQuietHoursGate validates the window bounds.
func NewQuietHoursGate(loc *time.Location, start, end int) (*QuietHoursGate, error) {
	if loc == nil {
		return nil, fmt.Errorf("quiet hours: location is required")
	}
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return nil, fmt.Errorf("quiet hours: bounds must be within 0-23, got %d-%d", start, end)
	}
	if start == end {
		return nil, fmt.Errorf("quiet hours: start and end must differ")
	}
	return &QuietHoursGate{loc: loc, start: start, end: end}, nil
}

// Location returns the restaurant timezone.
func (g *QuietHoursGate) Location() *time.Location { return g.loc }

// Evaluate decides whether a notification of type t may be sent at now.
// Custom notifications always pass.
func (g *QuietHoursGate) Evaluate(t types.NotificationType, now time.Time) GateResult {
	local := now.In(g.loc)
	res := GateResult{LocalHour: local.Hour()}
	if t == types.NotificationTypeCustom {
		return res
	}
	if quiet, resumeAt := g.inWindow(local); quiet {
		res.Quiet = true
		res.ResumeAt = resumeAt
	}
	return res
}

// inWindow reports whether local falls in the window and when the window
// ends.
func (g *QuietHoursGate) inWindow(local time.Time) (bool, time.Time) {
	h := local.Hour()
	endToday := time.Date(local.Year(), local.Month(), local.Day(), g.end, 0, 0, 0, g.loc)

	if g.start < g.end {
		if h >= g.start && h < g.end {
			return true, endToday
		}
		return false, time.Time{}
	}

	// Overnight window, e.g. 21-11.
	switch {
	case h >= g.start:
		tomorrow := local.AddDate(0, 0, 1)
		return true, time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), g.end, 0, 0, 0, g.loc)
	case h < g.end:
		return true, endToday
	}
	return false, time.Time{}
}
