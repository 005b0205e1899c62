package scheduler

import (
	"strings"
	"time"
)

// startOfDay returns local midnight of t's calendar day in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// nextWeekdayAt returns the first wall-clock time hour:00 on weekday in loc
// that is strictly after now. Today counts when it is the right weekday and
// the hour is still ahead.
func nextWeekdayAt(now time.Time, loc *time.Location, weekday time.Weekday, hour int) time.Time {
	local := now.In(loc)
	days := (int(weekday) - int(local.Weekday()) + 7) % 7
	candidate := time.Date(local.Year(), local.Month(), local.Day()+days, hour, 0, 0, 0, loc)
	if !candidate.After(now) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+days+7, hour, 0, 0, 0, loc)
	}
	return candidate
}

// dayBeforeAt returns hour:00 local on the calendar day before date. Only the
// year, month and day of date are used, so DATE columns scanned as UTC
// midnight keep their calendar day.
func dayBeforeAt(date time.Time, loc *time.Location, hour int) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d-1, hour, 0, 0, 0, loc)
}

// joinNames renders "A", "A and B", "A, B and C".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
