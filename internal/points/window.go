package points

import "time"

// WindowKind selects a reporting period.
type WindowKind string

const (
	WindowToday WindowKind = "today"
	WindowWeek  WindowKind = "week"
	WindowMonth WindowKind = "month"
)

// Window is an inclusive [Start, End] time range in the device's local zone.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, bounds inclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// WindowFor computes the reporting window ending at the close of now's
// calendar day: today is the local day, week starts Monday 00:00, month starts
// on the first.
func WindowFor(kind WindowKind, now time.Time) Window {
	end := endOfDay(now)

	var start time.Time
	switch kind {
	case WindowWeek:
		start = startOfWeek(now)
	case WindowMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		start = startOfDay(now)
	}
	return Window{Start: start, End: end}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// startOfWeek returns Monday 00:00 of t's week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := int(day.Weekday()-time.Monday+7) % 7
	return day.AddDate(0, 0, -offset)
}
