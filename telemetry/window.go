/*
window.go - Half-open time windows for collection and aggregation

PURPOSE:
  Every collection run and every KPI query operates on a Window: a half-open
  interval [Start, End). Half-open windows tile cleanly — hour N ends exactly
  where hour N+1 begins, so no sample can belong to two windows.

KEY OPERATIONS:
  Contains:        membership test (start inclusive, end exclusive)
  PartitionHours:  split an arbitrary interval into hour-aligned sub-windows
  FloorHour:       truncate a timestamp to the containing clock hour

SEE ALSO:
  - period.go: symbolic periods (Today, ThisWeek, ...) built on Window
  - collector/scheduler.go: partitions [checkpoint, now) with PartitionHours
*/
package telemetry

import "time"

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow creates a window. Callers must ensure End is after Start;
// Valid reports whether they did.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

// Valid reports whether the window is well-formed (End strictly after Start).
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// Contains reports whether t falls inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Shift returns the window moved by d (negative d moves it into the past).
func (w Window) Shift(d time.Duration) Window {
	return Window{Start: w.Start.Add(d), End: w.End.Add(d)}
}

// String formats the window for logs.
func (w Window) String() string {
	return "[" + w.Start.Format("2006-01-02 15:04:05") + ", " + w.End.Format("2006-01-02 15:04:05") + ")"
}

// FloorHour truncates t to the start of its clock hour, preserving location.
func FloorHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// NextHourBoundary returns the first clock-hour boundary strictly after t,
// unless t is already on a boundary, in which case t itself is returned.
func NextHourBoundary(t time.Time) time.Time {
	floored := FloorHour(t)
	if floored.Equal(t) {
		return t
	}
	return floored.Add(time.Hour)
}

// Midnight truncates t to the start of its calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// PartitionHours splits [from, to) into hour-aligned sub-windows. The first
// window starts at from (which the scheduler always passes hour-aligned);
// the last window is clamped to to, so a partial trailing hour yields a
// short window rather than one reaching into the future.
func PartitionHours(from, to time.Time) []Window {
	if !to.After(from) {
		return nil
	}
	var windows []Window
	cur := from
	for cur.Before(to) {
		next := FloorHour(cur).Add(time.Hour)
		if next.After(to) {
			next = to
		}
		windows = append(windows, Window{Start: cur, End: next})
		cur = next
	}
	return windows
}
