/*
period.go - Symbolic reporting periods and their prior-period equivalents

PURPOSE:
  Maps the symbolic periods the report consumer asks for (Today, Yesterday,
  ThisWeek, ThisMonth, Custom) to concrete half-open windows, together with
  the "equivalent prior period" used for period-over-period comparison.

OFFSET RULES:
  Today      [midnight, now)          previous: same range shifted back 7 days
  Yesterday  [midnight-1d, midnight)  previous: shifted back 7 days
  ThisWeek   [Monday 00:00, now)      previous: shifted back 7 days
  ThisMonth  [1st 00:00, now)         previous: same day offset into the prior
                                      calendar month, same elapsed duration
  Custom     [start, end)             previous: immediately preceding window
                                      of identical duration

  Day-granularity periods compare against the same weekday one week back,
  never against the preceding calendar day, so weekday traffic patterns
  line up.
*/
package telemetry

import (
	"fmt"
	"time"
)

// PeriodKind is a symbolic reporting period.
type PeriodKind string

const (
	PeriodToday     PeriodKind = "today"
	PeriodYesterday PeriodKind = "yesterday"
	PeriodThisWeek  PeriodKind = "this_week"
	PeriodThisMonth PeriodKind = "this_month"
	PeriodCustom    PeriodKind = "custom"
)

// ParsePeriodKind converts a wire string to a PeriodKind.
func ParsePeriodKind(s string) (PeriodKind, error) {
	switch PeriodKind(s) {
	case PeriodToday, PeriodYesterday, PeriodThisWeek, PeriodThisMonth, PeriodCustom:
		return PeriodKind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// PeriodWindows resolves a symbolic period at the given reference time into
// the current window and its equivalent prior window. For PeriodCustom the
// caller supplies the current window via custom; for all other kinds custom
// is ignored.
func PeriodWindows(kind PeriodKind, now time.Time, custom *Window) (current, previous Window, err error) {
	week := 7 * 24 * time.Hour

	switch kind {
	case PeriodToday:
		current = Window{Start: Midnight(now), End: now}
		previous = current.Shift(-week)

	case PeriodYesterday:
		midnight := Midnight(now)
		current = Window{Start: midnight.AddDate(0, 0, -1), End: midnight}
		previous = current.Shift(-week)

	case PeriodThisWeek:
		current = Window{Start: startOfWeek(now), End: now}
		previous = current.Shift(-week)

	case PeriodThisMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		current = Window{Start: start, End: now}
		prevStart := start.AddDate(0, -1, 0)
		previous = Window{Start: prevStart, End: prevStart.Add(current.Duration())}

	case PeriodCustom:
		if custom == nil || !custom.Valid() {
			return Window{}, Window{}, ErrInvalidWindow
		}
		current = *custom
		previous = Window{Start: current.Start.Add(-current.Duration()), End: current.Start}

	default:
		return Window{}, Window{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, kind)
	}

	if !current.Valid() {
		return Window{}, Window{}, ErrInvalidWindow
	}
	return current, previous, nil
}

// startOfWeek returns Monday 00:00 of the week containing t.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return Midnight(t).AddDate(0, 0, -offset)
}
