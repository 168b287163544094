package telemetry_test

import (
	"testing"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-03-15 is a Friday.
var friday = at("2024-03-15 14:00:00")

func TestPeriodWindows_Today_ComparesSameWeekdayLastWeek(t *testing.T) {
	// GIVEN: Friday 14:00
	// WHEN: Resolving "today"
	// THEN: Current is [Fri 00:00, Fri 14:00) and previous is the same
	//       partial span of the previous Friday, not Thursday

	current, previous, err := telemetry.PeriodWindows(telemetry.PeriodToday, friday, nil)
	require.NoError(t, err)

	assert.Equal(t, at("2024-03-15 00:00:00"), current.Start)
	assert.Equal(t, friday, current.End)
	assert.Equal(t, at("2024-03-08 00:00:00"), previous.Start)
	assert.Equal(t, at("2024-03-08 14:00:00"), previous.End)
}

func TestPeriodWindows_Yesterday(t *testing.T) {
	current, previous, err := telemetry.PeriodWindows(telemetry.PeriodYesterday, friday, nil)
	require.NoError(t, err)

	assert.Equal(t, at("2024-03-14 00:00:00"), current.Start)
	assert.Equal(t, at("2024-03-15 00:00:00"), current.End)
	assert.Equal(t, at("2024-03-07 00:00:00"), previous.Start)
	assert.Equal(t, at("2024-03-08 00:00:00"), previous.End)
}

func TestPeriodWindows_ThisWeek_StartsMonday(t *testing.T) {
	current, previous, err := telemetry.PeriodWindows(telemetry.PeriodThisWeek, friday, nil)
	require.NoError(t, err)

	assert.Equal(t, at("2024-03-11 00:00:00"), current.Start, "week starts Monday 00:00")
	assert.Equal(t, friday, current.End)
	assert.Equal(t, at("2024-03-04 00:00:00"), previous.Start)
	assert.Equal(t, at("2024-03-08 14:00:00"), previous.End)
}

func TestPeriodWindows_ThisWeek_OnMonday(t *testing.T) {
	// A Monday morning still resolves to the current Monday, not last week.
	monday := at("2024-03-11 09:30:00")
	current, _, err := telemetry.PeriodWindows(telemetry.PeriodThisWeek, monday, nil)
	require.NoError(t, err)
	assert.Equal(t, at("2024-03-11 00:00:00"), current.Start)
}

func TestPeriodWindows_ThisMonth_SameElapsedSpanOfPriorMonth(t *testing.T) {
	// GIVEN: 14.58 days into March
	// WHEN: Resolving "this_month"
	// THEN: Previous is the same elapsed duration from the 1st of February

	current, previous, err := telemetry.PeriodWindows(telemetry.PeriodThisMonth, friday, nil)
	require.NoError(t, err)

	assert.Equal(t, at("2024-03-01 00:00:00"), current.Start)
	assert.Equal(t, at("2024-02-01 00:00:00"), previous.Start)
	assert.Equal(t, current.Duration(), previous.Duration())
	assert.Equal(t, at("2024-02-15 14:00:00"), previous.End)
}

func TestPeriodWindows_Custom_PrecedingWindowOfSameDuration(t *testing.T) {
	custom := telemetry.NewWindow(at("2024-03-10 00:00:00"), at("2024-03-13 00:00:00"))
	current, previous, err := telemetry.PeriodWindows(telemetry.PeriodCustom, friday, &custom)
	require.NoError(t, err)

	assert.Equal(t, custom, current)
	assert.Equal(t, at("2024-03-07 00:00:00"), previous.Start)
	assert.Equal(t, custom.Start, previous.End, "previous window must abut the current one")
}

func TestPeriodWindows_Custom_RejectsMissingOrInvalidWindow(t *testing.T) {
	_, _, err := telemetry.PeriodWindows(telemetry.PeriodCustom, friday, nil)
	assert.ErrorIs(t, err, telemetry.ErrInvalidWindow)

	inverted := telemetry.NewWindow(at("2024-03-13 00:00:00"), at("2024-03-10 00:00:00"))
	_, _, err = telemetry.PeriodWindows(telemetry.PeriodCustom, friday, &inverted)
	assert.ErrorIs(t, err, telemetry.ErrInvalidWindow)
}

func TestParsePeriodKind(t *testing.T) {
	kind, err := telemetry.ParsePeriodKind("this_week")
	require.NoError(t, err)
	assert.Equal(t, telemetry.PeriodThisWeek, kind)

	_, err = telemetry.ParsePeriodKind("fortnight")
	assert.ErrorIs(t, err, telemetry.ErrUnknownPeriod)
}
