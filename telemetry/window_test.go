package telemetry_test

import (
	"testing"
	"time"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

// =============================================================================
// HALF-OPEN SEMANTICS
// =============================================================================

func TestWindow_Contains_HalfOpen(t *testing.T) {
	w := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))

	assert.True(t, w.Contains(at("2024-03-15 10:00:00")), "start is inclusive")
	assert.True(t, w.Contains(at("2024-03-15 10:59:59")))
	assert.False(t, w.Contains(at("2024-03-15 11:00:00")), "end is exclusive")
	assert.False(t, w.Contains(at("2024-03-15 09:59:59")))
}

func TestWindow_Valid(t *testing.T) {
	assert.True(t, telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00")).Valid())
	assert.False(t, telemetry.NewWindow(at("2024-03-15 11:00:00"), at("2024-03-15 11:00:00")).Valid(), "empty window is invalid")
	assert.False(t, telemetry.NewWindow(at("2024-03-15 11:00:00"), at("2024-03-15 10:00:00")).Valid(), "inverted window is invalid")
}

// =============================================================================
// HOUR PARTITIONING
// =============================================================================

func TestPartitionHours_TilesWithoutGapsOrOverlap(t *testing.T) {
	// GIVEN: A 3-hour aligned interval
	// WHEN: Partitioned
	// THEN: Exactly 3 windows, each ending where the next begins

	windows := telemetry.PartitionHours(at("2024-03-15 08:00:00"), at("2024-03-15 11:00:00"))
	require.Len(t, windows, 3)
	for i, w := range windows {
		assert.Equal(t, time.Hour, w.Duration())
		if i > 0 {
			assert.Equal(t, windows[i-1].End, w.Start, "windows must tile")
		}
	}
}

func TestPartitionHours_ClampsTrailingPartialHour(t *testing.T) {
	// GIVEN: An interval ending mid-hour
	// WHEN: Partitioned
	// THEN: The last window is short, never reaching past the interval

	windows := telemetry.PartitionHours(at("2024-03-15 08:00:00"), at("2024-03-15 09:40:00"))
	require.Len(t, windows, 2)
	assert.Equal(t, at("2024-03-15 09:00:00"), windows[1].Start)
	assert.Equal(t, at("2024-03-15 09:40:00"), windows[1].End)
}

func TestPartitionHours_EmptyInterval(t *testing.T) {
	assert.Nil(t, telemetry.PartitionHours(at("2024-03-15 08:00:00"), at("2024-03-15 08:00:00")))
	assert.Nil(t, telemetry.PartitionHours(at("2024-03-15 09:00:00"), at("2024-03-15 08:00:00")))
}

// =============================================================================
// BOUNDARIES
// =============================================================================

func TestFloorHour(t *testing.T) {
	assert.Equal(t, at("2024-03-15 14:00:00"), telemetry.FloorHour(at("2024-03-15 14:37:12")))
	assert.Equal(t, at("2024-03-15 14:00:00"), telemetry.FloorHour(at("2024-03-15 14:00:00")))
}

func TestNextHourBoundary(t *testing.T) {
	// A timestamp already on the boundary stays put; anything inside the
	// hour rounds up.
	assert.Equal(t, at("2024-03-15 14:00:00"), telemetry.NextHourBoundary(at("2024-03-15 14:00:00")))
	assert.Equal(t, at("2024-03-15 15:00:00"), telemetry.NextHourBoundary(at("2024-03-15 14:00:01")))
	assert.Equal(t, at("2024-03-15 15:00:00"), telemetry.NextHourBoundary(at("2024-03-15 14:59:59")))
}

// =============================================================================
// FUTURE-RECORD GUARD
// =============================================================================

func TestBatch_DropFuture(t *testing.T) {
	// GIVEN: A batch with one past and one future record of each kind
	// WHEN: DropFuture runs at a fixed now
	// THEN: Only the future ones are removed

	now := at("2024-03-15 14:00:00")
	batch := &telemetry.Batch{
		Sales: []telemetry.SaleRecord{
			{DocumentRef: "ok", Timestamp: at("2024-03-15 13:30:00")},
			{DocumentRef: "future", Timestamp: at("2024-03-15 14:30:00")},
		},
		Counts: []telemetry.PeopleCountSample{
			{Sensor: "ok", WindowStart: at("2024-03-15 13:00:00")},
			{Sensor: "future", WindowStart: at("2024-03-15 15:00:00")},
		},
		Heatmaps: []telemetry.HeatmapSample{
			{Sensor: "future", WindowStart: at("2024-03-15 16:00:00")},
		},
		Regional: []telemetry.RegionalOccupancySample{
			{Sensor: "ok", WindowStart: at("2024-03-15 13:00:00")},
		},
	}

	dropped := batch.DropFuture(now)

	assert.Equal(t, 3, dropped)
	require.Len(t, batch.Sales, 1)
	assert.Equal(t, "ok", batch.Sales[0].DocumentRef)
	require.Len(t, batch.Counts, 1)
	assert.Equal(t, "ok", batch.Counts[0].Sensor)
	assert.Empty(t, batch.Heatmaps)
	assert.Len(t, batch.Regional, 1)
}

func TestPeopleCountSample_Recompute_IgnoresExteriorLine(t *testing.T) {
	sample := telemetry.PeopleCountSample{Line1In: 10, Line2In: 5, Line3In: 2, Line4In: 99, Line4Out: 80}
	sample.Recompute()
	assert.Equal(t, 17, sample.TotalIn, "line 4 is the exterior corridor and never counts as an entry")
}
