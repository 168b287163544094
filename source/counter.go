/*
counter.go - Line-count report adapter (dw=vcalogcsv)

PURPOSE:
  Pulls the hourly per-line crossing counts from one sensor. Lines 1-3 are
  the interior entrances; line 4 faces the exterior corridor, so its in/out
  pair is kept separately and never contributes to the store's entry total.
  TotalIn is recomputed here rather than trusted from the report.
*/
package source

import (
	"context"
	"net/url"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/sirupsen/logrus"
)

// CounterClient fetches people-count samples.
type CounterClient struct {
	*SensorClient
}

// Fetch returns the line-count samples for one sensor inside w.
func (c *CounterClient) Fetch(ctx context.Context, store telemetry.StoreID, sensor telemetry.Sensor, w telemetry.Window) ([]telemetry.PeopleCountSample, error) {
	params := url.Values{}
	params.Set("dw", "vcalogcsv")
	params.Set("report_type", "0")
	params.Set("linetype", "31")
	params.Set("statistics_type", "3")

	rows, _, err := c.fetchReport(ctx, store, sensor, w, params)
	if err != nil {
		return nil, err
	}

	var samples []telemetry.PeopleCountSample
	for _, row := range rows {
		rw, err := rowWindow(row, counterRowTimeLayout)
		if err != nil {
			c.Log.WithFields(logrus.Fields{"store": store, "sensor": sensor.ID, "error": err}).
				Warn("count row dropped: unreadable window")
			continue
		}
		if !w.Contains(rw.Start) {
			continue
		}

		sample := telemetry.PeopleCountSample{
			Store:       store,
			Sensor:      sensor.ID,
			WindowStart: rw.Start,
			WindowEnd:   rw.End,
		}
		sample.Line1In, _ = intField(row, "Line1 - In")
		sample.Line2In, _ = intField(row, "Line2 - In")
		sample.Line3In, _ = intField(row, "Line3 - In")
		sample.Line4In, _ = intField(row, "Line4 - In")
		sample.Line4Out, _ = intField(row, "Line4 - Out")
		sample.Recompute()
		samples = append(samples, sample)
	}
	return samples, nil
}
