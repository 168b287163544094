/*
heatmap.go - Dwell-time report adapter (dw=heatmapcsv)

PURPOSE:
  Pulls the hourly aggregate dwell time (seconds) from one sensor. The
  report's single numeric column has shipped as both "Value" and
  "Value(s)" across firmware revisions, so both are accepted.
*/
package source

import (
	"context"
	"net/url"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/sirupsen/logrus"
)

// HeatmapClient fetches dwell-time samples.
type HeatmapClient struct {
	*SensorClient
}

// Fetch returns the dwell-time samples for one sensor inside w.
func (c *HeatmapClient) Fetch(ctx context.Context, store telemetry.StoreID, sensor telemetry.Sensor, w telemetry.Window) ([]telemetry.HeatmapSample, error) {
	params := url.Values{}
	params.Set("dw", "heatmapcsv")
	params.Set("sub_type", "0")

	rows, _, err := c.fetchReport(ctx, store, sensor, w, params)
	if err != nil {
		return nil, err
	}

	var samples []telemetry.HeatmapSample
	for _, row := range rows {
		rw, err := rowWindow(row, heatmapRowTimeLayout)
		if err != nil {
			c.Log.WithFields(logrus.Fields{"store": store, "sensor": sensor.ID, "error": err}).
				Warn("heatmap row dropped: unreadable window")
			continue
		}
		if !w.Contains(rw.Start) {
			continue
		}

		dwell, err := intField(row, "Value(s)")
		if err != nil || row["Value(s)"] == "" {
			dwell, _ = intField(row, "Value")
		}
		samples = append(samples, telemetry.HeatmapSample{
			Store:        store,
			Sensor:       sensor.ID,
			WindowStart:  rw.Start,
			WindowEnd:    rw.End,
			DwellSeconds: dwell,
		})
	}
	return samples, nil
}
