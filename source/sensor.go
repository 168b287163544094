/*
sensor.go - Shared HTTP plumbing for the counting-sensor endpoints

PURPOSE:
  Every sensor report lives behind the same CGI endpoint with a different
  "dw" selector. This file owns the request building (basic auth, the
  sensor's dash-separated time parameters) and the per-report adapters stay
  small.

TIME FORMATS:
  Query parameters:  2006-01-02-15:04:05 (dashes throughout)
  Counter/regional rows: 2006/01/02 15:04:05
  Heatmap rows:          2006-01-02 15:04:05
*/
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/sirupsen/logrus"
)

const (
	sensorQueryTimeLayout = "2006-01-02-15:04:05"
	counterRowTimeLayout  = "2006/01/02 15:04:05"
	heatmapRowTimeLayout  = "2006-01-02 15:04:05"
)

// SensorClient holds the transport shared by the per-report adapters.
type SensorClient struct {
	Username string
	Password string
	Client   *http.Client
	Log      *logrus.Logger
}

// fetchReport GETs one sensor report and returns its parsed rows. A body
// that cannot be parsed as CSV is logged and yields no rows.
func (c *SensorClient) fetchReport(ctx context.Context, store telemetry.StoreID, sensor telemetry.Sensor, w telemetry.Window, params url.Values) ([]csvRow, []string, error) {
	params.Set("time_start", w.Start.Format(sensorQueryTimeLayout))
	params.Set("time_end", w.End.Format(sensorQueryTimeLayout))
	endpoint := fmt.Sprintf("http://%s/dataloader.cgi?%s", sensor.Addr, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	req.SetBasicAuth(c.Username, c.Password)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, nil, &telemetry.SourceError{Store: store, Sensor: sensor.ID, URL: endpoint, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &telemetry.SourceError{Store: store, Sensor: sensor.ID, URL: endpoint, Status: resp.StatusCode}
	}

	rows, headers, err := parseCSVRows(resp.Body)
	if err != nil {
		c.Log.WithFields(logrus.Fields{
			"store":  store,
			"sensor": sensor.ID,
			"error":  err,
		}).Warn("sensor response not parseable, treating as empty")
		return nil, nil, nil
	}
	return rows, headers, nil
}

// rowWindow reads a row's [StartTime, EndTime) pair. A missing or
// unreadable EndTime falls back to start + 1h, matching the sensors'
// hourly reporting.
func rowWindow(row csvRow, layout string) (telemetry.Window, error) {
	start, err := time.Parse(layout, row["StartTime"])
	if err != nil {
		return telemetry.Window{}, fmt.Errorf("StartTime: %w", err)
	}
	end, err := time.Parse(layout, row["EndTime"])
	if err != nil {
		end = start.Add(time.Hour)
	}
	return telemetry.NewWindow(start, end), nil
}
