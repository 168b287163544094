/*
series.go - Daily time series over a window

PURPOSE:
  Produces a per-day breakdown of the headline figures for charting. Each
  day is its own aggregation window (midnight to midnight, the trailing day
  clamped to the query window), so the daily ratios obey the same guarded
  derivations as everything else.
*/
package kpi

import (
	"context"

	"github.com/grnl/retail-engine/telemetry"
)

// DayPoint is one day's headline figures.
type DayPoint struct {
	Date            string  `json:"data"`
	SalesWithVAT    float64 `json:"vendas_com_iva"`
	SalesWithoutVAT float64 `json:"vendas_sem_iva"`
	Transactions    int64   `json:"transacoes"`
	Visitors        int64   `json:"visitantes"`
	ConversionRate  float64 `json:"taxa_conversao"`
}

// DailySeries aggregates each calendar day the window touches.
func (a *Aggregator) DailySeries(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) ([]DayPoint, error) {
	if !w.Valid() {
		return nil, telemetry.ErrInvalidWindow
	}

	var points []DayPoint
	day := telemetry.Midnight(w.Start)
	if day.Before(w.Start) {
		day = w.Start
	}
	for day.Before(w.End) {
		next := telemetry.Midnight(day).AddDate(0, 0, 1)
		if next.After(w.End) {
			next = w.End
		}

		set, err := a.Aggregate(ctx, stores, telemetry.NewWindow(day, next))
		if err != nil {
			return nil, err
		}
		points = append(points, DayPoint{
			Date:            day.Format("2006-01-02"),
			SalesWithVAT:    decimalF(set.SalesWithVAT),
			SalesWithoutVAT: decimalF(set.SalesWithoutVAT),
			Transactions:    set.Transactions,
			Visitors:        set.Visitors,
			ConversionRate:  set.ConversionRate,
		})
		day = next
	}
	return points, nil
}
