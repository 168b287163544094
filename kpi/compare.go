/*
compare.go - Period-over-period comparison

PURPOSE:
  Runs the aggregator over a requested period and its reference period and
  reports the percentage change per metric. The reference window comes from
  telemetry.PeriodWindows, so "today" compares against the same elapsed
  span of the same weekday last week, not a full day against a partial one.

DELTA CONVENTIONS:
  both zero:     0 (no movement)
  baseline zero: +/-100, carrying the sign of the current value
  otherwise:     (current - previous) / previous * 100

  Trend direction is inverted for metrics where growth is bad (returns,
  discounts): a falling return index reports as improving.
*/
package kpi

import (
	"context"
	"time"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/shopspring/decimal"
)

// Trend classifies a metric's movement between the two periods.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendWorsening Trend = "worsening"
	TrendFlat      Trend = "flat"
)

// Delta is one metric's movement between the reference and current period.
type Delta struct {
	Current  float64 `json:"atual"`
	Previous float64 `json:"anterior"`
	Pct      float64 `json:"variacao_pct"`
	Trend    Trend   `json:"tendencia"`
}

// Comparison is the full result of one period comparison.
type Comparison struct {
	Period         telemetry.PeriodKind
	CurrentWindow  telemetry.Window
	PreviousWindow telemetry.Window
	Current        *KpiSet
	Previous       *KpiSet
	Deltas         map[string]Delta
}

// Metric keys in Comparison.Deltas.
const (
	MetricSalesWithVAT        = "vendas_com_iva"
	MetricSalesWithoutVAT     = "vendas_sem_iva"
	MetricTransactions        = "transacoes"
	MetricUnitsSold           = "unidades"
	MetricVisitors            = "visitantes"
	MetricPassersby           = "passantes"
	MetricConversionRate      = "taxa_conversao"
	MetricEntryRate           = "taxa_entrada"
	MetricAvgBasketWithVAT    = "cesta_media_com_iva"
	MetricAvgBasketWithoutVAT = "cesta_media_sem_iva"
	MetricUnitsPerTransaction = "unidades_por_transacao"
	MetricReturnIndex         = "indice_devolucoes"
	MetricDiscountIndex       = "indice_descontos"
	MetricAvgDwellMinutes     = "permanencia_media_min"
)

// lowerIsBetter marks the metrics whose growth is unfavorable.
var lowerIsBetter = map[string]bool{
	MetricReturnIndex:   true,
	MetricDiscountIndex: true,
}

// Comparator computes period-over-period comparisons.
type Comparator struct {
	agg *Aggregator

	// now is swappable in tests to pin the symbolic periods.
	now func() time.Time
}

// NewComparator builds a comparator over the aggregator.
func NewComparator(agg *Aggregator) *Comparator {
	return &Comparator{agg: agg, now: time.Now}
}

// Compare aggregates the requested period and its reference period for the
// stores. custom is only consulted for PeriodCustom. A current period with
// no data at all returns a NoDataError.
func (c *Comparator) Compare(ctx context.Context, stores []telemetry.StoreID, kind telemetry.PeriodKind, custom *telemetry.Window) (*Comparison, error) {
	current, previous, err := telemetry.PeriodWindows(kind, c.now(), custom)
	if err != nil {
		return nil, err
	}

	curSet, err := c.agg.Aggregate(ctx, stores, current)
	if err != nil {
		return nil, err
	}
	if !curSet.HasData() {
		return nil, &telemetry.NoDataError{Stores: stores, Window: current}
	}
	prevSet, err := c.agg.Aggregate(ctx, stores, previous)
	if err != nil {
		return nil, err
	}

	return &Comparison{
		Period:         kind,
		CurrentWindow:  current,
		PreviousWindow: previous,
		Current:        curSet,
		Previous:       prevSet,
		Deltas:         buildDeltas(curSet, prevSet),
	}, nil
}

func buildDeltas(cur, prev *KpiSet) map[string]Delta {
	pairs := map[string][2]float64{
		MetricSalesWithVAT:        {decimalF(cur.SalesWithVAT), decimalF(prev.SalesWithVAT)},
		MetricSalesWithoutVAT:     {decimalF(cur.SalesWithoutVAT), decimalF(prev.SalesWithoutVAT)},
		MetricTransactions:        {float64(cur.Transactions), float64(prev.Transactions)},
		MetricUnitsSold:           {decimalF(cur.UnitsSold), decimalF(prev.UnitsSold)},
		MetricVisitors:            {float64(cur.Visitors), float64(prev.Visitors)},
		MetricPassersby:           {float64(cur.Passersby), float64(prev.Passersby)},
		MetricConversionRate:      {cur.ConversionRate, prev.ConversionRate},
		MetricEntryRate:           {cur.EntryRate, prev.EntryRate},
		MetricAvgBasketWithVAT:    {cur.AvgBasketWithVAT, prev.AvgBasketWithVAT},
		MetricAvgBasketWithoutVAT: {cur.AvgBasketWithoutVAT, prev.AvgBasketWithoutVAT},
		MetricUnitsPerTransaction: {cur.UnitsPerTransaction, prev.UnitsPerTransaction},
		MetricReturnIndex:         {cur.ReturnIndex, prev.ReturnIndex},
		MetricDiscountIndex:       {cur.DiscountIndex, prev.DiscountIndex},
		MetricAvgDwellMinutes:     {cur.AvgDwellMinutes, prev.AvgDwellMinutes},
	}

	deltas := make(map[string]Delta, len(pairs))
	for metric, pair := range pairs {
		pct := percentDelta(pair[0], pair[1])
		deltas[metric] = Delta{
			Current:  pair[0],
			Previous: pair[1],
			Pct:      pct,
			Trend:    trend(metric, pct),
		}
	}
	return deltas
}

// percentDelta applies the zero-baseline conventions.
func percentDelta(current, previous float64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		if current > 0 {
			return 100
		}
		return -100
	}
	return (current - previous) / previous * 100
}

func trend(metric string, pct float64) Trend {
	if pct == 0 {
		return TrendFlat
	}
	up := pct > 0
	if lowerIsBetter[metric] {
		up = !up
	}
	if up {
		return TrendImproving
	}
	return TrendWorsening
}

func decimalF(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
