/*
kpiset.go - The derived metric set for one (target, window)

PURPOSE:
  KpiSet is what the engine exists to produce: the full set of retail
  indicators derived from one aggregation pass over the raw rows. Money
  totals stay decimal end to end; only the final ratios are float64.

RATIO DISCIPLINE:
  Every ratio carries its numerator and denominator alongside it (counts
  and totals are all present in the set), and ratios are only ever computed
  from those sums. Aggregating several stores means summing raw rows and
  recomputing, never averaging per-store ratios.
*/
package kpi

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SellerTotal is one seller's summed net sales inside the window.
type SellerTotal struct {
	Code     string          `json:"codigo"`
	Name     string          `json:"nome"`
	NetSales decimal.Decimal `json:"valor_sem_iva"`
}

// ProductTotal is one item's summed quantity inside the window.
type ProductTotal struct {
	Code        string          `json:"codigo"`
	Description string          `json:"descricao"`
	Quantity    decimal.Decimal `json:"quantidade"`
}

// RegionShare is one floor region's share of total occupancy.
type RegionShare struct {
	Region string  `json:"zona"`
	Count  int64   `json:"contagem"`
	Share  float64 `json:"percentagem"`
}

// KpiSet is the complete indicator set for one target and window.
type KpiSet struct {
	// Raw sums the ratios derive from. The sale totals accumulate every
	// row, so a return's negative values leave them net of returns;
	// ReturnsWithoutVAT carries the returned magnitude separately.
	SalesWithVAT      decimal.Decimal
	SalesWithoutVAT   decimal.Decimal
	ReturnsWithoutVAT decimal.Decimal
	DiscountTotal     decimal.Decimal
	UnitsSold         decimal.Decimal
	Transactions      int64
	Visitors          int64 // interior entries (lines 1-3)
	Line4In           int64 // exterior corridor, inbound direction
	Line4Out          int64 // exterior corridor, outbound direction
	Passersby         int64 // Line4In + Line4Out
	DwellSeconds      int64

	// Derived ratios, zero when their denominator is zero.
	ConversionRate      float64 // transactions / visitors * 100
	EntryRate           float64 // visitors / passersby * 100
	AvgBasketWithVAT    float64
	AvgBasketWithoutVAT float64
	UnitsPerTransaction float64
	ReturnIndex         float64 // returns / net sales * 100
	DiscountIndex       float64 // discounts / sales-with-VAT * 100
	AvgDwellMinutes     float64 // dwell seconds / visitors / 60

	TopSellers  []SellerTotal
	TopProducts []ProductTotal
	Regions     []RegionShare

	// LastSourceUpdate is the newest collection checkpoint over the target's
	// stores, reported so consumers can judge freshness.
	LastSourceUpdate time.Time
}

// HasData reports whether any raw record contributed to the set.
func (k *KpiSet) HasData() bool {
	return k.Transactions > 0 || k.Visitors > 0 || k.Passersby > 0 ||
		k.DwellSeconds > 0 || len(k.Regions) > 0 ||
		!k.SalesWithVAT.IsZero() || !k.ReturnsWithoutVAT.IsZero()
}

// TopRegions returns the n busiest regions, busiest first.
func (k *KpiSet) TopRegions(n int) []RegionShare {
	return pickRegions(k.Regions, n, func(a, b RegionShare) bool { return a.Count > b.Count })
}

// BottomRegions returns the n quietest regions, quietest first.
func (k *KpiSet) BottomRegions(n int) []RegionShare {
	return pickRegions(k.Regions, n, func(a, b RegionShare) bool { return a.Count < b.Count })
}

func pickRegions(regions []RegionShare, n int, less func(a, b RegionShare) bool) []RegionShare {
	sorted := make([]RegionShare, len(regions))
	copy(sorted, regions)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// ratio guards the division every derived metric shares: a zero denominator
// yields zero, never NaN or Inf.
func ratio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// decimalRatio is ratio for decimal sums, returning a float64 metric.
func decimalRatio(numerator decimal.Decimal, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	f, _ := numerator.Div(decimal.NewFromInt(denominator)).Float64()
	return f
}

// percentOf returns part/whole*100 over decimals, zero when whole is zero.
func percentOf(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	f, _ := part.Div(whole).Mul(decimal.NewFromInt(100)).Float64()
	return f
}
