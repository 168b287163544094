/*
aggregator.go - One aggregation pass over the raw rows

PURPOSE:
  Derives a KpiSet for a set of stores and a half-open window by summing the
  raw rows and recomputing every ratio from the sums. Single-store and group
  queries run through the same path: a group is just more stores in the IN
  clause, which is what keeps group ratios honest.

RETURNS:
  A line with a negative net value is a return. Every line, returns
  included, flows into the sale totals and the top lists, so the totals
  come out net of returns; the returned net magnitude additionally
  accumulates into ReturnsWithoutVAT, and only documents with a
  non-negative net line count as transactions.

IGNORED ITEMS:
  Item codes listed in the configuration (bags, internal test articles)
  are excluded from every sales-derived figure.

SEE ALSO:
  - store/sqlite/reads.go: the Reader implementation
  - compare.go: runs this twice for period comparisons
*/
package kpi

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/grnl/retail-engine/config"
	"github.com/grnl/retail-engine/telemetry"
	"github.com/sirupsen/logrus"
)

// Reader is the query surface the aggregator consumes.
type Reader interface {
	SalesInWindow(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) ([]telemetry.SaleRecord, error)
	CountsInWindow(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) ([]telemetry.PeopleCountSample, error)
	DwellSecondsInWindow(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) (int64, error)
	RegionalInWindow(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) ([]telemetry.RegionalOccupancySample, error)
	LastSourceUpdate(ctx context.Context, stores []telemetry.StoreID) (time.Time, error)
}

const (
	topSellerCount  = 3
	topProductCount = 5
)

// Aggregator computes KpiSets from stored raw rows.
type Aggregator struct {
	reader  Reader
	cfg     *config.Config
	ignored map[string]struct{}
	log     *logrus.Logger
}

// NewAggregator builds an aggregator over the given reader and configuration.
func NewAggregator(reader Reader, cfg *config.Config, log *logrus.Logger) *Aggregator {
	if log == nil {
		log = logrus.New()
	}
	return &Aggregator{
		reader:  reader,
		cfg:     cfg,
		ignored: cfg.IgnoredSet(),
		log:     log,
	}
}

// Aggregate derives the KpiSet for the stores over w.
func (a *Aggregator) Aggregate(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) (*KpiSet, error) {
	if !w.Valid() {
		return nil, telemetry.ErrInvalidWindow
	}

	sales, err := a.reader.SalesInWindow(ctx, stores, w)
	if err != nil {
		return nil, fmt.Errorf("read sales: %w", err)
	}
	counts, err := a.reader.CountsInWindow(ctx, stores, w)
	if err != nil {
		return nil, fmt.Errorf("read counts: %w", err)
	}
	dwell, err := a.reader.DwellSecondsInWindow(ctx, stores, w)
	if err != nil {
		return nil, fmt.Errorf("read dwell: %w", err)
	}
	regional, err := a.reader.RegionalInWindow(ctx, stores, w)
	if err != nil {
		return nil, fmt.Errorf("read regional: %w", err)
	}

	set := &KpiSet{DwellSeconds: dwell}
	a.foldSales(set, sales)
	foldCounts(set, counts)
	set.Regions = a.foldRegional(stores, regional)
	deriveRatios(set)

	if set.LastSourceUpdate, err = a.reader.LastSourceUpdate(ctx, stores); err != nil {
		return nil, fmt.Errorf("read checkpoint watermark: %w", err)
	}
	return set, nil
}

// foldSales accumulates the sales-derived sums and the top lists.
func (a *Aggregator) foldSales(set *KpiSet, sales []telemetry.SaleRecord) {
	docs := make(map[string]struct{})
	sellers := make(map[string]*SellerTotal)
	products := make(map[string]*ProductTotal)

	for _, sale := range sales {
		if _, skip := a.ignored[sale.ItemCode]; skip {
			continue
		}

		set.SalesWithVAT = set.SalesWithVAT.Add(sale.GrossValue)
		set.SalesWithoutVAT = set.SalesWithoutVAT.Add(sale.NetValue)
		set.DiscountTotal = set.DiscountTotal.Add(sale.Discount)
		set.UnitsSold = set.UnitsSold.Add(sale.Quantity)

		if sale.NetValue.IsNegative() {
			set.ReturnsWithoutVAT = set.ReturnsWithoutVAT.Add(sale.NetValue.Abs())
		} else {
			docs[sale.DocumentRef] = struct{}{}
		}

		if sale.SellerCode != "" {
			s, ok := sellers[sale.SellerCode]
			if !ok {
				s = &SellerTotal{Code: sale.SellerCode, Name: sale.SellerName}
				sellers[sale.SellerCode] = s
			}
			s.NetSales = s.NetSales.Add(sale.NetValue)
		}
		p, ok := products[sale.ItemCode]
		if !ok {
			p = &ProductTotal{Code: sale.ItemCode, Description: sale.Description}
			products[sale.ItemCode] = p
		}
		p.Quantity = p.Quantity.Add(sale.Quantity)
	}

	set.Transactions = int64(len(docs))
	set.TopSellers = topSellers(sellers, topSellerCount)
	set.TopProducts = topProducts(products, topProductCount)
}

func foldCounts(set *KpiSet, counts []telemetry.PeopleCountSample) {
	for _, c := range counts {
		set.Visitors += int64(c.TotalIn)
		set.Line4In += int64(c.Line4In)
		set.Line4Out += int64(c.Line4Out)
	}
	set.Passersby = set.Line4In + set.Line4Out
}

// foldRegional sums per-region occupancy positionally and converts the sums
// into shares of the grand total.
func (a *Aggregator) foldRegional(stores []telemetry.StoreID, samples []telemetry.RegionalOccupancySample) []RegionShare {
	var sums []int64
	var grand int64
	for _, sample := range samples {
		for i, n := range sample.Regions {
			for len(sums) <= i {
				sums = append(sums, 0)
			}
			sums[i] += int64(n)
			grand += int64(n)
		}
	}
	if len(sums) == 0 {
		return nil
	}

	labels := a.regionLabels(stores, len(sums))
	shares := make([]RegionShare, len(sums))
	for i, sum := range sums {
		shares[i] = RegionShare{
			Region: labels[i],
			Count:  sum,
			Share:  ratio(float64(sum), float64(grand)) * 100,
		}
	}
	return shares
}

// regionLabels resolves display names for the positional regions: the
// configured topology for a single-store query, generic labels otherwise.
func (a *Aggregator) regionLabels(stores []telemetry.StoreID, n int) []string {
	labels := make([]string, n)
	if len(stores) == 1 {
		if st, ok := a.cfg.StoreByID(stores[0]); ok {
			copy(labels, st.Regions)
		}
	}
	for i := range labels {
		if labels[i] == "" {
			labels[i] = fmt.Sprintf("Zona %d", i+1)
		}
	}
	return labels
}

// deriveRatios computes every derived metric from the accumulated sums.
func deriveRatios(set *KpiSet) {
	set.ConversionRate = ratio(float64(set.Transactions), float64(set.Visitors)) * 100
	set.EntryRate = ratio(float64(set.Visitors), float64(set.Passersby)) * 100
	set.AvgBasketWithVAT = decimalRatio(set.SalesWithVAT, set.Transactions)
	set.AvgBasketWithoutVAT = decimalRatio(set.SalesWithoutVAT, set.Transactions)
	set.UnitsPerTransaction = decimalRatio(set.UnitsSold, set.Transactions)
	set.ReturnIndex = percentOf(set.ReturnsWithoutVAT, set.SalesWithoutVAT)
	set.DiscountIndex = percentOf(set.DiscountTotal, set.SalesWithVAT)
	set.AvgDwellMinutes = ratio(float64(set.DwellSeconds), float64(set.Visitors)) / 60
}

func topSellers(sellers map[string]*SellerTotal, n int) []SellerTotal {
	out := make([]SellerTotal, 0, len(sellers))
	for _, s := range sellers {
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].NetSales.Equal(out[j].NetSales) {
			return out[i].NetSales.GreaterThan(out[j].NetSales)
		}
		return out[i].Code < out[j].Code
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

func topProducts(products map[string]*ProductTotal, n int) []ProductTotal {
	out := make([]ProductTotal, 0, len(products))
	for _, p := range products {
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Quantity.Equal(out[j].Quantity) {
			return out[i].Quantity.GreaterThan(out[j].Quantity)
		}
		return out[i].Code < out[j].Code
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}
