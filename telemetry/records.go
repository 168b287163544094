/*
records.go - Raw telemetry records and their natural keys

PURPOSE:
  Defines the typed raw records a Source Adapter produces for one
  (store, window) pull, and the Batch container the scheduler hands to the
  dedup/upsert store.

NATURAL KEYS:
  SaleRecord:              (document reference, item code, timestamp)
  PeopleCountSample:       (store, sensor, window start)
  HeatmapSample:           (store, sensor, window start)
  RegionalOccupancySample: (store, sensor, window start)

  Sales rows are immutable once recorded: a second row under the same key is
  a re-fetch and is skipped. Sensor samples are corrected on re-poll: a
  second row under the same key overwrites the numeric fields.

INVARIANTS:
  - PeopleCountSample.TotalIn is always recomputed from the interior line
    counts; the value reported by the source is never trusted.
  - Records whose timestamp lies in the future at fetch time never reach
    storage (Batch.DropFuture, backed by the store-side sweep).
*/
package telemetry

import (
	"time"

	"github.com/shopspring/decimal"
)

// StoreID identifies a physical store (site).
type StoreID string

// Sensor is one physical counting device inside a store, addressed by its
// base address (host:port).
type Sensor struct {
	ID   string `json:"id" validate:"required"`
	Addr string `json:"addr" validate:"required,hostname_port"`
}

// SaleRecord is one line item of a sales transaction.
type SaleRecord struct {
	Store        StoreID
	Timestamp    time.Time
	DocumentRef  string
	OriginalDoc  string
	DocumentType string
	ItemCode     string
	Description  string
	SellerCode   string
	SellerName   string
	Quantity     decimal.Decimal
	GrossValue   decimal.Decimal // sale value with VAT
	NetValue     decimal.Decimal // sale value without VAT
	VAT          decimal.Decimal
	Discount     decimal.Decimal
	DiscountPct  decimal.Decimal
	DiscountWhy  string
}

// PeopleCountSample is one hour-bucketed line-count reading from a sensor.
// Lines 1-3 cross the interior entrances; line 4 crosses the exterior
// corridor in front of the store.
type PeopleCountSample struct {
	Store       StoreID
	Sensor      string
	WindowStart time.Time
	WindowEnd   time.Time
	Line1In     int
	Line2In     int
	Line3In     int
	Line4In     int
	Line4Out    int
	TotalIn     int // derived: Line1In + Line2In + Line3In
}

// Recompute refreshes the derived total from the interior line counts.
func (p *PeopleCountSample) Recompute() {
	p.TotalIn = p.Line1In + p.Line2In + p.Line3In
}

// HeatmapSample is an aggregate dwell-time reading for one sensor window,
// in seconds.
type HeatmapSample struct {
	Store        StoreID
	Sensor       string
	WindowStart  time.Time
	WindowEnd    time.Time
	DwellSeconds int
}

// RegionalOccupancySample carries per-region occupancy counts for one sensor
// window. Region count varies with store topology, so counts are positional.
type RegionalOccupancySample struct {
	Store       StoreID
	Sensor      string
	WindowStart time.Time
	WindowEnd   time.Time
	Regions     []int
	Total       int
}

// Batch is the unit a Source Adapter returns and the store upserts
// atomically.
type Batch struct {
	Sales    []SaleRecord
	Counts   []PeopleCountSample
	Heatmaps []HeatmapSample
	Regional []RegionalOccupancySample
}

// Len returns the total record count across all kinds.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Sales) + len(b.Counts) + len(b.Heatmaps) + len(b.Regional)
}

// Merge appends all records from other into b.
func (b *Batch) Merge(other *Batch) {
	if other == nil {
		return
	}
	b.Sales = append(b.Sales, other.Sales...)
	b.Counts = append(b.Counts, other.Counts...)
	b.Heatmaps = append(b.Heatmaps, other.Heatmaps...)
	b.Regional = append(b.Regional, other.Regional...)
}

// DropFuture removes records whose timestamp (sales) or window start
// (samples) is strictly after now. Returns the number dropped.
func (b *Batch) DropFuture(now time.Time) int {
	dropped := 0

	sales := b.Sales[:0]
	for _, s := range b.Sales {
		if s.Timestamp.After(now) {
			dropped++
			continue
		}
		sales = append(sales, s)
	}
	b.Sales = sales

	counts := b.Counts[:0]
	for _, c := range b.Counts {
		if c.WindowStart.After(now) {
			dropped++
			continue
		}
		counts = append(counts, c)
	}
	b.Counts = counts

	heatmaps := b.Heatmaps[:0]
	for _, h := range b.Heatmaps {
		if h.WindowStart.After(now) {
			dropped++
			continue
		}
		heatmaps = append(heatmaps, h)
	}
	b.Heatmaps = heatmaps

	regional := b.Regional[:0]
	for _, r := range b.Regional {
		if r.WindowStart.After(now) {
			dropped++
			continue
		}
		regional = append(regional, r)
	}
	b.Regional = regional

	return dropped
}

// UpsertResult summarizes one dedup/upsert call.
type UpsertResult struct {
	Inserted int
	Updated  int
	Skipped  int
}

// Add accumulates another result into r.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Skipped += other.Skipped
}

// Checkpoint is the per-store collection watermark: everything before
// LastCollected has been durably stored.
type Checkpoint struct {
	Store         StoreID
	LastCollected time.Time
}

// CollectionRun is the audit record for one (store, sub-window) collection
// attempt.
type CollectionRun struct {
	ID          string
	Store       StoreID
	WindowStart time.Time
	WindowEnd   time.Time
	Status      string // completed, failed
	Inserted    int
	Updated     int
	Skipped     int
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Collection run statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// SweepResult summarizes one maintenance sweep.
type SweepResult struct {
	FutureRemoved     int64
	DuplicatesRemoved int64
}
