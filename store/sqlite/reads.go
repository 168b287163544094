/*
reads.go - Aggregation reads and the KPI snapshot cache

PURPOSE:
  The read side of the store: windowed row queries the KPI aggregator
  consumes, the last-source-update watermark, and the upsert-on-recompute
  snapshot cache.

WINDOW SEMANTICS:
  All queries are half-open: rows with ts/window_start in [start, end).
  An empty store list reads as empty results, never as SQL.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/shopspring/decimal"
)

// SalesInWindow returns all sale rows for the stores in [w.Start, w.End).
func (s *Store) SalesInWindow(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) ([]telemetry.SaleRecord, error) {
	if len(stores) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := storeArgs(stores)
	args = append(args, formatTime(w.Start), formatTime(w.End))

	rows, err := s.db.QueryContext(ctx, `
		SELECT store, ts, document_ref, original_doc, document_type, item_code,
		       description, seller_code, seller_name, quantity, gross_value,
		       net_value, vat, discount, discount_pct, discount_why
		FROM sale_records
		WHERE store IN (`+placeholders+`) AND ts >= ? AND ts < ?
		ORDER BY ts ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []telemetry.SaleRecord
	for rows.Next() {
		var sale telemetry.SaleRecord
		var ts string
		var originalDoc, discountWhy sql.NullString
		var quantity, gross, net, vat, discount, discountPct string
		if err := rows.Scan(&sale.Store, &ts, &sale.DocumentRef, &originalDoc,
			&sale.DocumentType, &sale.ItemCode, &sale.Description, &sale.SellerCode,
			&sale.SellerName, &quantity, &gross, &net, &vat, &discount, &discountPct,
			&discountWhy); err != nil {
			return nil, err
		}
		sale.Timestamp = parseTime(ts)
		sale.OriginalDoc = originalDoc.String
		sale.DiscountWhy = discountWhy.String
		sale.Quantity = mustDecimal(quantity)
		sale.GrossValue = mustDecimal(gross)
		sale.NetValue = mustDecimal(net)
		sale.VAT = mustDecimal(vat)
		sale.Discount = mustDecimal(discount)
		sale.DiscountPct = mustDecimal(discountPct)
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

// CountsInWindow returns all people-count samples for the stores whose
// window start lies in [w.Start, w.End).
func (s *Store) CountsInWindow(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) ([]telemetry.PeopleCountSample, error) {
	if len(stores) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := storeArgs(stores)
	args = append(args, formatTime(w.Start), formatTime(w.End))

	rows, err := s.db.QueryContext(ctx, `
		SELECT store, sensor, window_start, window_end, line1_in, line2_in,
		       line3_in, line4_in, line4_out, total_in
		FROM people_count_samples
		WHERE store IN (`+placeholders+`) AND window_start >= ? AND window_start < ?
		ORDER BY window_start ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []telemetry.PeopleCountSample
	for rows.Next() {
		var c telemetry.PeopleCountSample
		var start, end string
		if err := rows.Scan(&c.Store, &c.Sensor, &start, &end, &c.Line1In,
			&c.Line2In, &c.Line3In, &c.Line4In, &c.Line4Out, &c.TotalIn); err != nil {
			return nil, err
		}
		c.WindowStart = parseTime(start)
		c.WindowEnd = parseTime(end)
		samples = append(samples, c)
	}
	return samples, rows.Err()
}

// DwellSecondsInWindow returns the summed heatmap dwell-seconds for the
// stores over the window.
func (s *Store) DwellSecondsInWindow(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) (int64, error) {
	if len(stores) == 0 {
		return 0, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := storeArgs(stores)
	args = append(args, formatTime(w.Start), formatTime(w.End))

	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(dwell_seconds) FROM heatmap_samples
		WHERE store IN (`+placeholders+`) AND window_start >= ? AND window_start < ?`,
		args...).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// RegionalInWindow returns all regional occupancy samples for the stores
// whose window start lies in [w.Start, w.End).
func (s *Store) RegionalInWindow(ctx context.Context, stores []telemetry.StoreID, w telemetry.Window) ([]telemetry.RegionalOccupancySample, error) {
	if len(stores) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := storeArgs(stores)
	args = append(args, formatTime(w.Start), formatTime(w.End))

	rows, err := s.db.QueryContext(ctx, `
		SELECT store, sensor, window_start, window_end, regions_json, total
		FROM regional_occupancy_samples
		WHERE store IN (`+placeholders+`) AND window_start >= ? AND window_start < ?
		ORDER BY window_start ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []telemetry.RegionalOccupancySample
	for rows.Next() {
		var r telemetry.RegionalOccupancySample
		var start, end, regionsJSON string
		if err := rows.Scan(&r.Store, &r.Sensor, &start, &end, &regionsJSON, &r.Total); err != nil {
			return nil, err
		}
		r.WindowStart = parseTime(start)
		r.WindowEnd = parseTime(end)
		if err := json.Unmarshal([]byte(regionsJSON), &r.Regions); err != nil {
			return nil, err
		}
		samples = append(samples, r)
	}
	return samples, rows.Err()
}

// LastSourceUpdate returns the newest checkpoint across the given stores,
// zero when none of them has ever collected.
func (s *Store) LastSourceUpdate(ctx context.Context, stores []telemetry.StoreID) (time.Time, error) {
	if len(stores) == 0 {
		return time.Time{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := storeArgs(stores)
	var last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(last_collected) FROM checkpoints WHERE store IN (`+placeholders+`)`,
		args...).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return parseTime(last.String), nil
}

// =============================================================================
// KPI SNAPSHOT CACHE
// =============================================================================

// KpiSnapshotRecord is a cached aggregation result for one (target, window).
// Target is a store id or a group name. MetricsJSON is the serialized KpiSet;
// the cache is an audit trail, never the source of truth.
type KpiSnapshotRecord struct {
	ID               string
	Target           string
	WindowStart      time.Time
	WindowEnd        time.Time
	MetricsJSON      string
	LastSourceUpdate time.Time
	CreatedAt        time.Time
}

// SaveKpiSnapshot upserts a snapshot; recomputing the same window replaces
// the previous row rather than duplicating it.
func (s *Store) SaveKpiSnapshot(ctx context.Context, snap KpiSnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kpi_snapshots
		(id, target, window_start, window_end, metrics_json, last_source_update, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target, window_start, window_end) DO UPDATE SET
			metrics_json = excluded.metrics_json,
			last_source_update = excluded.last_source_update,
			created_at = excluded.created_at`,
		snap.ID, snap.Target, formatTime(snap.WindowStart), formatTime(snap.WindowEnd),
		snap.MetricsJSON, nullString(formatTimeOrEmpty(snap.LastSourceUpdate)),
		formatTime(s.now()),
	)
	return err
}

// GetKpiSnapshot fetches a cached snapshot, nil when absent.
func (s *Store) GetKpiSnapshot(ctx context.Context, target string, w telemetry.Window) (*KpiSnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap KpiSnapshotRecord
	var start, end, createdAt string
	var lastUpdate sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, target, window_start, window_end, metrics_json, last_source_update, created_at
		FROM kpi_snapshots
		WHERE target = ? AND window_start = ? AND window_end = ?`,
		target, formatTime(w.Start), formatTime(w.End),
	).Scan(&snap.ID, &snap.Target, &start, &end, &snap.MetricsJSON, &lastUpdate, &createdAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.WindowStart = parseTime(start)
	snap.WindowEnd = parseTime(end)
	if lastUpdate.Valid {
		snap.LastSourceUpdate = parseTime(lastUpdate.String)
	}
	snap.CreatedAt = parseTime(createdAt)
	return &snap, nil
}

func storeArgs(stores []telemetry.StoreID) (string, []any) {
	ids := make([]string, len(stores))
	for i, id := range stores {
		ids[i] = string(id)
	}
	return inPlaceholders(ids)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatTimeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}
