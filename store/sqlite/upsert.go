/*
upsert.go - Dedup/upsert write path, checkpoints, runs and the sweep

PURPOSE:
  The write side of the store: one atomic Upsert per collected batch,
  checkpoint advancement, collection-run audit rows and the idempotent
  maintenance sweep.

UPSERT DECISION TABLE (per record, by natural key):
  absent                 -> insert
  present, sales kind    -> skip + warning (immutable, duplicate re-fetch)
  present, sample kind   -> overwrite numeric fields (source corrections)

FUTURE GUARD:
  A record whose timestamp lies after the wall clock at upsert time is
  counted as skipped and never written. The maintenance sweep backs this up
  against source clock skew.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/sirupsen/logrus"
)

// Upsert writes a batch under natural-key dedup rules. All writes happen in
// one transaction; any failure rolls the whole batch back and surfaces as
// telemetry.ErrStoreConflict.
func (s *Store) Upsert(ctx context.Context, batch *telemetry.Batch) (telemetry.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result telemetry.UpsertResult
	if batch.Len() == 0 {
		return result, nil
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("%w: begin: %v", telemetry.ErrStoreConflict, err)
	}
	defer tx.Rollback()

	for _, sale := range batch.Sales {
		outcome, err := s.upsertSale(ctx, tx, sale, now)
		if err != nil {
			return telemetry.UpsertResult{}, fmt.Errorf("%w: %v", telemetry.ErrStoreConflict, err)
		}
		result.Add(outcome)
	}
	for _, c := range batch.Counts {
		outcome, err := s.upsertCount(ctx, tx, c, now)
		if err != nil {
			return telemetry.UpsertResult{}, fmt.Errorf("%w: %v", telemetry.ErrStoreConflict, err)
		}
		result.Add(outcome)
	}
	for _, h := range batch.Heatmaps {
		outcome, err := s.upsertHeatmap(ctx, tx, h, now)
		if err != nil {
			return telemetry.UpsertResult{}, fmt.Errorf("%w: %v", telemetry.ErrStoreConflict, err)
		}
		result.Add(outcome)
	}
	for _, r := range batch.Regional {
		outcome, err := s.upsertRegional(ctx, tx, r, now)
		if err != nil {
			return telemetry.UpsertResult{}, fmt.Errorf("%w: %v", telemetry.ErrStoreConflict, err)
		}
		result.Add(outcome)
	}

	if err := tx.Commit(); err != nil {
		return telemetry.UpsertResult{}, fmt.Errorf("%w: commit: %v", telemetry.ErrStoreConflict, err)
	}
	return result, nil
}

func (s *Store) upsertSale(ctx context.Context, tx execQuerier, sale telemetry.SaleRecord, now time.Time) (telemetry.UpsertResult, error) {
	if sale.Timestamp.After(now) {
		return telemetry.UpsertResult{Skipped: 1}, nil
	}

	var existing int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM sale_records WHERE document_ref = ? AND item_code = ? AND ts = ?`,
		sale.DocumentRef, sale.ItemCode, formatTime(sale.Timestamp),
	).Scan(&existing)
	if err == nil {
		// Sales rows are immutable: a natural-key hit means the same
		// transaction was re-fetched.
		s.log.WithFields(logrus.Fields{
			"store":        sale.Store,
			"document_ref": sale.DocumentRef,
			"item_code":    sale.ItemCode,
			"ts":           sale.Timestamp,
		}).Warn("duplicate sale record skipped")
		return telemetry.UpsertResult{Skipped: 1}, nil
	}
	if !isNoRows(err) {
		return telemetry.UpsertResult{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sale_records
		(store, ts, document_ref, original_doc, document_type, item_code, description,
		 seller_code, seller_name, quantity, gross_value, net_value, vat, discount,
		 discount_pct, discount_why, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.Store, formatTime(sale.Timestamp), sale.DocumentRef,
		nullString(sale.OriginalDoc), sale.DocumentType, sale.ItemCode, sale.Description,
		sale.SellerCode, sale.SellerName,
		sale.Quantity.String(), sale.GrossValue.String(), sale.NetValue.String(),
		sale.VAT.String(), sale.Discount.String(), sale.DiscountPct.String(),
		nullString(sale.DiscountWhy), formatTime(now),
	)
	if err != nil {
		return telemetry.UpsertResult{}, err
	}
	return telemetry.UpsertResult{Inserted: 1}, nil
}

func (s *Store) upsertCount(ctx context.Context, tx execQuerier, c telemetry.PeopleCountSample, now time.Time) (telemetry.UpsertResult, error) {
	if c.WindowStart.After(now) {
		return telemetry.UpsertResult{Skipped: 1}, nil
	}
	c.Recompute() // never trust the source's total

	var existing int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM people_count_samples WHERE store = ? AND sensor = ? AND window_start = ?`,
		c.Store, c.Sensor, formatTime(c.WindowStart),
	).Scan(&existing)
	if err == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE people_count_samples
			SET window_end = ?, line1_in = ?, line2_in = ?, line3_in = ?,
			    line4_in = ?, line4_out = ?, total_in = ?
			WHERE id = ?`,
			formatTime(c.WindowEnd), c.Line1In, c.Line2In, c.Line3In,
			c.Line4In, c.Line4Out, c.TotalIn, existing,
		)
		if err != nil {
			return telemetry.UpsertResult{}, err
		}
		return telemetry.UpsertResult{Updated: 1}, nil
	}
	if !isNoRows(err) {
		return telemetry.UpsertResult{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO people_count_samples
		(store, sensor, window_start, window_end, line1_in, line2_in, line3_in,
		 line4_in, line4_out, total_in, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Store, c.Sensor, formatTime(c.WindowStart), formatTime(c.WindowEnd),
		c.Line1In, c.Line2In, c.Line3In, c.Line4In, c.Line4Out, c.TotalIn,
		formatTime(now),
	)
	if err != nil {
		return telemetry.UpsertResult{}, err
	}
	return telemetry.UpsertResult{Inserted: 1}, nil
}

func (s *Store) upsertHeatmap(ctx context.Context, tx execQuerier, h telemetry.HeatmapSample, now time.Time) (telemetry.UpsertResult, error) {
	if h.WindowStart.After(now) {
		return telemetry.UpsertResult{Skipped: 1}, nil
	}

	var existing int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM heatmap_samples WHERE store = ? AND sensor = ? AND window_start = ?`,
		h.Store, h.Sensor, formatTime(h.WindowStart),
	).Scan(&existing)
	if err == nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE heatmap_samples SET window_end = ?, dwell_seconds = ? WHERE id = ?`,
			formatTime(h.WindowEnd), h.DwellSeconds, existing,
		)
		if err != nil {
			return telemetry.UpsertResult{}, err
		}
		return telemetry.UpsertResult{Updated: 1}, nil
	}
	if !isNoRows(err) {
		return telemetry.UpsertResult{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO heatmap_samples
		(store, sensor, window_start, window_end, dwell_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.Store, h.Sensor, formatTime(h.WindowStart), formatTime(h.WindowEnd),
		h.DwellSeconds, formatTime(now),
	)
	if err != nil {
		return telemetry.UpsertResult{}, err
	}
	return telemetry.UpsertResult{Inserted: 1}, nil
}

func (s *Store) upsertRegional(ctx context.Context, tx execQuerier, r telemetry.RegionalOccupancySample, now time.Time) (telemetry.UpsertResult, error) {
	if r.WindowStart.After(now) {
		return telemetry.UpsertResult{Skipped: 1}, nil
	}

	regionsJSON, err := json.Marshal(r.Regions)
	if err != nil {
		return telemetry.UpsertResult{}, err
	}

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM regional_occupancy_samples WHERE store = ? AND sensor = ? AND window_start = ?`,
		r.Store, r.Sensor, formatTime(r.WindowStart),
	).Scan(&existing)
	if err == nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE regional_occupancy_samples SET window_end = ?, regions_json = ?, total = ? WHERE id = ?`,
			formatTime(r.WindowEnd), string(regionsJSON), r.Total, existing,
		)
		if err != nil {
			return telemetry.UpsertResult{}, err
		}
		return telemetry.UpsertResult{Updated: 1}, nil
	}
	if !isNoRows(err) {
		return telemetry.UpsertResult{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO regional_occupancy_samples
		(store, sensor, window_start, window_end, regions_json, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Store, r.Sensor, formatTime(r.WindowStart), formatTime(r.WindowEnd),
		string(regionsJSON), r.Total, formatTime(now),
	)
	if err != nil {
		return telemetry.UpsertResult{}, err
	}
	return telemetry.UpsertResult{Inserted: 1}, nil
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

// Checkpoint returns the store's collection watermark. ok is false when the
// store has never completed a window.
func (s *Store) Checkpoint(ctx context.Context, store telemetry.StoreID) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_collected FROM checkpoints WHERE store = ?`, store,
	).Scan(&last)
	if isNoRows(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return parseTime(last), true, nil
}

// SaveCheckpoint advances the store's watermark. Called only after the
// window's records are durably committed.
func (s *Store) SaveCheckpoint(ctx context.Context, store telemetry.StoreID, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (store, last_collected, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(store) DO UPDATE SET
			last_collected = excluded.last_collected,
			updated_at = excluded.updated_at`,
		store, formatTime(t), formatTime(s.now()),
	)
	return err
}

// Checkpoints returns all store watermarks.
func (s *Store) Checkpoints(ctx context.Context) ([]telemetry.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT store, last_collected FROM checkpoints ORDER BY store`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []telemetry.Checkpoint
	for rows.Next() {
		var cp telemetry.Checkpoint
		var last string
		if err := rows.Scan(&cp.Store, &last); err != nil {
			return nil, err
		}
		cp.LastCollected = parseTime(last)
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// =============================================================================
// COLLECTION RUNS
// =============================================================================

// SaveCollectionRun records (or re-records) one collection attempt for a
// (store, window). Re-running the same window upserts the existing row.
func (s *Store) SaveCollectionRun(ctx context.Context, run telemetry.CollectionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed sql.NullString
	if !run.CompletedAt.IsZero() {
		completed = nullString(formatTime(run.CompletedAt))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_runs
		(id, store, window_start, window_end, status, inserted, updated, skipped,
		 error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store, window_start, window_end) DO UPDATE SET
			status = excluded.status,
			inserted = excluded.inserted,
			updated = excluded.updated,
			skipped = excluded.skipped,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		run.ID, run.Store, formatTime(run.WindowStart), formatTime(run.WindowEnd),
		run.Status, run.Inserted, run.Updated, run.Skipped,
		nullString(run.Error), formatTime(run.StartedAt), completed,
	)
	return err
}

// ListCollectionRuns returns runs, optionally filtered by status, newest
// first.
func (s *Store) ListCollectionRuns(ctx context.Context, status string, limit int) ([]telemetry.CollectionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, store, window_start, window_end, status, inserted, updated,
		       skipped, error, started_at, completed_at
		FROM collection_runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []telemetry.CollectionRun
	for rows.Next() {
		var run telemetry.CollectionRun
		var winStart, winEnd, startedAt string
		var errMsg, completedAt sql.NullString
		if err := rows.Scan(&run.ID, &run.Store, &winStart, &winEnd, &run.Status,
			&run.Inserted, &run.Updated, &run.Skipped, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.WindowStart = parseTime(winStart)
		run.WindowEnd = parseTime(winEnd)
		run.StartedAt = parseTime(startedAt)
		run.Error = errMsg.String
		if completedAt.Valid {
			run.CompletedAt = parseTime(completedAt.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// MAINTENANCE SWEEP
// =============================================================================

// sampleTables are the row families the sweep covers, with their natural-key
// grouping columns.
var sampleTables = []struct {
	name string
	key  string
}{
	{"people_count_samples", "store, sensor, window_start"},
	{"heatmap_samples", "store, sensor, window_start"},
	{"regional_occupancy_samples", "store, sensor, window_start"},
}

// MaintenanceSweep removes (a) samples whose window start is at or after the
// next clock-hour boundary relative to now (source clock skew guard) and
// (b) duplicate rows sharing a natural key, keeping the lowest-id row.
// Idempotent: a second sweep over the same data removes nothing.
func (s *Store) MaintenanceSweep(ctx context.Context, now time.Time) (telemetry.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result telemetry.SweepResult
	boundary := formatTime(telemetry.NextHourBoundary(now))

	for _, table := range sampleTables {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table.name+` WHERE window_start >= ?`, boundary)
		if err != nil {
			return result, fmt.Errorf("sweep future rows from %s: %w", table.name, err)
		}
		n, _ := res.RowsAffected()
		result.FutureRemoved += n

		res, err = s.db.ExecContext(ctx,
			`DELETE FROM `+table.name+` WHERE id NOT IN
			   (SELECT MIN(id) FROM `+table.name+` GROUP BY `+table.key+`)`)
		if err != nil {
			return result, fmt.Errorf("sweep duplicates from %s: %w", table.name, err)
		}
		n, _ = res.RowsAffected()
		result.DuplicatesRemoved += n
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sale_records WHERE id NOT IN
		   (SELECT MIN(id) FROM sale_records GROUP BY document_ref, item_code, ts)`)
	if err != nil {
		return result, fmt.Errorf("sweep duplicate sales: %w", err)
	}
	n, _ := res.RowsAffected()
	result.DuplicatesRemoved += n

	return result, nil
}

// execQuerier is the subset of *sql.Tx the upsert helpers need.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
