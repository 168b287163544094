/*
handlers.go - HTTP API handlers for the telemetry engine

PURPOSE:
  Exposes the aggregated indicators via REST. Handlers parse the request,
  resolve the target (store or group) against the configured registry,
  delegate to the kpi package and serialize the response.

ENDPOINTS:
  Targets:
    GET  /api/stores                      List configured stores and groups
    GET  /api/stores/{id}/kpis            Aggregate an explicit window
    GET  /api/stores/{id}/compare         Period-over-period comparison
    GET  /api/stores/{id}/series          Daily breakdown of a window
    GET  /api/groups/{name}/kpis          Same, over a store group
    GET  /api/groups/{name}/compare
    GET  /api/groups/{name}/series

  Operations:
    GET  /api/checkpoints                 Per-store collection watermarks
    GET  /api/collector/runs              Collection audit trail
    POST /api/admin/collect               Trigger a collection cycle now

QUERY PARAMETERS:
  kpis/series:  start, end  (RFC3339 or 2006-01-02; end exclusive)
  compare:      period=today|yesterday|this_week|this_month|custom
                plus start/end when period=custom
  runs:         status=completed|failed, limit

ERROR HANDLING:
  - 400: bad window, unknown period
  - 404: store or group not in the registry
  - 500: storage failures
  A window that holds no data is not an error: it answers 200 with
  sem_dados=true so dashboards can render an explicit empty state.

SEE ALSO:
  - dto.go: response shapes
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/grnl/retail-engine/collector"
	"github.com/grnl/retail-engine/config"
	"github.com/grnl/retail-engine/kpi"
	"github.com/grnl/retail-engine/store/sqlite"
	"github.com/grnl/retail-engine/telemetry"
	"github.com/sirupsen/logrus"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Config     *config.Config
	Store      *sqlite.Store
	Aggregator *kpi.Aggregator
	Comparator *kpi.Comparator
	Scheduler  *collector.Scheduler
	Log        *logrus.Logger
}

// NewHandler creates a handler with the given dependencies. Scheduler may
// be nil for read-only deployments; the collect endpoint then answers 503.
func NewHandler(cfg *config.Config, store *sqlite.Store, agg *kpi.Aggregator, cmp *kpi.Comparator, sched *collector.Scheduler, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Config:     cfg,
		Store:      store,
		Aggregator: agg,
		Comparator: cmp,
		Scheduler:  sched,
		Log:        log,
	}
}

// =============================================================================
// TARGET RESOLUTION
// =============================================================================

// resolveStore maps a path store id onto its registry entry.
func (h *Handler) resolveStore(id string) ([]telemetry.StoreID, bool) {
	if _, ok := h.Config.StoreByID(telemetry.StoreID(id)); !ok {
		return nil, false
	}
	return []telemetry.StoreID{telemetry.StoreID(id)}, true
}

// resolveGroup maps a path group name onto its member stores.
func (h *Handler) resolveGroup(name string) ([]telemetry.StoreID, bool) {
	return h.Config.GroupStores(name)
}

// =============================================================================
// TARGET HANDLERS
// =============================================================================

// ListStores returns the configured stores and groups.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	resp := StoresResponse{Groups: make(map[string][]string, len(h.Config.Groups))}
	for _, st := range h.Config.Stores {
		resp.Stores = append(resp.Stores, StoreDTO{
			ID:      string(st.ID),
			Sensors: len(st.Sensors),
			Regions: st.Regions,
		})
	}
	for name, ids := range h.Config.Groups {
		members := make([]string, len(ids))
		for i, id := range ids {
			members[i] = string(id)
		}
		resp.Groups[name] = members
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStoreKpis aggregates an explicit window for one store.
func (h *Handler) GetStoreKpis(w http.ResponseWriter, r *http.Request) {
	stores, ok := h.resolveStore(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown store", telemetry.ErrUnknownStore)
		return
	}
	h.serveKpis(w, r, chi.URLParam(r, "id"), stores)
}

// GetGroupKpis aggregates an explicit window for a store group.
func (h *Handler) GetGroupKpis(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stores, ok := h.resolveGroup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown group", telemetry.ErrUnknownStore)
		return
	}
	h.serveKpis(w, r, name, stores)
}

func (h *Handler) serveKpis(w http.ResponseWriter, r *http.Request, target string, stores []telemetry.StoreID) {
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window", err)
		return
	}

	set, err := h.Aggregator.Aggregate(r.Context(), stores, window)
	if err != nil {
		h.writeAggregateError(w, err)
		return
	}

	start, end := formatWindow(window)
	resp := KpiResponse{Target: target, WindowStart: start, WindowEnd: end}
	if set.HasData() {
		resp.Kpis = toKpiSetDTO(set)
		h.snapshotKpis(r.Context(), target, window, set, resp.Kpis)
	} else {
		resp.NoData = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// snapshotKpis caches the served indicator set so a later identical query can
// be answered without re-aggregating. Best effort: a cache write failure is
// logged, never surfaced.
func (h *Handler) snapshotKpis(ctx context.Context, target string, window telemetry.Window, set *kpi.KpiSet, dto *KpiSetDTO) {
	metrics, err := json.Marshal(dto)
	if err != nil {
		h.Log.WithError(err).Warn("kpi snapshot: marshal failed")
		return
	}
	rec := sqlite.KpiSnapshotRecord{
		ID:               uuid.NewString(),
		Target:           target,
		WindowStart:      window.Start,
		WindowEnd:        window.End,
		MetricsJSON:      string(metrics),
		LastSourceUpdate: set.LastSourceUpdate,
	}
	if err := h.Store.SaveKpiSnapshot(ctx, rec); err != nil {
		h.Log.WithError(err).WithField("target", target).Warn("kpi snapshot: save failed")
	}
}

// CompareStore answers a period comparison for one store.
func (h *Handler) CompareStore(w http.ResponseWriter, r *http.Request) {
	stores, ok := h.resolveStore(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown store", telemetry.ErrUnknownStore)
		return
	}
	h.serveCompare(w, r, chi.URLParam(r, "id"), stores)
}

// CompareGroup answers a period comparison for a store group.
func (h *Handler) CompareGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stores, ok := h.resolveGroup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown group", telemetry.ErrUnknownStore)
		return
	}
	h.serveCompare(w, r, name, stores)
}

func (h *Handler) serveCompare(w http.ResponseWriter, r *http.Request, target string, stores []telemetry.StoreID) {
	kind, err := telemetry.ParsePeriodKind(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown period", err)
		return
	}

	var custom *telemetry.Window
	if kind == telemetry.PeriodCustom {
		window, err := windowFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "custom period needs a valid window", err)
			return
		}
		custom = &window
	}

	cmp, err := h.Comparator.Compare(r.Context(), stores, kind, custom)
	if err != nil {
		var noData *telemetry.NoDataError
		if errors.As(err, &noData) {
			start, end := formatWindow(noData.Window)
			writeJSON(w, http.StatusOK, CompareResponse{
				Target:       target,
				Period:       string(kind),
				CurrentStart: start,
				CurrentEnd:   end,
				NoData:       true,
			})
			return
		}
		h.writeAggregateError(w, err)
		return
	}

	curStart, curEnd := formatWindow(cmp.CurrentWindow)
	prevStart, prevEnd := formatWindow(cmp.PreviousWindow)
	writeJSON(w, http.StatusOK, CompareResponse{
		Target:        target,
		Period:        string(cmp.Period),
		CurrentStart:  curStart,
		CurrentEnd:    curEnd,
		PreviousStart: prevStart,
		PreviousEnd:   prevEnd,
		Current:       toKpiSetDTO(cmp.Current),
		Previous:      toKpiSetDTO(cmp.Previous),
		Deltas:        cmp.Deltas,
	})
}

// GetStoreSeries answers a daily breakdown for one store.
func (h *Handler) GetStoreSeries(w http.ResponseWriter, r *http.Request) {
	stores, ok := h.resolveStore(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown store", telemetry.ErrUnknownStore)
		return
	}
	h.serveSeries(w, r, chi.URLParam(r, "id"), stores)
}

// GetGroupSeries answers a daily breakdown for a store group.
func (h *Handler) GetGroupSeries(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stores, ok := h.resolveGroup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown group", telemetry.ErrUnknownStore)
		return
	}
	h.serveSeries(w, r, name, stores)
}

func (h *Handler) serveSeries(w http.ResponseWriter, r *http.Request, target string, stores []telemetry.StoreID) {
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window", err)
		return
	}

	points, err := h.Aggregator.DailySeries(r.Context(), stores, window)
	if err != nil {
		h.writeAggregateError(w, err)
		return
	}

	start, end := formatWindow(window)
	writeJSON(w, http.StatusOK, SeriesResponse{
		Target:      target,
		WindowStart: start,
		WindowEnd:   end,
		Points:      points,
	})
}

// =============================================================================
// OPERATIONS HANDLERS
// =============================================================================

// ListCheckpoints returns every store's collection watermark and state.
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := h.Store.Checkpoints(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read checkpoints", err)
		return
	}

	var states map[telemetry.StoreID]string
	if h.Scheduler != nil {
		states = h.Scheduler.States()
	}

	dtos := make([]CheckpointDTO, len(checkpoints))
	for i, cp := range checkpoints {
		dtos[i] = CheckpointDTO{
			Store:         string(cp.Store),
			LastCollected: cp.LastCollected.Format(time.RFC3339),
			State:         states[cp.Store],
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListCollectionRuns returns the collection audit trail.
func (h *Handler) ListCollectionRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.Store.ListCollectionRuns(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read collection runs", err)
		return
	}

	dtos := make([]CollectionRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = CollectionRunDTO{
			ID:          run.ID,
			Store:       string(run.Store),
			WindowStart: run.WindowStart.Format(time.RFC3339),
			WindowEnd:   run.WindowEnd.Format(time.RFC3339),
			Status:      run.Status,
			Inserted:    run.Inserted,
			Updated:     run.Updated,
			Skipped:     run.Skipped,
			Error:       run.Error,
			StartedAt:   run.StartedAt.Format(time.RFC3339),
		}
		if !run.CompletedAt.IsZero() {
			dtos[i].CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerCollect runs one collection cycle synchronously.
func (h *Handler) TriggerCollect(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "collector not running", nil)
		return
	}
	h.Scheduler.RunNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "collected"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeAggregateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, telemetry.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid window", err)
	default:
		writeError(w, http.StatusInternalServerError, "aggregation failed", err)
	}
}

// windowFromQuery parses the start/end parameters, accepting RFC3339 or a
// bare date. A bare end date reads as exclusive midnight of the next day.
func windowFromQuery(r *http.Request) (telemetry.Window, error) {
	start, _, err := parseQueryTime(r.URL.Query().Get("start"))
	if err != nil {
		return telemetry.Window{}, err
	}
	end, endDateOnly, err := parseQueryTime(r.URL.Query().Get("end"))
	if err != nil {
		return telemetry.Window{}, err
	}
	if endDateOnly {
		end = end.AddDate(0, 0, 1)
	}

	w := telemetry.NewWindow(start, end)
	if !w.Valid() {
		return telemetry.Window{}, telemetry.ErrInvalidWindow
	}
	return w, nil
}

func parseQueryTime(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, telemetry.ErrInvalidWindow
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
