package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grnl/retail-engine/api"
	"github.com/grnl/retail-engine/config"
	"github.com/grnl/retail-engine/kpi"
	"github.com/grnl/retail-engine/store/sqlite"
	"github.com/grnl/retail-engine/telemetry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

// newTestAPI stands up the full read path over an in-memory store.
func newTestAPI(t *testing.T) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store, err := sqlite.New(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Stores: []config.Store{
			{ID: "store-01", Regions: []string{"Entrada"}},
			{ID: "store-02"},
		},
		Groups: map[string][]telemetry.StoreID{
			"norte": {"store-01", "store-02"},
			"vazio": {},
		},
	}

	agg := kpi.NewAggregator(store, cfg, log)
	handler := api.NewHandler(cfg, store, agg, kpi.NewComparator(agg), nil, log)

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, store
}

func seedSales(t *testing.T, store *sqlite.Store, storeID telemetry.StoreID, docs int) {
	t.Helper()
	batch := &telemetry.Batch{}
	for i := 0; i < docs; i++ {
		batch.Sales = append(batch.Sales, telemetry.SaleRecord{
			Store:       storeID,
			Timestamp:   at("2024-03-15 10:15:00").Add(time.Duration(i) * time.Minute),
			DocumentRef: string(storeID) + "-doc-" + string(rune('a'+i)),
			ItemCode:    "item-1",
			Quantity:    decimal.NewFromInt(1),
			GrossValue:  decimal.NewFromInt(10),
			NetValue:    decimal.NewFromInt(8),
		})
	}
	_, err := store.Upsert(context.Background(), batch)
	require.NoError(t, err)
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

// =============================================================================
// AGGREGATION ENDPOINTS
// =============================================================================

func TestGetStoreKpis(t *testing.T) {
	srv, store := newTestAPI(t)
	seedSales(t, store, "store-01", 2)

	var resp api.KpiResponse
	status := getJSON(t, srv, "/api/stores/store-01/kpis?start=2024-03-15&end=2024-03-15", &resp)

	require.Equal(t, http.StatusOK, status)
	assert.False(t, resp.NoData)
	require.NotNil(t, resp.Kpis)
	assert.EqualValues(t, 2, resp.Kpis.Transactions)
	assert.InDelta(t, 20.0, resp.Kpis.SalesWithVAT, 1e-9)
	assert.InDelta(t, 10.0, resp.Kpis.AvgBasketWithVAT, 1e-9)
}

func TestGetStoreKpis_EmptyWindowIsExplicitNoData(t *testing.T) {
	srv, _ := newTestAPI(t)

	var resp api.KpiResponse
	status := getJSON(t, srv, "/api/stores/store-01/kpis?start=2024-01-01&end=2024-01-01", &resp)

	assert.Equal(t, http.StatusOK, status, "an empty window is an answer, not an error")
	assert.True(t, resp.NoData)
	assert.Nil(t, resp.Kpis)
}

func TestGetStoreKpis_UnknownStore(t *testing.T) {
	srv, _ := newTestAPI(t)
	var resp map[string]string
	status := getJSON(t, srv, "/api/stores/nope/kpis?start=2024-03-15&end=2024-03-15", &resp)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetStoreKpis_InvalidWindow(t *testing.T) {
	srv, _ := newTestAPI(t)
	var resp map[string]string
	status := getJSON(t, srv, "/api/stores/store-01/kpis?start=2024-03-16&end=2024-03-15", &resp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetGroupKpis_SumsMemberStores(t *testing.T) {
	// GIVEN: 2 docs in store-01 and 3 in store-02
	// WHEN: Querying the group
	// THEN: The group sees all 5 transactions

	srv, store := newTestAPI(t)
	seedSales(t, store, "store-01", 2)
	seedSales(t, store, "store-02", 3)

	var resp api.KpiResponse
	status := getJSON(t, srv, "/api/groups/norte/kpis?start=2024-03-15&end=2024-03-15", &resp)

	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Kpis)
	assert.EqualValues(t, 5, resp.Kpis.Transactions)
}

func TestGetGroupKpis_EmptyGroupAnswersNoData(t *testing.T) {
	// A group configured with no member stores is an empty answer, not a
	// broken IN clause.
	srv, _ := newTestAPI(t)

	var resp api.KpiResponse
	status := getJSON(t, srv, "/api/groups/vazio/kpis?start=2024-03-15&end=2024-03-15", &resp)

	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.NoData)
}

func TestCompare_UnknownPeriodIsBadRequest(t *testing.T) {
	srv, _ := newTestAPI(t)
	var resp map[string]string
	status := getJSON(t, srv, "/api/stores/store-01/compare?period=fortnight", &resp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCompare_EmptyPeriodAnswersNoData(t *testing.T) {
	srv, _ := newTestAPI(t)
	var resp api.CompareResponse
	status := getJSON(t, srv, "/api/stores/store-01/compare?period=yesterday", &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.NoData)
}

func TestCompare_CustomPeriod(t *testing.T) {
	srv, store := newTestAPI(t)
	seedSales(t, store, "store-01", 2)

	var resp api.CompareResponse
	status := getJSON(t, srv,
		"/api/stores/store-01/compare?period=custom&start=2024-03-15&end=2024-03-15", &resp)

	require.Equal(t, http.StatusOK, status)
	assert.False(t, resp.NoData)
	require.NotNil(t, resp.Current)
	assert.EqualValues(t, 2, resp.Current.Transactions)

	delta, ok := resp.Deltas["transacoes"]
	require.True(t, ok)
	assert.InDelta(t, 100.0, delta.Pct, 1e-9, "empty baseline reports +100")
}

func TestGetStoreSeries(t *testing.T) {
	srv, store := newTestAPI(t)
	seedSales(t, store, "store-01", 2)

	var resp api.SeriesResponse
	status := getJSON(t, srv, "/api/stores/store-01/series?start=2024-03-14&end=2024-03-15", &resp)

	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Points, 2)
	assert.Equal(t, "2024-03-14", resp.Points[0].Date)
	assert.EqualValues(t, 0, resp.Points[0].Transactions)
	assert.Equal(t, "2024-03-15", resp.Points[1].Date)
	assert.EqualValues(t, 2, resp.Points[1].Transactions)
}

// =============================================================================
// OPERATIONS ENDPOINTS
// =============================================================================

func TestListStores(t *testing.T) {
	srv, _ := newTestAPI(t)

	var resp api.StoresResponse
	status := getJSON(t, srv, "/api/stores", &resp)

	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Stores, 2)
	assert.Equal(t, []string{"store-01", "store-02"}, resp.Groups["norte"])
}

func TestListCheckpoints(t *testing.T) {
	srv, store := newTestAPI(t)
	require.NoError(t, store.SaveCheckpoint(context.Background(), "store-01", at("2024-03-15 13:00:00")))

	var resp []api.CheckpointDTO
	status := getJSON(t, srv, "/api/checkpoints", &resp)

	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp, 1)
	assert.Equal(t, "store-01", resp[0].Store)
}

func TestTriggerCollect_WithoutScheduler(t *testing.T) {
	srv, _ := newTestAPI(t)
	resp, err := http.Post(srv.URL+"/api/admin/collect", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
