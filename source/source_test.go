package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func sensorFor(srv *httptest.Server) telemetry.Sensor {
	return telemetry.Sensor{ID: "cam-1", Addr: strings.TrimPrefix(srv.URL, "http://")}
}

// =============================================================================
// CSV HELPERS
// =============================================================================

func TestParseCSVRows_TrimsPaddedHeadersAndCells(t *testing.T) {
	// Sensor firmware pads headers and cells unpredictably.
	body := "StartTime , EndTime ,  Line1 - In \n" +
		"2024/03/15 10:00:00 , 2024/03/15 11:00:00 , 12 \n"

	rows, headers, err := parseCSVRows(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"StartTime", "EndTime", "Line1 - In"}, headers)
	require.Len(t, rows, 1)
	assert.Equal(t, "12", rows[0]["Line1 - In"])
	assert.Equal(t, "2024/03/15 10:00:00", rows[0]["StartTime"])
}

func TestParseCSVRows_SkipsShortRows(t *testing.T) {
	body := "A,B\n1\n2,3\n"
	rows, _, err := parseCSVRows(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0]["A"])
}

func TestIntField_DecimalCommaAndFractions(t *testing.T) {
	row := csvRow{"a": "12", "b": "12,0", "c": "12.7", "d": "", "e": "junk"}

	n, err := intField(row, "a")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = intField(row, "b")
	require.NoError(t, err)
	assert.Equal(t, 12, n, "decimal comma reads as a decimal point")

	n, err = intField(row, "c")
	require.NoError(t, err)
	assert.Equal(t, 12, n, "fractional counts truncate")

	n, err = intField(row, "d")
	require.NoError(t, err)
	assert.Zero(t, n, "empty cell reads as zero")

	_, err = intField(row, "e")
	assert.Error(t, err)
}

// =============================================================================
// COUNTER ADAPTER
// =============================================================================

func TestCounterClient_Fetch(t *testing.T) {
	// GIVEN: A sensor answering a padded CSV with a bogus source total
	// WHEN: Fetching the 10:00 window
	// THEN: Only the in-window row survives and TotalIn is recomputed

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "vcalogcsv", r.URL.Query().Get("dw"))
		assert.Equal(t, "2024-03-15-10:00:00", r.URL.Query().Get("time_start"))

		w.Write([]byte("StartTime,EndTime, Line1 - In , Line2 - In , Line3 - In , Line4 - In , Line4 - Out \n" +
			"2024/03/15 10:00:00,2024/03/15 11:00:00, 10 , 5 , 2 , 99 , 80 \n" +
			"2024/03/15 11:00:00,2024/03/15 12:00:00, 7 , 0 , 0 , 0 , 0 \n"))
	}))
	defer srv.Close()

	client := &CounterClient{SensorClient: &SensorClient{
		Username: "admin", Password: "secret", Client: srv.Client(), Log: quietLog(),
	}}
	window := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))

	samples, err := client.Fetch(context.Background(), "store-01", sensorFor(srv), window)
	require.NoError(t, err)
	require.Len(t, samples, 1, "the 11:00 row lies outside the half-open window")

	got := samples[0]
	assert.Equal(t, 10, got.Line1In)
	assert.Equal(t, 17, got.TotalIn, "total recomputed from interior lines, exterior line excluded")
	assert.Equal(t, 99, got.Line4In)
	assert.Equal(t, at("2024-03-15 10:00:00"), got.WindowStart)
}

func TestCounterClient_Fetch_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &CounterClient{SensorClient: &SensorClient{Client: srv.Client(), Log: quietLog()}}
	window := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))

	_, err := client.Fetch(context.Background(), "store-01", sensorFor(srv), window)
	require.Error(t, err)
	assert.ErrorIs(t, err, telemetry.ErrSourceUnavailable)

	var srcErr *telemetry.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, http.StatusBadGateway, srcErr.Status)
}

func TestCounterClient_Fetch_GarbageBodyYieldsEmptyBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\"unterminated\nnot,csv"))
	}))
	defer srv.Close()

	client := &CounterClient{SensorClient: &SensorClient{Client: srv.Client(), Log: quietLog()}}
	window := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))

	samples, err := client.Fetch(context.Background(), "store-01", sensorFor(srv), window)
	assert.NoError(t, err, "a corrupt payload must not stall the collection loop")
	assert.Empty(t, samples)
}

// =============================================================================
// HEATMAP AND REGIONAL ADAPTERS
// =============================================================================

func TestHeatmapClient_Fetch_ValueColumnVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "heatmapcsv", r.URL.Query().Get("dw"))
		// Heatmap rows use dashed dates, unlike the counter report.
		w.Write([]byte("StartTime,EndTime, Value(s) \n" +
			"2024-03-15 10:00:00,2024-03-15 11:00:00, 5400 \n"))
	}))
	defer srv.Close()

	client := &HeatmapClient{SensorClient: &SensorClient{Client: srv.Client(), Log: quietLog()}}
	window := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))

	samples, err := client.Fetch(context.Background(), "store-01", sensorFor(srv), window)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 5400, samples[0].DwellSeconds)
}

func TestRegionalClient_Fetch_DiscoversRegionColumns(t *testing.T) {
	// GIVEN: A sensor reporting three regions and an untrusted Sum column
	// WHEN: Fetching
	// THEN: Region counts are positional and the total is recomputed

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "regionalcountlogcsv", r.URL.Query().Get("dw"))
		assert.Equal(t, "0", r.URL.Query().Get("lengthtype"))
		assert.Equal(t, "0", r.URL.Query().Get("length"))
		for _, region := range []string{"region1", "region2", "region3", "region4"} {
			assert.Equal(t, "1", r.URL.Query().Get(region), "every region selector must be requested")
		}
		w.Write([]byte("StartTime,EndTime,Region1,Region2,Region3,Sum\n" +
			"2024/03/15 10:00:00,2024/03/15 11:00:00,7,3,5,999\n"))
	}))
	defer srv.Close()

	client := &RegionalClient{SensorClient: &SensorClient{Client: srv.Client(), Log: quietLog()}}
	window := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))

	samples, err := client.Fetch(context.Background(), "store-01", sensorFor(srv), window)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, []int{7, 3, 5}, samples[0].Regions)
	assert.Equal(t, 15, samples[0].Total, "Sum column is never trusted")
}

// =============================================================================
// SALES ADAPTER
// =============================================================================

func salesServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/consulta/executarsync", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		handler(w, r)
	}))
}

func newSalesClient(srv *httptest.Server) *SalesClient {
	return &SalesClient{
		BaseURL: srv.URL,
		QueryID: "Q-42",
		Tokens:  StaticTokenSource("tok-123"),
		Client:  srv.Client(),
		Log:     quietLog(),
	}
}

func TestSalesClient_Fetch_ParsesEnvelopeAndCoercesDecimals(t *testing.T) {
	srv := salesServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"Sucesso": true,
			"Objecto": {"ResultSets": [[
				{"Data": "2024-03-15 10:15:00", "Documento": "FT 1/100", "Artigo": "A-1",
				 "Quantidade": 2, "ValorComIva": "12,30", "ValorSemIva": 10.0,
				 "Vendedor": "v1", "NomeVendedor": "Ana"},
				{"Data": "2024-03-15 18:00:00", "Documento": "FT 1/101", "Artigo": "A-2",
				 "Quantidade": 1, "ValorComIva": 5}
			]]}
		}`))
	})
	defer srv.Close()

	window := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))
	sales, err := newSalesClient(srv).Fetch(context.Background(), "store-01", window)
	require.NoError(t, err)
	require.Len(t, sales, 1, "the 18:00 row lies outside the window")

	got := sales[0]
	assert.Equal(t, "FT 1/100", got.DocumentRef)
	assert.True(t, got.GrossValue.Equal(decimal.RequireFromString("12.3")), "comma decimal coerced")
	assert.True(t, got.NetValue.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "Ana", got.SellerName)
	assert.Equal(t, at("2024-03-15 10:15:00"), got.Timestamp)
}

func TestSalesClient_Fetch_RejectedQueryIsEmptyNotError(t *testing.T) {
	srv := salesServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Sucesso": false, "Mensagem": "consulta inválida"}`))
	})
	defer srv.Close()

	window := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))
	sales, err := newSalesClient(srv).Fetch(context.Background(), "store-01", window)
	assert.NoError(t, err)
	assert.Empty(t, sales)
}

func TestSalesClient_Fetch_ServerErrorIsTransient(t *testing.T) {
	srv := salesServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()

	window := telemetry.NewWindow(at("2024-03-15 10:00:00"), at("2024-03-15 11:00:00"))
	_, err := newSalesClient(srv).Fetch(context.Background(), "store-01", window)
	assert.ErrorIs(t, err, telemetry.ErrSourceUnavailable)
}

func TestParseSaleTime_AcceptsObservedFormats(t *testing.T) {
	for _, raw := range []string{
		"2024-03-15 10:15:00",
		"2024-03-15T10:15:00",
		"2024/03/15 10:15:00",
		"15/03/2024 10:15:00",
		"2024-03-15",
		"20240315",
	} {
		got, err := parseSaleTime(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, 15, got.Day(), raw)
		assert.Equal(t, time.March, got.Month(), raw)
	}

	_, err := parseSaleTime("March 15th")
	assert.Error(t, err)
}

func TestDaysCovering_MultiDayWindow(t *testing.T) {
	w := telemetry.NewWindow(at("2024-03-15 22:00:00"), at("2024-03-16 02:00:00"))
	days := daysCovering(w)
	require.Len(t, days, 2)
	assert.Equal(t, at("2024-03-15 00:00:00"), days[0])
	assert.Equal(t, at("2024-03-16 00:00:00"), days[1])
}
