/*
sales.go - Adapter for the backoffice sales API

PURPOSE:
  Pulls sales line items for one (store, window) through the backoffice
  stored-query endpoint. The query is day-granular, so the adapter asks for
  the window's calendar day(s) and filters the rows down to the half-open
  window itself.

WIRE SHAPE:
  POST {base}/api/consulta/executarsync
  Authorization: Bearer <token>
  {"ConsultaId": "...", "Parametros": [{"Nome":"Data","Valor":"2024-03-15"},
                                       {"Nome":"Loja","Valor":"store-01"}]}

  The response wraps row maps in Objecto.ResultSets[0]; Sucesso=false means
  the query itself was rejected.

TOLERANCE:
  Upstream emits timestamps in several formats and money in either JSON
  numbers or comma-decimal strings; unparseable rows are logged and dropped
  individually, never failing the batch.
*/
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grnl/retail-engine/telemetry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SalesClient fetches sale records from the backoffice API.
type SalesClient struct {
	BaseURL string
	QueryID string
	Tokens  TokenSource
	Client  *http.Client
	Log     *logrus.Logger
}

type salesRequest struct {
	ConsultaID string       `json:"ConsultaId"`
	Parametros []salesParam `json:"Parametros"`
}

type salesParam struct {
	Nome  string `json:"Nome"`
	Valor string `json:"Valor"`
}

type salesResponse struct {
	Sucesso  bool   `json:"Sucesso"`
	Mensagem string `json:"Mensagem"`
	Objecto  struct {
		ResultSets [][]map[string]any `json:"ResultSets"`
	} `json:"Objecto"`
}

// saleTimeFormats are the timestamp layouts upstream has been observed to
// emit, tried in order.
var saleTimeFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"2006-01-02",
	"20060102",
}

// Fetch returns the sale records for store falling inside w.
func (c *SalesClient) Fetch(ctx context.Context, store telemetry.StoreID, w telemetry.Window) ([]telemetry.SaleRecord, error) {
	var sales []telemetry.SaleRecord
	for _, day := range daysCovering(w) {
		rows, err := c.fetchDay(ctx, store, day)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			sale, ok := c.parseRow(store, row)
			if !ok {
				continue
			}
			if !w.Contains(sale.Timestamp) {
				continue
			}
			sales = append(sales, sale)
		}
	}
	return sales, nil
}

func (c *SalesClient) fetchDay(ctx context.Context, store telemetry.StoreID, day time.Time) ([]map[string]any, error) {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	url := c.BaseURL + "/api/consulta/executarsync"
	payload, err := json.Marshal(salesRequest{
		ConsultaID: c.QueryID,
		Parametros: []salesParam{
			{Nome: "Data", Valor: day.Format("2006-01-02")},
			{Nome: "Loja", Valor: string(store)},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &telemetry.SourceError{Store: store, URL: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Stale token: drop it so the retry re-authenticates.
		c.Tokens.Invalidate()
		return nil, &telemetry.SourceError{Store: store, URL: url, Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &telemetry.SourceError{Store: store, URL: url, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &telemetry.SourceError{Store: store, URL: url, Cause: err}
	}

	var body salesResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		c.Log.WithFields(logrus.Fields{"store": store, "error": err}).
			Warn("sales response not parseable, treating as empty")
		return nil, nil
	}
	if !body.Sucesso {
		c.Log.WithFields(logrus.Fields{"store": store, "message": body.Mensagem}).
			Warn("sales query rejected, treating as empty")
		return nil, nil
	}
	if len(body.Objecto.ResultSets) == 0 {
		return nil, nil
	}
	return body.Objecto.ResultSets[0], nil
}

// parseRow maps one upstream row onto a SaleRecord. Rows with an unreadable
// timestamp are dropped; bad numeric cells degrade to zero.
func (c *SalesClient) parseRow(store telemetry.StoreID, row map[string]any) (telemetry.SaleRecord, bool) {
	ts, err := parseSaleTime(stringField(row, "Data", "DataHora"))
	if err != nil {
		c.Log.WithFields(logrus.Fields{"store": store, "error": err}).
			Warn("sale row dropped: unreadable timestamp")
		return telemetry.SaleRecord{}, false
	}

	return telemetry.SaleRecord{
		Store:        store,
		Timestamp:    ts,
		DocumentRef:  stringField(row, "Documento"),
		OriginalDoc:  stringField(row, "DocOrigem"),
		DocumentType: stringField(row, "TipoDocumento"),
		ItemCode:     stringField(row, "Artigo", "CodigoArtigo"),
		Description:  stringField(row, "Descricao"),
		SellerCode:   stringField(row, "Vendedor"),
		SellerName:   stringField(row, "NomeVendedor"),
		Quantity:     decimalField(row, "Quantidade"),
		GrossValue:   decimalField(row, "ValorComIva"),
		NetValue:     decimalField(row, "ValorSemIva"),
		VAT:          decimalField(row, "Iva"),
		Discount:     decimalField(row, "Desconto"),
		DiscountPct:  decimalField(row, "PercentagemDesconto"),
		DiscountWhy:  stringField(row, "MotivoDesconto"),
	}, true
}

func parseSaleTime(raw string) (time.Time, error) {
	for _, layout := range saleTimeFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// daysCovering lists the midnights of every calendar day the window touches.
func daysCovering(w telemetry.Window) []time.Time {
	var days []time.Time
	day := telemetry.Midnight(w.Start)
	for day.Before(w.End) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// stringField returns the first present key rendered as a string.
func stringField(row map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return decimal.NewFromFloat(t).String()
		}
	}
	return ""
}

// decimalField coerces a cell that may be a JSON number or a comma-decimal
// string. Unparseable cells read as zero.
func decimalField(row map[string]any, key string) decimal.Decimal {
	v, ok := row[key]
	if !ok || v == nil {
		return decimal.Zero
	}
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t)
	case string:
		if d, err := decimal.NewFromString(strings.ReplaceAll(t, ",", ".")); err == nil {
			return d
		}
	}
	return decimal.Zero
}
