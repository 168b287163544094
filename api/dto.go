/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  Defines the JSON shapes returned to clients. The wire field names are the
  Portuguese ones the legacy dashboard consumes (total_vendas_com_iva,
  taxa_conversao, ...), so the existing frontend keeps working; internally
  everything is the kpi package's typed model.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Wrappers around one or more DTOs

SEE ALSO:
  - handlers.go: builds these from kpi.KpiSet / kpi.Comparison
  - kpi/kpiset.go: the internal model
*/
package api

import (
	"time"

	"github.com/grnl/retail-engine/kpi"
	"github.com/grnl/retail-engine/telemetry"
)

// StoreDTO describes one configured store.
type StoreDTO struct {
	ID      string   `json:"id"`
	Sensors int      `json:"sensores"`
	Regions []string `json:"zonas"`
}

// StoresResponse lists the configured stores and groups.
type StoresResponse struct {
	Stores []StoreDTO          `json:"lojas"`
	Groups map[string][]string `json:"grupos"`
}

// KpiSetDTO is one KpiSet on the wire.
type KpiSetDTO struct {
	SalesWithVAT        float64 `json:"total_vendas_com_iva"`
	SalesWithoutVAT     float64 `json:"total_vendas_sem_iva"`
	ReturnsWithoutVAT   float64 `json:"total_devolucoes"`
	DiscountTotal       float64 `json:"total_descontos"`
	Transactions        int64   `json:"transacoes"`
	UnitsSold           float64 `json:"unidades"`
	Visitors            int64   `json:"total_entradas"`
	Line4In             int64   `json:"line4_in"`
	Line4Out            int64   `json:"line4_out"`
	Passersby           int64   `json:"total_passagens"`
	ConversionRate      float64 `json:"taxa_conversao"`
	EntryRate           float64 `json:"taxa_entrada"`
	AvgBasketWithVAT    float64 `json:"cesta_media_com_iva"`
	AvgBasketWithoutVAT float64 `json:"cesta_media_sem_iva"`
	UnitsPerTransaction float64 `json:"unidades_por_transacao"`
	ReturnIndex         float64 `json:"indice_devolucoes"`
	DiscountIndex       float64 `json:"indice_descontos"`
	AvgDwellMinutes     float64 `json:"permanencia_media_min"`

	TopSellers  []kpi.SellerTotal  `json:"vendedores_top"`
	TopProducts []kpi.ProductTotal `json:"produtos_top"`
	Regions     []kpi.RegionShare  `json:"ocupacao_zonas"`

	LastSourceUpdate string `json:"ultima_atualizacao,omitempty"`
}

// KpiResponse wraps one aggregation result.
type KpiResponse struct {
	Target      string     `json:"alvo"`
	WindowStart string     `json:"inicio"`
	WindowEnd   string     `json:"fim"`
	NoData      bool       `json:"sem_dados"`
	Kpis        *KpiSetDTO `json:"indicadores,omitempty"`
}

// CompareResponse wraps one period comparison.
type CompareResponse struct {
	Target         string               `json:"alvo"`
	Period         string               `json:"periodo"`
	CurrentStart   string               `json:"inicio_atual"`
	CurrentEnd     string               `json:"fim_atual"`
	PreviousStart  string               `json:"inicio_anterior"`
	PreviousEnd    string               `json:"fim_anterior"`
	NoData         bool                 `json:"sem_dados"`
	Current        *KpiSetDTO           `json:"atual,omitempty"`
	Previous       *KpiSetDTO           `json:"anterior,omitempty"`
	Deltas         map[string]kpi.Delta `json:"variacoes,omitempty"`
}

// SeriesResponse wraps a daily series.
type SeriesResponse struct {
	Target      string         `json:"alvo"`
	WindowStart string         `json:"inicio"`
	WindowEnd   string         `json:"fim"`
	Points      []kpi.DayPoint `json:"serie"`
}

// CheckpointDTO is one store's collection watermark.
type CheckpointDTO struct {
	Store         string `json:"loja"`
	LastCollected string `json:"ultima_recolha"`
	State         string `json:"estado,omitempty"`
}

// CollectionRunDTO is one audit row.
type CollectionRunDTO struct {
	ID          string `json:"id"`
	Store       string `json:"loja"`
	WindowStart string `json:"inicio"`
	WindowEnd   string `json:"fim"`
	Status      string `json:"estado"`
	Inserted    int    `json:"inseridos"`
	Updated     int    `json:"atualizados"`
	Skipped     int    `json:"ignorados"`
	Error       string `json:"erro,omitempty"`
	StartedAt   string `json:"inicio_execucao"`
	CompletedAt string `json:"fim_execucao,omitempty"`
}

// toKpiSetDTO flattens a KpiSet onto the wire shape.
func toKpiSetDTO(set *kpi.KpiSet) *KpiSetDTO {
	dto := &KpiSetDTO{
		SalesWithVAT:        f64(set.SalesWithVAT.Float64()),
		SalesWithoutVAT:     f64(set.SalesWithoutVAT.Float64()),
		ReturnsWithoutVAT:   f64(set.ReturnsWithoutVAT.Float64()),
		DiscountTotal:       f64(set.DiscountTotal.Float64()),
		Transactions:        set.Transactions,
		UnitsSold:           f64(set.UnitsSold.Float64()),
		Visitors:            set.Visitors,
		Line4In:             set.Line4In,
		Line4Out:            set.Line4Out,
		Passersby:           set.Passersby,
		ConversionRate:      set.ConversionRate,
		EntryRate:           set.EntryRate,
		AvgBasketWithVAT:    set.AvgBasketWithVAT,
		AvgBasketWithoutVAT: set.AvgBasketWithoutVAT,
		UnitsPerTransaction: set.UnitsPerTransaction,
		ReturnIndex:         set.ReturnIndex,
		DiscountIndex:       set.DiscountIndex,
		AvgDwellMinutes:     set.AvgDwellMinutes,
		TopSellers:          set.TopSellers,
		TopProducts:         set.TopProducts,
		Regions:             set.Regions,
	}
	if !set.LastSourceUpdate.IsZero() {
		dto.LastSourceUpdate = set.LastSourceUpdate.Format(time.RFC3339)
	}
	return dto
}

func f64(f float64, _ bool) float64 { return f }

func formatWindow(w telemetry.Window) (string, string) {
	return w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)
}
