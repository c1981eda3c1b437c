package domain

import "time"

// Core domain models. Field and column names keep the persisted Spanish names
// so existing rows stay readable by other tools.

type Color string

const (
	ColorVerde    Color = "Verde"
	ColorAmarillo Color = "Amarillo"
	ColorRojo     Color = "Rojo"
)

// Client aggregates. Nil pointers mean the aggregate is missing and resolve
// through Defaults.
type Client struct {
	ID            string   `json:"id"`
	RazonSocial   string   `json:"razon_social"`
	Email         *string  `json:"email,omitempty"`
	Telefono      *string  `json:"telefono,omitempty"`
	PctOnTime180  *float64 `json:"pct_on_time_180,omitempty"`
	DSO180        *float64 `json:"dso_180,omitempty"`
	Aging30       *float64 `json:"aging30,omitempty"`
	Aging60       *float64 `json:"aging60,omitempty"`
	Aging90       *float64 `json:"aging90,omitempty"`
	DeudaTotal    *float64 `json:"deuda_total,omitempty"`
	DeudaVencida  *float64 `json:"deuda_vencida,omitempty"`
	ConcentTop3   *float64 `json:"concent_top3,omitempty"`
	TendenciaPD   *float64 `json:"tendencia_pd,omitempty"`
	PD180         *float64 `json:"pd_180,omitempty"`
	PayScoreColor *Color   `json:"pay_score_color,omitempty"`
}

type InvoiceStatus string

const (
	InvoicePendiente InvoiceStatus = "pendiente"
	InvoiceVencida   InvoiceStatus = "vencida"
	InvoiceParcial   InvoiceStatus = "parcial"
	InvoicePaga      InvoiceStatus = "paga"
)

// OpenInvoiceStatuses are the states the dunning scheduler scans.
var OpenInvoiceStatuses = []InvoiceStatus{InvoicePendiente, InvoiceVencida, InvoiceParcial}

type Invoice struct {
	ID               string          `json:"id"`
	ClienteID        string          `json:"cliente_id"`
	Numero           string          `json:"numero"`
	Monto            float64         `json:"monto"`
	MontoPagado      *float64        `json:"monto_pagado,omitempty"`
	FechaEmision     time.Time       `json:"fecha_emision"`
	FechaVencimiento time.Time       `json:"fecha_vencimiento"`
	Estado           InvoiceStatus   `json:"estado"`
	Devoluciones     *int            `json:"devoluciones,omitempty"`
	PD30             *float64        `json:"pd30,omitempty"`
	PD90             *float64        `json:"pd90,omitempty"`
	InvScore         *int            `json:"inv_score,omitempty"`
	DiasPlazo        *int            `json:"dias_plazo,omitempty"`
	MarkupPlazo      *float64        `json:"markup_plazo,omitempty"`
	CostoPlazo       *float64        `json:"costo_plazo,omitempty"`
	Recomendacion    *Recommendation `json:"recomendacion_json,omitempty"`
}

// Outstanding is monto minus monto_pagado.
func (i Invoice) Outstanding() float64 {
	if i.MontoPagado == nil {
		return i.Monto
	}
	return i.Monto - *i.MontoPagado
}

// GlobalConfig is the singleton row of financial parameters.
type GlobalConfig struct {
	InflacionAnual  float64 `json:"inflacion_anual"`
	TasaLibreRiesgo float64 `json:"tasa_libre_riesgo"`
	LGD             float64 `json:"lgd"`
	BetaPlazo       float64 `json:"beta_plazo"`
	GammaRiesgo     float64 `json:"gamma_riesgo"`
}

type QueueStatus string

const (
	QueuePendiente  QueueStatus = "pendiente"
	QueueProcesando QueueStatus = "procesando"
	QueueEnviado    QueueStatus = "enviado"
	QueueFallido    QueueStatus = "fallido"
)

// QueueEntry is one dunning job. (FacturaID, TipoMensaje) is unique.
type QueueEntry struct {
	ID              string      `json:"id"`
	FacturaID       string      `json:"factura_id"`
	ClienteID       string      `json:"cliente_id"`
	PlaybookID      *string     `json:"playbook_id,omitempty"`
	TipoMensaje     string      `json:"tipo_mensaje"`
	OffsetDias      int         `json:"offset_dias"`
	Canal           Channel     `json:"canal"`
	FechaProgramada time.Time   `json:"fecha_programada"`
	Prioridad       float64     `json:"prioridad"`
	Estado          QueueStatus `json:"estado"`
	Intentos        int         `json:"intentos"`
	Error           *string     `json:"error,omitempty"`
	FechaEnviado    *time.Time  `json:"fecha_enviado,omitempty"`
}

// Interaction is an append-only record of a sent message.
type Interaction struct {
	ID             string    `json:"id"`
	ClienteID      string    `json:"cliente_id"`
	FacturaID      string    `json:"factura_id"`
	Canal          Channel   `json:"canal"`
	Plantilla      string    `json:"plantilla"`
	MensajeEnviado string    `json:"mensaje_enviado"`
	Resultado      string    `json:"resultado"`
	Fecha          time.Time `json:"fecha"`
}

// Event is an audit log entry.
type Event struct {
	ID          string         `json:"id"`
	EntidadTipo string         `json:"entidad_tipo"`
	TipoEvento  string         `json:"tipo_evento"`
	Payload     map[string]any `json:"payload_json"`
	Timestamp   time.Time      `json:"timestamp"`
}
