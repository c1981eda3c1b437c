package ports

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
)

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = eris.New("not found")
	// ErrInvalidRequest marks caller input that fails validation.
	ErrInvalidRequest = eris.New("invalid request")
)

// ClientScoreUpdate is the computed part of a client row.
type ClientScoreUpdate struct {
	ClientID string
	PD180    float64
	Color    domain.Color
}

// InvoiceScoreUpdate is the computed part of an invoice row.
type InvoiceScoreUpdate struct {
	InvoiceID     string
	PD30          float64
	PD90          float64
	InvScore      int
	DiasPlazo     int
	MarkupPlazo   float64
	CostoPlazo    float64
	Recomendacion domain.Recommendation
}

// ScoreRepository feeds and persists a scoring run.
type ScoreRepository interface {
	ListClients(ctx context.Context) ([]domain.Client, error)
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)
	// GetGlobalConfig reports found=false when the singleton row is missing.
	GetGlobalConfig(ctx context.Context) (cfg domain.GlobalConfig, found bool, err error)
	// SaveScores writes every update and the audit event atomically.
	SaveScores(ctx context.Context, clients []ClientScoreUpdate, invoices []InvoiceScoreUpdate, event domain.Event) error
}

// PlaybookRepository resolves playbooks.
type PlaybookRepository interface {
	// GetActivePlaybook returns ErrNotFound when the playbook is missing or inactive.
	GetActivePlaybook(ctx context.Context, id string) (domain.Playbook, error)
}

// QueueRepository materializes dunning jobs.
type QueueRepository interface {
	// ListOpenInvoices returns pendiente/vencida/parcial invoices, highest pd30 first.
	ListOpenInvoices(ctx context.Context) ([]domain.Invoice, error)
	// EnqueueIfAbsent inserts entry unless (factura_id, tipo_mensaje) already
	// exists. The check is enforced by the store, not by the caller.
	EnqueueIfAbsent(ctx context.Context, entry domain.QueueEntry) (created bool, err error)
}

// EventRepository appends audit events outside a scoring batch.
type EventRepository interface {
	AppendEvent(ctx context.Context, event domain.Event) error
}

// Clock returns the current time.
type Clock func() time.Time
