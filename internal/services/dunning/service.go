package dunning

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
	"cobranzas/internal/ports"
	"cobranzas/internal/scoring"
)

var ErrPlaybookNotFound = eris.New("playbook no encontrado o inactivo")

type Request struct {
	PlaybookID string `json:"playbookId"`
}

type Summary struct {
	Playbook           string `json:"playbook"`
	TrabajosCreados    int    `json:"trabajos_creados"`
	FacturasProcesadas int    `json:"facturas_procesadas"`
}

// Scheduler materializes due reminder steps into the dunning queue. It never
// sends anything.
type Scheduler struct {
	playbooks ports.PlaybookRepository
	queue     ports.QueueRepository
	events    ports.EventRepository
	loc       *time.Location
	now       ports.Clock
}

// New builds a Scheduler. events may be nil; when set, every run that creates
// jobs is recorded in the audit log.
func New(playbooks ports.PlaybookRepository, queue ports.QueueRepository, events ports.EventRepository, loc *time.Location, now ports.Clock) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{playbooks: playbooks, queue: queue, events: events, loc: loc, now: now}
}

// Run schedules every due step of the playbook for every open invoice. Safe to
// call repeatedly: existing (invoice, step) jobs are never recreated.
func (s *Scheduler) Run(ctx context.Context, req Request) (Summary, error) {
	id := strings.TrimSpace(req.PlaybookID)
	if id == "" {
		return Summary{}, eris.Wrap(ports.ErrInvalidRequest, "playbookId is required")
	}
	pb, err := s.playbooks.GetActivePlaybook(ctx, id)
	if eris.Is(err, ports.ErrNotFound) {
		return Summary{}, eris.Wrapf(ErrPlaybookNotFound, "playbook %s", id)
	}
	if err != nil {
		return Summary{}, eris.Wrapf(err, "load playbook %s", id)
	}

	invoices, err := s.queue.ListOpenInvoices(ctx)
	if err != nil {
		return Summary{}, eris.Wrap(err, "list open invoices")
	}

	now := s.now().In(s.loc)
	created := 0
	for _, inv := range invoices {
		for _, step := range pb.Steps() {
			at := ScheduledAt(inv.FechaVencimiento, step.OffsetDays, pb.VentanaDesde, s.loc)
			if at.After(now) {
				continue
			}
			pbID := pb.ID
			entry := domain.QueueEntry{
				FacturaID:       inv.ID,
				ClienteID:       inv.ClienteID,
				PlaybookID:      &pbID,
				TipoMensaje:     step.Name,
				OffsetDias:      step.OffsetDays,
				Canal:           step.Channel,
				FechaProgramada: at,
				Prioridad:       Priority(inv),
				Estado:          domain.QueuePendiente,
			}
			ok, err := s.queue.EnqueueIfAbsent(ctx, entry)
			if err != nil {
				return Summary{}, eris.Wrapf(err, "enqueue %s/%s", inv.ID, step.Name)
			}
			if ok {
				created++
			}
		}
	}
	log.Printf("dunning: playbook=%s facturas=%d trabajos_creados=%d", pb.Nombre, len(invoices), created)
	if created > 0 && s.events != nil {
		ev := domain.Event{
			ID:          uuid.NewString(),
			EntidadTipo: "dunning",
			TipoEvento:  "programacion",
			Payload:     map[string]any{"playbook": pb.ID, "trabajos_creados": created, "facturas": len(invoices)},
			Timestamp:   now,
		}
		// audit failures do not fail the run
		if err := s.events.AppendEvent(ctx, ev); err != nil {
			log.Printf("warning: dunning: append event: %v", err)
		}
	}
	return Summary{Playbook: pb.Nombre, TrabajosCreados: created, FacturasProcesadas: len(invoices)}, nil
}

// ScheduledAt is the due date shifted by offset days, at the window start in loc.
func ScheduledAt(due time.Time, offsetDays int, windowStart domain.ClockTime, loc *time.Location) time.Time {
	y, m, d := due.Date()
	return time.Date(y, m, d+offsetDays, windowStart.Hour, windowStart.Minute, 0, 0, loc)
}

// Priority is the risk-weighted outstanding exposure pd30 * (monto - monto_pagado).
func Priority(inv domain.Invoice) float64 {
	return scoring.Round2(domain.Or(inv.PD30, 0) * inv.Outstanding())
}
