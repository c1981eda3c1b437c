// Package memory is an in-process implementation of every repository port.
// It enforces the same uniqueness and claim semantics as the Postgres adapter.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
	"cobranzas/internal/ports"
)

type queueKey struct {
	facturaID   string
	tipoMensaje string
}

type Store struct {
	mu           sync.Mutex
	clients      map[string]domain.Client
	invoices     map[string]domain.Invoice
	playbooks    map[string]domain.Playbook
	config       *domain.GlobalConfig
	entries      map[string]*domain.QueueEntry
	byKey        map[queueKey]string
	claimedAt    map[string]time.Time
	interactions []domain.Interaction
	events       []domain.Event
}

func New() *Store {
	return &Store{
		clients:   map[string]domain.Client{},
		invoices:  map[string]domain.Invoice{},
		playbooks: map[string]domain.Playbook{},
		entries:   map[string]*domain.QueueEntry{},
		byKey:     map[queueKey]string{},
		claimedAt: map[string]time.Time{},
	}
}

// Seeding

func (s *Store) PutClient(c domain.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.clients[c.ID] = c
}

func (s *Store) PutInvoice(inv domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	s.invoices[inv.ID] = inv
}

// PutPlaybook stores p. A zero contact window gets the default one, as the
// playbooks table does.
func (s *Store) PutPlaybook(p domain.Playbook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.VentanaDesde == (domain.ClockTime{}) && p.VentanaHasta == (domain.ClockTime{}) {
		p.VentanaDesde, p.VentanaHasta = domain.Defaults.VentanaDesde, domain.Defaults.VentanaHasta
	}
	s.playbooks[p.ID] = p
}

func (s *Store) SetGlobalConfig(cfg domain.GlobalConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = &cfg
}

// Inspection

func (s *Store) Client(id string) (domain.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	return c, ok
}

func (s *Store) Invoice(id string) (domain.Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	return inv, ok
}

// Entries returns a snapshot of the queue ordered by id.
func (s *Store) Entries() []domain.QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QueueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Interactions() []domain.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Interaction(nil), s.interactions...)
}

func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

// ScoreRepository

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetGlobalConfig(ctx context.Context) (domain.GlobalConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return domain.GlobalConfig{}, false, nil
	}
	return *s.config, true, nil
}

func (s *Store) SaveScores(ctx context.Context, clients []ports.ClientScoreUpdate, invoices []ports.InvoiceScoreUpdate, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range clients {
		if _, ok := s.clients[u.ClientID]; !ok {
			return eris.Wrapf(ports.ErrNotFound, "cliente %s", u.ClientID)
		}
	}
	for _, u := range invoices {
		if _, ok := s.invoices[u.InvoiceID]; !ok {
			return eris.Wrapf(ports.ErrNotFound, "factura %s", u.InvoiceID)
		}
	}
	for _, u := range clients {
		c := s.clients[u.ClientID]
		pd, color := u.PD180, u.Color
		c.PD180, c.PayScoreColor = &pd, &color
		s.clients[u.ClientID] = c
	}
	for _, u := range invoices {
		inv := s.invoices[u.InvoiceID]
		u := u
		inv.PD30, inv.PD90 = &u.PD30, &u.PD90
		inv.InvScore, inv.DiasPlazo = &u.InvScore, &u.DiasPlazo
		inv.MarkupPlazo, inv.CostoPlazo = &u.MarkupPlazo, &u.CostoPlazo
		inv.Recomendacion = &u.Recomendacion
		s.invoices[u.InvoiceID] = inv
	}
	s.events = append(s.events, event)
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	s.events = append(s.events, event)
	return nil
}

// PlaybookRepository

func (s *Store) GetActivePlaybook(ctx context.Context, id string) (domain.Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playbooks[id]
	if !ok || !p.Activo {
		return domain.Playbook{}, eris.Wrapf(ports.ErrNotFound, "playbook %s", id)
	}
	return p, nil
}

// QueueRepository

func (s *Store) ListOpenInvoices(ctx context.Context) ([]domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range s.invoices {
		for _, st := range domain.OpenInvoiceStatuses {
			if inv.Estado == st {
				out = append(out, inv)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := domain.Or(out[i].PD30, 0), domain.Or(out[j].PD30, 0)
		if pi != pj {
			return pi > pj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) EnqueueIfAbsent(ctx context.Context, e domain.QueueEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := queueKey{e.FacturaID, e.TipoMensaje}
	if _, exists := s.byKey[k]; exists {
		return false, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Estado == "" {
		e.Estado = domain.QueuePendiente
	}
	s.entries[e.ID] = &e
	s.byKey[k] = e.ID
	return true, nil
}

// JobRepository

func (s *Store) ClaimDue(ctx context.Context, limit int, now time.Time, skip []string) ([]ports.ClaimedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.QueueEntry
	for _, e := range s.entries {
		if e.Estado != domain.QueuePendiente || e.FechaProgramada.After(now) {
			continue
		}
		if e.PlaybookID != nil && slices.Contains(skip, *e.PlaybookID) {
			continue
		}
		inv, ok := s.invoices[e.FacturaID]
		if !ok {
			continue
		}
		if _, ok := s.clients[inv.ClienteID]; !ok {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Prioridad != due[j].Prioridad {
			return due[i].Prioridad > due[j].Prioridad
		}
		return due[i].FechaProgramada.Before(due[j].FechaProgramada)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]ports.ClaimedJob, 0, len(due))
	for _, e := range due {
		e.Estado = domain.QueueProcesando
		e.Intentos++
		s.claimedAt[e.ID] = now
		inv := s.invoices[e.FacturaID]
		job := ports.ClaimedJob{Entry: *e, Invoice: inv, Client: s.clients[inv.ClienteID]}
		if e.PlaybookID != nil {
			if p, ok := s.playbooks[*e.PlaybookID]; ok {
				job.Playbook = &p
			}
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *Store) claimed(id string) (*domain.QueueEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, eris.Wrapf(ports.ErrNotFound, "job %s", id)
	}
	return e, nil
}

func (s *Store) MarkSent(ctx context.Context, id string, in domain.Interaction, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.claimed(id)
	if err != nil {
		return err
	}
	if e.Estado != domain.QueueProcesando {
		return eris.Errorf("job %s is %s, not %s", id, e.Estado, domain.QueueProcesando)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	s.interactions = append(s.interactions, in)
	e.Estado = domain.QueueEnviado
	e.FechaEnviado = &sentAt
	e.Error = nil
	delete(s.claimedAt, id)
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.claimed(id)
	if err != nil {
		return err
	}
	if e.Estado != domain.QueueProcesando {
		return eris.Errorf("job %s is %s, not %s", id, e.Estado, domain.QueueProcesando)
	}
	e.Estado = domain.QueueFallido
	e.Error = &reason
	delete(s.claimedAt, id)
	return nil
}

func (s *Store) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.claimed(id)
	if err != nil {
		return err
	}
	if e.Estado == domain.QueueProcesando {
		e.Estado = domain.QueuePendiente
		delete(s.claimedAt, id)
	}
	return nil
}

func (s *Store) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, at := range s.claimedAt {
		if at.Before(cutoff) {
			if e, ok := s.entries[id]; ok && e.Estado == domain.QueueProcesando {
				e.Estado = domain.QueuePendiente
				n++
			}
			delete(s.claimedAt, id)
		}
	}
	return n, nil
}

var (
	_ ports.ScoreRepository    = (*Store)(nil)
	_ ports.PlaybookRepository = (*Store)(nil)
	_ ports.QueueRepository    = (*Store)(nil)
	_ ports.JobRepository      = (*Store)(nil)
	_ ports.EventRepository    = (*Store)(nil)
)
