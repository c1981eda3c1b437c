package scoring

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
	"cobranzas/internal/ports"
	engine "cobranzas/internal/scoring"
)

type Request struct {
	Engine string `json:"engine"`
}

type Summary struct {
	ClientesActualizados int    `json:"clientes_actualizados"`
	FacturasActualizadas int    `json:"facturas_actualizadas"`
	Engine               string `json:"engine"`
}

type Service struct {
	repo ports.ScoreRepository
	loc  *time.Location
	now  ports.Clock
}

// New returns a Service. Days overdue are counted on the calendar of loc.
func New(repo ports.ScoreRepository, loc *time.Location, now ports.Clock) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, loc: loc, now: now}
}

// Run recomputes every client and invoice score and persists them as one batch.
func (s *Service) Run(ctx context.Context, req Request) (Summary, error) {
	eng, err := engine.Lookup(req.Engine)
	if err != nil {
		return Summary{}, err
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return Summary{}, err
	}
	now := s.now()

	clients, err := s.repo.ListClients(ctx)
	if err != nil {
		return Summary{}, eris.Wrap(err, "list clients")
	}
	scores := make(map[string]engine.ClientScore, len(clients))
	clientUpdates := make([]ports.ClientScoreUpdate, 0, len(clients))
	for _, c := range clients {
		sc := eng.ScoreClient(c)
		scores[c.ID] = sc
		clientUpdates = append(clientUpdates, ports.ClientScoreUpdate{ClientID: c.ID, PD180: sc.PD180, Color: sc.Color})
	}

	invoices, err := s.repo.ListInvoices(ctx)
	if err != nil {
		return Summary{}, eris.Wrap(err, "list invoices")
	}
	invoiceUpdates := make([]ports.InvoiceScoreUpdate, 0, len(invoices))
	for _, inv := range invoices {
		cs, ok := scores[inv.ClienteID]
		if !ok {
			cs = engine.ClientScore{PD180: domain.Defaults.UnknownClientPD180, Color: domain.Defaults.UnknownClientColor}
		}
		is := engine.ScoreInvoice(inv, cs, cfg, now.In(s.loc))
		invoiceUpdates = append(invoiceUpdates, ports.InvoiceScoreUpdate{
			InvoiceID:     inv.ID,
			PD30:          is.PD30,
			PD90:          is.PD90,
			InvScore:      is.InvScore,
			DiasPlazo:     is.DiasPlazo,
			MarkupPlazo:   is.MarkupPlazo,
			CostoPlazo:    is.CostoPlazo,
			Recomendacion: is.Recomendacion,
		})
	}

	event := domain.Event{
		ID:          uuid.NewString(),
		EntidadTipo: "scoring",
		TipoEvento:  "recalculo",
		Payload: map[string]any{
			"engine":   eng.Name(),
			"clientes": len(clients),
			"facturas": len(invoices),
		},
		Timestamp: now,
	}
	if err := s.repo.SaveScores(ctx, clientUpdates, invoiceUpdates, event); err != nil {
		return Summary{}, eris.Wrap(err, "save scores")
	}
	log.Printf("scoring: engine=%s clientes=%d facturas=%d", eng.Name(), len(clients), len(invoices))
	return Summary{
		ClientesActualizados: len(clients),
		FacturasActualizadas: len(invoices),
		Engine:               eng.Name(),
	}, nil
}

func (s *Service) loadConfig(ctx context.Context) (domain.GlobalConfig, error) {
	cfg, found, err := s.repo.GetGlobalConfig(ctx)
	if err != nil {
		return cfg, eris.Wrap(err, "load global config")
	}
	if !found {
		log.Printf("warning: scoring: config_financiera missing, using defaults")
		return domain.Defaults.Config, nil
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("warning: scoring: invalid config_financiera (%v), using defaults", err)
		return domain.Defaults.Config, nil
	}
	return cfg, nil
}
