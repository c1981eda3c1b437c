package dispatch

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
	"cobranzas/internal/ports"
	"cobranzas/internal/templates"
)

const (
	DefaultLimit       = 10
	MaxLimit           = 500
	DefaultSendTimeout = 10 * time.Second
	DefaultLinkBase    = templates.DefaultLinkBase

	ResultSent = "enviado"
)

type Request struct {
	Limit int `json:"limit"`
}

type Summary struct {
	MensajesEnviados   int `json:"mensajes_enviados"`
	TrabajosProcesados int `json:"trabajos_procesados"`
	Fallidos           int `json:"fallidos"`
	Diferidos          int `json:"diferidos"`
}

type Options struct {
	SendTimeout     time.Duration
	PaymentLinkBase string
	Location        *time.Location
}

// Dispatcher sends due dunning jobs, highest priority first.
type Dispatcher struct {
	jobs      ports.JobRepository
	sender    ports.Sender
	limiter   ports.RateLimiter
	templates *templates.Set
	opts      Options
	now       ports.Clock
}

func New(jobs ports.JobRepository, sender ports.Sender, limiter ports.RateLimiter, tpl *templates.Set, opts Options, now ports.Clock) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.PaymentLinkBase == "" {
		opts.PaymentLinkBase = DefaultLinkBase
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if tpl == nil {
		tpl = templates.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{jobs: jobs, sender: sender, limiter: limiter, templates: tpl, opts: opts, now: now}
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeDeferred
)

// Run sends or fails up to req.Limit due jobs. Jobs of a playbook whose
// contact window is closed or whose daily quota is spent are released as
// deferred, and that playbook is skipped by later claims in the same run so
// other playbooks still get their turn. A storage error aborts the batch;
// jobs not yet handled are released.
func (d *Dispatcher) Run(ctx context.Context, req Request) (Summary, error) {
	limit := req.Limit
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 0:
		return Summary{}, eris.Wrapf(ports.ErrInvalidRequest, "limit must be positive, got %d", limit)
	case limit > MaxLimit:
		limit = MaxLimit
	}

	now := d.now()
	var (
		sum     Summary
		blocked []string
		handled int
	)
	for handled < limit {
		claimed, err := d.jobs.ClaimDue(ctx, limit-handled, now, blocked)
		if err != nil {
			return sum, eris.Wrap(err, "claim due jobs")
		}
		if len(claimed) == 0 {
			break
		}
		sum.TrabajosProcesados += len(claimed)
		for i, job := range claimed {
			res, err := d.process(ctx, job, now, blocked)
			if err != nil {
				d.releaseAll(ctx, claimed[i:])
				return sum, err
			}
			switch res {
			case outcomeSent:
				sum.MensajesEnviados++
				handled++
			case outcomeFailed:
				sum.Fallidos++
				handled++
			case outcomeDeferred:
				sum.Diferidos++
				if id := job.Playbook.ID; !slices.Contains(blocked, id) {
					blocked = append(blocked, id)
				}
			}
		}
	}
	log.Printf("dispatch: procesados=%d enviados=%d fallidos=%d diferidos=%d",
		sum.TrabajosProcesados, sum.MensajesEnviados, sum.Fallidos, sum.Diferidos)
	return sum, nil
}

// process handles one claimed job. outcomeDeferred is only returned for jobs
// with a playbook.
func (d *Dispatcher) process(ctx context.Context, job ports.ClaimedJob, now time.Time, blocked []string) (outcome, error) {
	e := job.Entry
	local := now.In(d.opts.Location)
	pb := job.Playbook

	if pb != nil {
		if slices.Contains(blocked, pb.ID) || !domain.Within(local, pb.VentanaDesde, pb.VentanaHasta) {
			return outcomeDeferred, d.release(ctx, e.ID)
		}
	}

	dest := Destination(job.Client, e.Canal)
	if dest == "" {
		return outcomeFailed, d.fail(ctx, e.ID, fmt.Sprintf("cliente %s sin destino para canal %s", job.Client.ID, e.Canal))
	}

	quota := pb != nil && pb.LimiteDiario > 0 && d.limiter != nil
	if quota {
		ok, err := d.limiter.Allow(ctx, quotaKey(pb), pb.LimiteDiario, local)
		if err != nil {
			return 0, eris.Wrapf(err, "rate limit playbook %s", pb.ID)
		}
		if !ok {
			return outcomeDeferred, d.release(ctx, e.ID)
		}
	}

	if !d.templates.Has(e.TipoMensaje) {
		log.Printf("warning: dispatch: no template for %q (job %s)", e.TipoMensaje, e.ID)
	}
	text := d.templates.Render(e.TipoMensaje, d.fields(job, local))

	sctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	err := d.sender.Send(sctx, ports.Message{
		Channel:     e.Canal,
		Destination: dest,
		Text:        text,
		FacturaID:   e.FacturaID,
		Template:    e.TipoMensaje,
	})
	cancel()
	if err != nil {
		log.Printf("dispatch: job %s send failed: %v", e.ID, err)
		if quota {
			if rerr := d.limiter.Refund(context.WithoutCancel(ctx), quotaKey(pb), local); rerr != nil {
				log.Printf("warning: dispatch: %v", rerr)
			}
		}
		return outcomeFailed, d.fail(ctx, e.ID, err.Error())
	}

	interaction := domain.Interaction{
		ID:             uuid.NewString(),
		ClienteID:      job.Client.ID,
		FacturaID:      job.Invoice.ID,
		Canal:          e.Canal,
		Plantilla:      e.TipoMensaje,
		MensajeEnviado: text,
		Resultado:      ResultSent,
		Fecha:          now,
	}
	if err := d.jobs.MarkSent(ctx, e.ID, interaction, now); err != nil {
		return 0, eris.Wrapf(err, "mark job %s sent", e.ID)
	}
	return outcomeSent, nil
}

func quotaKey(pb *domain.Playbook) string { return "playbook:" + pb.ID }

func (d *Dispatcher) fields(job ports.ClaimedJob, today time.Time) templates.Fields {
	inv := job.Invoice
	monto := inv.Monto
	venc := inv.FechaVencimiento
	f := templates.Fields{
		Nombre:      job.Client.RazonSocial,
		Numero:      inv.Numero,
		Monto:       &monto,
		Vencimiento: &venc,
		LinkPago:    strings.TrimRight(d.opts.PaymentLinkBase, "/") + "/" + inv.ID,
		FacturaID:   inv.ID,
		Fecha:       today,
	}
	if inv.Recomendacion != nil {
		a := inv.Recomendacion.Anticipo
		f.Anticipo = &a
	}
	return f
}

// Destination picks the client address for a channel.
func Destination(c domain.Client, ch domain.Channel) string {
	switch ch {
	case domain.ChannelEmail:
		return strings.TrimSpace(domain.Or(c.Email, ""))
	case domain.ChannelWhatsApp:
		return strings.TrimSpace(domain.Or(c.Telefono, ""))
	}
	return ""
}

func (d *Dispatcher) fail(ctx context.Context, id, reason string) error {
	if err := d.jobs.MarkFailed(ctx, id, reason); err != nil {
		return eris.Wrapf(err, "mark job %s failed", id)
	}
	return nil
}

func (d *Dispatcher) release(ctx context.Context, id string) error {
	if err := d.jobs.Release(ctx, id); err != nil {
		return eris.Wrapf(err, "release job %s", id)
	}
	return nil
}

func (d *Dispatcher) releaseAll(ctx context.Context, jobs []ports.ClaimedJob) {
	ctx = context.WithoutCancel(ctx)
	for _, j := range jobs {
		if err := d.jobs.Release(ctx, j.Entry.ID); err != nil {
			log.Printf("dispatch: release %s: %v", j.Entry.ID, err)
		}
	}
}
