package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
	"cobranzas/internal/ports"
)

const invalidTextRepresentation = "22P02"

// notFound maps missing rows and malformed ids to ports.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrap(ports.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation {
		return eris.Wrap(ports.ErrNotFound, what)
	}
	return err
}

const clientColumns = `
    id::text, razon_social, email, telefono,
    pct_on_time_180, dso_180, aging30, aging60, aging90,
    deuda_total, deuda_vencida, concent_top3, tendencia_pd,
    pd_180, pay_score_color`

func scanClient(row pgx.Row) (domain.Client, error) {
	var c domain.Client
	var color *string
	err := row.Scan(&c.ID, &c.RazonSocial, &c.Email, &c.Telefono,
		&c.PctOnTime180, &c.DSO180, &c.Aging30, &c.Aging60, &c.Aging90,
		&c.DeudaTotal, &c.DeudaVencida, &c.ConcentTop3, &c.TendenciaPD,
		&c.PD180, &color)
	if color != nil {
		cl := domain.Color(*color)
		c.PayScoreColor = &cl
	}
	return c, err
}

const invoiceColumns = `
    id::text, cliente_id::text, numero, monto, monto_pagado,
    fecha_emision, fecha_vencimiento, estado, devoluciones,
    pd30, pd90, inv_score, dias_plazo, markup_plazo, costo_plazo, recomendacion_json`

func scanInvoice(row pgx.Row) (domain.Invoice, error) {
	var inv domain.Invoice
	var estado string
	var rec []byte
	err := row.Scan(&inv.ID, &inv.ClienteID, &inv.Numero, &inv.Monto, &inv.MontoPagado,
		&inv.FechaEmision, &inv.FechaVencimiento, &estado, &inv.Devoluciones,
		&inv.PD30, &inv.PD90, &inv.InvScore, &inv.DiasPlazo, &inv.MarkupPlazo, &inv.CostoPlazo, &rec)
	if err != nil {
		return inv, err
	}
	inv.Estado = domain.InvoiceStatus(estado)
	// A malformed stored recommendation is dropped, not fatal: the next
	// scoring run rewrites it.
	if inv.Recomendacion, err = domain.DecodeRecommendation(rec); err != nil {
		log.Printf("warning: factura %s: %v", inv.ID, err)
		inv.Recomendacion = nil
	}
	return inv, nil
}

// ScoreRepository

func (db *DB) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+clientColumns+` FROM clientes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	return db.listInvoices(ctx, `SELECT `+invoiceColumns+` FROM facturas ORDER BY id`)
}

func (db *DB) listInvoices(ctx context.Context, query string, args ...any) ([]domain.Invoice, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (db *DB) GetGlobalConfig(ctx context.Context) (domain.GlobalConfig, bool, error) {
	var cfg domain.GlobalConfig
	err := db.Pool.QueryRow(ctx, `
        SELECT inflacion_anual, tasa_libre_riesgo, lgd, beta_plazo, gamma_riesgo
        FROM config_financiera WHERE id = 1
    `).Scan(&cfg.InflacionAnual, &cfg.TasaLibreRiesgo, &cfg.LGD, &cfg.BetaPlazo, &cfg.GammaRiesgo)
	if errors.Is(err, pgx.ErrNoRows) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, err
	}
	return cfg, true, nil
}

// SaveScores writes the whole run in a single transaction.
func (db *DB) SaveScores(ctx context.Context, clients []ports.ClientScoreUpdate, invoices []ports.InvoiceScoreUpdate, event domain.Event) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	b := &pgx.Batch{}
	for _, u := range clients {
		b.Queue(`
            UPDATE clientes SET pd_180 = $2, pay_score_color = $3, fecha_update = now()
            WHERE id = $1
        `, u.ClientID, u.PD180, string(u.Color))
	}
	for _, u := range invoices {
		rec, mErr := json.Marshal(u.Recomendacion)
		if mErr != nil {
			return mErr
		}
		b.Queue(`
            UPDATE facturas
            SET pd30 = $2, pd90 = $3, inv_score = $4, dias_plazo = $5,
                markup_plazo = $6, costo_plazo = $7, recomendacion_json = $8
            WHERE id = $1
        `, u.InvoiceID, u.PD30, u.PD90, u.InvScore, u.DiasPlazo, u.MarkupPlazo, u.CostoPlazo, string(rec))
	}
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		tag, execErr := br.Exec()
		if execErr != nil {
			_ = br.Close()
			return execErr
		}
		if tag.RowsAffected() == 0 {
			_ = br.Close()
			return eris.Wrapf(ports.ErrNotFound, "score update %d matched no row", i)
		}
	}
	if err = br.Close(); err != nil {
		return err
	}
	return insertEvent(ctx, tx, event)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, q execer, e domain.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
        INSERT INTO eventos (entidad_tipo, tipo_evento, payload_json, "timestamp")
        VALUES ($1, $2, $3, $4)
    `, e.EntidadTipo, e.TipoEvento, string(payload), e.Timestamp)
	return err
}

func (db *DB) AppendEvent(ctx context.Context, e domain.Event) error {
	return insertEvent(ctx, db.Pool, e)
}

// PlaybookRepository

func (db *DB) GetActivePlaybook(ctx context.Context, id string) (domain.Playbook, error) {
	var (
		p          domain.Playbook
		pasos      []byte
		from, till string
	)
	err := db.Pool.QueryRow(ctx, `
        SELECT id::text, nombre, activo, pasos_json,
               ventana_horaria_inicio::text, ventana_horaria_fin::text, limite_diario
        FROM playbooks
        WHERE id = $1 AND activo
    `, id).Scan(&p.ID, &p.Nombre, &p.Activo, &pasos, &from, &till, &p.LimiteDiario)
	if err != nil {
		return p, notFound(err, "playbook "+id)
	}
	if err := fillPlaybook(&p, pasos, from, till); err != nil {
		return p, err
	}
	return p, nil
}

func fillPlaybook(p *domain.Playbook, pasos []byte, from, till string) error {
	steps, err := domain.DecodeSequence(pasos)
	if err != nil {
		return eris.Wrapf(err, "playbook %s", p.ID)
	}
	p.Sequence = steps
	if p.VentanaDesde, err = domain.ParseClock(from); err != nil {
		return eris.Wrapf(err, "playbook %s", p.ID)
	}
	if p.VentanaHasta, err = domain.ParseClock(till); err != nil {
		return eris.Wrapf(err, "playbook %s", p.ID)
	}
	return nil
}

// QueueRepository

func (db *DB) ListOpenInvoices(ctx context.Context) ([]domain.Invoice, error) {
	states := make([]string, len(domain.OpenInvoiceStatuses))
	for i, s := range domain.OpenInvoiceStatuses {
		states[i] = string(s)
	}
	return db.listInvoices(ctx, `
        SELECT `+invoiceColumns+`
        FROM facturas
        WHERE estado = ANY($1)
        ORDER BY pd30 DESC NULLS LAST, id
    `, states)
}

// EnqueueIfAbsent relies on dunning_queue_factura_tipo_key, so concurrent
// schedulers cannot create two jobs for one (factura, paso).
func (db *DB) EnqueueIfAbsent(ctx context.Context, e domain.QueueEntry) (bool, error) {
	var id string
	err := db.Pool.QueryRow(ctx, `
        INSERT INTO dunning_queue
            (factura_id, cliente_id, playbook_id, tipo_mensaje, offset_dias, canal,
             fecha_programada, prioridad, estado)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pendiente')
        ON CONFLICT ON CONSTRAINT dunning_queue_factura_tipo_key DO NOTHING
        RETURNING id::text
    `, e.FacturaID, e.ClienteID, e.PlaybookID, e.TipoMensaje, e.OffsetDias, string(e.Canal),
		e.FechaProgramada, e.Prioridad).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var (
	_ ports.ScoreRepository    = (*DB)(nil)
	_ ports.PlaybookRepository = (*DB)(nil)
	_ ports.QueueRepository    = (*DB)(nil)
	_ ports.EventRepository    = (*DB)(nil)
)
