package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"cobranzas/internal/domain"
	"cobranzas/internal/ports"
)

var errLostClaim = eris.New("job is no longer claimed")

// ClaimDue locks due jobs with SKIP LOCKED and marks them procesando in one
// transaction, so two dispatchers never claim the same job.
func (db *DB) ClaimDue(ctx context.Context, limit int, now time.Time, skip []string) (jobs []ports.ClaimedJob, err error) {
	if skip == nil {
		skip = []string{}
	}
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
        WITH due AS (
            SELECT id FROM dunning_queue
            WHERE estado = 'pendiente' AND fecha_programada <= $2
              AND (playbook_id IS NULL OR playbook_id <> ALL($3::uuid[]))
            ORDER BY prioridad DESC, fecha_programada ASC
            FOR UPDATE SKIP LOCKED
            LIMIT $1
        )
        UPDATE dunning_queue q
        SET estado = 'procesando', intentos = q.intentos + 1, claimed_at = $2
        FROM due
        WHERE q.id = due.id
        RETURNING q.id::text
    `, limit, now, skip)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err = tx.Query(ctx, `
        SELECT q.id::text, q.factura_id::text, q.cliente_id::text, q.playbook_id::text,
               q.tipo_mensaje, q.offset_dias, q.canal, q.fecha_programada, q.prioridad,
               q.estado, q.intentos,
               f.numero, f.monto, f.monto_pagado, f.fecha_emision, f.fecha_vencimiento,
               f.estado, f.pd30, f.recomendacion_json,
               c.razon_social, c.email, c.telefono,
               p.nombre, p.activo, p.pasos_json,
               p.ventana_horaria_inicio::text, p.ventana_horaria_fin::text, p.limite_diario
        FROM dunning_queue q
        JOIN facturas f ON f.id = q.factura_id
        JOIN clientes c ON c.id = f.cliente_id
        LEFT JOIN playbooks p ON p.id = q.playbook_id
        WHERE q.id = ANY($1::uuid[])
        ORDER BY q.prioridad DESC, q.fecha_programada ASC
    `, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		job, scanErr := scanClaimed(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func scanClaimed(row pgx.Row) (ports.ClaimedJob, error) {
	var (
		j         ports.ClaimedJob
		canal     string
		estado    string
		invEstado string
		rec       []byte
		pbNombre  *string
		pbActivo  *bool
		pbPasos   []byte
		pbFrom    *string
		pbTill    *string
		pbLimite  *int
	)
	e := &j.Entry
	err := row.Scan(&e.ID, &e.FacturaID, &e.ClienteID, &e.PlaybookID,
		&e.TipoMensaje, &e.OffsetDias, &canal, &e.FechaProgramada, &e.Prioridad,
		&estado, &e.Intentos,
		&j.Invoice.Numero, &j.Invoice.Monto, &j.Invoice.MontoPagado, &j.Invoice.FechaEmision, &j.Invoice.FechaVencimiento,
		&invEstado, &j.Invoice.PD30, &rec,
		&j.Client.RazonSocial, &j.Client.Email, &j.Client.Telefono,
		&pbNombre, &pbActivo, &pbPasos, &pbFrom, &pbTill, &pbLimite)
	if err != nil {
		return j, err
	}
	e.Canal = domain.Channel(canal)
	e.Estado = domain.QueueStatus(estado)
	j.Invoice.ID = e.FacturaID
	j.Invoice.ClienteID = e.ClienteID
	j.Invoice.Estado = domain.InvoiceStatus(invEstado)
	j.Client.ID = e.ClienteID
	if j.Invoice.Recomendacion, err = domain.DecodeRecommendation(rec); err != nil {
		// rendering falls back to the default anticipo
		j.Invoice.Recomendacion = nil
	}
	if e.PlaybookID != nil && pbNombre != nil {
		p := domain.Playbook{
			ID:           *e.PlaybookID,
			Nombre:       *pbNombre,
			Activo:       domain.Or(pbActivo, false),
			LimiteDiario: domain.Or(pbLimite, 0),
		}
		if err := fillPlaybook(&p, pbPasos, domain.Or(pbFrom, ""), domain.Or(pbTill, "")); err != nil {
			return j, err
		}
		j.Playbook = &p
	}
	return j, nil
}

// MarkSent records the interaction and completes the job atomically. If the
// claim was lost the interaction is rolled back too.
func (db *DB) MarkSent(ctx context.Context, entryID string, in domain.Interaction, sentAt time.Time) (err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
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

	if _, err = tx.Exec(ctx, `
        INSERT INTO interacciones (cliente_id, factura_id, canal, plantilla, mensaje_enviado, resultado, fecha)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, in.ClienteID, in.FacturaID, string(in.Canal), in.Plantilla, in.MensajeEnviado, in.Resultado, in.Fecha); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
        UPDATE dunning_queue
        SET estado = 'enviado', fecha_enviado = $2, error = NULL, claimed_at = NULL
        WHERE id = $1 AND estado = 'procesando'
    `, entryID, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(errLostClaim, "job %s", entryID)
	}
	return nil
}

func (db *DB) MarkFailed(ctx context.Context, entryID string, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := db.Pool.Exec(ctx, `
        UPDATE dunning_queue
        SET estado = 'fallido', error = $2, claimed_at = NULL
        WHERE id = $1 AND estado = 'procesando'
    `, entryID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(errLostClaim, "job %s", entryID)
	}
	return nil
}

func (db *DB) Release(ctx context.Context, entryID string) error {
	_, err := db.Pool.Exec(ctx, `
        UPDATE dunning_queue SET estado = 'pendiente', claimed_at = NULL
        WHERE id = $1 AND estado = 'procesando'
    `, entryID)
	return err
}

func (db *DB) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
        UPDATE dunning_queue SET estado = 'pendiente', claimed_at = NULL
        WHERE estado = 'procesando' AND claimed_at < $1
    `, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var _ ports.JobRepository = (*DB)(nil)
