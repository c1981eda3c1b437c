package ports

import (
	"context"
	"time"

	"cobranzas/internal/domain"
)

// ClaimedJob is a queue entry claimed for dispatch plus what is needed to
// render and route it.
type ClaimedJob struct {
	Entry    domain.QueueEntry
	Invoice  domain.Invoice
	Client   domain.Client
	Playbook *domain.Playbook
}

// JobRepository supports claiming and finishing dunning jobs.
type JobRepository interface {
	// ClaimDue atomically moves up to limit due pendiente entries to
	// procesando, highest prioridad first, ties by earliest fecha_programada.
	// Entries of the playbooks listed in skip are left pendiente.
	ClaimDue(ctx context.Context, limit int, now time.Time, skip []string) ([]ClaimedJob, error)
	// MarkSent appends the interaction and moves the entry to enviado in one
	// transaction.
	MarkSent(ctx context.Context, entryID string, interaction domain.Interaction, sentAt time.Time) error
	MarkFailed(ctx context.Context, entryID string, reason string) error
	// Release returns a claimed entry to pendiente without side effects.
	Release(ctx context.Context, entryID string) error
	// ReleaseStale returns entries claimed before cutoff to pendiente.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)
}
