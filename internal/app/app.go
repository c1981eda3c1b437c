// Package app wires adapters and services from a Config. Both binaries use it.
package app

import (
	"context"
	"log"

	"github.com/rotisserie/eris"

	"cobranzas/internal/adapters/memory"
	pg "cobranzas/internal/adapters/postgres"
	"cobranzas/internal/adapters/ratelimit"
	"cobranzas/internal/adapters/sender"
	"cobranzas/internal/config"
	"cobranzas/internal/ports"
	"cobranzas/internal/services/dispatch"
	"cobranzas/internal/services/dunning"
	scoresvc "cobranzas/internal/services/scoring"
	"cobranzas/internal/templates"
)

// Store is everything the services need from persistence.
type Store interface {
	ports.ScoreRepository
	ports.PlaybookRepository
	ports.QueueRepository
	ports.JobRepository
	ports.EventRepository
}

type App struct {
	Store    Store
	Scoring  *scoresvc.Service
	Dunning  *dunning.Scheduler
	Dispatch *dispatch.Dispatcher

	db      *pg.DB
	closers []func()
}

// New connects to the configured backends. Call Close when done.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	tpl, err := templates.Load(cfg.TemplatesFile)
	if err != nil {
		return nil, err
	}

	a := &App{}
	switch cfg.Store {
	case config.StoreMemory:
		log.Printf("warning: using in-memory store, data is lost on exit")
		a.Store = memory.New()
	default:
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "db connect")
		}
		a.db = db
		a.Store = db
		a.closers = append(a.closers, db.Close)
	}

	var snd ports.Sender = sender.LogSender{}
	if cfg.WebhookURL != "" {
		snd = sender.NewWebhook(cfg.WebhookURL, cfg.SendTimeout)
	}

	var limiter ports.RateLimiter = ratelimit.NewMemory()
	if cfg.RedisAddr != "" {
		rl := ratelimit.NewRedis(cfg.RedisAddr)
		if err := rl.Ping(ctx); err != nil {
			a.Close()
			_ = rl.Close()
			return nil, eris.Wrapf(err, "redis %s", cfg.RedisAddr)
		}
		limiter = rl
		a.closers = append(a.closers, func() { _ = rl.Close() })
	}

	a.Scoring = scoresvc.New(a.Store, loc, nil)
	a.Dunning = dunning.New(a.Store, a.Store, a.Store, loc, nil)
	a.Dispatch = dispatch.New(a.Store, snd, limiter, tpl, dispatch.Options{
		SendTimeout:     cfg.SendTimeout,
		PaymentLinkBase: cfg.PaymentLinkBase,
		Location:        loc,
	}, nil)
	return a, nil
}

// Migrate applies schema migrations. The memory store has none.
func (a *App) Migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Migrate(ctx)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
