package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	httpadapter "cobranzas/internal/adapters/http"
	"cobranzas/internal/app"
	"cobranzas/internal/config"
	"cobranzas/internal/workers/dispatchrunner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()
	if err := a.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	srv := httpadapter.New(a.Scoring, a.Dunning, a.Dispatch, cfg.CORSOrigins)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	// Optional background dispatch workers
	var workers interface{ Wait() }
	if cfg.DispatchWorkers > 0 {
		workers = dispatchrunner.Run(ctx, a.Store, a.Dispatch, a.Dunning, dispatchrunner.Options{
			Workers:    cfg.DispatchWorkers,
			Interval:   cfg.DispatchInterval,
			Batch:      cfg.DispatchBatch,
			PlaybookID: cfg.DunningPlaybookID,
		}, nil)
		log.Printf("dispatch workers started: %d every %s", cfg.DispatchWorkers, cfg.DispatchInterval)
	}

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Printf("listening on %s (env=%s store=%s)", cfg.ListenAddr, cfg.Env, cfg.Store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("shutting down on %s", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	cancel()
	if workers != nil {
		workers.Wait()
	}
}
