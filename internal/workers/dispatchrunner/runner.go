package dispatchrunner

import (
	"context"
	"log"
	"sync"
	"time"

	"cobranzas/internal/ports"
	"cobranzas/internal/services/dispatch"
	"cobranzas/internal/services/dunning"
)

// StaleAfter is how long a job may stay procesando before it is handed back.
const StaleAfter = 10 * time.Minute

type Dispatcher interface {
	Run(ctx context.Context, req dispatch.Request) (dispatch.Summary, error)
}

type Scheduler interface {
	Run(ctx context.Context, req dunning.Request) (dunning.Summary, error)
}

type Options struct {
	Workers    int
	Interval   time.Duration
	Batch      int
	PlaybookID string // when set, dunning-run is scheduled on every tick
}

// Run starts the tick loop and worker goroutines. It returns immediately; the
// returned WaitGroup is done once ctx is cancelled and every worker exited.
func Run(ctx context.Context, jobs ports.JobRepository, d Dispatcher, sched Scheduler, opts Options, now ports.Clock) *sync.WaitGroup {
	var wg sync.WaitGroup
	if opts.Workers < 1 {
		return &wg
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	ticks := make(chan struct{}, opts.Workers)

	// tick loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(ticks)
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				housekeeping(ctx, jobs, sched, opts.PlaybookID, now())
				for i := 0; i < opts.Workers; i++ {
					select {
					case ticks <- struct{}{}:
					default:
						// workers still busy with the previous tick
					}
				}
			}
		}
	}()

	// workers
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for range ticks {
				sum, err := d.Run(ctx, dispatch.Request{Limit: opts.Batch})
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("dispatch worker %d: %v", idx, err)
					}
					continue
				}
				if sum.TrabajosProcesados > 0 {
					log.Printf("dispatch worker %d: enviados=%d fallidos=%d diferidos=%d",
						idx, sum.MensajesEnviados, sum.Fallidos, sum.Diferidos)
				}
			}
		}(i)
	}
	return &wg
}

func housekeeping(ctx context.Context, jobs ports.JobRepository, sched Scheduler, playbookID string, now time.Time) {
	n, err := jobs.ReleaseStale(ctx, now.Add(-StaleAfter))
	if err != nil {
		log.Printf("dispatch runner: release stale claims: %v", err)
	} else if n > 0 {
		log.Printf("dispatch runner: released %d stale claims", n)
	}
	if playbookID == "" || sched == nil {
		return
	}
	if _, err := sched.Run(ctx, dunning.Request{PlaybookID: playbookID}); err != nil {
		log.Printf("dispatch runner: dunning-run %s: %v", playbookID, err)
	}
}
