package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/storage"
)

// Runner sweeps entities due for consolidation on an interval. It is the
// out-of-band invoker from the data-flow: request handlers never wait on it.
// Consolidation calls are rate-limited so a large backlog cannot saturate
// the summarization collaborator.
type Runner struct {
	store        storage.FactStore
	consolidator *Consolidator
	cfg          config.ConsolidationConfig
	limiter      *rate.Limiter
}

// NewRunner creates a consolidation runner.
func NewRunner(store storage.FactStore, consolidator *Consolidator, cfg config.ConsolidationConfig) *Runner {
	return &Runner{
		store:        store,
		consolidator: consolidator,
		cfg:          cfg,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RunnerRatePerSec), cfg.RunnerBurst),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
// Always returns the context's error.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.RunnerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx, time.Now().UTC()); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				log.Printf("runner: sweep failed: %v", err)
			}
		}
	}
}

// Sweep runs one consolidation pass over every entity whose eligible record
// count meets the threshold, and returns how many summaries were produced.
// Per-entity failures are logged and skipped; a failed entity stays eligible
// for the next sweep. Context cancellation stops the sweep immediately.
func (r *Runner) Sweep(ctx context.Context, now time.Time) (int, error) {
	entityIDs, err := r.store.ListConsolidationDue(ctx, r.cfg.MinRecords)
	if err != nil {
		return 0, err
	}

	produced := 0
	for _, entityID := range entityIDs {
		if err := r.limiter.Wait(ctx); err != nil {
			return produced, err
		}

		summary, err := r.consolidator.Consolidate(ctx, entityID, now)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return produced, err
		case errors.Is(err, ErrConsolidationAborted), errors.Is(err, storage.ErrConcurrencyConflict):
			log.Printf("runner: consolidation skipped for %s: %v", entityID, err)
			continue
		case err != nil:
			return produced, err
		case summary != nil:
			produced++
		}
	}
	return produced, nil
}
