package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"apply-coordinator/internal/infra/metrics"
)

// LockSweeper is the slice of the lease manager the reaper needs.
type LockSweeper interface {
	ReapExpiredLocks(ctx context.Context) (int, error)
}

// Reaper periodically clears expired site locks so idle sites become
// leasable again even when no worker is polling that exact record.
type Reaper struct {
	interval time.Duration
	sweeper  LockSweeper
	log      *zerolog.Logger
}

func NewReaper(interval time.Duration, sweeper LockSweeper, logger *zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	reaperLog := logger.With().Str("component", "Reaper").Logger()
	return &Reaper{interval: interval, sweeper: sweeper, log: &reaperLog}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Msg("starting lock reaper")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("stopping lock reaper")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass. Exposed for operators and tests.
func (r *Reaper) Sweep(ctx context.Context) {
	n, err := r.sweeper.ReapExpiredLocks(ctx)
	if err != nil {
		metrics.IncReaperSweep("error")
		r.log.Error().Err(err).Msg("reaper sweep failed")
		return
	}
	metrics.IncReaperSweep("ok")
	metrics.AddReaperLocksCleared(n)
	if n > 0 {
		r.log.Info().Int("count", n).Msg("expired site locks cleared")
	}
}
