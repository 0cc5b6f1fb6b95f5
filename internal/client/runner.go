package client

import (
	"context"
	"encoding/json"
	"time"

	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/infra/worker"

	"github.com/rs/zerolog"
)

// ItemHandler processes one leased queue item and returns the filled form
// payload plus any diagnostic artifacts.
type ItemHandler func(ctx context.Context, item *QueueItem) (json.RawMessage, *model.FillLogs, error)

// Runner polls the coordinator for pending queue items and fans them out
// to a worker pool. Outcomes are reported back through the client; a task
// that never reports is recovered by the coordinator's staleness sweep.
type Runner struct {
	client  *Client
	pool    *worker.Pool
	handler ItemHandler

	pollInterval time.Duration
	emptyBackoff time.Duration
	log          *zerolog.Logger
}

func NewRunner(c *Client, pool *worker.Pool, handler ItemHandler, pollInterval, emptyBackoff time.Duration, logger *zerolog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if emptyBackoff <= 0 {
		emptyBackoff = 10 * time.Second
	}
	return &Runner{
		client:       c,
		pool:         pool,
		handler:      handler,
		pollInterval: pollInterval,
		emptyBackoff: emptyBackoff,
		log:          logger,
	}
}

// Run leases and dispatches until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.pool.Start(ctx)
	defer r.pool.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := r.client.LeaseNextItem(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("lease failed, backing off")
			if !r.sleep(ctx, r.emptyBackoff) {
				return ctx.Err()
			}
			continue
		}
		if item == nil {
			if !r.sleep(ctx, r.emptyBackoff) {
				return ctx.Err()
			}
			continue
		}

		if err := r.dispatch(item); err != nil {
			// Pool saturated. Leave the item running; the staleness
			// sweep returns it to pending if nobody picks it up.
			r.log.Warn().Err(err).Str("item_id", item.ID).Msg("dispatch failed")
			if !r.sleep(ctx, r.pollInterval) {
				return ctx.Err()
			}
			continue
		}

		if !r.sleep(ctx, r.pollInterval) {
			return ctx.Err()
		}
	}
}

func (r *Runner) dispatch(item *QueueItem) error {
	return r.pool.Submit(func(ctx context.Context) error {
		filled, logs, err := r.handler(ctx, item)
		if err != nil {
			r.log.Error().Err(err).Str("item_id", item.ID).Msg("item processing failed")
			if failErr := r.client.FailItem(ctx, item.ID, err.Error()); failErr != nil {
				return failErr
			}
			return nil
		}
		return r.client.CompleteItem(ctx, item.ID, filled, logs)
	})
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
