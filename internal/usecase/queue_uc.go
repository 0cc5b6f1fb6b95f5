package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/domain/ports/repository"
	"apply-coordinator/internal/infra/logging"
	"apply-coordinator/internal/infra/metrics"
)

const (
	minStaleAge     = 10 * time.Second
	defaultStaleAge = 5 * time.Minute
	defaultEnqueueN = 10
	maxEnqueueN     = 100
)

// QueueUseCase is the Queue Manager: FIFO dispatch of per-user form-fill
// items with stale-running recovery built into every lease attempt.
type QueueUseCase struct {
	items      repository.QueueItemRepository
	jobs       repository.JobRepository
	tm         repository.TransactionManager
	staleAfter time.Duration
	clock      Clock
	log        *zerolog.Logger
}

func NewQueueUseCase(
	items repository.QueueItemRepository,
	jobs repository.JobRepository,
	tm repository.TransactionManager,
	staleAfter time.Duration,
	clock Clock,
	logger *zerolog.Logger,
) *QueueUseCase {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAge
	}
	ucLog := logger.With().Str("component", "QueueUC").Logger()
	return &QueueUseCase{
		items:      items,
		jobs:       jobs,
		tm:         tm,
		staleAfter: staleAfter,
		clock:      clock,
		log:        &ucLog,
	}
}

// LeaseNext recovers stale running items and claims the oldest pending
// one. A nil item with a nil error means the pending set is empty.
func (uc *QueueUseCase) LeaseNext(ctx context.Context) (*model.QueueItem, error) {
	defer logging.TraceDuration(uc.log, "QueueUC.LeaseNext")()
	item, err := uc.items.LeaseNext(ctx, uc.staleAfter, uc.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNoWork) {
			metrics.IncQueueLeaseEmpty()
			return nil, nil
		}
		return nil, err
	}

	metrics.IncQueueLease()
	uc.log.Debug().Str("item_id", item.ID).Str("user_id", item.UserID).Msg("queue item leased")
	return item, nil
}

func (uc *QueueUseCase) Complete(ctx context.Context, id string, filledData json.RawMessage, logs *model.FillLogs) error {
	if id == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.items.Complete(ctx, id, filledData, logs, uc.clock.Now()); err != nil {
		return err
	}
	metrics.IncQueueResult("completed")
	uc.log.Info().Str("item_id", id).Msg("queue item completed")
	return nil
}

func (uc *QueueUseCase) Fail(ctx context.Context, id, errMsg string) error {
	if id == "" || errMsg == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.items.Fail(ctx, id, errMsg, uc.clock.Now()); err != nil {
		return err
	}
	metrics.IncQueueResult("error")
	uc.log.Warn().Str("item_id", id).Str("error", errMsg).Msg("queue item failed")
	return nil
}

func (uc *QueueUseCase) Retry(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.items.Retry(ctx, id, uc.clock.Now()); err != nil {
		return err
	}
	metrics.IncQueueResult("retried")
	uc.log.Info().Str("item_id", id).Msg("queue item re-queued")
	return nil
}

// ResetStale is the operator-facing bulk recovery. maxAge <= 0 selects
// the deployment default; anything below the floor is clamped to it so a
// typo cannot sweep items that are actively being worked.
func (uc *QueueUseCase) ResetStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = uc.staleAfter
	}
	if maxAge < minStaleAge {
		maxAge = minStaleAge
	}
	n, err := uc.items.ResetStale(ctx, maxAge, uc.clock.Now())
	if err != nil {
		return 0, err
	}
	metrics.AddQueueStaleResets("manual", n)
	if n > 0 {
		uc.log.Info().Int("count", n).Dur("max_age", maxAge).Msg("stale running items reset")
	}
	return n, nil
}

// EnqueueForUser inserts pending items for up to `limit` candidate jobs.
// The insert skips user/job pairs that already exist, so a concurrent
// enqueue for the same user loses quietly instead of aborting the batch
// on the uniqueness constraint.
func (uc *QueueUseCase) EnqueueForUser(ctx context.Context, userID string, limit int, onlyUnqueued bool) (int, error) {
	defer logging.TraceDuration(uc.log, "QueueUC.EnqueueForUser")()
	if userID == "" {
		return 0, domain.ErrInvalidArgument
	}
	if limit <= 0 {
		limit = defaultEnqueueN
	}
	if limit > maxEnqueueN {
		limit = maxEnqueueN
	}

	now := uc.clock.Now()
	inserted := 0
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		candidates, err := uc.jobs.ListCandidatesForUser(ctx, tx, userID, limit, onlyUnqueued)
		if err != nil {
			return err
		}
		for _, job := range candidates {
			item := model.NewQueueItem("", userID, job.ID, job.URL, now)
			ok, err := uc.items.Enqueue(ctx, tx, item)
			if err != nil {
				return err
			}
			if !ok {
				// Pair already queued: unfiltered candidate scan, or a
				// concurrent enqueue got there first.
				continue
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.AddQueueEnqueued(inserted)
	uc.log.Info().Str("user_id", userID).Int("inserted", inserted).Msg("queue items enqueued")
	return inserted, nil
}

// History returns the user's queue items, newest first.
func (uc *QueueUseCase) History(ctx context.Context, userID string, limit int) ([]*model.QueueItem, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 50
	}
	return uc.items.ListByUser(ctx, nil, userID, limit)
}

func (uc *QueueUseCase) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	return uc.items.FindByID(ctx, nil, id)
}
