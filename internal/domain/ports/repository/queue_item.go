package repository

import (
	"context"
	"encoding/json"
	"time"

	"apply-coordinator/internal/domain/model"
)

// QueueItemRepository persists form-fill queue items and implements the
// queue half of the coordination core.
type QueueItemRepository interface {
	Save(ctx context.Context, tx Tx, item *model.QueueItem) error

	// Enqueue inserts a fresh pending item, reporting false when the
	// user already has an item for the job (including one inserted by a
	// concurrent enqueue).
	Enqueue(ctx context.Context, tx Tx, item *model.QueueItem) (bool, error)

	FindByID(ctx context.Context, tx Tx, id string) (*model.QueueItem, error)

	// LeaseNext runs stale recovery and the FIFO claim as one transaction:
	// running items started before now-staleAfter go back to pending, then
	// the oldest pending item (queued_at, then id) becomes running with
	// started_at=now. Returns domain.ErrNoWork when the pending set is empty.
	LeaseNext(ctx context.Context, staleAfter time.Duration, now time.Time) (*model.QueueItem, error)

	// Complete stores the fill result and marks the item completed.
	// Completed is terminal: a repeat report returns domain.ErrInvalidArgument.
	Complete(ctx context.Context, id string, filledData json.RawMessage, logs *model.FillLogs, now time.Time) error

	// Fail marks the item error with the given message; sticky until Retry.
	// Rejected with domain.ErrInvalidArgument when the item already completed.
	Fail(ctx context.Context, id, errMsg string, now time.Time) error

	// Retry resets an item to pending at the back of the FIFO
	// (queued_at=now), clearing error and started_at.
	Retry(ctx context.Context, id string, now time.Time) error

	// ResetStale is the operator-invokable form of LeaseNext's first phase.
	// Returns the number of items recovered.
	ResetStale(ctx context.Context, olderThan time.Duration, now time.Time) (int, error)

	// ListByUser returns the user's items, newest queued first.
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.QueueItem, error)

	// UserHasItemForJob reports whether any queue item (in any status)
	// exists for the user/job pair.
	UserHasItemForJob(ctx context.Context, tx Tx, userID, jobID string) (bool, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.QueueItemStatus]int, error)
}
