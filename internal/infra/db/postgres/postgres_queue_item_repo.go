package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/domain/ports/repository"
)

var _ repository.QueueItemRepository = (*queueItemRepo)(nil)

type queueItemRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewQueueItemRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *queueItemRepo {
	return &queueItemRepo{pool: pool, tm: tm}
}

const queueItemColumns = `
id, user_id, job_id, job_url, status, queued_at, started_at, completed_at,
filled_data, logs, error, created_at, updated_at`

func scanQueueItem(row pgx.Row) (*model.QueueItem, error) {
	var item model.QueueItem
	var statusStr string
	var startedAt, completedAt sql.NullTime
	var filledData, logs []byte
	err := row.Scan(
		&item.ID, &item.UserID, &item.JobID, &item.JobURL, &statusStr,
		&item.QueuedAt, &startedAt, &completedAt, &filledData, &logs,
		&item.Error, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	item.Status = model.QueueItemStatus(statusStr)
	item.StartedAt = startedAt.Time
	item.CompletedAt = completedAt.Time
	if len(filledData) > 0 {
		item.FilledData = json.RawMessage(filledData)
	}
	if len(logs) > 0 {
		var fl model.FillLogs
		if err := json.Unmarshal(logs, &fl); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		item.Logs = &fl
	}
	return &item, nil
}

func marshalLogs(logs *model.FillLogs) (interface{}, error) {
	if logs == nil {
		return nil, nil
	}
	b, err := json.Marshal(logs)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *queueItemRepo) Save(ctx context.Context, tx repository.Tx, item *model.QueueItem) error {
	if item.ID == "" {
		item.ID = ulid.Make().String()
	}
	item.UpdatedAt = time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = item.UpdatedAt
	}

	logs, err := marshalLogs(item.Logs)
	if err != nil {
		return err
	}
	var filled interface{}
	if len(item.FilledData) > 0 {
		filled = []byte(item.FilledData)
	}

	const q = `
INSERT INTO queue_items (id, user_id, job_id, job_url, status, queued_at, started_at,
                         completed_at, filled_data, logs, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  queued_at = EXCLUDED.queued_at,
  started_at = EXCLUDED.started_at,
  completed_at = EXCLUDED.completed_at,
  filled_data = EXCLUDED.filled_data,
  logs = EXCLUDED.logs,
  error = EXCLUDED.error,
  updated_at = EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		item.ID, item.UserID, item.JobID, item.JobURL, string(item.Status),
		item.QueuedAt, nullTime(item.StartedAt), nullTime(item.CompletedAt),
		filled, logs, item.Error, item.CreatedAt, item.UpdatedAt)
	return err
}

// Enqueue inserts a fresh pending item. The conflict target is the
// user/job uniqueness, so losing a race against a concurrent enqueue for
// the same pair is a clean skip instead of an aborted transaction.
func (r *queueItemRepo) Enqueue(ctx context.Context, tx repository.Tx, item *model.QueueItem) (bool, error) {
	if item.ID == "" {
		item.ID = ulid.Make().String()
	}
	item.UpdatedAt = time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = item.UpdatedAt
	}

	const q = `
INSERT INTO queue_items (id, user_id, job_id, job_url, status, queued_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, job_id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		item.ID, item.UserID, item.JobID, item.JobURL, string(item.Status),
		item.QueuedAt, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *queueItemRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.QueueItem, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+queueItemColumns+` FROM queue_items WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanQueueItem(row)
}

const resetStaleQuery = `
UPDATE queue_items
SET status = 'pending', started_at = NULL, updated_at = $1
WHERE status = 'running' AND started_at IS NOT NULL AND started_at < $2;`

// LeaseNext performs stale recovery and the FIFO claim as one transaction,
// recovery first so an item abandoned longer than the window is immediately
// claimable by this very call.
func (r *queueItemRepo) LeaseNext(ctx context.Context, staleAfter time.Duration, now time.Time) (*model.QueueItem, error) {
	var item *model.QueueItem

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cutoff := now.Add(-staleAfter)
		if _, err := execSQL(ctx, r.pool, tx, resetStaleQuery, now, cutoff); err != nil {
			return err
		}

		const fetchQuery = `
SELECT ` + queueItemColumns + `
FROM queue_items
WHERE status = 'pending'
ORDER BY queued_at ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, fetchQuery)
		if err != nil {
			return err
		}
		candidate, err := scanQueueItem(row)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrNoWork
			}
			return err
		}

		const claimQuery = `
UPDATE queue_items SET status = 'running', started_at = $2, updated_at = $2 WHERE id = $1;`
		if _, err := execSQL(ctx, r.pool, tx, claimQuery, candidate.ID, now); err != nil {
			return err
		}

		candidate.Status = model.QueueItemStatusRunning
		candidate.StartedAt = now
		candidate.UpdatedAt = now
		item = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// lockNonTerminal row-locks the item and rejects the transition when it
// is already completed. Completed is terminal: a late outcome report from
// a worker whose lease went stale must not rewrite it.
func (r *queueItemRepo) lockNonTerminal(ctx context.Context, tx repository.Tx, id string) error {
	row, err := pickRow(ctx, r.pool, tx, `SELECT status FROM queue_items WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return err
	}
	var statusStr string
	if err := row.Scan(&statusStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return domain.ErrReadDatabaseRow
	}
	if model.QueueItemStatus(statusStr) == model.QueueItemStatusCompleted {
		return domain.ErrInvalidArgument
	}
	return nil
}

func (r *queueItemRepo) Complete(ctx context.Context, id string, filledData json.RawMessage, logs *model.FillLogs, now time.Time) error {
	logsVal, err := marshalLogs(logs)
	if err != nil {
		return err
	}
	var filled interface{}
	if len(filledData) > 0 {
		filled = []byte(filledData)
	}

	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := r.lockNonTerminal(ctx, tx, id); err != nil {
			return err
		}
		const q = `
UPDATE queue_items
SET status = 'completed', completed_at = $2, filled_data = $3, logs = $4, error = '', updated_at = $2
WHERE id = $1;`
		_, err := execSQL(ctx, r.pool, tx, q, id, now, filled, logsVal)
		return err
	})
}

func (r *queueItemRepo) Fail(ctx context.Context, id, errMsg string, now time.Time) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := r.lockNonTerminal(ctx, tx, id); err != nil {
			return err
		}
		const q = `
UPDATE queue_items
SET status = 'error', completed_at = $2, error = $3, updated_at = $2
WHERE id = $1;`
		_, err := execSQL(ctx, r.pool, tx, q, id, now, errMsg)
		return err
	})
}

// Retry re-enters the item at the back of the FIFO. Completed items are
// terminal and stay untouched.
func (r *queueItemRepo) Retry(ctx context.Context, id string, now time.Time) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := r.lockNonTerminal(ctx, tx, id); err != nil {
			return err
		}

		const q = `
UPDATE queue_items
SET status = 'pending', error = '', started_at = NULL, completed_at = NULL,
    queued_at = $2, updated_at = $2
WHERE id = $1;`
		_, err := execSQL(ctx, r.pool, tx, q, id, now)
		return err
	})
}

func (r *queueItemRepo) ResetStale(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	tag, err := execSQL(ctx, r.pool, nil, resetStaleQuery, now, now.Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *queueItemRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.QueueItem, error) {
	const q = `
SELECT ` + queueItemColumns + `
FROM queue_items
WHERE user_id = $1
ORDER BY queued_at DESC, id DESC
LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *queueItemRepo) UserHasItemForJob(ctx context.Context, tx repository.Tx, userID, jobID string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx,
		`SELECT EXISTS (SELECT 1 FROM queue_items WHERE user_id = $1 AND job_id = $2)`, userID, jobID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *queueItemRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.QueueItemStatus]int, error) {
	rows, err := pickRows(ctx, r.pool, tx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.QueueItemStatus]int)
	for rows.Next() {
		var statusStr string
		var n int
		if err := rows.Scan(&statusStr, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.QueueItemStatus(statusStr)] = n
	}
	return counts, rows.Err()
}
