package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/domain/ports/repository"
)

var _ repository.SiteRepository = (*siteRepo)(nil)

type siteRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewSiteRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *siteRepo {
	return &siteRepo{pool: pool, tm: tm}
}

const siteColumns = `
id, name, url, pattern, enabled, locked_by, lock_expires_at,
completed, failed, fail_count, last_error, last_failure_at, last_run_at,
created_at, updated_at`

func scanSite(row pgx.Row) (*model.Site, error) {
	var s model.Site
	var lockExpires, lastFailure, lastRun sql.NullTime
	err := row.Scan(
		&s.ID, &s.Name, &s.URL, &s.Pattern, &s.Enabled, &s.LockedBy, &lockExpires,
		&s.Completed, &s.Failed, &s.FailCount, &s.LastError, &lastFailure, &lastRun,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.LockExpiresAt = lockExpires.Time
	s.LastFailureAt = lastFailure.Time
	s.LastRunAt = lastRun.Time
	return &s, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func (r *siteRepo) Save(ctx context.Context, tx repository.Tx, site *model.Site) error {
	if site.ID == "" {
		site.ID = uuid.NewString()
	}
	site.UpdatedAt = time.Now()
	if site.CreatedAt.IsZero() {
		site.CreatedAt = site.UpdatedAt
	}

	const q = `
INSERT INTO sites (id, name, url, pattern, enabled, locked_by, lock_expires_at,
                   completed, failed, fail_count, last_error, last_failure_at, last_run_at,
                   created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  url = EXCLUDED.url,
  pattern = EXCLUDED.pattern,
  enabled = EXCLUDED.enabled,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		site.ID, site.Name, site.URL, site.Pattern, site.Enabled,
		site.LockedBy, nullTime(site.LockExpiresAt),
		site.Completed, site.Failed, site.FailCount, site.LastError,
		nullTime(site.LastFailureAt), nullTime(site.LastRunAt),
		site.CreatedAt, site.UpdatedAt)
	return err
}

func (r *siteRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Site, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanSite(row)
}

// Lease atomically claims the eligible site with the oldest last_run_at.
// Selection and lock write happen in one transaction; SKIP LOCKED keeps
// concurrent lease calls from blocking on each other's candidate row.
func (r *siteRepo) Lease(ctx context.Context, workerID string, ttl time.Duration, now time.Time) (*model.Site, error) {
	var site *model.Site

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQuery = `
SELECT ` + siteColumns + `
FROM sites
WHERE enabled AND NOT completed AND NOT failed
  AND (locked_by = '' OR lock_expires_at IS NULL OR lock_expires_at <= $1)
ORDER BY last_run_at ASC NULLS FIRST, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, fetchQuery, now)
		if err != nil {
			return err
		}
		candidate, err := scanSite(row)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrNoWork
			}
			return err
		}

		candidate.LockedBy = workerID
		candidate.LockExpiresAt = now.Add(ttl)
		candidate.UpdatedAt = now

		const claimQuery = `
UPDATE sites SET locked_by = $2, lock_expires_at = $3, updated_at = $4 WHERE id = $1;`
		if _, err := execSQL(ctx, r.pool, tx, claimQuery,
			candidate.ID, candidate.LockedBy, candidate.LockExpiresAt, candidate.UpdatedAt); err != nil {
			return err
		}

		site = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return site, nil
}

// lockForUpdate fetches the site row under FOR UPDATE and enforces the
// optional ownership check: a caller presenting a workerID may not mutate
// a record currently held by someone else.
func (r *siteRepo) lockForUpdate(ctx context.Context, tx repository.Tx, id, workerID string, now time.Time) (*model.Site, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+siteColumns+` FROM sites WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	site, err := scanSite(row)
	if err != nil {
		return nil, err
	}
	if workerID != "" && site.HasValidLease(now) && site.LockedBy != workerID {
		return nil, domain.ErrLeaseMismatch
	}
	return site, nil
}

func (r *siteRepo) Complete(ctx context.Context, id, workerID string, now time.Time) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := r.lockForUpdate(ctx, tx, id, workerID, now); err != nil {
			return err
		}
		const q = `
UPDATE sites
SET completed = TRUE, locked_by = '', lock_expires_at = NULL, last_run_at = $2, updated_at = $2
WHERE id = $1;`
		_, err := execSQL(ctx, r.pool, tx, q, id, now)
		return err
	})
}

func (r *siteRepo) Release(ctx context.Context, id, workerID string, now time.Time) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := r.lockForUpdate(ctx, tx, id, workerID, now); err != nil {
			return err
		}
		const q = `
UPDATE sites SET locked_by = '', lock_expires_at = NULL, updated_at = $2 WHERE id = $1;`
		_, err := execSQL(ctx, r.pool, tx, q, id, now)
		return err
	})
}

func (r *siteRepo) Fail(ctx context.Context, id, workerID, errMsg string, now time.Time) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := r.lockForUpdate(ctx, tx, id, workerID, now); err != nil {
			return err
		}
		const q = `
UPDATE sites
SET failed = TRUE, fail_count = fail_count + 1, last_error = $2, last_failure_at = $3,
    locked_by = '', lock_expires_at = NULL, updated_at = $3
WHERE id = $1;`
		_, err := execSQL(ctx, r.pool, tx, q, id, errMsg, now)
		return err
	})
}

func (r *siteRepo) Retry(ctx context.Context, id string, clearError bool, now time.Time) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// No ownership check: retry is an admin action on a terminal record.
		if _, err := r.lockForUpdate(ctx, tx, id, "", now); err != nil {
			return err
		}
		const q = `
UPDATE sites
SET completed = FALSE, failed = FALSE, locked_by = '', lock_expires_at = NULL,
    last_run_at = NULL, updated_at = $2
WHERE id = $1;`
		if _, err := execSQL(ctx, r.pool, tx, q, id, now); err != nil {
			return err
		}
		if clearError {
			const clearQ = `
UPDATE sites SET last_error = '', last_failure_at = NULL WHERE id = $1;`
			if _, err := execSQL(ctx, r.pool, tx, clearQ, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *siteRepo) ClearExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	const q = `
UPDATE sites
SET locked_by = '', lock_expires_at = NULL, updated_at = $1
WHERE locked_by <> '' AND lock_expires_at IS NOT NULL AND lock_expires_at <= $1;`
	tag, err := execSQL(ctx, r.pool, nil, q, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *siteRepo) listWhere(ctx context.Context, tx repository.Tx, where string) ([]*model.Site, error) {
	rows, err := pickRows(ctx, r.pool, tx, `SELECT `+siteColumns+` FROM sites `+where)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []*model.Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

func (r *siteRepo) ListCompleted(ctx context.Context, tx repository.Tx) ([]*model.Site, error) {
	return r.listWhere(ctx, tx, `WHERE completed ORDER BY last_run_at DESC NULLS LAST`)
}

func (r *siteRepo) ListFailed(ctx context.Context, tx repository.Tx) ([]*model.Site, error) {
	return r.listWhere(ctx, tx, `WHERE failed ORDER BY last_failure_at DESC NULLS LAST`)
}

func (r *siteRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Site, error) {
	return r.listWhere(ctx, tx, `ORDER BY created_at ASC, id ASC`)
}
