package repository

import (
	"context"
	"time"

	"apply-coordinator/internal/domain/model"
)

// SiteRepository persists scrape targets and implements the site half of
// the coordination core. Lease, the terminal transitions and
// ClearExpiredLocks each execute as a single atomic unit against the
// store; `now` is passed in explicitly so callers own the clock.
type SiteRepository interface {
	Save(ctx context.Context, tx Tx, site *model.Site) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Site, error)

	// Lease atomically claims the eligible site with the oldest LastRunAt
	// (never-run sites first, then id) for workerID until now+ttl.
	// Returns domain.ErrNoWork when no site is eligible.
	Lease(ctx context.Context, workerID string, ttl time.Duration, now time.Time) (*model.Site, error)

	// Complete marks the site done and clears the lock. Idempotent.
	// When workerID is non-empty and another worker holds a valid lease,
	// domain.ErrLeaseMismatch is returned.
	Complete(ctx context.Context, id, workerID string, now time.Time) error

	// Release clears the lock fields only.
	Release(ctx context.Context, id, workerID string, now time.Time) error

	// Fail records a sticky failure: failed=true, fail_count+1, error text.
	Fail(ctx context.Context, id, workerID, errMsg string, now time.Time) error

	// Retry re-arms a completed or failed site. FailCount is preserved.
	Retry(ctx context.Context, id string, clearError bool, now time.Time) error

	// ClearExpiredLocks clears every lock with lock_expires_at <= now and
	// returns how many were cleared. Reaper entry point.
	ClearExpiredLocks(ctx context.Context, now time.Time) (int, error)

	ListCompleted(ctx context.Context, tx Tx) ([]*model.Site, error)
	ListFailed(ctx context.Context, tx Tx) ([]*model.Site, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Site, error)
}
