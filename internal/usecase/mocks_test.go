package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/domain/ports/repository"
)

// fakeClock is a manually advanced clock shared by a test's usecases.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memTxManager runs the callback directly; the mem repos are themselves
// serialized by their mutexes.
type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// --- in-memory SiteRepository ---

type memSiteRepo struct {
	mu    sync.Mutex
	seq   int
	sites map[string]*model.Site
}

var _ repository.SiteRepository = (*memSiteRepo)(nil)

func newMemSiteRepo() *memSiteRepo {
	return &memSiteRepo{sites: make(map[string]*model.Site)}
}

func (r *memSiteRepo) Save(_ context.Context, _ repository.Tx, site *model.Site) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if site.ID == "" {
		r.seq++
		site.ID = fmt.Sprintf("site-%03d", r.seq)
	}
	cp := *site
	r.sites[site.ID] = &cp
	return nil
}

func (r *memSiteRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sites[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSiteRepo) Lease(_ context.Context, workerID string, ttl time.Duration, now time.Time) (*model.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var eligible []*model.Site
	for _, s := range r.sites {
		if s.Leasable(now) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil, domain.ErrNoWork
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.LastRunAt.IsZero() != b.LastRunAt.IsZero() {
			return a.LastRunAt.IsZero()
		}
		if !a.LastRunAt.Equal(b.LastRunAt) {
			return a.LastRunAt.Before(b.LastRunAt)
		}
		return a.ID < b.ID
	})

	s := eligible[0]
	s.LockedBy = workerID
	s.LockExpiresAt = now.Add(ttl)
	cp := *s
	return &cp, nil
}

func (r *memSiteRepo) checkOwner(s *model.Site, workerID string, now time.Time) error {
	if workerID != "" && s.HasValidLease(now) && s.LockedBy != workerID {
		return domain.ErrLeaseMismatch
	}
	return nil
}

func (r *memSiteRepo) Complete(_ context.Context, id, workerID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sites[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := r.checkOwner(s, workerID, now); err != nil {
		return err
	}
	s.Completed = true
	s.LockedBy = ""
	s.LockExpiresAt = time.Time{}
	s.LastRunAt = now
	return nil
}

func (r *memSiteRepo) Release(_ context.Context, id, workerID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sites[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := r.checkOwner(s, workerID, now); err != nil {
		return err
	}
	s.LockedBy = ""
	s.LockExpiresAt = time.Time{}
	return nil
}

func (r *memSiteRepo) Fail(_ context.Context, id, workerID, errMsg string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sites[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := r.checkOwner(s, workerID, now); err != nil {
		return err
	}
	s.Failed = true
	s.FailCount++
	s.LastError = errMsg
	s.LastFailureAt = now
	s.LockedBy = ""
	s.LockExpiresAt = time.Time{}
	return nil
}

func (r *memSiteRepo) Retry(_ context.Context, id string, clearError bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sites[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Completed = false
	s.Failed = false
	s.LockedBy = ""
	s.LockExpiresAt = time.Time{}
	s.LastRunAt = time.Time{}
	if clearError {
		s.LastError = ""
		s.LastFailureAt = time.Time{}
	}
	return nil
}

func (r *memSiteRepo) ClearExpiredLocks(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sites {
		if s.LockedBy != "" && !s.LockExpiresAt.IsZero() && !s.LockExpiresAt.After(now) {
			s.LockedBy = ""
			s.LockExpiresAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func (r *memSiteRepo) list(filter func(*model.Site) bool) []*model.Site {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Site
	for _, s := range r.sites {
		if filter(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memSiteRepo) ListCompleted(_ context.Context, _ repository.Tx) ([]*model.Site, error) {
	return r.list(func(s *model.Site) bool { return s.Completed }), nil
}

func (r *memSiteRepo) ListFailed(_ context.Context, _ repository.Tx) ([]*model.Site, error) {
	return r.list(func(s *model.Site) bool { return s.Failed }), nil
}

func (r *memSiteRepo) ListAll(_ context.Context, _ repository.Tx) ([]*model.Site, error) {
	return r.list(func(*model.Site) bool { return true }), nil
}

// --- in-memory QueueItemRepository ---

type memQueueRepo struct {
	mu    sync.Mutex
	seq   int
	items map[string]*model.QueueItem
}

var _ repository.QueueItemRepository = (*memQueueRepo)(nil)

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{items: make(map[string]*model.QueueItem)}
}

func (r *memQueueRepo) Save(_ context.Context, _ repository.Tx, item *model.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.ID == "" {
		r.seq++
		item.ID = fmt.Sprintf("item-%03d", r.seq)
	}
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *memQueueRepo) Enqueue(_ context.Context, _ repository.Tx, item *model.QueueItem) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.UserID == item.UserID && existing.JobID == item.JobID {
			return false, nil
		}
	}
	if item.ID == "" {
		r.seq++
		item.ID = fmt.Sprintf("item-%03d", r.seq)
	}
	cp := *item
	r.items[item.ID] = &cp
	return true, nil
}

func (r *memQueueRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (r *memQueueRepo) resetStaleLocked(olderThan time.Duration, now time.Time) int {
	n := 0
	for _, item := range r.items {
		if item.StaleRunning(now, olderThan) {
			item.Status = model.QueueItemStatusPending
			item.StartedAt = time.Time{}
			n++
		}
	}
	return n
}

func (r *memQueueRepo) LeaseNext(_ context.Context, staleAfter time.Duration, now time.Time) (*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetStaleLocked(staleAfter, now)

	var pending []*model.QueueItem
	for _, item := range r.items {
		if item.Status == model.QueueItemStatusPending {
			pending = append(pending, item)
		}
	}
	if len(pending) == 0 {
		return nil, domain.ErrNoWork
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if !a.QueuedAt.Equal(b.QueuedAt) {
			return a.QueuedAt.Before(b.QueuedAt)
		}
		return a.ID < b.ID
	})

	item := pending[0]
	item.Status = model.QueueItemStatusRunning
	item.StartedAt = now
	cp := *item
	return &cp, nil
}

func (r *memQueueRepo) Complete(_ context.Context, id string, filledData json.RawMessage, logs *model.FillLogs, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if item.Status == model.QueueItemStatusCompleted {
		return domain.ErrInvalidArgument
	}
	item.Status = model.QueueItemStatusCompleted
	item.CompletedAt = now
	item.FilledData = filledData
	item.Logs = logs
	item.Error = ""
	return nil
}

func (r *memQueueRepo) Fail(_ context.Context, id, errMsg string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if item.Status == model.QueueItemStatusCompleted {
		return domain.ErrInvalidArgument
	}
	item.Status = model.QueueItemStatusError
	item.CompletedAt = now
	item.Error = errMsg
	return nil
}

func (r *memQueueRepo) Retry(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if item.Status == model.QueueItemStatusCompleted {
		return domain.ErrInvalidArgument
	}
	item.Status = model.QueueItemStatusPending
	item.Error = ""
	item.StartedAt = time.Time{}
	item.CompletedAt = time.Time{}
	item.QueuedAt = now
	return nil
}

func (r *memQueueRepo) ResetStale(_ context.Context, olderThan time.Duration, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetStaleLocked(olderThan, now), nil
}

func (r *memQueueRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, limit int) ([]*model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.QueueItem
	for _, item := range r.items {
		if item.UserID == userID {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.After(out[j].QueuedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memQueueRepo) UserHasItemForJob(_ context.Context, _ repository.Tx, userID, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.UserID == userID && item.JobID == jobID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memQueueRepo) CountByStatus(_ context.Context, _ repository.Tx) (map[model.QueueItemStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[model.QueueItemStatus]int)
	for _, item := range r.items {
		counts[item.Status]++
	}
	return counts, nil
}

// --- in-memory JobRepository ---

type memJobRepo struct {
	mu    sync.Mutex
	seq   int
	jobs  []*model.Job
	queue *memQueueRepo
}

var _ repository.JobRepository = (*memJobRepo)(nil)

func newMemJobRepo(queue *memQueueRepo) *memJobRepo {
	return &memJobRepo{queue: queue}
}

func (r *memJobRepo) Save(_ context.Context, _ repository.Tx, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == "" {
		r.seq++
		job.ID = fmt.Sprintf("job-%03d", r.seq)
	}
	cp := *job
	r.jobs = append(r.jobs, &cp)
	return nil
}

func (r *memJobRepo) ListCandidatesForUser(ctx context.Context, tx repository.Tx, userID string, limit int, onlyUnqueued bool) ([]*model.Job, error) {
	r.mu.Lock()
	jobs := make([]*model.Job, len(r.jobs))
	copy(jobs, r.jobs)
	r.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })

	var out []*model.Job
	for _, job := range jobs {
		if onlyUnqueued {
			exists, err := r.queue.UserHasItemForJob(ctx, tx, userID, job.ID)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}
		}
		cp := *job
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
