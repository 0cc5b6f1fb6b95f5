package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
)

func newSiteUC() (*SiteLeaseUseCase, *memSiteRepo, *fakeClock) {
	repo := newMemSiteRepo()
	clock := newFakeClock()
	logger := zerolog.Nop()
	return NewSiteLeaseUseCase(repo, clock, &logger), repo, clock
}

func addSite(t *testing.T, repo *memSiteRepo, name string, lastRunAt time.Time) *model.Site {
	t.Helper()
	s := model.NewSite("", name, "https://"+name+".example/jobs", "")
	s.LastRunAt = lastRunAt
	if err := repo.Save(context.Background(), nil, s); err != nil {
		t.Fatalf("save site %s: %v", name, err)
	}
	return s
}

func TestSiteLease_MutualExclusion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, repo, _ := newSiteUC()
	addSite(t, repo, "only", time.Time{})

	first, err := uc.Lease(ctx, "worker-a", time.Minute)
	if err != nil || first == nil {
		t.Fatalf("first lease: site=%v err=%v", first, err)
	}

	second, err := uc.Lease(ctx, "worker-b", time.Minute)
	if err != nil {
		t.Fatalf("second lease errored: %v", err)
	}
	if second != nil {
		t.Fatalf("second lease must find no work while the lock is valid, got %s", second.ID)
	}
}

func TestSiteLease_ConcurrentDistinctGrants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, repo, _ := newSiteUC()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		addSite(t, repo, name, time.Time{})
	}

	const callers = 10
	var wg sync.WaitGroup
	granted := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			site, err := uc.Lease(ctx, "worker", time.Minute)
			if err != nil {
				t.Errorf("lease: %v", err)
				return
			}
			if site != nil {
				granted <- site.ID
			}
		}()
	}
	wg.Wait()
	close(granted)

	seen := make(map[string]bool)
	for id := range granted {
		if seen[id] {
			t.Fatalf("site %s granted to two callers", id)
		}
		seen[id] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected all 5 sites granted exactly once, got %d", len(seen))
	}
}

func TestSiteLease_OldestLastRunFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, repo, clock := newSiteUC()
	base := clock.Now()

	ranEarlier := addSite(t, repo, "ran-earlier", base.Add(-2*time.Hour))
	neverRan := addSite(t, repo, "never-ran", time.Time{})
	ranRecently := addSite(t, repo, "ran-recently", base.Add(-time.Hour))

	wantOrder := []string{neverRan.ID, ranEarlier.ID, ranRecently.ID}
	for i, want := range wantOrder {
		site, err := uc.Lease(ctx, "worker", time.Minute)
		if err != nil || site == nil {
			t.Fatalf("lease %d: site=%v err=%v", i, site, err)
		}
		if site.ID != want {
			t.Fatalf("lease %d: expected %s, got %s", i, want, site.ID)
		}
	}
}

func TestSiteLease_ExpiredLockReclaimedByLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, repo, clock := newSiteUC()
	site := addSite(t, repo, "flaky", time.Time{})

	if _, err := uc.Lease(ctx, "worker-a", time.Second); err != nil {
		t.Fatalf("lease: %v", err)
	}
	clock.Advance(2 * time.Second)

	// No reaper involved: the lease path itself treats the expired lock
	// as absent.
	got, err := uc.Lease(ctx, "worker-b", time.Minute)
	if err != nil || got == nil {
		t.Fatalf("re-lease after expiry: site=%v err=%v", got, err)
	}
	if got.ID != site.ID || got.LockedBy != "worker-b" {
		t.Fatalf("expected %s re-leased to worker-b, got %+v", site.ID, got)
	}
}

func TestSiteLease_ReaperRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, repo, clock := newSiteUC()
	site := addSite(t, repo, "stalled", time.Time{})

	if _, err := uc.Lease(ctx, "worker-a", time.Second); err != nil {
		t.Fatalf("lease: %v", err)
	}
	clock.Advance(2 * time.Second)

	n, err := uc.ReapExpiredLocks(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 lock cleared, got %d", n)
	}

	stored, err := uc.Get(ctx, site.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.LockedBy != "" || !stored.LockExpiresAt.IsZero() {
		t.Fatalf("lock fields not cleared: %+v", stored)
	}

	// Sweeping again with nothing expired is a no-op.
	n, err = uc.ReapExpiredLocks(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second reap: n=%d err=%v", n, err)
	}
}

func TestSiteFail_Bookkeeping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, repo, _ := newSiteUC()
	site := addSite(t, repo, "broken", time.Time{})

	if _, err := uc.Lease(ctx, "worker-a", time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := uc.Fail(ctx, site.ID, "worker-a", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	stored, _ := uc.Get(ctx, site.ID)
	if !stored.Failed || stored.FailCount != 1 || stored.LastError != "boom" {
		t.Fatalf("failure not recorded: %+v", stored)
	}
	if stored.LockedBy != "" {
		t.Fatalf("fail must clear the lock")
	}

	// Failed sites are excluded from leasing until retried.
	if got, err := uc.Lease(ctx, "worker-b", time.Minute); err != nil || got != nil {
		t.Fatalf("failed site must not be leased, got %v err=%v", got, err)
	}

	if err := uc.Retry(ctx, site.ID, true); err != nil {
		t.Fatalf("retry: %v", err)
	}
	stored, _ = uc.Get(ctx, site.ID)
	if stored.Failed || stored.Completed {
		t.Fatalf("retry must clear terminal flags: %+v", stored)
	}
	if stored.LastError != "" || !stored.LastFailureAt.IsZero() {
		t.Fatalf("clearError must wipe the error fields: %+v", stored)
	}
	if stored.FailCount != 1 {
		t.Fatalf("failCount is history and must survive retry, got %d", stored.FailCount)
	}

	if got, err := uc.Lease(ctx, "worker-b", time.Minute); err != nil || got == nil {
		t.Fatalf("retried site should be leasable again: %v err=%v", got, err)
	}
}

func TestSiteRetry_KeepError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, repo, _ := newSiteUC()
	site := addSite(t, repo, "keep", time.Time{})

	if err := uc.Fail(ctx, site.ID, "", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := uc.Retry(ctx, site.ID, false); err != nil {
		t.Fatalf("retry: %v", err)
	}
	stored, _ := uc.Get(ctx, site.ID)
	if stored.LastError != "boom" {
		t.Fatalf("retry with clearError=false must keep the error text, got %q", stored.LastError)
	}
}

func TestSiteComplete_OwnershipCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, repo, _ := newSiteUC()
	site := addSite(t, repo, "owned", time.Time{})

	if _, err := uc.Lease(ctx, "worker-a", time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}

	err := uc.Complete(ctx, site.ID, "worker-b")
	if !errors.Is(err, domain.ErrLeaseMismatch) {
		t.Fatalf("expected ErrLeaseMismatch for foreign worker, got %v", err)
	}

	// Legacy callers that present no worker id are still trusted.
	if err := uc.Complete(ctx, site.ID, ""); err != nil {
		t.Fatalf("complete without worker id: %v", err)
	}

	stored, _ := uc.Get(ctx, site.ID)
	if !stored.Completed || stored.LockedBy != "" {
		t.Fatalf("complete did not settle the record: %+v", stored)
	}
	if stored.LastRunAt.IsZero() {
		t.Fatalf("complete must stamp lastRunAt")
	}
}

func TestSiteLease_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, _, _ := newSiteUC()

	if _, err := uc.Lease(ctx, "", time.Minute); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty worker id, got %v", err)
	}
	if _, err := uc.Lease(ctx, "w", 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for non-positive ttl, got %v", err)
	}
	if err := uc.Complete(ctx, "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}
