package usecase

import (
	"context"
	"testing"
	"time"
)

func TestStatsTotals(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sites := newMemSiteRepo()
	items := newMemQueueRepo()
	clock := newFakeClock()
	uc := NewStatsUseCase(sites, items, clock)

	a := addSite(t, sites, "a", time.Time{})
	addSite(t, sites, "b", time.Time{})
	c := addSite(t, sites, "c", time.Time{})

	if err := sites.Complete(ctx, a.ID, "", clock.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := sites.Fail(ctx, c.ID, "", "boom", clock.Now()); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := sites.Lease(ctx, "worker", time.Minute, clock.Now()); err != nil {
		t.Fatalf("lease: %v", err)
	}

	queueItem(t, items, "u1", "j1", clock.Now())
	second := queueItem(t, items, "u1", "j2", clock.Now())
	if _, err := items.LeaseNext(ctx, time.Minute, clock.Now()); err != nil {
		t.Fatalf("lease next: %v", err)
	}
	if err := items.Fail(ctx, second.ID, "boom", clock.Now()); err != nil {
		t.Fatalf("fail item: %v", err)
	}

	totals, err := uc.Totals(ctx)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Sites.Total != 3 || totals.Sites.Completed != 1 || totals.Sites.Failed != 1 || totals.Sites.Locked != 1 {
		t.Fatalf("unexpected site totals: %+v", totals.Sites)
	}
	if totals.Queue["running"] != 1 || totals.Queue["error"] != 1 || totals.Queue["pending"] != 0 {
		t.Fatalf("unexpected queue totals: %+v", totals.Queue)
	}
}
