package usecase

import (
	"context"

	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/domain/ports/repository"
)

// StatsUseCase builds the read-only reporting projection over both
// registries. Consumer of the coordination state, never a mutator.
type StatsUseCase struct {
	sites repository.SiteRepository
	items repository.QueueItemRepository
	clock Clock
}

func NewStatsUseCase(sites repository.SiteRepository, items repository.QueueItemRepository, clock Clock) *StatsUseCase {
	return &StatsUseCase{sites: sites, items: items, clock: clock}
}

type SiteTotals struct {
	Total     int `json:"total"`
	Enabled   int `json:"enabled"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Locked    int `json:"locked"`
}

type Totals struct {
	Sites SiteTotals     `json:"sites"`
	Queue map[string]int `json:"queue"`
}

func (uc *StatsUseCase) Totals(ctx context.Context) (*Totals, error) {
	sites, err := uc.sites.ListAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := uc.clock.Now()

	var t Totals
	t.Queue = make(map[string]int)
	for _, s := range sites {
		t.Sites.Total++
		if s.Enabled {
			t.Sites.Enabled++
		}
		if s.Completed {
			t.Sites.Completed++
		}
		if s.Failed {
			t.Sites.Failed++
		}
		if s.HasValidLease(now) {
			t.Sites.Locked++
		}
	}

	counts, err := uc.items.CountByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, status := range []model.QueueItemStatus{
		model.QueueItemStatusPending, model.QueueItemStatusRunning,
		model.QueueItemStatusCompleted, model.QueueItemStatusError,
	} {
		t.Queue[string(status)] = counts[status]
	}
	return &t, nil
}
