package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/domain/ports/repository"
	"apply-coordinator/internal/infra/logging"
	"apply-coordinator/internal/infra/metrics"
)

// SiteLeaseUseCase is the Lease Manager: it hands out time-bounded,
// exclusive claims on scrape targets and records their outcomes.
type SiteLeaseUseCase struct {
	sites repository.SiteRepository
	clock Clock
	log   *zerolog.Logger
}

func NewSiteLeaseUseCase(sites repository.SiteRepository, clock Clock, logger *zerolog.Logger) *SiteLeaseUseCase {
	ucLog := logger.With().Str("component", "SiteLeaseUC").Logger()
	return &SiteLeaseUseCase{sites: sites, clock: clock, log: &ucLog}
}

// Lease claims the eligible site with the oldest last run for workerID.
// A nil site with a nil error means no work is available right now.
func (uc *SiteLeaseUseCase) Lease(ctx context.Context, workerID string, ttl time.Duration) (*model.Site, error) {
	defer logging.TraceDuration(uc.log, "SiteLeaseUC.Lease")()
	if workerID == "" || ttl <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	site, err := uc.sites.Lease(ctx, workerID, ttl, uc.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNoWork) {
			metrics.IncSiteLeaseEmpty()
			return nil, nil
		}
		return nil, err
	}

	metrics.IncSiteLease()
	uc.log.Debug().Str("site_id", site.ID).Str("worker_id", workerID).
		Time("lock_expires_at", site.LockExpiresAt).Msg("site leased")
	return site, nil
}

func (uc *SiteLeaseUseCase) Complete(ctx context.Context, id, workerID string) error {
	if id == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.sites.Complete(ctx, id, workerID, uc.clock.Now()); err != nil {
		return err
	}
	metrics.IncSiteResult("completed")
	uc.log.Info().Str("site_id", id).Msg("site completed")
	return nil
}

func (uc *SiteLeaseUseCase) Release(ctx context.Context, id, workerID string) error {
	if id == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.sites.Release(ctx, id, workerID, uc.clock.Now()); err != nil {
		return err
	}
	metrics.IncSiteResult("released")
	uc.log.Debug().Str("site_id", id).Msg("site lease released")
	return nil
}

func (uc *SiteLeaseUseCase) Fail(ctx context.Context, id, workerID, errMsg string) error {
	if id == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.sites.Fail(ctx, id, workerID, errMsg, uc.clock.Now()); err != nil {
		return err
	}
	metrics.IncSiteResult("failed")
	uc.log.Warn().Str("site_id", id).Str("error", errMsg).Msg("site failed")
	return nil
}

func (uc *SiteLeaseUseCase) Retry(ctx context.Context, id string, clearError bool) error {
	if id == "" {
		return domain.ErrInvalidArgument
	}
	if err := uc.sites.Retry(ctx, id, clearError, uc.clock.Now()); err != nil {
		return err
	}
	metrics.IncSiteResult("retried")
	uc.log.Info().Str("site_id", id).Bool("clear_error", clearError).Msg("site re-armed")
	return nil
}

// ReapExpiredLocks clears every expired site lock. The reaper calls this
// on its interval; it is safe to call at any time.
func (uc *SiteLeaseUseCase) ReapExpiredLocks(ctx context.Context) (int, error) {
	return uc.sites.ClearExpiredLocks(ctx, uc.clock.Now())
}

// Create registers a new scrape target. Registry admin surface, not part
// of the coordination paths.
func (uc *SiteLeaseUseCase) Create(ctx context.Context, name, url, pattern string) (*model.Site, error) {
	if url == "" {
		return nil, domain.ErrInvalidArgument
	}
	site := model.NewSite("", name, url, pattern)
	if err := uc.sites.Save(ctx, nil, site); err != nil {
		return nil, err
	}
	return site, nil
}

func (uc *SiteLeaseUseCase) Get(ctx context.Context, id string) (*model.Site, error) {
	return uc.sites.FindByID(ctx, nil, id)
}

func (uc *SiteLeaseUseCase) ListAll(ctx context.Context) ([]*model.Site, error) {
	return uc.sites.ListAll(ctx, nil)
}

func (uc *SiteLeaseUseCase) ListCompleted(ctx context.Context) ([]*model.Site, error) {
	return uc.sites.ListCompleted(ctx, nil)
}

func (uc *SiteLeaseUseCase) ListFailed(ctx context.Context) ([]*model.Site, error) {
	return uc.sites.ListFailed(ctx, nil)
}
