package usecase

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
	"apply-coordinator/internal/domain/ports/repository"
	"apply-coordinator/internal/infra/logging"
	"apply-coordinator/internal/infra/metrics"
)

// JobUseCase ingests scraped job listings reported by scrape workers.
// Stored listings are the candidate pool EnqueueForUser draws from.
type JobUseCase struct {
	jobs repository.JobRepository
	tm   repository.TransactionManager
	log  *zerolog.Logger
}

func NewJobUseCase(jobs repository.JobRepository, tm repository.TransactionManager, logger *zerolog.Logger) *JobUseCase {
	ucLog := logger.With().Str("component", "JobUC").Logger()
	return &JobUseCase{jobs: jobs, tm: tm, log: &ucLog}
}

// Store upserts a batch of scraped listings in one transaction, keyed by
// URL so re-scrapes refresh rather than duplicate. An empty batch or a
// listing without a URL rejects the whole request.
func (uc *JobUseCase) Store(ctx context.Context, jobs []*model.Job) (int, error) {
	defer logging.TraceDuration(uc.log, "JobUC.Store")()
	if len(jobs) == 0 {
		return 0, domain.ErrInvalidArgument
	}
	for _, job := range jobs {
		if job.URL == "" {
			return 0, domain.ErrInvalidArgument
		}
	}

	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for _, job := range jobs {
			if err := uc.jobs.Save(ctx, tx, job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.AddJobsStored(len(jobs))
	uc.log.Info().Int("count", len(jobs)).Msg("scraped jobs stored")
	return len(jobs), nil
}
