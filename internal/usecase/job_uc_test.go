package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
)

func newJobUC() (*JobUseCase, *memJobRepo, *memQueueRepo) {
	items := newMemQueueRepo()
	jobs := newMemJobRepo(items)
	logger := zerolog.Nop()
	uc := NewJobUseCase(jobs, memTxManager{}, &logger)
	return uc, jobs, items
}

func TestJobStore_FeedsCandidatePool(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, jobs, _ := newJobUC()

	n, err := uc.Store(ctx, []*model.Job{
		model.NewJob("", "site-1", "https://jobs.example/a", "Engineer", "Acme"),
		model.NewJob("", "", "https://jobs.example/b", "Analyst", "Globex"),
	})
	if err != nil || n != 2 {
		t.Fatalf("store: n=%d err=%v", n, err)
	}

	candidates, err := jobs.ListCandidatesForUser(ctx, nil, "u1", 10, true)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
}

func TestJobStore_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uc, jobs, _ := newJobUC()

	if _, err := uc.Store(ctx, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("empty batch must be rejected, got %v", err)
	}
	_, err := uc.Store(ctx, []*model.Job{
		model.NewJob("", "", "https://jobs.example/a", "Engineer", "Acme"),
		model.NewJob("", "", "", "No URL", "Acme"),
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("listing without URL must reject the batch, got %v", err)
	}
	if candidates, _ := jobs.ListCandidatesForUser(ctx, nil, "u1", 10, false); len(candidates) != 0 {
		t.Fatalf("rejected batch must store nothing, got %d jobs", len(candidates))
	}
}
