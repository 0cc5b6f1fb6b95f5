package repository

import (
	"context"

	"apply-coordinator/internal/domain/model"
)

type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.Job) error

	// ListCandidatesForUser returns up to limit jobs the user could apply
	// to, newest first. When onlyUnqueued is set, jobs the user already
	// has a queue item for (any status) are skipped.
	ListCandidatesForUser(ctx context.Context, tx Tx, userID string, limit int, onlyUnqueued bool) ([]*model.Job, error)
}
