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

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	const q = `
INSERT INTO jobs (id, site_id, url, title, company, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (url) DO UPDATE SET
  title = EXCLUDED.title,
  company = EXCLUDED.company;`

	var siteID interface{}
	if job.SiteID != "" {
		siteID = job.SiteID
	}
	_, err := execSQL(ctx, r.pool, tx, q, job.ID, siteID, job.URL, job.Title, job.Company, job.CreatedAt)
	return err
}

func (r *jobRepo) ListCandidatesForUser(ctx context.Context, tx repository.Tx, userID string, limit int, onlyUnqueued bool) ([]*model.Job, error) {
	q := `
SELECT j.id, j.site_id, j.url, j.title, j.company, j.created_at
FROM jobs j`
	args := []interface{}{limit}
	if onlyUnqueued {
		q += `
WHERE NOT EXISTS (
  SELECT 1 FROM queue_items qi WHERE qi.user_id = $2 AND qi.job_id = j.id::text
)`
		args = append(args, userID)
	}
	q += `
ORDER BY j.created_at DESC, j.id ASC
LIMIT $1;`

	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var j model.Job
		var siteID sql.NullString
		if err := rows.Scan(&j.ID, &siteID, &j.URL, &j.Title, &j.Company, &j.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrNotFound
			}
			return nil, domain.ErrReadDatabaseRow
		}
		j.SiteID = siteID.String
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}
