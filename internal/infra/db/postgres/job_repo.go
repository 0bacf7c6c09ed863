package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

// JobRepo keeps the whole job document in a JSONB column. Status and
// queued_at are mirrored into columns for the claim query.
type JobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
	now  func() time.Time
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *JobRepo {
	return &JobRepo{pool: pool, tm: tm, now: time.Now}
}

const uniqueViolation = "23505"

func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	const q = `
INSERT INTO generation_jobs (id, org_id, status, payload, submitted_at, queued_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	_, err = r.pool.Exec(ctx, q, job.ID, job.OrgID, string(job.Status), payload, job.SubmittedAt, job.QueuedAt, job.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	const q = `SELECT payload FROM generation_jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, q, id))
}

func (r *JobRepo) Update(ctx context.Context, id string, fn repository.JobMutation) (*model.Job, error) {
	var out *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}
		const q = `SELECT payload FROM generation_jobs WHERE id = $1 FOR UPDATE;`
		j, err := scanJob(ex.QueryRow(ctx, q, id))
		if err != nil {
			return err
		}
		if err := fn(j); err != nil {
			return err
		}
		if err := r.write(ctx, ex, j); err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNext skips rows locked by concurrent claimers so two workers never
// receive the same job.
func (r *JobRepo) ClaimNext(ctx context.Context) (*model.Job, error) {
	var out *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}
		const q = `
SELECT payload FROM generation_jobs
WHERE status = 'queued'
ORDER BY queued_at
LIMIT 1
FOR UPDATE SKIP LOCKED;`
		j, err := scanJob(ex.QueryRow(ctx, q))
		if err != nil {
			return err
		}
		if err := j.TransitionTo(model.JobStatusProcessing, r.now()); err != nil {
			return err
		}
		if err := r.write(ctx, ex, j); err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *JobRepo) write(ctx context.Context, ex executor, j *model.Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	const q = `
UPDATE generation_jobs
SET status = $2, payload = $3, queued_at = $4, updated_at = $5
WHERE id = $1;`
	_, err = ex.Exec(ctx, q, j.ID, string(j.Status), payload, j.QueuedAt, j.UpdatedAt)
	return err
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	var j model.Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}
