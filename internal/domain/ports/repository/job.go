package repository

import (
	"context"

	"longform-pipeline/internal/domain/model"
)

// JobMutation inspects the current stored job and edits it in place.
// Returning an error aborts the update and leaves the stored job untouched.
type JobMutation func(job *model.Job) error

type JobRepository interface {
	// Create persists a new job. The id must not exist yet.
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update is an atomic read-modify-write on one job. Implementations
	// serialize concurrent updates of the same id and never lock other ids.
	Update(ctx context.Context, id string, fn JobMutation) (*model.Job, error)
	// ClaimNext atomically moves the oldest queued job to processing and
	// returns it. It returns domain.ErrNotFound when nothing is queued.
	ClaimNext(ctx context.Context) (*model.Job, error)
}
