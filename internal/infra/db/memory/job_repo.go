// File: internal/infra/db/memory/job_repo.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

type jobEntry struct {
	mu  sync.Mutex
	job *model.Job
}

// JobRepo keeps jobs in process memory. Each job has its own lock, so
// updates of different jobs never wait on each other.
type JobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
	now  func() time.Time
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*jobEntry), now: func() time.Time { return time.Now().UTC() }}
}

func (r *JobRepo) Create(_ context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.jobs[job.ID] = &jobEntry{job: job.Clone()}
	return nil
}

func (r *JobRepo) entry(id string) (*jobEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	return e, ok
}

func (r *JobRepo) Get(_ context.Context, id string) (*model.Job, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

func (r *JobRepo) Update(ctx context.Context, id string, fn repository.JobMutation) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := r.entry(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.job.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	e.job = next
	return next.Clone(), nil
}

func (r *JobRepo) ClaimNext(ctx context.Context) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type candidate struct {
		e  *jobEntry
		at time.Time
	}
	var cands []candidate
	r.mu.RLock()
	for _, e := range r.jobs {
		e.mu.Lock()
		if e.job.Status == model.JobStatusQueued {
			at := e.job.SubmittedAt
			if e.job.QueuedAt != nil {
				at = *e.job.QueuedAt
			}
			cands = append(cands, candidate{e: e, at: at})
		}
		e.mu.Unlock()
	}
	r.mu.RUnlock()
	sort.Slice(cands, func(i, j int) bool { return cands[i].at.Before(cands[j].at) })

	for _, c := range cands {
		c.e.mu.Lock()
		// re-check: another claimer or a cancel may have won meanwhile
		if c.e.job.Status != model.JobStatusQueued {
			c.e.mu.Unlock()
			continue
		}
		next := c.e.job.Clone()
		if err := next.TransitionTo(model.JobStatusProcessing, r.now()); err != nil {
			c.e.mu.Unlock()
			return nil, err
		}
		c.e.job = next
		out := next.Clone()
		c.e.mu.Unlock()
		return out, nil
	}
	return nil, domain.ErrNotFound
}
