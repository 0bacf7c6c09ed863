// File: internal/usecase/job_orchestrator.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/repository"
	"longform-pipeline/internal/infra/logging"
	"longform-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ JobUseCase = (*JobOrchestrator)(nil)

type JobUseCase interface {
	Submit(ctx context.Context, req model.GenerationRequest, mode model.Mode) (*model.Job, error)
	Status(ctx context.Context, id string) (*model.Job, error)
	Cancel(ctx context.Context, id string) (*model.Job, error)
}

// PipelineRunner is the coordinator seen by the orchestrator.
type PipelineRunner interface {
	Execute(ctx context.Context, req model.GenerationRequest, plan model.StagePlan, obs RunObserver) (*model.GenerationResult, error)
}

// Dispatcher hands a job run to a worker. It must not block; a full queue
// is reported as an error and the job stays queued for the poller.
type Dispatcher interface {
	Dispatch(jobID string, run func(ctx context.Context)) error
}

// SubmitLimit bounds submissions per org and window. A zero Limit disables it.
type SubmitLimit struct {
	Limiter repository.RateLimiter
	Limit   int
	Window  time.Duration
}

// NewJobID returns a sortable id that is never reused.
func NewJobID() string { return ulid.Make().String() }

type JobOrchestrator struct {
	jobs          repository.JobRepository
	plans         *PlanBuilder
	pipeline      PipelineRunner
	dispatcher    Dispatcher
	limit         SubmitLimit
	stageEstimate time.Duration
	newID         func() string
	now           func() time.Time
	log           *zerolog.Logger
}

func NewJobOrchestrator(
	jobs repository.JobRepository,
	plans *PlanBuilder,
	pipeline PipelineRunner,
	dispatcher Dispatcher,
	stageEstimate time.Duration,
	log *zerolog.Logger,
) *JobOrchestrator {
	l := log.With().Str("component", "job_orchestrator").Logger()
	return &JobOrchestrator{
		jobs:          jobs,
		plans:         plans,
		pipeline:      pipeline,
		dispatcher:    dispatcher,
		stageEstimate: stageEstimate,
		newID:         NewJobID,
		now:           func() time.Time { return time.Now().UTC() },
		log:           &l,
	}
}

func (o *JobOrchestrator) WithSubmitLimit(l SubmitLimit) *JobOrchestrator {
	o.limit = l
	return o
}

// SetDispatcher breaks the construction cycle between the orchestrator and
// a worker dispatcher that calls back into it.
func (o *JobOrchestrator) SetDispatcher(d Dispatcher) { o.dispatcher = d }

// Submit accepts a request. Sync mode runs it inline and returns the terminal
// job, plus a *domain.JobError when it failed. Async mode returns the queued
// job immediately.
func (o *JobOrchestrator) Submit(ctx context.Context, req model.GenerationRequest, mode model.Mode) (*model.Job, error) {
	defer logging.TraceDuration(o.log, "JobOrchestrator.Submit")()

	if mode == "" {
		mode = model.ModeAsync
	}
	if mode != model.ModeSync && mode != model.ModeAsync {
		return nil, fmt.Errorf("%w: mode %q", domain.ErrInvalidArgument, mode)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Normalize()
	if err := o.checkLimit(ctx, req.OrgID); err != nil {
		return nil, err
	}
	plan, err := o.plans.Build(req)
	if err != nil {
		return nil, err
	}

	job := model.NewJob(o.newID(), req, mode, o.now())
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	ctx = logging.WithOrgID(logging.WithJobID(ctx, job.ID), req.OrgID)
	logging.With(ctx, o.log).Info().Str("mode", string(mode)).Str("plan", string(plan.Tier)).Strs("stages", plan.Names()).Msg("job submitted")

	if mode == model.ModeSync {
		started, err := o.transition(ctx, job.ID, model.JobStatusPending, func(j *model.Job, now time.Time) error {
			return j.TransitionTo(model.JobStatusProcessing, now)
		})
		if err != nil {
			return nil, err
		}
		final, jerr := o.run(ctx, started, plan)
		if jerr != nil {
			return final, jerr
		}
		return final, nil
	}

	queued, err := o.transition(ctx, job.ID, model.JobStatusPending, func(j *model.Job, now time.Time) error {
		if err := j.TransitionTo(model.JobStatusQueued, now); err != nil {
			return err
		}
		eta := now.Add(time.Duration(len(plan.Stages)) * o.stageEstimate)
		j.EstimatedCompletion = &eta
		return nil
	})
	if err != nil {
		return nil, err
	}
	id := job.ID
	if err := o.dispatcher.Dispatch(id, func(ctx context.Context) { _ = o.Process(ctx, id) }); err != nil {
		metrics.IncQueueRejected()
		logging.With(ctx, o.log).Warn().Err(err).Msg("dispatch refused; job left queued for the poller")
	}
	return queued, nil
}

// Status returns a snapshot and never waits on a running job.
func (o *JobOrchestrator) Status(ctx context.Context, id string) (*model.Job, error) {
	return o.jobs.Get(ctx, id)
}

// Cancel ends a job that has not started. For a running job it records the
// request; the run stops before its next stage.
func (o *JobOrchestrator) Cancel(ctx context.Context, id string) (*model.Job, error) {
	j, err := o.jobs.Update(ctx, id, func(j *model.Job) error {
		now := o.now()
		if j.Status.IsTerminal() {
			return domain.ErrJobTerminal
		}
		if j.Status.Started() {
			j.CancelRequested = true
			j.UpdatedAt = now
			return nil
		}
		return j.Cancel(now)
	})
	if err != nil {
		return nil, err
	}
	log := logging.With(logging.WithJobID(ctx, id), o.log)
	if j.Status == model.JobStatusCancelled {
		metrics.IncJob(string(j.Status), string(j.Mode))
		log.Info().Msg("job cancelled before start")
	} else {
		log.Info().Msg("cancellation requested for running job")
	}
	return j, nil
}

// Process runs a queued job. It returns nil without running when another
// worker claimed the job first or it was cancelled meanwhile.
func (o *JobOrchestrator) Process(ctx context.Context, id string) error {
	j, err := o.transition(ctx, id, model.JobStatusQueued, func(j *model.Job, now time.Time) error {
		return j.TransitionTo(model.JobStatusProcessing, now)
	})
	if errors.Is(err, domain.ErrStatusConflict) {
		o.log.Debug().Str("job_id", id).Msg("job no longer queued; skipping")
		return nil
	}
	if err != nil {
		return err
	}
	_, jerr := o.runClaimed(ctx, j)
	if jerr != nil {
		return jerr
	}
	return nil
}

// ProcessNext claims the oldest queued job and runs it. It reports false
// when nothing was queued.
func (o *JobOrchestrator) ProcessNext(ctx context.Context) (bool, error) {
	j, err := o.jobs.ClaimNext(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, _ = o.runClaimed(ctx, j)
	return true, nil
}

func (o *JobOrchestrator) runClaimed(ctx context.Context, j *model.Job) (*model.Job, *domain.JobError) {
	ctx = logging.WithOrgID(logging.WithJobID(ctx, j.ID), j.OrgID)
	plan, err := o.plans.Build(j.Request)
	if err != nil {
		return o.finalize(ctx, j, nil, err)
	}
	return o.run(ctx, j, plan)
}

// run executes the pipeline for a job already in processing and records the
// terminal status.
func (o *JobOrchestrator) run(ctx context.Context, j *model.Job, plan model.StagePlan) (*model.Job, *domain.JobError) {
	obs := &jobObserver{o: o, id: j.ID, total: len(plan.Stages)}
	logging.With(ctx, o.log).Info().Msg("job started")
	res, err := o.pipeline.Execute(ctx, j.Request, plan, obs)
	return o.finalize(ctx, j, res, err)
}

func (o *JobOrchestrator) finalize(ctx context.Context, j *model.Job, res *model.GenerationResult, runErr error) (*model.Job, *domain.JobError) {
	// the terminal status is recorded even when the caller went away
	fctx := context.WithoutCancel(ctx)
	log := logging.With(ctx, o.log)

	var jerr *domain.JobError
	var apply func(*model.Job, time.Time) error
	switch {
	case runErr == nil:
		apply = func(j *model.Job, now time.Time) error { return j.Complete(res, now) }
	case errors.Is(runErr, domain.ErrCancelled):
		apply = func(j *model.Job, now time.Time) error { return j.Cancel(now) }
	default:
		jerr = domain.NewJobError(j.ID, runErr)
		f := model.JobFailure{Class: jerr.Class, Kind: string(jerr.Kind), Stage: jerr.Stage, Message: jerr.Message}
		apply = func(j *model.Job, now time.Time) error { return j.Fail(f, now) }
	}

	final, err := o.transition(fctx, j.ID, model.JobStatusProcessing, apply)
	if err != nil {
		log.Error().Err(err).Msg("failed to record terminal job status")
		if jerr == nil {
			jerr = domain.NewJobError(j.ID, err)
		}
		return j, jerr
	}

	var took time.Duration
	if final.StartedAt != nil && final.CompletedAt != nil {
		took = final.CompletedAt.Sub(*final.StartedAt)
	}
	metrics.IncJob(string(final.Status), string(final.Mode))
	metrics.ObserveJobDuration(string(final.Status), took)

	ev := log.Info()
	if jerr != nil {
		ev = log.Warn().Err(runErr).Str("class", string(jerr.Class))
	}
	ev.Str("status", string(final.Status)).Dur("duration_ms", took).Msg("job finished")
	return final, jerr
}

// transition applies fn only when the stored job is still in from.
func (o *JobOrchestrator) transition(ctx context.Context, id string, from model.JobStatus, fn func(*model.Job, time.Time) error) (*model.Job, error) {
	return o.jobs.Update(ctx, id, func(j *model.Job) error {
		if j.Status != from {
			return domain.ErrStatusConflict
		}
		return fn(j, o.now())
	})
}

func (o *JobOrchestrator) checkLimit(ctx context.Context, orgID string) error {
	if o.limit.Limiter == nil || o.limit.Limit <= 0 {
		return nil
	}
	ok, err := o.limit.Limiter.Allow(ctx, "submit:"+orgID, o.limit.Limit, o.limit.Window)
	if err != nil {
		o.log.Warn().Err(err).Msg("rate limiter unavailable; allowing submission")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// jobObserver mirrors pipeline progress onto the stored job.
type jobObserver struct {
	o     *JobOrchestrator
	id    string
	total int

	mu   sync.Mutex
	done int
}

func (b *jobObserver) StageStarted(ctx context.Context, stage model.StageName) {
	b.update(ctx, func(j *model.Job) { j.CurrentStage = string(stage) })
}

func (b *jobObserver) StageFinished(ctx context.Context, _ model.StageName, _ error) {
	b.mu.Lock()
	b.done++
	progress := 0
	if b.total > 0 {
		// 100 is reserved for the completed status
		progress = min(b.done*100/b.total, 99)
	}
	b.mu.Unlock()
	b.update(ctx, func(j *model.Job) {
		if progress > j.Progress {
			j.Progress = progress
		}
	})
}

func (b *jobObserver) CancelRequested(ctx context.Context) bool {
	j, err := b.o.jobs.Get(ctx, b.id)
	if err != nil {
		logging.With(ctx, b.o.log).Warn().Err(err).Msg("cancel check failed")
		return false
	}
	return j.CancelRequested
}

func (b *jobObserver) update(ctx context.Context, fn func(*model.Job)) {
	_, err := b.o.jobs.Update(context.WithoutCancel(ctx), b.id, func(j *model.Job) error {
		if j.Status != model.JobStatusProcessing {
			return domain.ErrStatusConflict
		}
		fn(j)
		j.UpdatedAt = b.o.now()
		return nil
	})
	if err != nil {
		logging.With(ctx, b.o.log).Debug().Err(err).Msg("progress update skipped")
	}
}
