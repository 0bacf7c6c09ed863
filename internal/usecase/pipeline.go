// File: internal/usecase/pipeline.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/infra/logging"
	"longform-pipeline/internal/infra/metrics"
)

// StageRunner executes a single stage. StageExecutor implements it.
type StageRunner interface {
	Run(ctx context.Context, def model.StageDefinition, in model.StageInput) (*model.StageResult, error)
}

// RunObserver is told about stage progress and asked, before every dispatch,
// whether the run should stop.
type RunObserver interface {
	StageStarted(ctx context.Context, stage model.StageName)
	StageFinished(ctx context.Context, stage model.StageName, err error)
	CancelRequested(ctx context.Context) bool
}

type nopObserver struct{}

func (nopObserver) StageStarted(context.Context, model.StageName)         {}
func (nopObserver) StageFinished(context.Context, model.StageName, error) {}
func (nopObserver) CancelRequested(context.Context) bool                  { return false }

// Pipeline runs a StagePlan for one request.
type Pipeline struct {
	stages      StageRunner
	deadline    time.Duration // default run deadline; 0 = none
	maxDeadline time.Duration // cap for per-request deadlines
	now         func() time.Time
	log         *zerolog.Logger
}

func NewPipeline(stages StageRunner, deadline, maxDeadline time.Duration, log *zerolog.Logger) *Pipeline {
	l := log.With().Str("component", "pipeline").Logger()
	return &Pipeline{stages: stages, deadline: deadline, maxDeadline: maxDeadline, now: time.Now, log: &l}
}

func (p *Pipeline) runDeadline(req model.GenerationRequest) time.Duration {
	d := p.deadline
	if req.Deadline > 0 {
		d = req.Deadline
	}
	if p.maxDeadline > 0 && (d <= 0 || d > p.maxDeadline) {
		d = p.maxDeadline
	}
	return d
}

// Execute runs the plan in order. Stages sharing a group run concurrently and
// see the same prior outputs. A failed fatal stage aborts the run with a
// *domain.PipelineError; a failed degradable stage becomes a warning.
// The deadline and cancellation are checked before each dispatch and never
// interrupt a stage already running. On error the partial result is
// returned alongside for usage accounting.
func (p *Pipeline) Execute(ctx context.Context, req model.GenerationRequest, plan model.StagePlan, obs RunObserver) (*model.GenerationResult, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	log := logging.With(ctx, p.log)
	start := p.now()
	deadline := p.runDeadline(req)

	res := &model.GenerationResult{}
	in := model.StageInput{Request: req, JobID: logging.JobIDFrom(ctx)}
	finish := func(err error) (*model.GenerationResult, error) {
		res.GenerationTime = p.now().Sub(start)
		return res, err
	}

	batches := plan.Batches()
	for bi, batch := range batches {
		if err := ctx.Err(); err != nil {
			return finish(&domain.PipelineError{Err: err})
		}
		if obs.CancelRequested(ctx) {
			log.Info().Msg("run cancelled before next stage")
			return finish(&domain.PipelineError{Err: domain.ErrCancelled})
		}
		if deadline > 0 && p.now().Sub(start) >= deadline {
			return finish(p.skipRemaining(res, batches[bi:]))
		}

		results, errs := p.runBatch(ctx, batch, in, obs)

		for i, def := range batch {
			r, err := results[i], errs[i]
			if r != nil {
				res.Usage = res.Usage.Add(r.Usage)
			}
			if err != nil {
				if def.Fatal {
					return finish(&domain.PipelineError{Stage: string(def.Name), Err: err})
				}
				w := model.Warning{Stage: def.Name, Message: "stage omitted after provider failure"}
				var se *domain.StageError
				if errors.As(err, &se) {
					w.Kind = string(se.LastKind)
				}
				res.Warnings = append(res.Warnings, w)
				log.Warn().Err(err).Str("stage", string(def.Name)).Msg("degradable stage failed")
				continue
			}
			res.Stages = append(res.Stages, *r)
			in.Prior = append(in.Prior, model.PriorOutput{Stage: def.Name, Role: def.Role, Text: r.Output, Citations: r.Citations})
			switch def.Role {
			case model.RoleContent:
				res.Content = r.Output
			case model.RoleOutline:
				res.Outline = r.Output
			case model.RoleEvidence:
				res.Citations = mergeCitations(res.Citations, r.Citations)
			}
		}
	}
	return finish(nil)
}

func (p *Pipeline) runBatch(ctx context.Context, batch []model.StageDefinition, in model.StageInput, obs RunObserver) ([]*model.StageResult, []error) {
	results := make([]*model.StageResult, len(batch))
	errs := make([]error, len(batch))
	if len(batch) == 1 {
		results[0], errs[0] = p.runStage(ctx, batch[0], in, obs)
		return results, errs
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, def := range batch {
		g.Go(func() error {
			results[i], errs[i] = p.runStage(gctx, def, in, obs)
			if errs[i] != nil && def.Fatal {
				return errs[i]
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

func (p *Pipeline) runStage(ctx context.Context, def model.StageDefinition, in model.StageInput, obs RunObserver) (*model.StageResult, error) {
	ctx = logging.WithStage(ctx, string(def.Name))
	obs.StageStarted(ctx, def.Name)
	r, err := p.stages.Run(ctx, def, in)

	outcome := "ok"
	var d time.Duration
	switch {
	case err != nil && def.Fatal:
		outcome = "failed"
	case err != nil:
		outcome = "degraded"
	case r.CacheHit:
		outcome = "cached"
	}
	if r != nil {
		d = r.Elapsed
	}
	metrics.ObserveStage(string(def.Name), outcome, d)
	obs.StageFinished(ctx, def.Name, err)
	return r, err
}

// skipRemaining handles a passed deadline: degradable stages are listed as
// skipped, a pending fatal stage fails the run.
func (p *Pipeline) skipRemaining(res *model.GenerationResult, batches [][]model.StageDefinition) error {
	for _, batch := range batches {
		for _, def := range batch {
			if def.Fatal {
				return &domain.PipelineError{Stage: string(def.Name), Err: domain.ErrDeadlineExceeded}
			}
		}
	}
	for _, batch := range batches {
		for _, def := range batch {
			res.Skipped = append(res.Skipped, def.Name)
			metrics.ObserveStage(string(def.Name), "skipped", 0)
		}
	}
	return nil
}

func mergeCitations(dst, src []model.Citation) []model.Citation {
	seen := make(map[string]struct{}, len(dst))
	for _, c := range dst {
		seen[c.ID] = struct{}{}
	}
	for _, c := range src {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		dst = append(dst, c)
	}
	return dst
}
