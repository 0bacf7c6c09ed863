// File: internal/usecase/stage_executor.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
	"longform-pipeline/internal/infra/logging"
)

// ProviderClient makes exactly one provider call per Invoke and reports
// failures as *domain.ProviderError. The ai.Registry implements it.
type ProviderClient interface {
	Invoke(ctx context.Context, name string, call adapter.ProviderCall, timeout time.Duration) (adapter.ProviderOutput, error)
	Model(name string) (string, bool)
}

type ExecutorConfig struct {
	MaxAttempts         int           // per provider, for retryable kinds
	Backoff             time.Duration // multiplied by the attempt number
	CallTimeout         time.Duration
	AllowSharedEvidence bool
}

// StageExecutor runs one stage: cache lookup, then providers in preference
// order with retry and fallback, then cache store.
type StageExecutor struct {
	client  ProviderClient
	cache   *ResultCache
	prompts PromptBuilder
	cfg     ExecutorConfig
	log     *zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewStageExecutor(client ProviderClient, cache *ResultCache, cfg ExecutorConfig, log *zerolog.Logger) *StageExecutor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	l := log.With().Str("component", "stage_executor").Logger()
	return &StageExecutor{client: client, cache: cache, cfg: cfg, log: &l, sleep: sleepCtx}
}

// stagePayload is the cached form of a successful stage. Usage is not
// cached: a hit costs nothing.
type stagePayload struct {
	Provider  string           `json:"provider"`
	Model     string           `json:"model,omitempty"`
	Output    string           `json:"output"`
	Citations []model.Citation `json:"citations,omitempty"`
}

// Run executes def for in. On failure it returns a *domain.StageError and a
// partial result carrying the usage and attempts spent.
func (e *StageExecutor) Run(ctx context.Context, def model.StageDefinition, in model.StageInput) (*model.StageResult, error) {
	start := time.Now()
	fp := Fingerprint(def, e.providerRefs(def.Providers), in)
	scope := e.scopeFor(def, in.Request)

	var computed atomic.Pointer[model.StageResult]
	entry, hit, err := e.cache.GetOrCompute(ctx, fp, scope, def.CacheTTL, func(ctx context.Context) ([]byte, error) {
		res, err := e.callProviders(ctx, def, in)
		computed.Store(res)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stagePayload{Provider: res.Provider, Model: res.Model, Output: res.Output, Citations: res.Citations})
	})
	if err != nil {
		partial := &model.StageResult{Stage: def.Name}
		if r := computed.Load(); r != nil {
			cp := *r
			partial = &cp
		}
		partial.Elapsed = time.Since(start)
		return partial, asStageError(def.Name, err)
	}

	if !hit {
		res := *computed.Load()
		res.Elapsed = time.Since(start)
		return &res, nil
	}

	var p stagePayload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		logging.With(ctx, e.log).Warn().Err(err).Str("fingerprint", fp).Msg("unreadable stage payload; recomputing")
		_ = e.cache.Invalidate(ctx, fp, scope)
		res, err := e.callProviders(ctx, def, in)
		res.Elapsed = time.Since(start)
		return res, err
	}
	return &model.StageResult{
		Stage:     def.Name,
		Provider:  p.Provider,
		Model:     p.Model,
		Output:    p.Output,
		Citations: p.Citations,
		CacheHit:  true,
		Elapsed:   time.Since(start),
	}, nil
}

func (e *StageExecutor) callProviders(ctx context.Context, def model.StageDefinition, in model.StageInput) (*model.StageResult, error) {
	log := logging.With(ctx, e.log)
	res := &model.StageResult{Stage: def.Name}
	if len(def.Providers) == 0 {
		return res, &domain.StageError{Stage: string(def.Name), LastKind: domain.KindUnavailable, Err: domain.ErrNoProviders}
	}

	call := e.prompts.Build(def, in)
	attempted := make([]string, 0, len(def.Providers))
	var last *domain.ProviderError

	for _, name := range def.Providers {
		attempted = append(attempted, name)
		for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
			t0 := time.Now()
			out, err := e.client.Invoke(ctx, name, call, e.cfg.CallTimeout)
			a := model.Attempt{Provider: name, Elapsed: time.Since(t0), Usage: out.Usage}
			res.Usage = res.Usage.Add(out.Usage)

			if err == nil {
				res.Attempts = append(res.Attempts, a)
				res.Provider = name
				res.Model = out.Model
				res.Output = out.Text
				res.Citations = out.Citations
				return res, nil
			}

			pe := asProviderError(name, err)
			a.Kind = string(pe.Kind)
			res.Attempts = append(res.Attempts, a)
			last = pe
			log.Debug().Str("provider", name).Int("attempt", attempt).Str("kind", a.Kind).Msg("stage attempt failed")

			if pe.Kind == domain.KindUnauthorized {
				return res, &domain.StageError{Stage: string(def.Name), LastKind: pe.Kind, Attempted: attempted, Err: pe}
			}
			if ctx.Err() != nil {
				return res, &domain.StageError{Stage: string(def.Name), LastKind: pe.Kind, Attempted: attempted, Err: ctx.Err()}
			}
			if !pe.Kind.Retryable() || attempt == e.cfg.MaxAttempts {
				break
			}
			if err := e.sleep(ctx, e.cfg.Backoff*time.Duration(attempt)); err != nil {
				return res, &domain.StageError{Stage: string(def.Name), LastKind: pe.Kind, Attempted: attempted, Err: err}
			}
		}
	}
	return res, &domain.StageError{Stage: string(def.Name), LastKind: last.Kind, Attempted: attempted, Err: last}
}

func (e *StageExecutor) providerRefs(names []string) []ProviderRef {
	refs := make([]ProviderRef, 0, len(names))
	for _, n := range names {
		m, _ := e.client.Model(n)
		refs = append(refs, ProviderRef{Name: n, Model: m})
	}
	return refs
}

func (e *StageExecutor) scopeFor(def model.StageDefinition, req model.GenerationRequest) model.CacheScope {
	if def.Category == model.CategoryEvidence && req.ShareEvidence && e.cfg.AllowSharedEvidence {
		return model.SharedScope(model.CategoryEvidence)
	}
	return model.PrivateScope(req.OrgID, def.Category)
}

func asProviderError(name string, err error) *domain.ProviderError {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	kind := domain.KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.KindTimeout
	}
	return domain.NewProviderError(name, kind, err)
}

// asStageError keeps StageErrors as they are; anything else reaching here is
// a context error while waiting on a shared computation.
func asStageError(stage model.StageName, err error) error {
	var se *domain.StageError
	if errors.As(err, &se) {
		return err
	}
	kind := domain.KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.KindTimeout
	}
	return &domain.StageError{Stage: string(stage), LastKind: kind, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
