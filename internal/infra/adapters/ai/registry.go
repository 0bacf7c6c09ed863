// File: internal/infra/adapters/ai/registry.go
package ai

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
	"longform-pipeline/internal/infra/logging"
	"longform-pipeline/internal/infra/metrics"
)

// Pricing converts usage to cost. All prices are in micro-units.
type Pricing struct {
	InputMicros  int64 // per prompt token
	OutputMicros int64 // per completion token
	CallMicros   int64 // flat per call, charged on failures too
}

func (p Pricing) Cost(u model.Usage) int64 {
	return int64(u.PromptTokens)*p.InputMicros + int64(u.CompletionTokens)*p.OutputMicros + p.CallMicros
}

// ProviderSpec is one registered provider with its call settings.
type ProviderSpec struct {
	Provider adapter.Provider
	Model    string
	Timeout  time.Duration
	Pricing  Pricing
}

// Registry is the provider client: it looks providers up by name, bounds
// each call with a timeout, maps failures to domain.ProviderError and emits
// one usage event per attempted call. It never retries.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]ProviderSpec
	recorder adapter.UsageRecorder
	estimate TokenEstimator
	log      *zerolog.Logger
}

func NewRegistry(log *zerolog.Logger, recorder adapter.UsageRecorder) *Registry {
	l := log.With().Str("component", "provider_client").Logger()
	return &Registry{
		specs:    make(map[string]ProviderSpec),
		recorder: recorder,
		estimate: EstimateTokens,
		log:      &l,
	}
}

// WithEstimator replaces the token estimator used when providers report no usage.
func (r *Registry) WithEstimator(e TokenEstimator) *Registry {
	r.estimate = e
	return r
}

func (r *Registry) Register(spec ProviderSpec) error {
	name := strings.ToLower(spec.Provider.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[name]; ok {
		return domain.ErrAlreadyExists
	}
	r.specs[name] = spec
	return nil
}

func (r *Registry) lookup(name string) (ProviderSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[strings.ToLower(name)]
	return s, ok
}

// Model returns the configured model of a provider.
func (r *Registry) Model(name string) (string, bool) {
	s, ok := r.lookup(name)
	return s.Model, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for n := range r.specs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invoke makes exactly one call. On failure the returned output still
// carries the usage charged for the attempt.
func (r *Registry) Invoke(ctx context.Context, name string, call adapter.ProviderCall, timeout time.Duration) (adapter.ProviderOutput, error) {
	spec, ok := r.lookup(name)
	if !ok {
		return adapter.ProviderOutput{}, domain.NewProviderError(name, domain.KindUnavailable, domain.ErrUnknownProvider)
	}
	if call.Model == "" {
		call.Model = spec.Model
	}
	d := spec.Timeout
	if timeout > 0 && (d <= 0 || timeout < d) {
		d = timeout
	}
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if d > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d)
	}
	start := time.Now()
	out, err := spec.Provider.Invoke(callCtx, call)
	latency := time.Since(start)
	cancel()

	if err == nil && strings.TrimSpace(out.Text) == "" && len(out.Citations) == 0 {
		err = invalidResponse(name, "empty output")
	}
	var pe *domain.ProviderError
	if err != nil {
		pe = Classify(name, err)
	}

	out.Usage = r.account(spec, call, out, err == nil)
	r.emit(ctx, name, call, out, latency, pe)

	if pe != nil {
		return out, pe
	}
	return out, nil
}

func (r *Registry) account(spec ProviderSpec, call adapter.ProviderCall, out adapter.ProviderOutput, ok bool) model.Usage {
	u := out.Usage
	if u.PromptTokens == 0 && len(call.Messages) > 0 {
		u.PromptTokens = r.estimate(call.Model, call.Messages)
	}
	if ok && u.CompletionTokens == 0 && out.Text != "" && len(call.Messages) > 0 {
		u.CompletionTokens = r.estimate(call.Model, []adapter.Message{{Role: "assistant", Content: out.Text}})
	}
	if sum := u.PromptTokens + u.CompletionTokens; u.TotalTokens < sum {
		u.TotalTokens = sum
	}
	u.CostMicros = spec.Pricing.Cost(u)
	return u
}

func (r *Registry) emit(ctx context.Context, name string, call adapter.ProviderCall, out adapter.ProviderOutput, latency time.Duration, pe *domain.ProviderError) {
	success := pe == nil
	metrics.ObserveProviderCall(name, string(call.Stage), out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Usage.TotalTokens, out.Usage.CostMicros, latency, success)

	ev := model.UsageEvent{
		Provider: name,
		Model:    modelOrDefault(out.Model, call.Model),
		Stage:    string(call.Stage),
		OrgID:    call.OrgID,
		JobID:    call.JobID,
		Usage:    out.Usage,
		Latency:  latency,
		Success:  success,
		At:       time.Now().UTC(),
	}
	if pe != nil {
		ev.Kind = string(pe.Kind)
		metrics.IncProviderError(name, ev.Kind)
		logging.With(ctx, r.log).Debug().Err(pe).Str("provider", name).Str("stage", ev.Stage).Msg("provider call failed")
	}
	if r.recorder != nil {
		r.recorder.RecordUsage(ctx, ev)
	}
}
