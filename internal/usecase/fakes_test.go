package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
	"longform-pipeline/internal/infra/cache"
)

var nopLog = zerolog.Nop()

// fakeClient records every call. InvokeFunc decides the outcome; the
// default answers successfully with fixed usage.
type fakeClient struct {
	mu         sync.Mutex
	calls      []string
	InvokeFunc func(ctx context.Context, name string, call adapter.ProviderCall) (adapter.ProviderOutput, error)
}

func (f *fakeClient) Invoke(ctx context.Context, name string, call adapter.ProviderCall, _ time.Duration) (adapter.ProviderOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.InvokeFunc != nil {
		return f.InvokeFunc(ctx, name, call)
	}
	return okOutput(name, call), nil
}

func (f *fakeClient) Model(name string) (string, bool) { return "m-" + name, true }

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func okOutput(name string, call adapter.ProviderCall) adapter.ProviderOutput {
	out := adapter.ProviderOutput{
		Text:  name + ":" + string(call.Stage),
		Model: "m-" + name,
		Usage: model.Usage{PromptTokens: 6, CompletionTokens: 4, TotalTokens: 10, CostMicros: 5},
	}
	if call.Query != nil {
		out.Citations = []model.Citation{{ID: name + "-1", Title: call.Query.Query}}
	}
	return out
}

// scripted fails each provider with the listed kinds, in order, before it
// starts succeeding. Failed calls are charged a fixed usage.
func scripted(plan map[string][]domain.ProviderErrorKind) func(context.Context, string, adapter.ProviderCall) (adapter.ProviderOutput, error) {
	var mu sync.Mutex
	return func(_ context.Context, name string, call adapter.ProviderCall) (adapter.ProviderOutput, error) {
		mu.Lock()
		defer mu.Unlock()
		if kinds := plan[name]; len(kinds) > 0 {
			plan[name] = kinds[1:]
			return adapter.ProviderOutput{Usage: model.Usage{PromptTokens: 3, TotalTokens: 3, CostMicros: 1}},
				domain.NewProviderError(name, kinds[0], errors.New("scripted"))
		}
		return okOutput(name, call), nil
	}
}

func newTestCache() *ResultCache {
	return NewResultCache(cache.NewMemory(), &nopLog)
}

func newTestExecutor(t *testing.T, client ProviderClient, rc *ResultCache, shared bool) *StageExecutor {
	t.Helper()
	if rc == nil {
		rc = newTestCache()
	}
	e := NewStageExecutor(client, rc, ExecutorConfig{MaxAttempts: 2, Backoff: time.Millisecond, AllowSharedEvidence: shared}, &nopLog)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func testRequest(org string) model.GenerationRequest {
	return model.GenerationRequest{
		OrgID:    org,
		Topic:    "Go concurrency patterns",
		Keywords: []string{"goroutines", "channels"},
		Plan:     model.PlanStandard,
	}.Normalize()
}

func draftDef(providers ...string) model.StageDefinition {
	return model.StageDefinition{
		Name: model.StageDraft, Role: model.RoleContent, Fatal: true,
		Providers: providers, Category: model.CategoryGeneration, CacheTTL: time.Hour,
	}
}

func researchDef(providers ...string) model.StageDefinition {
	return model.StageDefinition{
		Name: model.StageResearch, Role: model.RoleEvidence,
		Providers: providers, Category: model.CategoryEvidence, CacheTTL: time.Hour,
	}
}

// stageRunnerFunc adapts a function to StageRunner.
type stageRunnerFunc func(ctx context.Context, def model.StageDefinition, in model.StageInput) (*model.StageResult, error)

func (f stageRunnerFunc) Run(ctx context.Context, def model.StageDefinition, in model.StageInput) (*model.StageResult, error) {
	return f(ctx, def, in)
}

// recordingObserver captures the observer callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	started  []model.StageName
	finished []model.StageName
	CancelFn func() bool
}

func (r *recordingObserver) StageStarted(_ context.Context, s model.StageName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, s)
}

func (r *recordingObserver) StageFinished(_ context.Context, s model.StageName, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
}

func (r *recordingObserver) CancelRequested(context.Context) bool {
	if r.CancelFn != nil {
		return r.CancelFn()
	}
	return false
}
