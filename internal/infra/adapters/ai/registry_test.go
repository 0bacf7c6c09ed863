package ai_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
	ai "longform-pipeline/internal/infra/adapters/ai"
)

type recorderStub struct {
	mu     sync.Mutex
	events []model.UsageEvent
}

func (r *recorderStub) RecordUsage(_ context.Context, ev model.UsageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type providerFunc struct {
	name string
	fn   func(ctx context.Context, call adapter.ProviderCall) (adapter.ProviderOutput, error)
}

func (p providerFunc) Name() string { return p.name }
func (p providerFunc) Invoke(ctx context.Context, call adapter.ProviderCall) (adapter.ProviderOutput, error) {
	return p.fn(ctx, call)
}

func newTestRegistry(t *testing.T, specs ...ai.ProviderSpec) (*ai.Registry, *recorderStub) {
	t.Helper()
	logger := zerolog.Nop()
	rec := &recorderStub{}
	reg := ai.NewRegistry(&logger, rec).WithEstimator(ai.HeuristicTokens)
	for _, s := range specs {
		require.NoError(t, reg.Register(s))
	}
	return reg, rec
}

var draftCall = adapter.ProviderCall{
	Stage:    model.StageDraft,
	OrgID:    "org-a",
	Messages: []adapter.Message{{Role: "user", Content: "write about go"}},
}

func TestRegistry_SuccessChargesUsage(t *testing.T) {
	p := ai.NewStaticAdapter("alpha", 0)
	reg, rec := newTestRegistry(t, ai.ProviderSpec{
		Provider: p, Model: "m1", Timeout: time.Second,
		Pricing: ai.Pricing{InputMicros: 2, OutputMicros: 3},
	})

	out, err := reg.Invoke(context.Background(), "alpha", draftCall, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Text)
	want := int64(out.Usage.PromptTokens*2 + out.Usage.CompletionTokens*3)
	assert.Equal(t, want, out.Usage.CostMicros)

	require.Len(t, rec.events, 1)
	assert.True(t, rec.events[0].Success)
	assert.Equal(t, "org-a", rec.events[0].OrgID)
	assert.Equal(t, "draft", rec.events[0].Stage)
}

func TestRegistry_FailureStillEmitsUsage(t *testing.T) {
	p := ai.NewStaticAdapter("alpha", 0, string(domain.KindRateLimited))
	reg, rec := newTestRegistry(t, ai.ProviderSpec{
		Provider: p, Timeout: time.Second,
		Pricing: ai.Pricing{InputMicros: 1, CallMicros: 100},
	})

	out, err := reg.Invoke(context.Background(), "alpha", draftCall, 0)
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.KindRateLimited, pe.Kind)
	assert.Positive(t, out.Usage.PromptTokens, "prompt tokens are estimated for failed calls")
	assert.Equal(t, int64(out.Usage.PromptTokens)+100, out.Usage.CostMicros)

	require.Len(t, rec.events, 1)
	assert.False(t, rec.events[0].Success)
	assert.Equal(t, "rate_limited", rec.events[0].Kind)
}

func TestRegistry_TimeoutMapsToTimeout(t *testing.T) {
	slow := ai.NewStaticAdapter("slow", 200*time.Millisecond)
	reg, _ := newTestRegistry(t, ai.ProviderSpec{Provider: slow, Timeout: time.Minute})

	_, err := reg.Invoke(context.Background(), "slow", draftCall, 20*time.Millisecond)
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.KindTimeout, pe.Kind)
}

func TestRegistry_EmptyOutputIsInvalid(t *testing.T) {
	empty := providerFunc{name: "empty", fn: func(context.Context, adapter.ProviderCall) (adapter.ProviderOutput, error) {
		return adapter.ProviderOutput{Text: "   "}, nil
	}}
	reg, _ := newTestRegistry(t, ai.ProviderSpec{Provider: empty})

	_, err := reg.Invoke(context.Background(), "empty", draftCall, time.Second)
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.KindInvalidResponse, pe.Kind)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Invoke(context.Background(), "ghost", draftCall, time.Second)
	assert.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg, _ := newTestRegistry(t, ai.ProviderSpec{Provider: ai.NewStaticAdapter("a", 0)})
	err := reg.Register(ai.ProviderSpec{Provider: ai.NewStaticAdapter("A", 0)})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, []string{"a"}, reg.Names())
}

func TestLimited_RespectsContextWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	blocking := providerFunc{name: "b", fn: func(ctx context.Context, _ adapter.ProviderCall) (adapter.ProviderOutput, error) {
		<-release
		return adapter.ProviderOutput{Text: "ok"}, nil
	}}
	lim := ai.NewLimited(blocking, 1)

	done := make(chan struct{})
	go func() {
		_, _ = lim.Invoke(context.Background(), draftCall)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := lim.Invoke(ctx, draftCall)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	<-done
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.ProviderErrorKind
	}{
		{"deadline", context.DeadlineExceeded, domain.KindTimeout},
		{"401", &ai.HTTPStatusError{StatusCode: 401}, domain.KindUnauthorized},
		{"403", &ai.HTTPStatusError{StatusCode: 403}, domain.KindUnauthorized},
		{"429", &ai.HTTPStatusError{StatusCode: 429}, domain.KindRateLimited},
		{"504", &ai.HTTPStatusError{StatusCode: 504}, domain.KindTimeout},
		{"503", &ai.HTTPStatusError{StatusCode: 503}, domain.KindUnavailable},
		{"422", &ai.HTTPStatusError{StatusCode: 422}, domain.KindInvalidResponse},
		{"transport", errors.New("connection refused"), domain.KindUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ai.Classify("p", tc.err).Kind)
		})
	}
}
