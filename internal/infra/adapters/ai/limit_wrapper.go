package ai

import (
	"context"

	"longform-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Provider = (*limitedProvider)(nil)

// limitedProvider caps in-flight calls to one provider.
type limitedProvider struct {
	inner adapter.Provider
	sem   chan struct{}
}

func NewLimited(inner adapter.Provider, maxConcurrent int) adapter.Provider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedProvider{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedProvider) Name() string { return l.inner.Name() }

func (l *limitedProvider) Invoke(ctx context.Context, call adapter.ProviderCall) (adapter.ProviderOutput, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		// waiting for a slot counts against the call timeout
		return adapter.ProviderOutput{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Invoke(ctx, call)
}
