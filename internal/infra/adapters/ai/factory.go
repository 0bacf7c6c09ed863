package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"longform-pipeline/internal/config"
	"longform-pipeline/internal/domain/ports/adapter"
	"longform-pipeline/internal/infra/logging"
)

// NewFromConfig builds one adapter per configured provider and registers
// them, each behind its concurrency limit.
func NewFromConfig(ctx context.Context, providers []config.ProviderConfig, log *zerolog.Logger, recorder adapter.UsageRecorder, dev bool) (*Registry, error) {
	reg := NewRegistry(log, recorder)
	httpClient := &http.Client{}
	for _, pc := range providers {
		var (
			p   adapter.Provider
			err error
		)
		switch pc.Kind {
		case "openai":
			p, err = NewOpenAIAdapter(pc.Name, pc.APIKey, pc.Model, pc.BaseURL, pc.MaxOutputTokens)
		case "gemini":
			p, err = NewGeminiAdapter(ctx, pc.Name, pc.APIKey, pc.BaseURL, pc.Model, pc.MaxOutputTokens)
		case "compat":
			p, err = NewCompatAdapter(pc.Name, pc.APIKey, pc.Model, pc.BaseURL, pc.MaxOutputTokens, httpClient)
		case "data":
			p, err = NewDataAdapter(pc.Name, pc.APIKey, pc.BaseURL, 0, httpClient)
		case "static":
			p = NewStaticAdapter(pc.Name, 0, pc.Script...)
		default:
			err = fmt.Errorf("unknown provider kind %q", pc.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		if err := reg.Register(ProviderSpec{
			Provider: NewLimited(p, pc.MaxConcurrent),
			Model:    pc.Model,
			Timeout:  pc.Timeout,
			Pricing: Pricing{
				InputMicros:  pc.InputPriceMicrosPerTok,
				OutputMicros: pc.OutputPriceMicrosPerTok,
				CallMicros:   pc.CallPriceMicros,
			},
		}); err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		log.Info().
			Str("provider", pc.Name).
			Str("kind", pc.Kind).
			Str("model", pc.Model).
			Str("api_key", logging.Redact(pc.APIKey, dev)).
			Msg("provider registered")
	}
	return reg, nil
}
