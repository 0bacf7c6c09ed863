// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Provider = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	name         string
	client       *genai.Client
	defaultModel string
	maxOut       int
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, name, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	if name == "" {
		name = "gemini"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{name: name, client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiAdapter) Name() string { return g.name }

func (g *GeminiAdapter) Invoke(ctx context.Context, call adapter.ProviderCall) (adapter.ProviderOutput, error) {
	system, contents := toGenAIContents(call.Messages)
	if len(contents) == 0 {
		return adapter.ProviderOutput{}, invalidResponse(g.name, "no messages")
	}
	modelName := modelOrDefault(call.Model, g.defaultModel)

	cfg := &genai.GenerateContentConfig{}
	if n := firstPositive(call.MaxTokens, g.maxOut); n > 0 {
		cfg.MaxOutputTokens = int32(n)
	}
	if system != "" {
		// Gemini takes system prompts as a config field, not a history role.
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		return adapter.ProviderOutput{}, g.mapError(err)
	}

	out := adapter.ProviderOutput{Model: modelName}
	if resp != nil && resp.UsageMetadata != nil {
		out.Usage = usageOf(
			int64(resp.UsageMetadata.PromptTokenCount),
			int64(resp.UsageMetadata.CandidatesTokenCount),
			int64(resp.UsageMetadata.TotalTokenCount),
		)
	}
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var b strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			if p != nil {
				b.WriteString(p.Text)
			}
		}
		out.Text = b.String()
	}
	if strings.TrimSpace(out.Text) == "" {
		return out, invalidResponse(g.name, "empty candidate")
	}
	return out, nil
}

func (g *GeminiAdapter) mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{Provider: g.name, Kind: KindFromStatus(apiErr.Code), StatusCode: apiErr.Code, Err: errors.New(apiErr.Status)}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &domain.ProviderError{Provider: g.name, Kind: KindFromStatus(apiErrPtr.Code), StatusCode: apiErrPtr.Code, Err: errors.New(apiErrPtr.Status)}
	}
	return Classify(g.name, err)
}

// toGenAIContents splits out system messages and maps the rest to Gemini roles.
func toGenAIContents(msgs []adapter.Message) (string, []*genai.Content) {
	var system []string
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, m.Content)
			continue
		case "assistant", "model":
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return strings.Join(system, "\n\n"), out
}
