package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"longform-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.Provider = (*CompatAdapter)(nil)

// CompatAdapter talks to any OpenAI-compatible gateway over plain HTTP.
// Chat completions path is the same as OpenAI: /chat/completions
// Authorization: Bearer <key>
type CompatAdapter struct {
	name   string
	apiKey string
	base   string
	model  string
	maxOut int
	client *http.Client
}

func NewCompatAdapter(name, apiKey, model, base string, maxOut int, client *http.Client) (*CompatAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("compat api key empty")
	}
	if base == "" {
		return nil, errors.New("compat base url empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if name == "" {
		name = "compat"
	}
	if client == nil {
		// per-call deadlines come from ctx
		client = &http.Client{}
	}
	return &CompatAdapter{
		name:   name,
		apiKey: apiKey,
		base:   strings.TrimRight(base, "/"),
		model:  model,
		maxOut: maxOut,
		client: client,
	}, nil
}

func (c *CompatAdapter) Name() string { return c.name }

type compatRequest struct {
	Model     string            `json:"model"`
	Messages  []adapter.Message `json:"messages"`
	MaxTokens int               `json:"max_tokens,omitempty"`
}

type compatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message adapter.Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (c *CompatAdapter) Invoke(ctx context.Context, call adapter.ProviderCall) (adapter.ProviderOutput, error) {
	if len(call.Messages) == 0 {
		return adapter.ProviderOutput{}, invalidResponse(c.name, "no messages")
	}
	modelName := modelOrDefault(call.Model, c.model)
	b, err := json.Marshal(compatRequest{
		Model:     modelName,
		Messages:  call.Messages,
		MaxTokens: firstPositive(call.MaxTokens, c.maxOut),
	})
	if err != nil {
		return adapter.ProviderOutput{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return adapter.ProviderOutput{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return adapter.ProviderOutput{}, Classify(c.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return adapter.ProviderOutput{}, Classify(c.name, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var payload compatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return adapter.ProviderOutput{}, invalidResponse(c.name, "decode: "+err.Error())
	}
	out := adapter.ProviderOutput{
		Model: modelOrDefault(payload.Model, modelName),
		Usage: usageOf(payload.Usage.PromptTokens, payload.Usage.CompletionTokens, payload.Usage.TotalTokens),
	}
	for _, ch := range payload.Choices {
		if ch.Message.Content != "" {
			out.Text = ch.Message.Content
			return out, nil
		}
	}
	return out, invalidResponse(c.name, "no choice content")
}
