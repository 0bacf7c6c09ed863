package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.Provider = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.Provider using the Chat Completions API.
// The SDK's own retries are disabled; retry policy belongs to the stage executor.
type OpenAIAdapter struct {
	name   string
	client openai.Client
	model  string
	maxOut int
}

func NewOpenAIAdapter(name, apiKey, model, baseURL string, maxOut int) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if name == "" {
		name = "openai"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &OpenAIAdapter{
		name:   name,
		client: openai.NewClient(opts...),
		model:  model,
		maxOut: maxOut,
	}, nil
}

func (o *OpenAIAdapter) Name() string { return o.name }

func (o *OpenAIAdapter) Invoke(ctx context.Context, call adapter.ProviderCall) (adapter.ProviderOutput, error) {
	if len(call.Messages) == 0 {
		return adapter.ProviderOutput{}, invalidResponse(o.name, "no messages")
	}
	modelName := modelOrDefault(call.Model, o.model)
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelName),
		Messages: toOpenAIMessages(call.Messages),
	}
	if n := firstPositive(call.MaxTokens, o.maxOut); n > 0 {
		params.MaxCompletionTokens = openai.Int(int64(n))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return adapter.ProviderOutput{}, o.mapError(err)
	}

	out := adapter.ProviderOutput{Model: modelName}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	out.Usage = usageOf(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			out.Text = c.Message.Content
			return out, nil
		}
	}
	return out, invalidResponse(o.name, "no choice content")
}

func (o *OpenAIAdapter) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{
			Provider:   o.name,
			Kind:       KindFromStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Err:        errors.New(apiErr.Type),
		}
	}
	return Classify(o.name, err)
}

func toOpenAIMessages(msgs []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func usageOf(prompt, completion, total int64) model.Usage {
	if total == 0 {
		total = prompt + completion
	}
	return model.Usage{PromptTokens: int(prompt), CompletionTokens: int(completion), TotalTokens: int(total)}
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
