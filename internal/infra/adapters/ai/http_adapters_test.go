package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
	ai "longform-pipeline/internal/infra/adapters/ai"
)

func TestCompatAdapter(t *testing.T) {
	var status int
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c, err := ai.NewCompatAdapter("gw", "key", "m", srv.URL+"/v1", 0, srv.Client())
	require.NoError(t, err)

	t.Run("success with usage", func(t *testing.T) {
		status = http.StatusOK
		body = `{"model":"m","choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`
		out, err := c.Invoke(context.Background(), draftCall)
		require.NoError(t, err)
		assert.Equal(t, "hello", out.Text)
		assert.Equal(t, model.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, out.Usage)
	})

	kinds := map[int]domain.ProviderErrorKind{
		http.StatusTooManyRequests:    domain.KindRateLimited,
		http.StatusUnauthorized:       domain.KindUnauthorized,
		http.StatusServiceUnavailable: domain.KindUnavailable,
		http.StatusGatewayTimeout:     domain.KindTimeout,
	}
	for code, kind := range kinds {
		t.Run(http.StatusText(code), func(t *testing.T) {
			status = code
			body = `{"error":"secret upstream detail"}`
			_, err := c.Invoke(context.Background(), draftCall)
			var pe *domain.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, kind, pe.Kind)
			assert.NotContains(t, err.Error(), "secret upstream detail")
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		status = http.StatusOK
		body = `{not json`
		_, err := c.Invoke(context.Background(), draftCall)
		var pe *domain.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.KindInvalidResponse, pe.Kind)
	})
}

func TestDataAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q adapter.DataQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "golang", q.Query)
		assert.Equal(t, 8, q.Limit)
		_, _ = w.Write([]byte(`{"results":[{"id":"r1","title":"Go","url":"https://go.dev","snippet":"The Go language"}]}`))
	}))
	defer srv.Close()

	d, err := ai.NewDataAdapter("serp", "", srv.URL, 0, srv.Client())
	require.NoError(t, err)

	out, err := d.Invoke(context.Background(), adapter.ProviderCall{
		Stage: model.StageResearch,
		Query: &adapter.DataQuery{Query: "golang"},
	})
	require.NoError(t, err)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, "r1", out.Citations[0].ID)
	assert.Contains(t, out.Text, "https://go.dev")

	_, err = d.Invoke(context.Background(), adapter.ProviderCall{Stage: model.StageResearch})
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.KindInvalidResponse, pe.Kind)
}

func TestOpenAIAdapter(t *testing.T) {
	var status int
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	o, err := ai.NewOpenAIAdapter("openai", "sk-test", "gpt-4o-mini", srv.URL+"/v1", 256)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		status = http.StatusOK
		body = `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"draft text"}}],
"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`
		out, err := o.Invoke(context.Background(), draftCall)
		require.NoError(t, err)
		assert.Equal(t, "draft text", out.Text)
		assert.Equal(t, 10, out.Usage.TotalTokens)
	})

	t.Run("rate limited", func(t *testing.T) {
		status = http.StatusTooManyRequests
		body = `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`
		_, err := o.Invoke(context.Background(), draftCall)
		var pe *domain.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, domain.KindRateLimited, pe.Kind)
		assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	})
}

func TestStaticAdapter_ScriptThenSucceeds(t *testing.T) {
	s := ai.NewStaticAdapter("s", 0, "timeout")
	_, err := s.Invoke(context.Background(), draftCall)
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.KindTimeout, pe.Kind)

	out, err := s.Invoke(context.Background(), draftCall)
	require.NoError(t, err)
	assert.Contains(t, out.Text, "[s/draft]")
	assert.Equal(t, 2, s.Calls())
}
