package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Provider = (*StaticAdapter)(nil)

// StaticAdapter is an in-process provider for local/dev runs and tests.
// It answers deterministically from the prompt and can be scripted to fail:
// each Invoke consumes the next script entry ("ok" or a provider error kind);
// once the script is exhausted every call succeeds.
type StaticAdapter struct {
	name  string
	delay time.Duration

	mu     sync.Mutex
	script []string
	calls  int
}

func NewStaticAdapter(name string, delay time.Duration, script ...string) *StaticAdapter {
	if name == "" {
		name = "static"
	}
	return &StaticAdapter{name: name, delay: delay, script: script}
}

func (s *StaticAdapter) Name() string { return s.name }

// Calls returns how many times Invoke ran.
func (s *StaticAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StaticAdapter) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) == 0 {
		return "ok"
	}
	step := s.script[0]
	s.script = s.script[1:]
	return step
}

func (s *StaticAdapter) Invoke(ctx context.Context, call adapter.ProviderCall) (adapter.ProviderOutput, error) {
	step := s.next()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return adapter.ProviderOutput{}, ctx.Err()
		}
	}
	if step != "ok" {
		return adapter.ProviderOutput{}, domain.NewProviderError(s.name, domain.ProviderErrorKind(step), errors.New("scripted failure"))
	}

	if call.Query != nil {
		return s.evidence(call.Query), nil
	}
	var prompt strings.Builder
	for _, m := range call.Messages {
		prompt.WriteString(m.Content)
	}
	text := fmt.Sprintf("[%s/%s] %s", s.name, call.Stage, summarize(prompt.String(), 160))
	pt := len(prompt.String())/4 + 1
	ct := len(text)/4 + 1
	return adapter.ProviderOutput{
		Text:  text,
		Model: "static-" + s.name,
		Usage: model.Usage{PromptTokens: pt, CompletionTokens: ct, TotalTokens: pt + ct},
	}, nil
}

func (s *StaticAdapter) evidence(q *adapter.DataQuery) adapter.ProviderOutput {
	terms := append([]string{q.Query}, q.Keywords...)
	out := adapter.ProviderOutput{Model: "static-" + s.name}
	var digest strings.Builder
	for i, t := range terms {
		c := model.Citation{
			ID:      fmt.Sprintf("%s-%d", s.name, i+1),
			Title:   "About " + t,
			URL:     "https://example.org/" + strings.ReplaceAll(strings.ToLower(t), " ", "-"),
			Snippet: "Background material on " + t + ".",
		}
		out.Citations = append(out.Citations, c)
		fmt.Fprintf(&digest, "[%s] %s\n", c.ID, c.Title)
	}
	out.Text = strings.TrimSpace(digest.String())
	out.Usage = model.Usage{TotalTokens: len(terms)}
	return out
}

func summarize(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
