package logging

import (
	"context"

	"github.com/rs/zerolog"

	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
)

var _ adapter.UsageRecorder = (*UsageLogger)(nil)

// UsageLogger writes one structured line per provider call. It is the
// attribution sink; shipping the lines elsewhere is the log pipeline's job.
type UsageLogger struct {
	log *zerolog.Logger
}

func NewUsageLogger(base *zerolog.Logger) *UsageLogger {
	l := base.With().Str("component", "usage").Logger()
	return &UsageLogger{log: &l}
}

func (u *UsageLogger) RecordUsage(ctx context.Context, ev model.UsageEvent) {
	e := u.log.Info()
	if !ev.Success {
		e = u.log.Warn().Str("kind", ev.Kind)
	}
	e.Str("provider", ev.Provider).
		Str("model", ev.Model).
		Str("stage", ev.Stage).
		Str("org_id", ev.OrgID).
		Str("job_id", ev.JobID).
		Str("trace_id", TraceIDFrom(ctx)).
		Int("prompt_tokens", ev.Usage.PromptTokens).
		Int("completion_tokens", ev.Usage.CompletionTokens).
		Int("total_tokens", ev.Usage.TotalTokens).
		Int64("cost_micros", ev.Usage.CostMicros).
		Dur("latency", ev.Latency).
		Bool("success", ev.Success).
		Msg("provider_usage")
}
