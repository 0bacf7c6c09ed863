package adapter

import (
	"context"

	"longform-pipeline/internal/domain/model"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// DataQuery is the input of structured-data providers (search, keyword data).
type DataQuery struct {
	Query       string   `json:"q"`
	Keywords    []string `json:"keywords,omitempty"`
	Language    string   `json:"hl,omitempty"`
	EvidenceIDs []string `json:"ids,omitempty"`
	Limit       int      `json:"num,omitempty"`
}

// ProviderCall is one outbound request. Chat providers read Messages,
// structured-data providers read Query.
type ProviderCall struct {
	Stage     model.StageName
	OrgID     string
	JobID     string
	Model     string
	Messages  []Message
	Query     *DataQuery
	MaxTokens int
}

// ProviderOutput is what an adapter returns on success.
type ProviderOutput struct {
	Text      string
	Citations []model.Citation
	Usage     model.Usage
	Model     string
}

// Provider is the port implemented by one adapter per backend.
// Adapters map their own failures to *domain.ProviderError where they can;
// they never retry.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, call ProviderCall) (ProviderOutput, error)
}

// UsageRecorder receives one event per attempted provider call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev model.UsageEvent)
}
