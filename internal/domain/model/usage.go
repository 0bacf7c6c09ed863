package model

import "time"

// Usage is token and cost accounting for one or more provider calls.
type Usage struct {
	PromptTokens     int   `json:"promptTokens"`
	CompletionTokens int   `json:"completionTokens"`
	TotalTokens      int   `json:"totalTokens"`
	CostMicros       int64 `json:"costMicros"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		CostMicros:       u.CostMicros + o.CostMicros,
	}
}

func (u Usage) IsZero() bool { return u == Usage{} }

// UsageEvent is emitted once per attempted provider call, successful or not.
type UsageEvent struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Stage    string        `json:"stage"`
	OrgID    string        `json:"orgId"`
	JobID    string        `json:"jobId,omitempty"`
	Usage    Usage         `json:"usage"`
	Latency  time.Duration `json:"latency"`
	Success  bool          `json:"success"`
	Kind     string        `json:"kind,omitempty"`
	At       time.Time     `json:"at"`
}
