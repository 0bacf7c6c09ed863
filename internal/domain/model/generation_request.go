package model

import (
	"strings"
	"time"

	"longform-pipeline/internal/domain"
)

type PlanTier string

const (
	PlanFast     PlanTier = "fast"
	PlanStandard PlanTier = "standard"
	PlanPremium  PlanTier = "premium"
)

type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// FeatureFlags select optional stages on top of the plan tier.
type FeatureFlags struct {
	SkipResearch       bool `json:"skipResearch,omitempty"`
	SkipPolish         bool `json:"skipPolish,omitempty"`
	FactCheck          bool `json:"factCheck,omitempty"`
	Citations          bool `json:"citations,omitempty"`
	CitationsMandatory bool `json:"citationsMandatory,omitempty"`
}

// GenerationRequest is immutable once accepted by the orchestrator.
type GenerationRequest struct {
	RequestID     string        `json:"requestId,omitempty"`
	OrgID         string        `json:"orgId"`
	Topic         string        `json:"topic"`
	Keywords      []string      `json:"keywords,omitempty"`
	TargetLength  int           `json:"targetLength"`
	Tone          string        `json:"tone,omitempty"`
	Language      string        `json:"language,omitempty"`
	Plan          PlanTier      `json:"plan"`
	Features      FeatureFlags  `json:"features"`
	EvidenceIDs   []string      `json:"evidenceIds,omitempty"`
	ShareEvidence bool          `json:"shareEvidence,omitempty"`
	Deadline      time.Duration `json:"deadline,omitempty"`
}

const (
	MaxTopicLength  = 500
	MaxKeywords     = 25
	MaxTargetLength = 20000
)

// Normalize fills defaults. It returns a copy and never mutates r.
func (r GenerationRequest) Normalize() GenerationRequest {
	out := r
	out.Topic = strings.TrimSpace(r.Topic)
	if out.Plan == "" {
		out.Plan = PlanStandard
	}
	if out.TargetLength <= 0 {
		out.TargetLength = 1200
	}
	if out.Language == "" {
		out.Language = "en"
	}
	if out.Tone == "" {
		out.Tone = "neutral"
	}
	out.Keywords = append([]string(nil), r.Keywords...)
	out.EvidenceIDs = append([]string(nil), r.EvidenceIDs...)
	return out
}

// Validate checks the fields the pipeline depends on.
func (r GenerationRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.OrgID) == "":
		return domain.ErrInvalidArgument
	case strings.TrimSpace(r.Topic) == "", len(r.Topic) > MaxTopicLength:
		return domain.ErrInvalidArgument
	case len(r.Keywords) > MaxKeywords:
		return domain.ErrInvalidArgument
	case r.TargetLength < 0, r.TargetLength > MaxTargetLength:
		return domain.ErrInvalidArgument
	case r.Deadline < 0:
		return domain.ErrInvalidArgument
	}
	switch r.Plan {
	case "", PlanFast, PlanStandard, PlanPremium:
	default:
		return domain.ErrUnknownPlan
	}
	return nil
}
