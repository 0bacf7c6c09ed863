package model

import "time"

type StageName string

const (
	StageResearch  StageName = "research"
	StageOutline   StageName = "outline"
	StageDraft     StageName = "draft"
	StageEnhance   StageName = "enhance"
	StageFactCheck StageName = "fact_check"
	StageCitations StageName = "citations"
	StagePolish    StageName = "polish"
)

// AllStages lists stages in their canonical order.
var AllStages = []StageName{
	StageResearch, StageOutline, StageDraft, StageEnhance,
	StageFactCheck, StageCitations, StagePolish,
}

// StageRole says what a stage contributes to the final result.
type StageRole string

const (
	RoleEvidence StageRole = "evidence" // search results and fetched sources
	RoleOutline  StageRole = "outline"
	RoleContent  StageRole = "content" // replaces the running article text
	RoleReview   StageRole = "review"  // notes about the article, never replaces it
)

// CacheCategory partitions cached artifacts for shared-scope opt-in.
type CacheCategory string

const (
	CategoryEvidence   CacheCategory = "evidence"
	CategoryGeneration CacheCategory = "generation"
)

// StageDefinition is one entry of a StagePlan.
type StageDefinition struct {
	Name      StageName     `json:"name"`
	Role      StageRole     `json:"role"`
	Fatal     bool          `json:"fatal"`
	Providers []string      `json:"providers"`
	Category  CacheCategory `json:"category"`
	CacheTTL  time.Duration `json:"cacheTtl"`
	// Group, when set, marks consecutive stages that share no data dependency
	// and may run concurrently.
	Group string `json:"group,omitempty"`
}

// StagePlan is built once from a request and read-only afterwards.
type StagePlan struct {
	Tier   PlanTier          `json:"tier"`
	Stages []StageDefinition `json:"stages"`
}

func (p StagePlan) Names() []string {
	out := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		out = append(out, string(s.Name))
	}
	return out
}

// Batches splits the plan into dispatch units: a single stage, or a run of
// consecutive stages sharing a Group.
func (p StagePlan) Batches() [][]StageDefinition {
	var out [][]StageDefinition
	for i := 0; i < len(p.Stages); {
		j := i + 1
		if g := p.Stages[i].Group; g != "" {
			for j < len(p.Stages) && p.Stages[j].Group == g {
				j++
			}
		}
		out = append(out, p.Stages[i:j])
		i = j
	}
	return out
}

// PriorOutput is the contribution of an earlier stage in the same run.
type PriorOutput struct {
	Stage     StageName  `json:"stage"`
	Role      StageRole  `json:"role"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}

// StageInput is the request plus everything earlier stages produced.
type StageInput struct {
	Request GenerationRequest
	Prior   []PriorOutput
	JobID   string
}

// Latest returns the most recent prior output with the given role.
func (in StageInput) Latest(role StageRole) (PriorOutput, bool) {
	for i := len(in.Prior) - 1; i >= 0; i-- {
		if in.Prior[i].Role == role {
			return in.Prior[i], true
		}
	}
	return PriorOutput{}, false
}

// Attempt records one provider call made by a stage.
type Attempt struct {
	Provider string        `json:"provider"`
	Kind     string        `json:"kind,omitempty"` // empty on success
	Elapsed  time.Duration `json:"elapsed"`
	Usage    Usage         `json:"usage"`
}

// StageResult is produced once per stage per run and never mutated.
type StageResult struct {
	Stage     StageName     `json:"stage"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model,omitempty"`
	Output    string        `json:"output"`
	Citations []Citation    `json:"citations,omitempty"`
	Usage     Usage         `json:"usage"`
	Elapsed   time.Duration `json:"elapsed"`
	CacheHit  bool          `json:"cacheHit"`
	Attempts  []Attempt     `json:"attempts,omitempty"`
}
