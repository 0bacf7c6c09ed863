// File: internal/usecase/plan.go
package usecase

import (
	"time"

	"longform-pipeline/internal/domain"
	"longform-pipeline/internal/domain/model"
)

// PlanBuilder turns a request into its StagePlan. The plan is built once per
// run; every stage carries its fatal tag, providers and cache policy.
type PlanBuilder struct {
	providers     map[model.StageName][]string
	fallback      []string
	evidenceTTL   time.Duration
	generationTTL time.Duration
}

// NewPlanBuilder takes the per-stage provider preference. Stages without an
// explicit entry use fallback.
func NewPlanBuilder(stages map[string][]string, fallback []string, evidenceTTL, generationTTL time.Duration) *PlanBuilder {
	p := &PlanBuilder{
		providers:     make(map[model.StageName][]string, len(stages)),
		fallback:      append([]string(nil), fallback...),
		evidenceTTL:   evidenceTTL,
		generationTTL: generationTTL,
	}
	for name, list := range stages {
		p.providers[model.StageName(name)] = append([]string(nil), list...)
	}
	return p
}

var stageRoles = map[model.StageName]model.StageRole{
	model.StageResearch:  model.RoleEvidence,
	model.StageOutline:   model.RoleOutline,
	model.StageDraft:     model.RoleContent,
	model.StageEnhance:   model.RoleContent,
	model.StageFactCheck: model.RoleReview,
	model.StageCitations: model.RoleEvidence,
	model.StagePolish:    model.RoleContent,
}

const reviewGroup = "review"

func (b *PlanBuilder) Build(req model.GenerationRequest) (model.StagePlan, error) {
	tier := req.Plan
	if tier == "" {
		tier = model.PlanStandard
	}
	f := req.Features

	var names []model.StageName
	switch tier {
	case model.PlanFast:
		names = []model.StageName{model.StageDraft, model.StagePolish}
	case model.PlanStandard:
		names = []model.StageName{model.StageResearch, model.StageOutline, model.StageDraft, model.StagePolish}
	case model.PlanPremium:
		names = []model.StageName{
			model.StageResearch, model.StageOutline, model.StageDraft, model.StageEnhance,
			model.StageFactCheck, model.StageCitations, model.StagePolish,
		}
	default:
		return model.StagePlan{}, domain.ErrUnknownPlan
	}

	want := make(map[model.StageName]bool, len(model.AllStages))
	for _, n := range names {
		want[n] = true
	}
	if f.FactCheck {
		want[model.StageFactCheck] = true
	}
	if f.Citations || f.CitationsMandatory {
		want[model.StageCitations] = true
	}
	if f.SkipResearch {
		want[model.StageResearch] = false
	}
	if f.SkipPolish {
		want[model.StagePolish] = false
	}

	plan := model.StagePlan{Tier: tier}
	for _, name := range model.AllStages {
		if !want[name] {
			continue
		}
		def, err := b.define(name, f)
		if err != nil {
			return model.StagePlan{}, err
		}
		plan.Stages = append(plan.Stages, def)
	}
	if want[model.StageFactCheck] && want[model.StageCitations] {
		for i := range plan.Stages {
			if n := plan.Stages[i].Name; n == model.StageFactCheck || n == model.StageCitations {
				plan.Stages[i].Group = reviewGroup
			}
		}
	}
	return plan, nil
}

func (b *PlanBuilder) define(name model.StageName, f model.FeatureFlags) (model.StageDefinition, error) {
	providers, ok := b.providers[name]
	if !ok || len(providers) == 0 {
		providers = b.fallback
	}
	if len(providers) == 0 {
		return model.StageDefinition{}, domain.ErrNoProviders
	}
	def := model.StageDefinition{
		Name:      name,
		Role:      stageRoles[name],
		Providers: append([]string(nil), providers...),
		Category:  model.CategoryGeneration,
		CacheTTL:  b.generationTTL,
	}
	if def.Role == model.RoleEvidence {
		def.Category = model.CategoryEvidence
		def.CacheTTL = b.evidenceTTL
	}
	switch name {
	case model.StageDraft:
		def.Fatal = true
	case model.StageCitations:
		def.Fatal = f.CitationsMandatory
	}
	return def, nil
}
