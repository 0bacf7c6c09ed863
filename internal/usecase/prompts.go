// File: internal/usecase/prompts.go
package usecase

import (
	"fmt"
	"strings"

	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/adapter"
)

const maxCallTokens = 8192

// PromptBuilder renders the provider call for a stage from the request and
// earlier outputs. Evidence stages also carry a structured query so that
// search-style providers can serve them.
type PromptBuilder struct{}

func (PromptBuilder) Build(def model.StageDefinition, in model.StageInput) adapter.ProviderCall {
	req := in.Request
	call := adapter.ProviderCall{
		Stage:    def.Name,
		OrgID:    req.OrgID,
		JobID:    in.JobID,
		Messages: []adapter.Message{{Role: "system", Content: systemPrompt(req)}},
	}

	var user string
	switch def.Name {
	case model.StageResearch:
		user = fmt.Sprintf("Collect factual background sources for an article about %q.%s", req.Topic, keywordLine(req))
	case model.StageOutline:
		user = fmt.Sprintf("Write a section outline for an article about %q of about %d words.%s%s",
			req.Topic, req.TargetLength, keywordLine(req), priorBlock(in, model.RoleEvidence, "Sources"))
	case model.StageDraft:
		user = fmt.Sprintf("Write the full article about %q, about %d words.%s%s%s",
			req.Topic, req.TargetLength, keywordLine(req),
			priorBlock(in, model.RoleOutline, "Outline"), priorBlock(in, model.RoleEvidence, "Sources"))
	case model.StageEnhance:
		user = "Improve depth, examples and transitions of the article below without changing its structure." +
			priorBlock(in, model.RoleContent, "Article")
	case model.StageFactCheck:
		user = "List statements in the article below that are doubtful or unsupported by the sources." +
			priorBlock(in, model.RoleContent, "Article") + priorBlock(in, model.RoleEvidence, "Sources")
	case model.StageCitations:
		user = "Produce a numbered reference list for the article below." +
			priorBlock(in, model.RoleContent, "Article") + priorBlock(in, model.RoleEvidence, "Sources")
	case model.StagePolish:
		user = fmt.Sprintf("Polish grammar and style of the article below. Keep the %s tone.", req.Tone) +
			priorBlock(in, model.RoleContent, "Article")
	default:
		user = fmt.Sprintf("Topic: %s", req.Topic)
	}
	call.Messages = append(call.Messages, adapter.Message{Role: "user", Content: user})

	if def.Role == model.RoleContent {
		call.MaxTokens = min(req.TargetLength*2, maxCallTokens)
	}
	if def.Role == model.RoleEvidence {
		call.Query = &adapter.DataQuery{
			Query:       req.Topic,
			Keywords:    append([]string(nil), req.Keywords...),
			Language:    req.Language,
			EvidenceIDs: append([]string(nil), req.EvidenceIDs...),
		}
	}
	return call
}

func systemPrompt(req model.GenerationRequest) string {
	return fmt.Sprintf("You are a professional writer. Answer in language %q with a %s tone.", req.Language, req.Tone)
}

func keywordLine(req model.GenerationRequest) string {
	if len(req.Keywords) == 0 {
		return ""
	}
	return " Cover these keywords: " + strings.Join(req.Keywords, ", ") + "."
}

func priorBlock(in model.StageInput, role model.StageRole, label string) string {
	p, ok := in.Latest(role)
	if !ok || strings.TrimSpace(p.Text) == "" {
		return ""
	}
	return "\n\n" + label + ":\n" + p.Text
}
