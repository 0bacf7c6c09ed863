package model

import "time"

// Citation is a piece of evidence the article can point at.
type Citation struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Warning marks a degradable stage that failed and was left out.
type Warning struct {
	Stage   StageName `json:"stage"`
	Kind    string    `json:"kind,omitempty"`
	Message string    `json:"message"`
}

// GenerationResult is the aggregated output of one pipeline run.
type GenerationResult struct {
	Content        string        `json:"content"`
	Outline        string        `json:"outline,omitempty"`
	Stages         []StageResult `json:"stages"`
	Usage          Usage         `json:"usage"`
	GenerationTime time.Duration `json:"generationTime"`
	Citations      []Citation    `json:"citations,omitempty"`
	Warnings       []Warning     `json:"warnings,omitempty"`
	Skipped        []StageName   `json:"skipped,omitempty"`
}

// Degraded reports whether any stage was dropped from the result.
func (r *GenerationResult) Degraded() bool {
	return len(r.Warnings) > 0 || len(r.Skipped) > 0
}

// Stage returns the result of the named stage, if it ran successfully.
func (r *GenerationResult) Stage(name StageName) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}
