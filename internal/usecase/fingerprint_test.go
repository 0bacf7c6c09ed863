package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"longform-pipeline/internal/domain/model"
)

func TestFingerprint_Policy(t *testing.T) {
	def := draftDef("a", "b")
	refs := []ProviderRef{{Name: "a", Model: "m1"}, {Name: "b", Model: "m2"}}
	base := model.StageInput{Request: testRequest("org-a")}
	fp := Fingerprint(def, refs, base)
	assert.True(t, strings.HasPrefix(fp, "draft:"))

	same := func(name string, mutate func(in *model.StageInput)) {
		t.Run("ignores "+name, func(t *testing.T) {
			in := base
			in.Request.Keywords = append([]string(nil), base.Request.Keywords...)
			mutate(&in)
			assert.Equal(t, fp, Fingerprint(def, refs, in))
		})
	}
	differs := func(name string, mutate func(in *model.StageInput)) {
		t.Run("covers "+name, func(t *testing.T) {
			in := base
			in.Request.Keywords = append([]string(nil), base.Request.Keywords...)
			mutate(&in)
			assert.NotEqual(t, fp, Fingerprint(def, refs, in))
		})
	}

	same("org id", func(in *model.StageInput) { in.Request.OrgID = "org-b" })
	same("request id", func(in *model.StageInput) { in.Request.RequestID = "r-1" })
	same("plan", func(in *model.StageInput) { in.Request.Plan = model.PlanPremium })
	same("job id", func(in *model.StageInput) { in.JobID = "job-9" })
	same("topic case and spacing", func(in *model.StageInput) { in.Request.Topic = "  go   CONCURRENCY patterns " })
	same("keyword order and duplicates", func(in *model.StageInput) {
		in.Request.Keywords = []string{"Channels", "goroutines", "channels"}
	})

	differs("topic", func(in *model.StageInput) { in.Request.Topic = "Rust ownership" })
	differs("keywords", func(in *model.StageInput) { in.Request.Keywords = []string{"mutex"} })
	differs("length", func(in *model.StageInput) { in.Request.TargetLength = 3000 })
	differs("tone", func(in *model.StageInput) { in.Request.Tone = "playful" })
	differs("language", func(in *model.StageInput) { in.Request.Language = "de" })
	differs("evidence ids", func(in *model.StageInput) { in.Request.EvidenceIDs = []string{"e1"} })
	differs("prior output", func(in *model.StageInput) {
		in.Prior = []model.PriorOutput{{Stage: model.StageOutline, Role: model.RoleOutline, Text: "1. intro"}}
	})

	t.Run("covers provider models", func(t *testing.T) {
		other := []ProviderRef{{Name: "a", Model: "m1-new"}, {Name: "b", Model: "m2"}}
		assert.NotEqual(t, fp, Fingerprint(def, other, base))
	})
	t.Run("covers stage", func(t *testing.T) {
		polish := def
		polish.Name = model.StagePolish
		assert.NotEqual(t, fp, Fingerprint(polish, refs, base))
	})
}
