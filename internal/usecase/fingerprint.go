// File: internal/usecase/fingerprint.go
package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"longform-pipeline/internal/domain/model"
)

// ProviderRef identifies a provider and the model it is configured to use.
// Both feed the fingerprint so a model change never serves stale output.
type ProviderRef struct {
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

type fingerprintDoc struct {
	Stage        model.StageName `json:"stage"`
	Providers    []ProviderRef   `json:"providers"`
	Topic        string          `json:"topic"`
	Keywords     []string        `json:"keywords"`
	TargetLength int             `json:"target_length"`
	Tone         string          `json:"tone"`
	Language     string          `json:"language"`
	EvidenceIDs  []string        `json:"evidence_ids"`
	Prior        []string        `json:"prior"`
}

// Fingerprint derives the cache key of a stage call from the fields that
// change the produced artifact. Request id, org id, plan and mode are excluded;
// tenancy is carried by the cache scope instead.
func Fingerprint(def model.StageDefinition, providers []ProviderRef, in model.StageInput) string {
	req := in.Request
	doc := fingerprintDoc{
		Stage:        def.Name,
		Providers:    providers,
		Topic:        normalizeText(req.Topic),
		Keywords:     normalizeSet(req.Keywords, normalizeText),
		TargetLength: req.TargetLength,
		Tone:         normalizeText(req.Tone),
		Language:     normalizeText(req.Language),
		EvidenceIDs:  normalizeSet(req.EvidenceIDs, strings.TrimSpace),
		Prior:        make([]string, 0, len(in.Prior)),
	}
	if doc.Providers == nil {
		doc.Providers = []ProviderRef{}
	}
	for _, p := range in.Prior {
		doc.Prior = append(doc.Prior, string(p.Stage)+":"+contentHash(p.Text))
	}

	// struct fields marshal in declaration order
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	return string(def.Name) + ":" + hex.EncodeToString(sum[:])
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeSet(in []string, norm func(string) string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = norm(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
