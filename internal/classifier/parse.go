package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/powlabs/proofwork/internal/types"
)

// scrubResponse strips incidental formatting around the model's answer:
// code-fence markers with an optional language tag, and any prose before
// the first or after the last JSON bracket.
func scrubResponse(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
		text = strings.TrimPrefix(strings.TrimSpace(text), "json")
		text = strings.TrimSpace(text)
	}

	objStart := strings.IndexAny(text, "[{")
	if objStart < 0 {
		return text
	}

	var closer string
	if text[objStart] == '[' {
		closer = "]"
	} else {
		closer = "}"
	}
	objEnd := strings.LastIndex(text, closer)
	if objEnd <= objStart {
		return text[objStart:]
	}

	return text[objStart : objEnd+1]
}

type rawCategory struct {
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Evidence   []struct {
		ArtifactID string `json:"artifact_id"`
		Reason     string `json:"reason"`
	} `json:"evidence"`
}

// parseSkillExtraction decodes the classifier's skill response. Missing
// numeric fields default to zero, missing categories stay zeroed; only a
// structurally unparseable response is an error.
func parseSkillExtraction(text string) (types.SkillExtraction, error) {
	raw := map[string]rawCategory{}
	if err := json.Unmarshal([]byte(scrubResponse(text)), &raw); err != nil {
		return types.SkillExtraction{}, fmt.Errorf("parse skill extraction: %w", err)
	}

	extraction := types.ZeroSkillExtraction()
	for _, category := range types.SkillCategories {
		rc, ok := raw[category]
		if !ok {
			continue
		}

		skill := types.CategorySkill{
			Score:      clampScore(deref(rc.Score)),
			Confidence: clampScore(deref(rc.Confidence)),
			Evidence:   []types.SkillEvidence{},
		}
		for _, ev := range rc.Evidence {
			skill.Evidence = append(skill.Evidence, types.SkillEvidence{
				ArtifactID: ev.ArtifactID,
				Reason:     ev.Reason,
			})
		}
		extraction.Categories[category] = skill
	}

	return extraction, nil
}

type rawImpact struct {
	ArtifactID        string   `json:"artifact_id"`
	ImpactScore       *float64 `json:"impact_score"`
	ComplexityDelta   *float64 `json:"complexity_delta"`
	QualityIndicators struct {
		HasTests   bool `json:"has_tests"`
		Reviewed   bool `json:"reviewed"`
		Refactored bool `json:"refactored"`
		Documented bool `json:"documented"`
	} `json:"quality_indicators"`
}

// parseImpactBatch decodes a batched impact response into per-artifact
// impacts. Items without an artifact id are dropped; missing numeric fields
// fall back to the neutral 50, booleans to false.
func parseImpactBatch(text string) (map[string]types.ContributionImpact, error) {
	var items []rawImpact
	if err := json.Unmarshal([]byte(scrubResponse(text)), &items); err != nil {
		return nil, fmt.Errorf("parse impact batch: %w", err)
	}

	out := make(map[string]types.ContributionImpact, len(items))
	for _, item := range items {
		if item.ArtifactID == "" {
			continue
		}
		out[item.ArtifactID] = impactFromRaw(item)
	}
	return out, nil
}

// parseImpactSingle decodes a single-artifact impact response.
func parseImpactSingle(text string) (types.ContributionImpact, error) {
	scrubbed := scrubResponse(text)

	var item rawImpact
	if err := json.Unmarshal([]byte(scrubbed), &item); err != nil {
		// Some providers answer a one-element array even for one artifact.
		var items []rawImpact
		if arrErr := json.Unmarshal([]byte(scrubbed), &items); arrErr != nil || len(items) == 0 {
			return types.ContributionImpact{}, fmt.Errorf("parse impact: %w", err)
		}
		item = items[0]
	}

	return impactFromRaw(item), nil
}

func impactFromRaw(item rawImpact) types.ContributionImpact {
	impact := types.NeutralImpact()
	if item.ImpactScore != nil {
		impact.ImpactScore = clampScore(*item.ImpactScore)
	}
	if item.ComplexityDelta != nil {
		impact.ComplexityDelta = clampScore(*item.ComplexityDelta)
	}
	impact.QualityIndicators = types.QualityIndicators{
		HasTests:   item.QualityIndicators.HasTests,
		Reviewed:   item.QualityIndicators.Reviewed,
		Refactored: item.QualityIndicators.Refactored,
		Documented: item.QualityIndicators.Documented,
	}
	return impact
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
