// Package scoring turns validated artifacts and classifier output into a
// PoWProfile via weighted formulas.
package scoring

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/powlabs/proofwork/internal/ingest"
	"github.com/powlabs/proofwork/internal/types"
)

// Category weight split for the PoW score.
const (
	weightImpact        = 0.40
	weightComplexity    = 0.25
	weightCollaboration = 0.20
	weightConsistency   = 0.15
)

// ImpactAnalyzer is the slice of the classifier gateway the engine consumes.
type ImpactAnalyzer interface {
	AnalyzeImpactBatch(ctx context.Context, artifacts []types.Artifact) (map[string]types.ContributionImpact, error)
}

// Engine computes profiles. It holds no per-run state: the impact cache is
// created inside GenerateProfile and passed by parameter, so concurrent
// runs for different subjects never share it.
type Engine struct {
	analyzer ImpactAnalyzer
	now      func() time.Time
}

// NewEngine creates a scoring engine over the given impact analyzer.
func NewEngine(analyzer ImpactAnalyzer) *Engine {
	return &Engine{analyzer: analyzer, now: time.Now}
}

// impactCache holds one run's classifier output, keyed by artifact id.
type impactCache map[string]types.ContributionImpact

func (c impactCache) get(id string) types.ContributionImpact {
	if impact, ok := c[id]; ok {
		return impact
	}
	return types.NeutralImpact()
}

// GenerateProfile is the pipeline's primary API: validated artifacts plus a
// skill extraction in, a complete PoWProfile out. Ownership is re-validated
// here to guard against stale or tampered input. Classifier unavailability
// mid-run degrades to neutral defaults; it never fails the profile.
func (e *Engine) GenerateProfile(ctx context.Context, subject string, artifacts []types.Artifact, extraction types.SkillExtraction) (*types.PoWProfile, error) {
	validated := ingest.ValidateOwnership(artifacts)
	relevant := splitRelevant(validated)

	cache := make(impactCache, len(relevant))
	if len(relevant) > 0 {
		impacts, err := e.analyzer.AnalyzeImpactBatch(ctx, relevant)
		if err != nil {
			slog.Warn("impact analysis unavailable, scoring with neutral defaults",
				"subject", subject, "error", err)
			for _, a := range relevant {
				cache[a.ID] = types.NeutralImpact()
			}
		} else {
			for id, impact := range impacts {
				cache[id] = impact
			}
		}
	}

	profile := &types.PoWProfile{
		Subject:         subject,
		ArtifactSummary: summarize(validated),
		GeneratedAt:     e.now(),
	}

	var total int
	for _, category := range types.SkillCategories {
		skill := extraction.Categories[category]
		categoryArtifacts := categoryRelevant(relevant, skill)

		pow := e.categoryPoW(validated, categoryArtifacts, cache)
		final := blendConfidence(pow, skill.Confidence)
		score := int(math.Round(clamp(final, 0, 100)))
		total += score

		profile.Skills = append(profile.Skills, types.SkillScore{
			SkillName:     category,
			Score:         score,
			Percentile:    PercentileForScore(score),
			Confidence:    skill.Confidence,
			ArtifactCount: len(categoryArtifacts),
		})
	}

	if len(types.SkillCategories) > 0 {
		profile.OverallIndex = int(math.Round(float64(total) / float64(len(types.SkillCategories))))
	}

	return profile, nil
}

// categoryPoW computes the weighted category score from the four factor
// formulas over the run's impact cache.
func (e *Engine) categoryPoW(validated, relevant []types.Artifact, cache impactCache) float64 {
	impact := impactScore(relevant, cache)
	complexity := complexityScore(relevant, cache)
	collaboration := collaborationScore(validated)
	consistency := e.consistencyScore(validated)

	return weightImpact*impact +
		weightComplexity*complexity +
		weightCollaboration*collaboration +
		weightConsistency*consistency
}

// blendConfidence pulls the score toward the midpoint between zero and the
// raw PoW value when classifier confidence is low, never below it.
func blendConfidence(pow, confidence float64) float64 {
	c := clamp(confidence, 0, 100) / 100
	return pow*c + pow*(1-c)*0.5
}

// impactScore is the mean cached impact blended with the merged-PR
// fraction; zero when there are no relevant artifacts.
func impactScore(relevant []types.Artifact, cache impactCache) float64 {
	if len(relevant) == 0 {
		return 0
	}

	var sum float64
	for _, a := range relevant {
		sum += cache.get(a.ID).ImpactScore
	}
	mean := sum / float64(len(relevant))

	return mean*0.7 + mergedPRFraction(relevant)*100*0.3
}

// complexityScore averages complexity deltas with quality boosts and
// subtracts a capped penalty for trivially small commits.
func complexityScore(relevant []types.Artifact, cache impactCache) float64 {
	if len(relevant) == 0 {
		return 0
	}

	var sum float64
	var smallCommits int
	for _, a := range relevant {
		impact := cache.get(a.ID)
		contribution := impact.ComplexityDelta
		if impact.QualityIndicators.HasTests {
			contribution += 10
		}
		if impact.QualityIndicators.Refactored {
			contribution += 5
		}
		sum += contribution

		if a.Kind == types.KindCommit {
			if total, ok := intField(a.Payload, "total_changes"); ok && total < 50 {
				smallCommits++
			}
		}
	}

	penalty := math.Min(20, 0.5*float64(smallCommits))
	return math.Max(0, sum/float64(len(relevant))-penalty)
}

// collaborationScore weighs closed and merged PR fractions with how many of
// the subject's repos have been forked by others; capped at 100.
func collaborationScore(validated []types.Artifact) float64 {
	var pulls, closed, merged int
	var repos, forkedRepos int

	for _, a := range validated {
		switch a.Kind {
		case types.KindPullRequest:
			pulls++
			if state, _ := a.Payload["state"].(string); state == "closed" || state == "merged" {
				closed++
			}
			if m, _ := a.Payload["merged"].(bool); m {
				merged++
			}
		case types.KindRepo:
			repos++
			if forks, ok := intField(a.Payload, "forks_count"); ok && forks > 0 {
				forkedRepos++
			}
		}
	}

	var closedFrac, mergedFrac, forkedFrac float64
	if pulls > 0 {
		closedFrac = float64(closed) / float64(pulls)
		mergedFrac = float64(merged) / float64(pulls)
	}
	if repos > 0 {
		forkedFrac = float64(forkedRepos) / float64(repos)
	}

	return math.Min(100, 0.5*closedFrac*100+0.3*mergedFrac*100+0.2*forkedFrac*100)
}

// consistencyScore rewards activity spread evenly over the last twelve
// months and scales by how much of it is recent.
func (e *Engine) consistencyScore(validated []types.Artifact) float64 {
	if len(validated) == 0 {
		return 0
	}

	now := e.now()
	buckets := make([]float64, 12)
	var recent int
	var counted int

	for _, a := range validated {
		age := now.Sub(a.Timestamp)
		if age < 0 || age >= 365*24*time.Hour {
			continue
		}
		idx := int(age.Hours() / 24 / 30.44)
		if idx > 11 {
			idx = 11
		}
		buckets[idx]++
		counted++
		if age < 183*24*time.Hour {
			recent++
		}
	}

	if counted == 0 {
		return 0
	}

	mean := float64(counted) / 12
	var variance float64
	for _, b := range buckets {
		variance += (b - mean) * (b - mean)
	}
	stddev := math.Sqrt(variance / 12)

	score := 100 - 50*(stddev/mean)
	recencyFraction := float64(recent) / float64(counted)

	return math.Max(0, score*recencyFraction)
}

func mergedPRFraction(artifacts []types.Artifact) float64 {
	var pulls, merged int
	for _, a := range artifacts {
		if a.Kind != types.KindPullRequest {
			continue
		}
		pulls++
		if m, _ := a.Payload["merged"].(bool); m {
			merged++
		}
	}
	if pulls == 0 {
		return 0
	}
	return float64(merged) / float64(pulls)
}

// categoryRelevant narrows the relevant set to the artifacts cited as
// evidence for a category; with no usable evidence every relevant artifact
// counts toward the category.
func categoryRelevant(relevant []types.Artifact, skill types.CategorySkill) []types.Artifact {
	if len(skill.Evidence) == 0 {
		return relevant
	}

	cited := make(map[string]bool, len(skill.Evidence))
	for _, ev := range skill.Evidence {
		cited[ev.ArtifactID] = true
	}

	out := make([]types.Artifact, 0, len(relevant))
	for _, a := range relevant {
		if cited[a.ID] {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return relevant
	}
	return out
}

func splitRelevant(artifacts []types.Artifact) []types.Artifact {
	out := make([]types.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a.Kind == types.KindCommit || a.Kind == types.KindPullRequest {
			out = append(out, a)
		}
	}
	return out
}

// summarize counts the validated artifact set, never the raw one.
func summarize(validated []types.Artifact) types.ArtifactSummary {
	var s types.ArtifactSummary
	for _, a := range validated {
		switch a.Kind {
		case types.KindRepo:
			s.Repos++
		case types.KindCommit:
			s.Commits++
		case types.KindPullRequest:
			s.PullRequests++
			if m, _ := a.Payload["merged"].(bool); m {
				s.MergedPRs++
			}
		}
	}
	return s
}

func intField(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
