package scoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powlabs/proofwork/internal/types"
)

type fakeAnalyzer struct {
	impacts map[string]types.ContributionImpact
	err     error
	calls   int
}

func (f *fakeAnalyzer) AnalyzeImpactBatch(_ context.Context, artifacts []types.Artifact) (map[string]types.ContributionImpact, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]types.ContributionImpact, len(artifacts))
	for _, a := range artifacts {
		if impact, ok := f.impacts[a.ID]; ok {
			out[a.ID] = impact
		} else {
			out[a.ID] = types.NeutralImpact()
		}
	}
	return out, nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(analyzer *fakeAnalyzer) *Engine {
	e := NewEngine(analyzer)
	e.now = func() time.Time { return testNow }
	return e
}

func repoArtifact(owner, name string, forks int) types.Artifact {
	full := owner + "/" + name
	return types.Artifact{
		Kind: types.KindRepo,
		ID:   full,
		Payload: map[string]interface{}{
			"full_name":   full,
			"fork":        false,
			"forks_count": forks,
		},
		Timestamp:  testNow.AddDate(0, 0, -10),
		Repository: &types.RepoRef{Owner: owner, Name: name},
	}
}

func commitArtifact(id string, totalChanges int, ts time.Time) types.Artifact {
	return types.Artifact{
		Kind: types.KindCommit,
		ID:   id,
		Payload: map[string]interface{}{
			"author_login":  "alice",
			"total_changes": totalChanges,
		},
		Timestamp:  ts,
		Repository: &types.RepoRef{Owner: "alice", Name: "widget"},
	}
}

func prArtifact(id string, merged bool, ts time.Time) types.Artifact {
	state := "closed"
	return types.Artifact{
		Kind: types.KindPullRequest,
		ID:   id,
		Payload: map[string]interface{}{
			"author_login": "alice",
			"state":        state,
			"merged":       merged,
		},
		Timestamp:  ts,
		Repository: &types.RepoRef{Owner: "alice", Name: "widget"},
	}
}

func TestImpactScoreZeroWithoutRelevantArtifacts(t *testing.T) {
	cache := impactCache{}

	assert.Equal(t, 0.0, impactScore(nil, cache))
	assert.Equal(t, 0.0, complexityScore(nil, cache))
}

func TestGenerateProfileScoresClampedAndOverallIsMean(t *testing.T) {
	analyzer := &fakeAnalyzer{impacts: map[string]types.ContributionImpact{}}
	engine := newTestEngine(analyzer)

	artifacts := []types.Artifact{repoArtifact("alice", "widget", 2)}
	for i := 0; i < 6; i++ {
		artifacts = append(artifacts, commitArtifact(fmt.Sprintf("c%d", i), 200, testNow.AddDate(0, -i, 0)))
	}
	artifacts = append(artifacts, prArtifact("p1", true, testNow.AddDate(0, 0, -5)))

	extraction := types.ZeroSkillExtraction()
	extraction.Categories["backend"] = types.CategorySkill{Score: 90, Confidence: 80, Evidence: []types.SkillEvidence{}}

	profile, err := engine.GenerateProfile(context.Background(), "alice", artifacts, extraction)
	require.NoError(t, err)
	require.Len(t, profile.Skills, 4)

	var total int
	for _, s := range profile.Skills {
		assert.GreaterOrEqual(t, s.Score, 0)
		assert.LessOrEqual(t, s.Score, 100)
		total += s.Score
	}

	expected := int(float64(total)/4 + 0.5)
	assert.InDelta(t, expected, profile.OverallIndex, 1)
}

func TestPercentileLookup(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		expected int
	}{
		{"top tier", 95, 10},
		{"exactly ninety", 90, 10},
		{"eighties", 85, 20},
		{"seventies", 72, 30},
		{"sixties", 60, 40},
		{"fifties", 55, 50},
		{"below fifty", 30, 70},
		{"zero", 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PercentileForScore(tt.score))
		})
	}
}

func TestPercentileMonotonic(t *testing.T) {
	prev := 101
	for score := 0; score <= 100; score++ {
		p := PercentileForScore(score)
		assert.LessOrEqual(t, p, prev, "percentile must not increase with score (score %d)", score)
		prev = p
	}

	assert.LessOrEqual(t, PercentileForScore(90), 10)
	assert.LessOrEqual(t, PercentileForScore(50), 50)
}

func TestTenCommitScenario(t *testing.T) {
	// 10 commits all by subject, all >50 lines changed, none tested, plus
	// 2 merged PRs and 1 non-fork repo with those contributions.
	analyzer := &fakeAnalyzer{impacts: map[string]types.ContributionImpact{}}
	for i := 0; i < 10; i++ {
		analyzer.impacts[fmt.Sprintf("c%d", i)] = types.ContributionImpact{ImpactScore: 70, ComplexityDelta: 60}
	}
	analyzer.impacts["p1"] = types.ContributionImpact{ImpactScore: 80, ComplexityDelta: 65}
	analyzer.impacts["p2"] = types.ContributionImpact{ImpactScore: 80, ComplexityDelta: 65}

	engine := newTestEngine(analyzer)

	artifacts := []types.Artifact{repoArtifact("alice", "widget", 1)}
	for i := 0; i < 10; i++ {
		artifacts = append(artifacts, commitArtifact(fmt.Sprintf("c%d", i), 120, testNow.AddDate(0, 0, -i)))
	}
	artifacts = append(artifacts,
		prArtifact("p1", true, testNow.AddDate(0, 0, -3)),
		prArtifact("p2", true, testNow.AddDate(0, 0, -4)),
	)

	relevant := splitRelevant(artifacts)
	assert.Equal(t, 1.0, mergedPRFraction(relevant))

	cache := impactCache{}
	for id, impact := range analyzer.impacts {
		cache[id] = impact
	}

	assert.Greater(t, impactScore(relevant, cache), 0.0)

	// No tests, no refactors: complexity is the plain mean, no boosts and
	// no small-commit penalty.
	expectedComplexity := (60.0*10 + 65.0*2) / 12
	assert.InDelta(t, expectedComplexity, complexityScore(relevant, cache), 0.01)

	profile, err := engine.GenerateProfile(context.Background(), "alice", artifacts, types.ZeroSkillExtraction())
	require.NoError(t, err)
	assert.Equal(t, 2, profile.ArtifactSummary.MergedPRs)
	assert.Equal(t, 10, profile.ArtifactSummary.Commits)
	assert.Equal(t, 2, profile.ArtifactSummary.PullRequests)
	assert.Equal(t, 1, profile.ArtifactSummary.Repos)
}

func TestSmallCommitPenalty(t *testing.T) {
	cache := impactCache{}
	var artifacts []types.Artifact
	for i := 0; i < 10; i++ {
		a := commitArtifact(fmt.Sprintf("s%d", i), 10, testNow)
		cache[a.ID] = types.ContributionImpact{ImpactScore: 50, ComplexityDelta: 60}
		artifacts = append(artifacts, a)
	}

	// 10 tiny commits: penalty = min(20, 0.5*10) = 5.
	assert.InDelta(t, 55.0, complexityScore(artifacts, cache), 0.01)
}

func TestQualityBoosts(t *testing.T) {
	a := commitArtifact("c1", 200, testNow)
	cache := impactCache{
		"c1": {
			ImpactScore:     50,
			ComplexityDelta: 60,
			QualityIndicators: types.QualityIndicators{
				HasTests:   true,
				Refactored: true,
			},
		},
	}

	assert.InDelta(t, 75.0, complexityScore([]types.Artifact{a}, cache), 0.01)
}

func TestConsistencyConcentratedVsSpread(t *testing.T) {
	engine := newTestEngine(&fakeAnalyzer{})

	var concentrated []types.Artifact
	for i := 0; i < 12; i++ {
		concentrated = append(concentrated, commitArtifact(fmt.Sprintf("k%d", i), 100, testNow.AddDate(0, 0, -15)))
	}

	var spread []types.Artifact
	for i := 0; i < 12; i++ {
		spread = append(spread, commitArtifact(fmt.Sprintf("s%d", i), 100, testNow.AddDate(0, -i, -10)))
	}

	concentratedScore := engine.consistencyScore(concentrated)
	spreadScore := engine.consistencyScore(spread)

	assert.Less(t, concentratedScore, spreadScore,
		"activity concentrated in one month must score materially lower than even spread")
	assert.Greater(t, spreadScore-concentratedScore, 10.0)
}

func TestClassifierUnavailableDegradesToNeutralDefaults(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("provider unreachable")}
	engine := newTestEngine(analyzer)

	artifacts := []types.Artifact{
		repoArtifact("alice", "widget", 0),
		commitArtifact("c1", 120, testNow.AddDate(0, 0, -1)),
		prArtifact("p1", true, testNow.AddDate(0, 0, -2)),
	}

	profile, err := engine.GenerateProfile(context.Background(), "alice", artifacts, types.ZeroSkillExtraction())
	require.NoError(t, err, "classifier unavailability must never fail profile generation")
	require.Len(t, profile.Skills, 4)

	for _, s := range profile.Skills {
		assert.GreaterOrEqual(t, s.Score, 0)
		assert.LessOrEqual(t, s.Score, 100)
	}
}

func TestBlendConfidence(t *testing.T) {
	tests := []struct {
		name       string
		pow        float64
		confidence float64
		expected   float64
	}{
		{"full confidence keeps raw score", 80, 100, 80},
		{"zero confidence pulls to midpoint", 80, 0, 40},
		{"half confidence lands between", 80, 50, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, blendConfidence(tt.pow, tt.confidence), 0.001)
		})
	}
}

func TestRunScopedCacheIsNotShared(t *testing.T) {
	analyzer := &fakeAnalyzer{impacts: map[string]types.ContributionImpact{
		"c1": {ImpactScore: 90, ComplexityDelta: 90},
	}}
	engine := newTestEngine(analyzer)

	artifacts := []types.Artifact{
		repoArtifact("alice", "widget", 0),
		commitArtifact("c1", 120, testNow.AddDate(0, 0, -1)),
	}

	_, err := engine.GenerateProfile(context.Background(), "alice", artifacts, types.ZeroSkillExtraction())
	require.NoError(t, err)
	_, err = engine.GenerateProfile(context.Background(), "alice", artifacts, types.ZeroSkillExtraction())
	require.NoError(t, err)

	// A fresh cache per run means a fresh analyzer call per run.
	assert.Equal(t, 2, analyzer.calls)
}
