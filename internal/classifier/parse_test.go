package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrubResponse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain json untouched",
			input:    `{"backend": {"score": 80}}`,
			expected: `{"backend": {"score": 80}}`,
		},
		{
			name:     "fenced with language tag",
			input:    "```json\n{\"backend\": {\"score\": 80}}\n```",
			expected: `{"backend": {"score": 80}}`,
		},
		{
			name:     "fenced without language tag",
			input:    "```\n[{\"artifact_id\": \"c1\"}]\n```",
			expected: `[{"artifact_id": "c1"}]`,
		},
		{
			name:     "prose around the object",
			input:    "Here is the analysis you asked for: {\"backend\": {}} hope it helps!",
			expected: `{"backend": {}}`,
		},
		{
			name:     "prose around an array",
			input:    "Sure. [{\"artifact_id\": \"c1\"}] Let me know.",
			expected: `[{"artifact_id": "c1"}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, scrubResponse(tt.input))
		})
	}
}

func TestParseSkillExtraction(t *testing.T) {
	response := "```json\n" + `{
		"backend": {"score": 85, "confidence": 70, "evidence": [{"artifact_id": "c1", "reason": "API work"}]},
		"frontend": {"score": 120, "confidence": -5},
		"infra": {}
	}` + "\n```"

	got, err := parseSkillExtraction(response)
	require.NoError(t, err)

	backend := got.Categories["backend"]
	assert.Equal(t, 85.0, backend.Score)
	assert.Equal(t, 70.0, backend.Confidence)
	require.Len(t, backend.Evidence, 1)
	assert.Equal(t, "c1", backend.Evidence[0].ArtifactID)

	// Out-of-range values clamp instead of erroring.
	assert.Equal(t, 100.0, got.Categories["frontend"].Score)
	assert.Equal(t, 0.0, got.Categories["frontend"].Confidence)

	// Missing fields and missing categories default to zero.
	assert.Equal(t, 0.0, got.Categories["infra"].Score)
	assert.Equal(t, 0.0, got.Categories["systems"].Score)
}

func TestParseSkillExtractionRejectsGarbage(t *testing.T) {
	_, err := parseSkillExtraction("the model is having a bad day")
	assert.Error(t, err)
}

func TestParseImpactBatch(t *testing.T) {
	response := `[
		{"artifact_id": "c1", "impact_score": 75, "complexity_delta": 60, "quality_indicators": {"has_tests": true}},
		{"artifact_id": "c2"},
		{"impact_score": 90}
	]`

	got, err := parseImpactBatch(response)
	require.NoError(t, err)
	require.Len(t, got, 2, "items without an artifact id are dropped")

	assert.Equal(t, 75.0, got["c1"].ImpactScore)
	assert.Equal(t, 60.0, got["c1"].ComplexityDelta)
	assert.True(t, got["c1"].QualityIndicators.HasTests)

	// Missing numerics fall back to neutral.
	assert.Equal(t, 50.0, got["c2"].ImpactScore)
	assert.Equal(t, 50.0, got["c2"].ComplexityDelta)
	assert.False(t, got["c2"].QualityIndicators.HasTests)
}

func TestParseImpactSingle(t *testing.T) {
	t.Run("bare object", func(t *testing.T) {
		got, err := parseImpactSingle(`{"artifact_id": "c1", "impact_score": 40, "complexity_delta": 30}`)
		require.NoError(t, err)
		assert.Equal(t, 40.0, got.ImpactScore)
	})

	t.Run("one element array", func(t *testing.T) {
		got, err := parseImpactSingle(`[{"artifact_id": "c1", "impact_score": 40}]`)
		require.NoError(t, err)
		assert.Equal(t, 40.0, got.ImpactScore)
		assert.Equal(t, 50.0, got.ComplexityDelta)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseImpactSingle("no json here")
		assert.Error(t, err)
	})
}
