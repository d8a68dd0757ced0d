package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powlabs/proofwork/internal/source"
	"github.com/powlabs/proofwork/internal/types"
)

func repoActivity(owner, name string, fork bool, pushed time.Time) types.RepoActivity {
	return types.RepoActivity{
		Repo: map[string]interface{}{
			"name":      name,
			"full_name": owner + "/" + name,
			"owner":     owner,
			"fork":      fork,
			"pushed_at": pushed,
		},
	}
}

func commitMap(sha, login string, date time.Time) map[string]interface{} {
	return map[string]interface{}{
		"sha":          sha,
		"message":      "update " + sha,
		"author_login": login,
		"date":         date,
	}
}

func pullMap(id, login, state string, created time.Time, merged bool) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"state":        state,
		"title":        "change",
		"author_login": login,
		"created_at":   created,
		"merged":       merged,
	}
}

func TestNormalizeVerifiesAuthorshipAndDedupes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ra := repoActivity("alice", "widget", false, now)
	ra.Commits = []map[string]interface{}{
		commitMap("c1", "alice", now.Add(-time.Hour)),
		commitMap("c1", "alice", now.Add(-time.Hour)), // duplicate sha
		commitMap("c2", "mallory", now.Add(-2*time.Hour)),
		commitMap("c3", "ALICE", now.Add(-3*time.Hour)), // case-insensitive match
	}
	ra.Pulls = []map[string]interface{}{
		pullMap("10", "alice", "closed", now.Add(-4*time.Hour), true),
		pullMap("11", "mallory", "closed", now.Add(-5*time.Hour), true),
	}

	got := Normalize(&types.IngestedArtifacts{Subject: "alice", Repos: []types.RepoActivity{ra}}, "alice")

	var commits, pulls int
	for _, a := range got {
		require.NotNil(t, a.Repository, "every artifact keeps its repository association")
		switch a.Kind {
		case types.KindCommit:
			commits++
			assert.NotEqual(t, "c2", a.ID, "foreign commits must be dropped")
		case types.KindPullRequest:
			pulls++
			assert.Equal(t, "10", a.ID)
		}
	}
	assert.Equal(t, 2, commits)
	assert.Equal(t, 1, pulls)

	// Timestamp-descending order.
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
}

func TestNormalizeFastExpandsEvents(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fast := &types.FastIngestedData{
		Subject: "alice",
		Repos: []map[string]interface{}{
			{"full_name": "alice/widget", "fork": false, "pushed_at": now},
		},
		Events: []map[string]interface{}{
			{
				"type":       "PushEvent",
				"repo":       "alice/widget",
				"created_at": now.Add(-time.Hour),
				"payload": map[string]interface{}{
					"commits": []interface{}{
						map[string]interface{}{"sha": "e1", "message": "fix parser"},
						map[string]interface{}{"message": "no sha, dropped"},
					},
				},
			},
			{
				"type":       "PullRequestEvent",
				"repo":       "alice/widget",
				"created_at": now.Add(-2 * time.Hour),
				"payload": map[string]interface{}{
					"pull_request": map[string]interface{}{
						"id":        float64(42),
						"state":     "closed",
						"title":     "add cache",
						"merged_at": "2025-05-30T10:00:00Z",
					},
				},
			},
		},
	}

	got := NormalizeFast(fast, "alice")
	require.Len(t, got, 3)

	byKind := map[types.ArtifactKind]types.Artifact{}
	for _, a := range got {
		byKind[a.Kind] = a
	}

	assert.Equal(t, "e1", byKind[types.KindCommit].ID)
	assert.Equal(t, "42", byKind[types.KindPullRequest].ID)

	merged, _ := byKind[types.KindPullRequest].Payload["merged"].(bool)
	assert.True(t, merged, "a merged_at timestamp implies merged")
}

func TestValidateOwnership(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ref := &types.RepoRef{Owner: "alice", Name: "widget"}
	forkRef := &types.RepoRef{Owner: "alice", Name: "clone"}
	idleRef := &types.RepoRef{Owner: "alice", Name: "idle"}

	artifacts := []types.Artifact{
		{Kind: types.KindRepo, ID: "alice/widget", Payload: map[string]interface{}{"fork": false}, Timestamp: now, Repository: ref},
		{Kind: types.KindRepo, ID: "alice/clone", Payload: map[string]interface{}{"fork": true}, Timestamp: now, Repository: forkRef},
		{Kind: types.KindRepo, ID: "alice/idle", Payload: map[string]interface{}{"fork": false}, Timestamp: now, Repository: idleRef},
		{Kind: types.KindCommit, ID: "c1", Payload: map[string]interface{}{}, Timestamp: now, Repository: ref},
		{Kind: types.KindCommit, ID: "c2", Payload: map[string]interface{}{}, Timestamp: now, Repository: forkRef},
	}

	got := ValidateOwnership(artifacts)

	ids := make([]string, 0, len(got))
	for _, a := range got {
		ids = append(ids, a.ID)
	}

	assert.Contains(t, ids, "alice/widget")
	assert.NotContains(t, ids, "alice/clone", "fork repos are dropped")
	assert.NotContains(t, ids, "alice/idle", "repos with no activity are dropped")
	assert.Contains(t, ids, "c1")
	assert.Contains(t, ids, "c2", "commits pass through even when their repo does not")

	// Idempotence: applying the filter twice yields the same set.
	again := ValidateOwnership(got)
	assert.Equal(t, got, again)
}

func TestAssociateRepository(t *testing.T) {
	known := []types.RepoRef{
		{Owner: "alice", Name: "widget"},
		{Owner: "alice", Name: "parser"},
	}

	tests := []struct {
		name     string
		payload  map[string]interface{}
		expected *types.RepoRef
	}{
		{
			name:     "exact repo field match",
			payload:  map[string]interface{}{"repo": "alice/parser"},
			expected: &known[1],
		},
		{
			name:     "repo name in commit message",
			payload:  map[string]interface{}{"message": "fix widget race on shutdown"},
			expected: &known[0],
		},
		{
			name:     "repo name in pull request title",
			payload:  map[string]interface{}{"title": "Parser: handle fenced blocks"},
			expected: &known[1],
		},
		{
			name:     "no hint at all",
			payload:  map[string]interface{}{"message": "bump deps"},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := associateRepository(tt.payload, known)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRankReposPrefersStarsAndRecency(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	fresh := srcRepo("alice", "fresh", false, 0, now.AddDate(0, 0, -3))
	starred := srcRepo("alice", "starred", false, 50, now.AddDate(-2, 0, 0))
	stale := srcRepo("alice", "stale", false, 0, now.AddDate(-2, 0, 0))
	fork := srcRepo("alice", "fork", true, 100, now)

	ranked := rankRepos([]source.Repo{stale, fresh, fork, starred}, now)

	require.Len(t, ranked, 3, "forks never make the top list")
	assert.Equal(t, "starred", ranked[0].Name)
	assert.Equal(t, "fresh", ranked[1].Name)
	assert.Equal(t, "stale", ranked[2].Name)
}
