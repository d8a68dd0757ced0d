package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/powlabs/proofwork/internal/source"
	"github.com/powlabs/proofwork/internal/types"
)

// Normalize maps raw repo/commit/PR payloads to the canonical Artifact
// shape, re-verifies authorship, associates commits and PRs to a parent
// repository, deduplicates on (kind, id) and sorts by timestamp descending.
func Normalize(ingested *types.IngestedArtifacts, subject string) []types.Artifact {
	if ingested == nil {
		return nil
	}

	known := make([]types.RepoRef, 0, len(ingested.Repos))
	for _, ra := range ingested.Repos {
		if ref := repoRefFromPayload(ra.Repo); ref != nil {
			known = append(known, *ref)
		}
	}

	var artifacts []types.Artifact

	for _, ra := range ingested.Repos {
		ref := repoRefFromPayload(ra.Repo)
		if ref != nil {
			artifacts = append(artifacts, types.Artifact{
				Kind:       types.KindRepo,
				ID:         ref.FullName(),
				Payload:    ra.Repo,
				Timestamp:  timeField(ra.Repo, "pushed_at"),
				Repository: ref,
			})
		}

		for _, c := range ra.Commits {
			if !authoredBy(c, subject) {
				continue
			}
			artifacts = append(artifacts, types.Artifact{
				Kind:       types.KindCommit,
				ID:         stringField(c, "sha"),
				Payload:    c,
				Timestamp:  timeField(c, "date"),
				Repository: resolveRepository(c, ref, known),
			})
		}

		for _, p := range ra.Pulls {
			if !authoredBy(p, subject) {
				continue
			}
			artifacts = append(artifacts, types.Artifact{
				Kind:       types.KindPullRequest,
				ID:         stringField(p, "id"),
				Payload:    p,
				Timestamp:  timeField(p, "created_at"),
				Repository: resolveRepository(p, ref, known),
			})
		}
	}

	return finalize(artifacts)
}

// NormalizeFast maps fast-ingestion data (top repos plus the event feed) to
// artifacts. Push events become commit artifacts and pull request events
// become PR artifacts; the feed is already scoped to the subject.
func NormalizeFast(fast *types.FastIngestedData, subject string) []types.Artifact {
	if fast == nil {
		return nil
	}

	known := make([]types.RepoRef, 0, len(fast.Repos))
	var artifacts []types.Artifact

	for _, repo := range fast.Repos {
		ref := repoRefFromPayload(repo)
		if ref == nil {
			continue
		}
		known = append(known, *ref)
		artifacts = append(artifacts, types.Artifact{
			Kind:       types.KindRepo,
			ID:         ref.FullName(),
			Payload:    repo,
			Timestamp:  timeField(repo, "pushed_at"),
			Repository: ref,
		})
	}

	for _, ev := range fast.Events {
		artifacts = append(artifacts, eventArtifacts(ev, subject, known)...)
	}

	return finalize(artifacts)
}

// eventArtifacts expands one raw feed event into zero or more artifacts.
func eventArtifacts(ev map[string]interface{}, subject string, known []types.RepoRef) []types.Artifact {
	repoName := stringField(ev, "repo")
	ref := refFromFullName(repoName)
	ts := timeField(ev, "created_at")
	payload, _ := ev["payload"].(map[string]interface{})

	switch stringField(ev, "type") {
	case "PushEvent":
		commits, _ := payload["commits"].([]interface{})
		out := make([]types.Artifact, 0, len(commits))
		for _, raw := range commits {
			cm, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			sha := stringField(cm, "sha")
			if sha == "" {
				continue
			}
			out = append(out, types.Artifact{
				Kind: types.KindCommit,
				ID:   sha,
				Payload: map[string]interface{}{
					"sha":          sha,
					"message":      stringField(cm, "message"),
					"author_login": subject,
					"repo":         repoName,
				},
				Timestamp:  ts,
				Repository: resolveRepository(cm, ref, known),
			})
		}
		return out

	case "PullRequestEvent":
		pr, ok := payload["pull_request"].(map[string]interface{})
		if !ok {
			return nil
		}
		if !authoredByLogin(pr, subject) {
			return nil
		}
		merged, _ := pr["merged"].(bool)
		if pr["merged_at"] != nil {
			merged = true
		}
		return []types.Artifact{{
			Kind: types.KindPullRequest,
			ID:   stringField(pr, "id"),
			Payload: map[string]interface{}{
				"id":           stringField(pr, "id"),
				"state":        stringField(pr, "state"),
				"title":        stringField(pr, "title"),
				"author_login": subject,
				"merged":       merged,
				"repo":         repoName,
			},
			Timestamp:  ts,
			Repository: resolveRepository(pr, ref, known),
		}}
	}

	return nil
}

// ValidateOwnership is the second-pass filter applied just before scoring.
// It drops repo artifacts that are forks or have no commit/PR activity in
// the same set, and passes commits and PRs through unchanged. Applying it
// twice yields the same set as once.
func ValidateOwnership(artifacts []types.Artifact) []types.Artifact {
	active := make(map[string]bool)
	for _, a := range artifacts {
		if a.Kind == types.KindRepo || a.Repository == nil {
			continue
		}
		active[strings.ToLower(a.Repository.FullName())] = true
	}

	out := make([]types.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a.Kind != types.KindRepo {
			out = append(out, a)
			continue
		}
		if fork, _ := a.Payload["fork"].(bool); fork {
			continue
		}
		if !active[strings.ToLower(a.ID)] {
			continue
		}
		out = append(out, a)
	}

	return out
}

// resolveRepository returns the parent repository for a commit/PR payload.
// When the ingesting repo is known it wins; otherwise associateRepository
// takes a best-effort guess.
func resolveRepository(payload map[string]interface{}, parent *types.RepoRef, known []types.RepoRef) *types.RepoRef {
	if parent != nil {
		return parent
	}
	return associateRepository(payload, known)
}

// associateRepository heuristically matches a commit or PR to one of the
// known repositories. The join is approximate by design: it first tries the
// payload's own repo field, then scans for a repo name appearing as a
// substring of the message or title. Callers must treat a hit as best
// effort, not a guaranteed correct join.
func associateRepository(payload map[string]interface{}, known []types.RepoRef) *types.RepoRef {
	if name := stringField(payload, "repo"); name != "" {
		for i := range known {
			if strings.EqualFold(known[i].FullName(), name) {
				return &known[i]
			}
		}
	}

	text := strings.ToLower(stringField(payload, "message") + " " + stringField(payload, "title"))
	if text == " " {
		return nil
	}
	for i := range known {
		if known[i].Name != "" && strings.Contains(text, strings.ToLower(known[i].Name)) {
			return &known[i]
		}
	}

	return nil
}

// finalize deduplicates on (kind, id) and sorts timestamp-descending with a
// stable key tiebreak, so output order is deterministic regardless of fetch
// completion order.
func finalize(artifacts []types.Artifact) []types.Artifact {
	seen := make(map[string]bool, len(artifacts))
	out := make([]types.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a.ID == "" || seen[a.Key()] {
			continue
		}
		seen[a.Key()] = true
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Key() < out[j].Key()
	})

	return out
}

// --- payload construction and field access ---

func repoPayload(r source.Repo) map[string]interface{} {
	return map[string]interface{}{
		"name":        r.Name,
		"full_name":   r.FullName,
		"owner":       r.Owner.Login,
		"fork":        r.Fork,
		"stars":       r.StargazersCount,
		"forks_count": r.ForksCount,
		"language":    r.Language,
		"pushed_at":   r.PushedAt,
	}
}

func commitPayload(c source.Commit, repoFullName, subject string) map[string]interface{} {
	login := subject
	if c.Author != nil && c.Author.Login != "" {
		login = c.Author.Login
	}
	p := map[string]interface{}{
		"sha":          c.SHA,
		"message":      c.Commit.Message,
		"author_login": login,
		"author_name":  c.Commit.Author.Name,
		"date":         c.Commit.Author.Date,
		"repo":         repoFullName,
	}
	if c.Stats != nil {
		p["additions"] = c.Stats.Additions
		p["deletions"] = c.Stats.Deletions
		p["total_changes"] = c.Stats.Total
	}
	return p
}

func pullPayload(p source.PullRequest, repoFullName string) map[string]interface{} {
	out := map[string]interface{}{
		"id":           fmt.Sprintf("%d", p.ID),
		"number":       p.Number,
		"state":        p.State,
		"title":        p.Title,
		"author_login": p.User.Login,
		"created_at":   p.CreatedAt,
		"merged":       p.Merged(),
		"repo":         repoFullName,
	}
	if p.MergedAt != nil {
		out["merged_at"] = *p.MergedAt
	}
	return out
}

func repoRefFromPayload(repo map[string]interface{}) *types.RepoRef {
	if ref := refFromFullName(stringField(repo, "full_name")); ref != nil {
		return ref
	}
	owner := stringField(repo, "owner")
	name := stringField(repo, "name")
	if owner == "" || name == "" {
		return nil
	}
	return &types.RepoRef{Owner: owner, Name: name}
}

func refFromFullName(fullName string) *types.RepoRef {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil
	}
	return &types.RepoRef{Owner: parts[0], Name: parts[1]}
}

// authoredBy reports whether a payload's author matches the subject. An
// empty subject filter passes everything.
func authoredBy(payload map[string]interface{}, subject string) bool {
	if subject == "" {
		return true
	}
	return strings.EqualFold(stringField(payload, "author_login"), subject)
}

func authoredByLogin(pr map[string]interface{}, subject string) bool {
	if subject == "" {
		return true
	}
	if user, ok := pr["user"].(map[string]interface{}); ok {
		return strings.EqualFold(stringField(user, "login"), subject)
	}
	return true
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

func timeField(m map[string]interface{}, key string) time.Time {
	switch v := m[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
