// Package ingest turns raw activity-source payloads into a canonical,
// deduplicated, ownership-filtered artifact sequence.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/powlabs/proofwork/internal/errors"
	"github.com/powlabs/proofwork/internal/source"
	"github.com/powlabs/proofwork/internal/types"
)

const (
	// topRepoLimit bounds the per-repo metadata calls in fast mode.
	topRepoLimit = 8
	// metadataFanOut bounds concurrent language/stat fetches in fast mode.
	metadataFanOut = 4
	defaultMonthsBack = 12
)

// Source is the slice of the activity-source API the ingestor consumes.
type Source interface {
	User(ctx context.Context, login string) (*source.User, error)
	Repos(ctx context.Context, login string) ([]source.Repo, error)
	Commits(ctx context.Context, owner, repo, author string, since time.Time) ([]source.Commit, error)
	Pulls(ctx context.Context, owner, repo string) ([]source.PullRequest, error)
	Events(ctx context.Context, login string) ([]source.Event, error)
	Languages(ctx context.Context, owner, repo string) (types.RepoLanguages, error)
	ContributorStats(ctx context.Context, owner, repo, login string) (*types.ContributorStats, error)
}

// Ingestor fetches and filters a subject's activity.
type Ingestor struct {
	src Source
	now func() time.Time
}

// NewIngestor creates an ingestor over the given activity source.
func NewIngestor(src Source) *Ingestor {
	return &Ingestor{src: src, now: time.Now}
}

// IngestFast issues a small, bounded number of calls (profile, repo list,
// event feed) then fetches per-repo metadata for the top repos in parallel.
// It trades completeness for speed: events, not full history, are the
// commit/PR source here.
func (in *Ingestor) IngestFast(ctx context.Context, subject string, monthsBack int) (*types.FastIngestedData, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, errors.NewValidationError("subject identifier is required")
	}
	if monthsBack <= 0 {
		monthsBack = defaultMonthsBack
	}

	user, err := in.src.User(ctx, subject)
	if err != nil {
		return nil, err
	}

	repos, err := in.src.Repos(ctx, subject)
	if err != nil {
		return nil, err
	}

	events, err := in.src.Events(ctx, subject)
	if err != nil {
		return nil, err
	}

	top := rankRepos(repos, in.now())
	if len(top) > topRepoLimit {
		top = top[:topRepoLimit]
	}

	data := &types.FastIngestedData{
		Subject: subject,
		Profile: map[string]interface{}{
			"login":        user.Login,
			"name":         user.Name,
			"public_repos": user.PublicRepos,
			"followers":    user.Followers,
			"created_at":   user.CreatedAt,
		},
		Languages: make(map[string]types.RepoLanguages, len(top)),
		Stats:     make(map[string]types.ContributorStats, len(top)),
		FetchedAt: in.now(),
	}

	for _, r := range top {
		data.Repos = append(data.Repos, repoPayload(r))
		data.TopRepoList = append(data.TopRepoList, r.FullName)
	}

	since := in.now().AddDate(0, -monthsBack, 0)
	for _, ev := range events {
		if ev.CreatedAt.Before(since) {
			continue
		}
		data.Events = append(data.Events, eventPayload(ev))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataFanOut)

	for _, r := range top {
		g.Go(func() error {
			langs, err := in.src.Languages(gctx, r.Owner.Login, r.Name)
			if err != nil {
				slog.Warn("language fetch failed, continuing", "repo", r.FullName, "error", err)
				langs = types.RepoLanguages{}
			}

			stats, err := in.src.ContributorStats(gctx, r.Owner.Login, r.Name, subject)
			if err != nil {
				slog.Warn("contributor stats fetch failed, continuing", "repo", r.FullName, "error", err)
				stats = &types.ContributorStats{}
			}

			mu.Lock()
			data.Languages[r.FullName] = langs
			data.Stats[r.FullName] = *stats
			mu.Unlock()
			return nil
		})
	}

	// Goroutines never return errors; metadata failures only reduce
	// completeness. Wait is still required for the group context.
	_ = g.Wait()

	return data, nil
}

// IngestFull walks every repo sequentially and fetches the subject's commits
// and pull requests inside each, bounding outstanding request concurrency to
// the two sub-fetches of the current repo. One repo's failure never aborts
// the run.
func (in *Ingestor) IngestFull(ctx context.Context, subject string, monthsBack int) (*types.IngestedArtifacts, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, errors.NewValidationError("subject identifier is required")
	}
	if monthsBack <= 0 {
		monthsBack = defaultMonthsBack
	}

	repos, err := in.src.Repos(ctx, subject)
	if err != nil {
		return nil, err
	}

	since := in.now().AddDate(0, -monthsBack, 0)
	result := &types.IngestedArtifacts{Subject: subject, FetchedAt: in.now()}

	for _, r := range repos {
		commits, pulls, err := in.fetchRepoActivity(ctx, r, subject, since)
		if err != nil {
			slog.Warn("repo fetch failed, continuing with remaining repos",
				"repo", r.FullName, "error", err)
			continue
		}

		if !retainRepo(r, commits, pulls) {
			continue
		}

		activity := types.RepoActivity{Repo: repoPayload(r)}
		for _, c := range commits {
			activity.Commits = append(activity.Commits, commitPayload(c, r.FullName, subject))
		}
		for _, p := range pulls {
			activity.Pulls = append(activity.Pulls, pullPayload(p, r.FullName))
		}

		result.Repos = append(result.Repos, activity)
	}

	return result, nil
}

// fetchRepoActivity runs the commit and PR fetches for one repo as two
// concurrent sub-fetches and filters both to the subject and window.
func (in *Ingestor) fetchRepoActivity(ctx context.Context, r source.Repo, subject string, since time.Time) ([]source.Commit, []source.PullRequest, error) {
	var commits []source.Commit
	var pulls []source.PullRequest

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		got, err := in.src.Commits(gctx, r.Owner.Login, r.Name, subject, since)
		if err != nil {
			return err
		}
		commits = filterCommits(got, subject, since)
		return nil
	})

	g.Go(func() error {
		got, err := in.src.Pulls(gctx, r.Owner.Login, r.Name)
		if err != nil {
			return err
		}
		pulls = filterPulls(got, subject, since)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return commits, pulls, nil
}

// retainRepo decides whether a repo stays in the ingested set. Non-fork
// repos need at least one qualifying commit or PR. Forks need at least one
// subject commit, or failing that at least one authored PR.
func retainRepo(r source.Repo, commits []source.Commit, pulls []source.PullRequest) bool {
	if r.Fork {
		if len(commits) > 0 {
			return true
		}
		return len(pulls) > 0
	}
	return len(commits) > 0 || len(pulls) > 0
}

// filterCommits keeps commits authored by the subject inside the window.
// The source already filters by author; this is defense in depth against
// upstream filtering bugs.
func filterCommits(commits []source.Commit, subject string, since time.Time) []source.Commit {
	var out []source.Commit
	for _, c := range commits {
		if c.Commit.Author.Date.Before(since) {
			continue
		}
		if c.Author != nil && !strings.EqualFold(c.Author.Login, subject) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterPulls keeps pull requests authored by the subject inside the window.
func filterPulls(pulls []source.PullRequest, subject string, since time.Time) []source.PullRequest {
	var out []source.PullRequest
	for _, p := range pulls {
		if p.CreatedAt.Before(since) {
			continue
		}
		if !strings.EqualFold(p.User.Login, subject) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// rankRepos orders repos by stars plus a recency bonus, best first. Forks
// never make the top list.
func rankRepos(repos []source.Repo, now time.Time) []source.Repo {
	owned := make([]source.Repo, 0, len(repos))
	for _, r := range repos {
		if !r.Fork {
			owned = append(owned, r)
		}
	}

	sort.SliceStable(owned, func(i, j int) bool {
		return repoScore(owned[i], now) > repoScore(owned[j], now)
	})

	return owned
}

func repoScore(r source.Repo, now time.Time) float64 {
	score := float64(r.StargazersCount)
	age := now.Sub(r.PushedAt)
	switch {
	case age < 30*24*time.Hour:
		score += 30
	case age < 90*24*time.Hour:
		score += 20
	case age < 365*24*time.Hour:
		score += 10
	}
	return score
}

func eventPayload(ev source.Event) map[string]interface{} {
	var payload map[string]interface{}
	if len(ev.Payload) > 0 {
		// Unparseable event payloads are kept as empty maps; the event
		// itself still counts toward activity.
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			payload = map[string]interface{}{}
		}
	}
	return map[string]interface{}{
		"id":         ev.ID,
		"type":       ev.Type,
		"repo":       ev.Repo.Name,
		"created_at": ev.CreatedAt,
		"payload":    payload,
	}
}
