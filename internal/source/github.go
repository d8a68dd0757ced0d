package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/powlabs/proofwork/internal/errors"
	"github.com/powlabs/proofwork/internal/resilience"
	"github.com/powlabs/proofwork/internal/types"
)

const (
	defaultBaseURL   = "https://api.github.com"
	defaultUserAgent = "proofwork/1.0"
	pageSize         = 100
	maxPages         = 10
)

// User is the subject's public profile.
type User struct {
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
	Following   int       `json:"following"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repo is one repository owned by or forked to the subject.
type Repo struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	FullName        string    `json:"full_name"`
	Fork            bool      `json:"fork"`
	StargazersCount int       `json:"stargazers_count"`
	ForksCount      int       `json:"forks_count"`
	Language        string    `json:"language"`
	PushedAt        time.Time `json:"pushed_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Owner           struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Commit is one commit from a repo's commit listing. Stats are only present
// when the upstream includes them; callers must treat them as optional.
type Commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name  string    `json:"name"`
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	Stats *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
		Total     int `json:"total"`
	} `json:"stats"`
}

// PullRequest is one pull request from a repo's PR listing.
type PullRequest struct {
	ID        int64      `json:"id"`
	Number    int        `json:"number"`
	State     string     `json:"state"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// Merged reports whether the pull request was merged.
func (p PullRequest) Merged() bool {
	return p.MergedAt != nil
}

// Event is one entry from the subject's public event feed.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Repo      struct {
		Name string `json:"name"`
	} `json:"repo"`
	Payload json.RawMessage `json:"payload"`
}

// Client fetches a subject's public activity from the GitHub REST API.
// All calls share one rate limiter so concurrent fetches stay inside the
// upstream budget.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a GitHub client. An empty token is allowed; requests go
// out unauthenticated and an invalid token surfaces at first call, not here.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		retry:      resilience.DefaultRetryConfig(),
	}
}

// User fetches the subject's profile.
func (c *Client) User(ctx context.Context, login string) (*User, error) {
	var u User
	endpoint := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(login))
	if err := c.getJSON(ctx, endpoint, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Repos fetches all of the subject's repositories, following pagination.
func (c *Client) Repos(ctx context.Context, login string) ([]Repo, error) {
	var all []Repo
	next := fmt.Sprintf("%s/users/%s/repos?per_page=%d&sort=pushed", c.baseURL, url.PathEscape(login), pageSize)

	for page := 0; next != "" && page < maxPages; page++ {
		var repos []Repo
		link, err := c.getJSONPaged(ctx, next, &repos)
		if err != nil {
			return nil, err
		}
		all = append(all, repos...)
		next = link
	}

	return all, nil
}

// Commits fetches commits authored by author in the given repo since the
// given time, following pagination.
func (c *Client) Commits(ctx context.Context, owner, repo, author string, since time.Time) ([]Commit, error) {
	var all []Commit
	next := fmt.Sprintf("%s/repos/%s/%s/commits?per_page=%d&author=%s&since=%s",
		c.baseURL, url.PathEscape(owner), url.PathEscape(repo), pageSize,
		url.QueryEscape(author), url.QueryEscape(since.UTC().Format(time.RFC3339)))

	for page := 0; next != "" && page < maxPages; page++ {
		var commits []Commit
		link, err := c.getJSONPaged(ctx, next, &commits)
		if err != nil {
			return nil, err
		}
		all = append(all, commits...)
		next = link
	}

	return all, nil
}

// Pulls fetches all pull requests in the given repo, any state, following
// pagination. Author filtering happens downstream; the listing endpoint has
// no author parameter.
func (c *Client) Pulls(ctx context.Context, owner, repo string) ([]PullRequest, error) {
	var all []PullRequest
	next := fmt.Sprintf("%s/repos/%s/%s/pulls?per_page=%d&state=all&sort=updated&direction=desc",
		c.baseURL, url.PathEscape(owner), url.PathEscape(repo), pageSize)

	for page := 0; next != "" && page < maxPages; page++ {
		var pulls []PullRequest
		link, err := c.getJSONPaged(ctx, next, &pulls)
		if err != nil {
			return nil, err
		}
		all = append(all, pulls...)
		next = link
	}

	return all, nil
}

// Events fetches the subject's recent public event feed. The feed is capped
// upstream; three pages is everything GitHub will serve.
func (c *Client) Events(ctx context.Context, login string) ([]Event, error) {
	var all []Event
	next := fmt.Sprintf("%s/users/%s/events/public?per_page=%d", c.baseURL, url.PathEscape(login), pageSize)

	for page := 0; next != "" && page < 3; page++ {
		var events []Event
		link, err := c.getJSONPaged(ctx, next, &events)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
		next = link
	}

	return all, nil
}

// Languages fetches the language byte breakdown for one repo.
func (c *Client) Languages(ctx context.Context, owner, repo string) (types.RepoLanguages, error) {
	langs := types.RepoLanguages{}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/languages", c.baseURL, url.PathEscape(owner), url.PathEscape(repo))
	if err := c.getJSON(ctx, endpoint, &langs); err != nil {
		return nil, err
	}
	return langs, nil
}

type contributorEntry struct {
	Total  int `json:"total"`
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	Weeks []struct {
		Additions int `json:"a"`
		Deletions int `json:"d"`
		Commits   int `json:"c"`
	} `json:"weeks"`
}

// ContributorStats fetches the subject's contribution totals for one repo.
// Returns zero stats when the subject never contributed to it.
func (c *Client) ContributorStats(ctx context.Context, owner, repo, login string) (*types.ContributorStats, error) {
	var entries []contributorEntry
	endpoint := fmt.Sprintf("%s/repos/%s/%s/stats/contributors", c.baseURL, url.PathEscape(owner), url.PathEscape(repo))
	if err := c.getJSON(ctx, endpoint, &entries); err != nil {
		return nil, err
	}

	stats := &types.ContributorStats{}
	for _, e := range entries {
		if !strings.EqualFold(e.Author.Login, login) {
			continue
		}
		stats.Commits = e.Total
		for _, w := range e.Weeks {
			stats.Additions += w.Additions
			stats.Deletions += w.Deletions
		}
		break
	}

	return stats, nil
}

// getJSON performs a GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	_, err := c.do(ctx, endpoint, out)
	return err
}

// getJSONPaged performs a GET, decodes into out, and returns the next-page
// URL from the Link header, if any.
func (c *Client) getJSONPaged(ctx context.Context, endpoint string, out interface{}) (string, error) {
	return c.do(ctx, endpoint, out)
}

func (c *Client) do(ctx context.Context, endpoint string, out interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := resilience.RetryHTTP(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		c.applyHeaders(req)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", errors.NewExternalAPIError("GitHub", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.NewAuthenticationError("invalid or missing GitHub credentials",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.NewExternalAPIError("GitHub",
			fmt.Errorf("status %d from %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", errors.NewExternalAPIError("GitHub", fmt.Errorf("decode response: %w", err))
	}

	return extractNextLink(resp.Header.Get("Link")), nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// extractNextLink parses the rel="next" URL out of a Link header.
func extractNextLink(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}

	for _, link := range strings.Split(linkHeader, ",") {
		parts := strings.Split(link, ";")
		if len(parts) < 2 {
			continue
		}
		for _, p := range parts[1:] {
			if strings.TrimSpace(p) == `rel="next"` {
				return strings.Trim(strings.TrimSpace(parts[0]), "<>")
			}
		}
	}
	return ""
}
