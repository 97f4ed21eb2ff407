// Package github is the GitHub REST v3 client, built on the
// token-rotating fetcher in pkg/client. It also carries the GraphQL v4
// client (V4) and per-token quota reporting (Limits).
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/strudelkit/stscraper/internal/settings"
	"github.com/strudelkit/stscraper/pkg/client"
	"github.com/strudelkit/stscraper/pkg/logging"
	"github.com/strudelkit/stscraper/pkg/ratelimit"
	"github.com/strudelkit/stscraper/pkg/tokenpool"
)

const (
	// DefaultBaseURL is the REST v3 API root.
	DefaultBaseURL = "https://api.github.com/"

	// webURL is the non-API frontend, used by ProjectExists and
	// CanonicalURL.
	webURL = "https://github.com"

	// acceptPreviews opts into the preview media types the operations
	// rely on: mercy (repo topics), squirrel-girl (issue reactions),
	// starfox (issue events).
	acceptPreviews = "application/vnd.github.mercy-preview+json," +
		"application/vnd.github.squirrel-girl-preview," +
		"application/vnd.github.starfox-preview+json"
)

// Config holds GitHub client options. The zero value works: tokens come
// from the settings chain and the client falls back to anonymous access
// (60 requests per hour) when none are found.
type Config struct {
	// Tokens are personal access tokens; overrides the settings chain.
	Tokens []string

	// BaseURL overrides the API root (GitHub Enterprise, tests).
	BaseURL string

	// Timeout bounds each HTTP round trip; 0 means 30s.
	Timeout time.Duration

	// Redis enables the conditional request cache. GitHub serves 304
	// revalidations without charging quota, so this stretches tokens
	// considerably on re-scrapes.
	Redis *redis.Client

	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64
}

// API is a GitHub REST v3 client.
type API struct {
	client *client.Client
	httpc  *http.Client
	logger zerolog.Logger
}

// New creates a GitHub client. Token resolution order: cfg.Tokens, the
// settings file, GITHUB_API_TOKENS, GITHUB_TOKEN, the hub CLI config.
func New(cfg Config) (*API, error) {
	tokens := settings.Tokens("github", cfg.Tokens)

	var pool *tokenpool.Pool
	if len(tokens) == 0 {
		pool = tokenpool.NewAnonymous("github")
	} else {
		var err error
		if pool, err = tokenpool.New("github", tokens); err != nil {
			return nil, err
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cc := client.DefaultConfig("github", baseURL, pool)
	cc.Headers = map[string]string{"Accept": acceptPreviews}
	cc.Authorize = func(req *http.Request, tok *tokenpool.Token) {
		req.Header.Set("Authorization", "token "+tok.Secret())
	}
	cc.Classify = classify
	cc.LimitHeaderPrefix = ratelimit.GitHubHeaderPrefix
	// GitHub signals a spent quota with 403, not 429.
	cc.StatusTooManyRequests = []int{http.StatusForbidden}
	if cfg.Timeout > 0 {
		cc.Timeout = cfg.Timeout
	}
	cc.Redis = cfg.Redis
	cc.RequestsPerSecond = cfg.RequestsPerSecond

	c, err := client.New(cc)
	if err != nil {
		return nil, err
	}

	return &API{
		client: c,
		httpc:  &http.Client{Timeout: cc.Timeout},
		logger: logging.NewLogger("github"),
	}, nil
}

// classify maps request paths to quota buckets: the search API has its
// own, much smaller limit, as does GraphQL.
func classify(path string) ratelimit.Class {
	switch {
	case strings.HasPrefix(path, "search"):
		return ratelimit.ClassSearch
	case path == "graphql":
		return ratelimit.ClassGraphQL
	default:
		return ratelimit.ClassCore
	}
}

// Provider returns "github".
func (a *API) Provider() string {
	return a.client.Provider()
}

// Client exposes the underlying fetcher, mainly for tests.
func (a *API) Client() *client.Client {
	return a.client
}

// list starts a paginated fetch with the standard page/per_page cursor.
func (a *API) list(ctx context.Context, path string, query url.Values) *client.Iterator {
	return a.client.Fetch(ctx, &client.Request{Path: path, Query: query}, newPager())
}

// AllUsers iterates over every GitHub user, in signup order.
func (a *API) AllUsers(ctx context.Context) *client.Iterator {
	return a.list(ctx, "users", nil)
}

// AllRepos iterates over every public GitHub repository, in creation
// order.
func (a *API) AllRepos(ctx context.Context) *client.Iterator {
	return a.list(ctx, "repositories", nil)
}

// RepoInfo returns repository metadata.
func (a *API) RepoInfo(ctx context.Context, slug string) (json.RawMessage, error) {
	return a.client.FetchOne(ctx, &client.Request{Path: "repos/" + slug})
}

// RepoIssues iterates over a repository's issues, open and closed.
// GitHub's issues endpoint interleaves pull requests; those are filtered
// out, so the result contains issues proper only.
func (a *API) RepoIssues(ctx context.Context, slug string) *client.Iterator {
	it := a.list(ctx, fmt.Sprintf("repos/%s/issues", slug), url.Values{"state": {"all"}})
	return client.Filter(it, func(record json.RawMessage) bool {
		var probe struct {
			PullRequest json.RawMessage `json:"pull_request"`
		}
		if err := json.Unmarshal(record, &probe); err != nil {
			return true
		}
		return probe.PullRequest == nil
	})
}

// RepoIssueComments iterates over all comments in all issues and pull
// requests of a repository, open and closed.
func (a *API) RepoIssueComments(ctx context.Context, slug string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repos/%s/issues/comments", slug), nil)
}

// RepoIssueEvents iterates over all events in all issues and pull
// requests of a repository.
func (a *API) RepoIssueEvents(ctx context.Context, slug string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repos/%s/issues/events", slug), nil)
}

// RepoCommits iterates over all commits of the default branch. GitHub
// may omit some merge commits.
func (a *API) RepoCommits(ctx context.Context, slug string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repos/%s/commits", slug), nil)
}

// RepoPulls iterates over all pull requests, open and closed. Unlike
// RepoIssues, records carry pull-specific fields (head SHA, branches).
func (a *API) RepoPulls(ctx context.Context, slug string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repos/%s/pulls", slug), url.Values{"state": {"all"}})
}

// RepoTopics returns the repository's topic keywords.
func (a *API) RepoTopics(ctx context.Context, slug string) ([]string, error) {
	raw, err := a.client.FetchOne(ctx, &client.Request{Path: fmt.Sprintf("repos/%s/topics", slug)})
	if err != nil {
		return nil, err
	}
	var body struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrMalformedResponse, err)
	}
	return body.Names, nil
}

// RepoLabels returns the names of the repository's issue labels.
func (a *API) RepoLabels(ctx context.Context, slug string) ([]string, error) {
	it := a.list(ctx, fmt.Sprintf("repos/%s/labels", slug), nil)
	var names []string
	for it.Next() {
		var label struct {
			Name string `json:"name"`
		}
		if err := it.Decode(&label); err != nil {
			return nil, err
		}
		names = append(names, label.Name)
	}
	return names, it.Err()
}

// ContributorStats is one contributor's weekly commit counts.
type ContributorStats struct {
	// User is the contributor's login; empty for anonymous authors.
	User string

	// Weeks maps week start (unix seconds) to commit count.
	Weeks map[int64]int
}

// RepoContributors returns a commit timeline for up to 100 top
// contributors, bucketed by week.
func (a *API) RepoContributors(ctx context.Context, slug string) ([]ContributorStats, error) {
	raw, err := a.client.FetchOne(ctx, &client.Request{
		Path: fmt.Sprintf("repos/%s/stats/contributors", slug),
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Author struct {
			Login string `json:"login"`
		} `json:"author"`
		Weeks []struct {
			W int64 `json:"w"`
			C int   `json:"c"`
		} `json:"weeks"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrMalformedResponse, err)
	}
	stats := make([]ContributorStats, 0, len(rows))
	for _, row := range rows {
		s := ContributorStats{User: row.Author.Login, Weeks: make(map[int64]int, len(row.Weeks))}
		for _, wk := range row.Weeks {
			s.Weeks[wk.W] = wk.C
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// PullRequestCommits iterates over the commits of one pull request.
// number is the visible pull request number, not the internal id.
func (a *API) PullRequestCommits(ctx context.Context, slug string, number int) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repos/%s/pulls/%d/commits", slug, number), nil)
}

// IssueComments iterates over comments on one issue or pull request.
// For pull requests this returns general discussion only; code review
// comments come from ReviewComments.
func (a *API) IssueComments(ctx context.Context, slug string, number int) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repos/%s/issues/%d/comments", slug, number), nil)
}

// ReviewComments iterates over code review comments of one pull request.
func (a *API) ReviewComments(ctx context.Context, slug string, number int) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repos/%s/pulls/%d/comments", slug, number), nil)
}

// IssueEvents iterates over one issue's events: state changes,
// references, labels.
func (a *API) IssueEvents(ctx context.Context, slug string, number int) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repos/%s/issues/%d/events", slug, number), nil)
}

// UserInfo returns a user's profile: name, location, blog and so on.
func (a *API) UserInfo(ctx context.Context, username string) (json.RawMessage, error) {
	return a.client.FetchOne(ctx, &client.Request{Path: "users/" + username})
}

// UserRepos iterates over a user's repositories.
func (a *API) UserRepos(ctx context.Context, username string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("users/%s/repos", username), nil)
}

// UserOrgs iterates over a user's public organization memberships.
func (a *API) UserOrgs(ctx context.Context, username string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("users/%s/orgs", username), nil)
}

// OrgMembers iterates over an organization's public members.
func (a *API) OrgMembers(ctx context.Context, org string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("orgs/%s/members", org), nil)
}

// OrgRepos iterates over an organization's repositories.
func (a *API) OrgRepos(ctx context.Context, org string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("orgs/%s/repos", org), nil)
}

// TokenUser returns the login that the currently selected credential
// authenticates as.
func (a *API) TokenUser(ctx context.Context) (string, error) {
	raw, err := a.client.FetchOne(ctx, &client.Request{Path: "user"})
	if err != nil {
		return "", err
	}
	var body struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("%w: %v", client.ErrMalformedResponse, err)
	}
	return body.Login, nil
}

// ProjectExists reports whether the repository is reachable on the web
// frontend. Cheaper than RepoInfo and spends no API quota. Connection
// failures are retried up to five times with exponential backoff.
func (a *API) ProjectExists(ctx context.Context, slug string) bool {
	for i := 0; i < 5; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, webURL+"/"+slug, nil)
		if err != nil {
			return false
		}
		resp, err := a.httpc.Do(req)
		if err == nil {
			resp.Body.Close()
			return resp.StatusCode < 400
		}
		if ctx.Err() != nil {
			return false
		}
		select {
		case <-time.After(time.Duration(1<<i) * time.Second):
		case <-ctx.Done():
			return false
		}
	}
	return false
}

// CanonicalURL normalizes a repository URL to its lowercase
// "github.com/owner/repo" form, dropping scheme, trailing slash and a
// ".git" suffix.
func (a *API) CanonicalURL(ctx context.Context, projectURL string) (string, error) {
	return canonicalURL(projectURL, "github.com"), nil
}

// canonicalURL normalizes a project URL against a forge hostname. The
// forge treats project paths case-insensitively and accepts a ".git"
// suffix on clone URLs.
func canonicalURL(projectURL, host string) string {
	u := strings.ToLower(projectURL)
	for _, prefix := range []string{"http://", "https://", host} {
		u = strings.TrimPrefix(u, prefix)
	}
	u = strings.TrimSuffix(u, "/")
	for strings.HasSuffix(u, ".git") {
		u = strings.TrimSuffix(u, ".git")
	}
	return host + "/" + strings.TrimPrefix(u, "/")
}
