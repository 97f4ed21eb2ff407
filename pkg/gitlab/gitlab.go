// Package gitlab is the GitLab REST v4 client, built on the
// token-rotating fetcher in pkg/client.
//
// GitLab's API surface differs from GitHub's; operations it does not
// offer return client.ErrNotImplemented.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	// DefaultBaseURL is the REST v4 API root on gitlab.com.
	DefaultBaseURL = "https://gitlab.com/api/v4/"

	webURL = "https://gitlab.com"
)

// Config holds GitLab client options. The zero value resolves tokens
// from the settings chain and falls back to anonymous access (600
// requests per minute, by IP).
type Config struct {
	// Tokens are personal access tokens; overrides the settings chain.
	Tokens []string

	// BaseURL overrides the API root (self-hosted instances, tests).
	BaseURL string

	// Timeout bounds each HTTP round trip; 0 means 30s.
	Timeout time.Duration

	// Redis enables the conditional request cache.
	Redis *redis.Client

	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64
}

// API is a GitLab REST v4 client.
type API struct {
	client *client.Client
	httpc  *http.Client
	logger zerolog.Logger
}

// New creates a GitLab client. Token resolution order: cfg.Tokens, the
// settings file, GITLAB_API_TOKENS.
func New(cfg Config) (*API, error) {
	tokens := settings.Tokens("gitlab", cfg.Tokens)

	var pool *tokenpool.Pool
	if len(tokens) == 0 {
		pool = tokenpool.NewAnonymous("gitlab")
	} else {
		var err error
		if pool, err = tokenpool.New("gitlab", tokens); err != nil {
			return nil, err
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cc := client.DefaultConfig("gitlab", baseURL, pool)
	cc.Authorize = func(req *http.Request, tok *tokenpool.Token) {
		req.Header.Set("Private-Token", tok.Secret())
	}
	cc.LimitHeaderPrefix = ratelimit.GitLabHeaderPrefix
	cc.StatusTooManyRequests = []int{http.StatusTooManyRequests}
	// GitLab reports projects with disabled features as 422.
	cc.StatusNotFound = []int{404, 422, 451}
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
		logger: logging.NewLogger("gitlab"),
	}, nil
}

// Provider returns "gitlab".
func (a *API) Provider() string {
	return a.client.Provider()
}

// Client exposes the underlying fetcher, mainly for tests.
func (a *API) Client() *client.Client {
	return a.client
}

// encodeSlug URL-encodes a project path for use as a single path
// segment: GitLab addresses projects as "group%2fproject".
func encodeSlug(slug string) string {
	return strings.ReplaceAll(slug, "/", "%2f")
}

func (a *API) list(ctx context.Context, path string) *client.Iterator {
	return a.client.Fetch(ctx, &client.Request{Path: path}, newPager())
}

// AllUsers iterates over every GitLab user.
func (a *API) AllUsers(ctx context.Context) *client.Iterator {
	return a.list(ctx, "users")
}

// AllRepos iterates over every public GitLab project.
func (a *API) AllRepos(ctx context.Context) *client.Iterator {
	return a.list(ctx, "projects")
}

// RepoInfo returns project metadata.
func (a *API) RepoInfo(ctx context.Context, slug string) (json.RawMessage, error) {
	return a.client.FetchOne(ctx, &client.Request{Path: "projects/" + encodeSlug(slug)})
}

// RepoIssues is not available through the GitLab client.
func (a *API) RepoIssues(ctx context.Context, slug string) *client.Iterator {
	return client.FailedIterator(notImplemented("RepoIssues"))
}

// RepoCommits iterates over a project's repository commits.
func (a *API) RepoCommits(ctx context.Context, slug string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("projects/%s/repository/commits", encodeSlug(slug)))
}

// RepoPulls is not available through the GitLab client.
func (a *API) RepoPulls(ctx context.Context, slug string) *client.Iterator {
	return client.FailedIterator(notImplemented("RepoPulls"))
}

// PullRequestCommits is not available through the GitLab client.
func (a *API) PullRequestCommits(ctx context.Context, slug string, number int) *client.Iterator {
	return client.FailedIterator(notImplemented("PullRequestCommits"))
}

// IssueComments is not available through the GitLab client.
func (a *API) IssueComments(ctx context.Context, slug string, number int) *client.Iterator {
	return client.FailedIterator(notImplemented("IssueComments"))
}

// ReviewComments is not available through the GitLab client.
func (a *API) ReviewComments(ctx context.Context, slug string, number int) *client.Iterator {
	return client.FailedIterator(notImplemented("ReviewComments"))
}

// UserInfo returns a user's profile.
func (a *API) UserInfo(ctx context.Context, username string) (json.RawMessage, error) {
	return a.client.FetchOne(ctx, &client.Request{Path: "users/" + username})
}

// UserRepos is not available through the GitLab client.
func (a *API) UserRepos(ctx context.Context, username string) *client.Iterator {
	return client.FailedIterator(notImplemented("UserRepos"))
}

// UserOrgs is not available through the GitLab client.
func (a *API) UserOrgs(ctx context.Context, username string) *client.Iterator {
	return client.FailedIterator(notImplemented("UserOrgs"))
}

// OrgMembers is not available through the GitLab client.
func (a *API) OrgMembers(ctx context.Context, org string) *client.Iterator {
	return client.FailedIterator(notImplemented("OrgMembers"))
}

// OrgRepos is not available through the GitLab client.
func (a *API) OrgRepos(ctx context.Context, org string) *client.Iterator {
	return client.FailedIterator(notImplemented("OrgRepos"))
}

// ProjectExists reports whether the project is reachable on the web
// frontend without spending API quota.
func (a *API) ProjectExists(ctx context.Context, slug string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, webURL+"/"+slug, nil)
	if err != nil {
		return false
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

// CanonicalURL normalizes a project URL to its lowercase
// "gitlab.com/group/project" form. Project paths are case-insensitive
// and may carry a ".git" suffix.
func (a *API) CanonicalURL(ctx context.Context, projectURL string) (string, error) {
	u := strings.ToLower(projectURL)
	for _, prefix := range []string{"http://", "https://", "gitlab.com"} {
		u = strings.TrimPrefix(u, prefix)
	}
	u = strings.TrimSuffix(u, "/")
	for strings.HasSuffix(u, ".git") {
		u = strings.TrimSuffix(u, ".git")
	}
	return "gitlab.com/" + strings.TrimPrefix(u, "/"), nil
}

func notImplemented(op string) error {
	return fmt.Errorf("%w: gitlab %s", client.ErrNotImplemented, op)
}
