// Package bitbucket is the Bitbucket Cloud v2 client, built on the
// fetcher in pkg/client.
//
// Bitbucket issues no API tokens for public data and throttles by
// client IP, so the client always runs anonymously. Unlike GitHub and
// GitLab, errors and the pagination cursor live in the response body,
// not in headers.
package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/strudelkit/stscraper/pkg/client"
	"github.com/strudelkit/stscraper/pkg/logging"
	"github.com/strudelkit/stscraper/pkg/tokenpool"
)

// DefaultBaseURL is the Bitbucket Cloud v2 API root.
const DefaultBaseURL = "https://api.bitbucket.org/2.0/"

// Config holds Bitbucket client options; the zero value works.
type Config struct {
	// BaseURL overrides the API root (tests).
	BaseURL string

	// Timeout bounds each HTTP round trip; 0 means 30s.
	Timeout time.Duration

	// Redis enables the conditional request cache.
	Redis *redis.Client

	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64
}

// API is a Bitbucket Cloud v2 client.
type API struct {
	client *client.Client
	httpc  *http.Client
	logger zerolog.Logger
}

// New creates a Bitbucket client.
func New(cfg Config) (*API, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cc := client.DefaultConfig("bitbucket", baseURL, tokenpool.NewAnonymous("bitbucket"))
	cc.StatusNotFound = []int{404, 422, 451}
	// No quota headers; 429 still benches the (single, anonymous)
	// token for the penalty duration, which is effectively IP backoff.
	cc.StatusTooManyRequests = []int{http.StatusTooManyRequests}
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
		logger: logging.NewLogger("bitbucket"),
	}, nil
}

// Provider returns "bitbucket".
func (a *API) Provider() string {
	return a.client.Provider()
}

// Client exposes the underlying fetcher, mainly for tests.
func (a *API) Client() *client.Client {
	return a.client
}

func (a *API) list(ctx context.Context, path string) *client.Iterator {
	return a.client.Fetch(ctx, &client.Request{Path: path}, newPager())
}

// fetchOne performs a non-paginated request, surfacing a body-level
// error object as a fatal error.
func (a *API) fetchOne(ctx context.Context, path string) (json.RawMessage, error) {
	raw, err := a.client.FetchOne(ctx, &client.Request{Path: path})
	if err != nil {
		return nil, err
	}
	if msg := bodyError(raw); msg != "" {
		return nil, &client.APIError{
			Provider: "bitbucket",
			Class:    client.ErrorClassClient,
			Message:  msg,
		}
	}
	return raw, nil
}

// AllUsers is not available: Bitbucket has no user listing endpoint.
func (a *API) AllUsers(ctx context.Context) *client.Iterator {
	return client.FailedIterator(notImplemented("AllUsers"))
}

// AllRepos iterates over all public Bitbucket repositories.
func (a *API) AllRepos(ctx context.Context) *client.Iterator {
	return a.list(ctx, "repositories")
}

// RepoInfo returns repository metadata.
func (a *API) RepoInfo(ctx context.Context, slug string) (json.RawMessage, error) {
	return a.fetchOne(ctx, "repositories/"+slug)
}

// RepoIssues iterates over a repository's issue tracker.
func (a *API) RepoIssues(ctx context.Context, slug string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repositories/%s/issues", slug))
}

// RepoCommits iterates over a repository's commits.
func (a *API) RepoCommits(ctx context.Context, slug string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repositories/%s/commits", slug))
}

// RepoPulls iterates over a repository's pull requests.
func (a *API) RepoPulls(ctx context.Context, slug string) *client.Iterator {
	return a.list(ctx, fmt.Sprintf("repositories/%s/pullrequests", slug))
}

// PullRequestCommits is not available through the Bitbucket client.
func (a *API) PullRequestCommits(ctx context.Context, slug string, number int) *client.Iterator {
	return client.FailedIterator(notImplemented("PullRequestCommits"))
}

// IssueComments is not available through the Bitbucket client.
func (a *API) IssueComments(ctx context.Context, slug string, number int) *client.Iterator {
	return client.FailedIterator(notImplemented("IssueComments"))
}

// ReviewComments is not available through the Bitbucket client.
func (a *API) ReviewComments(ctx context.Context, slug string, number int) *client.Iterator {
	return client.FailedIterator(notImplemented("ReviewComments"))
}

// UserInfo is not available through the Bitbucket client.
func (a *API) UserInfo(ctx context.Context, username string) (json.RawMessage, error) {
	return nil, notImplemented("UserInfo")
}

// UserRepos iterates over a user's (or workspace's) repositories.
func (a *API) UserRepos(ctx context.Context, username string) *client.Iterator {
	return a.list(ctx, "repositories/"+username)
}

// UserOrgs is not available through the Bitbucket client.
func (a *API) UserOrgs(ctx context.Context, username string) *client.Iterator {
	return client.FailedIterator(notImplemented("UserOrgs"))
}

// OrgMembers is not available through the Bitbucket client.
func (a *API) OrgMembers(ctx context.Context, org string) *client.Iterator {
	return client.FailedIterator(notImplemented("OrgMembers"))
}

// OrgRepos is not available through the Bitbucket client.
func (a *API) OrgRepos(ctx context.Context, org string) *client.Iterator {
	return client.FailedIterator(notImplemented("OrgRepos"))
}

// ProjectExists reports whether the repository resolves on the API.
func (a *API) ProjectExists(ctx context.Context, slug string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.client.BaseURL()+"repositories/"+slug, nil)
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

// CanonicalURL is not available: Bitbucket keeps no redirect trail for
// renamed repositories.
func (a *API) CanonicalURL(ctx context.Context, projectURL string) (string, error) {
	return "", notImplemented("CanonicalURL")
}

// bodyError extracts the message of a body-level error object, if any.
func bodyError(raw json.RawMessage) string {
	var probe struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Error == nil {
		return ""
	}
	return probe.Error.Message
}

func notImplemented(op string) error {
	return fmt.Errorf("%w: bitbucket %s", client.ErrNotImplemented, op)
}
