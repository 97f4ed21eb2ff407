// Package scraper is the umbrella over the per-forge API clients. It
// parses project URLs, picks the matching provider, and exposes the
// shared operation surface as a single interface.
//
//	prov, slug, err := scraper.Get("https://github.com/pandas-dev/pandas")
//	if err != nil { ... }
//	info, err := prov.RepoInfo(ctx, slug)
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/strudelkit/stscraper/internal/settings"
	"github.com/strudelkit/stscraper/pkg/bitbucket"
	"github.com/strudelkit/stscraper/pkg/client"
	"github.com/strudelkit/stscraper/pkg/github"
	"github.com/strudelkit/stscraper/pkg/gitlab"
)

var (
	// ErrUnsupportedProvider is returned for URLs outside the supported
	// forges (github.com, gitlab.com, bitbucket.org).
	ErrUnsupportedProvider = errors.New("unsupported code hosting provider")

	// ErrNotImplemented is returned when a forge's API simply has no
	// endpoint for the requested operation.
	ErrNotImplemented = client.ErrNotImplemented
)

// Provider is the operation surface shared by the forge clients. Not
// every forge implements every operation; the gaps return
// ErrNotImplemented.
type Provider interface {
	// Provider returns the forge name ("github", "gitlab", "bitbucket").
	Provider() string

	AllUsers(ctx context.Context) *client.Iterator
	AllRepos(ctx context.Context) *client.Iterator

	RepoInfo(ctx context.Context, slug string) (json.RawMessage, error)
	RepoIssues(ctx context.Context, slug string) *client.Iterator
	RepoCommits(ctx context.Context, slug string) *client.Iterator
	RepoPulls(ctx context.Context, slug string) *client.Iterator
	PullRequestCommits(ctx context.Context, slug string, number int) *client.Iterator
	IssueComments(ctx context.Context, slug string, number int) *client.Iterator
	ReviewComments(ctx context.Context, slug string, number int) *client.Iterator

	UserInfo(ctx context.Context, username string) (json.RawMessage, error)
	UserRepos(ctx context.Context, username string) *client.Iterator
	UserOrgs(ctx context.Context, username string) *client.Iterator
	OrgMembers(ctx context.Context, org string) *client.Iterator
	OrgRepos(ctx context.Context, org string) *client.Iterator

	// ProjectExists reports whether the project is reachable on the
	// forge's web frontend.
	ProjectExists(ctx context.Context, slug string) bool

	// CanonicalURL follows redirects to the project's current URL, so
	// renamed and transferred repositories resolve to one identity.
	CanonicalURL(ctx context.Context, projectURL string) (string, error)
}

// factories maps forge hostnames to provider constructors. Tokens come
// from the settings chain (settings file, environment, hub config);
// callers needing explicit tokens construct the provider package
// directly.
var factories = map[string]func() (Provider, error){
	"github.com": func() (Provider, error) {
		return github.New(github.Config{})
	},
	"gitlab.com": func() (Provider, error) {
		return gitlab.New(gitlab.Config{})
	},
	"bitbucket.org": func() (Provider, error) {
		return bitbucket.New(bitbucket.Config{})
	},
	// sourceforge.net parses but has no API client.
}

// LoadTokens resolves the API token list for a provider name ("github"
// or "gitlab") from the configuration chain: settings file, then the
// provider environment variable, then (GitHub only) GITHUB_TOKEN and
// the hub CLI config.
func LoadTokens(provider string) []string {
	return settings.Tokens(provider, nil)
}

// Get parses a project URL and returns the matching provider client and
// the project slug.
func Get(projectURL string) (Provider, string, error) {
	host, slug, err := ParseURL(projectURL)
	if err != nil {
		return nil, "", err
	}
	factory, ok := factories[host]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, host)
	}
	prov, err := factory()
	if err != nil {
		return nil, "", err
	}
	return prov, slug, nil
}
