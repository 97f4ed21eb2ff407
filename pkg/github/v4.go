package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strudelkit/stscraper/internal/jsonutil"
	"github.com/strudelkit/stscraper/pkg/client"
	"github.com/strudelkit/stscraper/pkg/ratelimit"
)

// V4 is the GitHub GraphQL API client. GraphQL has no fixed operation
// surface; callers write their own queries and V4 handles credential
// rotation and cursor pagination. A few prebuilt queries cover the
// common research cases.
//
// Paginated queries must name their cursor variable "cursor" and select
// pageInfo{endCursor, hasNextPage} next to the nodes list.
type V4 struct {
	api *API
}

// V4 returns the GraphQL client sharing this API's token pool and
// fetch policy.
func (a *API) V4() *V4 {
	return &V4{api: a}
}

// Query runs a GraphQL query and iterates the records under objectPath
// (relative to "data", excluding the trailing "nodes"). When the object
// at the path has no nodes list, the object itself is yielded once. vars
// is copied, so the caller's map is never mutated by pagination.
func (v *V4) Query(ctx context.Context, query string, objectPath []string, vars map[string]any) *client.Iterator {
	p := &v4Pager{query: query, objectPath: objectPath, vars: make(map[string]any, len(vars)+1)}
	for k, val := range vars {
		p.vars[k] = val
	}
	req := &client.Request{
		Method: "POST",
		Path:   "graphql",
		Class:  ratelimit.ClassGraphQL,
	}
	return v.api.client.Fetch(ctx, req, p)
}

// QueryOne runs a single-object query and returns the object at
// objectPath.
func (v *V4) QueryOne(ctx context.Context, query string, objectPath []string, vars map[string]any) (json.RawMessage, error) {
	it := v.Query(ctx, query, objectPath, vars)
	if !it.Next() {
		if err := it.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty GraphQL result", client.ErrMalformedResponse)
	}
	return it.Record(), it.Err()
}

// v4Pager drives GraphQL cursor pagination. Each page POSTs the query
// with the current variables; the next page re-POSTs with the cursor
// variable advanced to pageInfo.endCursor.
type v4Pager struct {
	query      string
	objectPath []string
	vars       map[string]any

	// set by Items for NextPage to inspect
	hasNext   bool
	endCursor string
}

func (p *v4Pager) FirstPage(req *client.Request) {
	p.marshal(req)
}

func (p *v4Pager) marshal(req *client.Request) {
	// Errors here are impossible: the payload is a string plus
	// JSON-marshalable variables.
	body, _ := json.Marshal(map[string]any{
		"query":     p.query,
		"variables": p.vars,
	})
	req.Body = body
}

func (p *v4Pager) Items(resp *client.Response) ([]json.RawMessage, error) {
	var envelope struct {
		Data any `json:"data"`
	}
	if err := json.Unmarshal(resp.Data, &envelope); err != nil || envelope.Data == nil {
		return nil, fmt.Errorf("%w: GraphQL response carries no data", client.ErrMalformedResponse)
	}

	objects := jsonutil.Path(envelope.Data, p.objectPath...)
	if objects == nil {
		return nil, fmt.Errorf("%w: object path %v not found", client.ErrMalformedResponse, p.objectPath)
	}

	obj, ok := objects.(map[string]any)
	nodes, hasNodes := obj["nodes"]
	if !ok || !hasNodes {
		// Single-object query: yield the object itself, once.
		p.hasNext = false
		raw, err := json.Marshal(objects)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", client.ErrMalformedResponse, err)
		}
		return []json.RawMessage{raw}, nil
	}

	list, ok := nodes.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: nodes is not a list", client.ErrMalformedResponse)
	}
	items := make([]json.RawMessage, 0, len(list))
	for _, node := range list {
		raw, err := json.Marshal(node)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", client.ErrMalformedResponse, err)
		}
		items = append(items, raw)
	}

	p.hasNext, _ = jsonutil.Path(obj, "pageInfo", "hasNextPage").(bool)
	p.endCursor, _ = jsonutil.Path(obj, "pageInfo", "endCursor").(string)
	return items, nil
}

func (p *v4Pager) NextPage(resp *client.Response, req *client.Request) bool {
	if !p.hasNext {
		return false
	}
	p.vars["cursor"] = p.endCursor
	p.marshal(req)
	return true
}

// RepoIssues iterates over a repository's issues via GraphQL, ordered by
// creation time. Records carry author, state, timestamps, number, title.
func (v *V4) RepoIssues(ctx context.Context, slug string) *client.Iterator {
	owner, repo, err := splitSlug(slug)
	if err != nil {
		return client.FailedIterator(err)
	}
	return v.Query(ctx, `
		query ($owner: String!, $repo: String!, $cursor: String) {
		  repository(name: $repo, owner: $owner) {
		    hasIssuesEnabled
		    issues(first: 100, after: $cursor,
		           orderBy: {field: CREATED_AT, direction: ASC}) {
		      nodes {author {login}, closed, createdAt,
		             updatedAt, number, title}
		      pageInfo {endCursor, hasNextPage}
		    }
		  }
		}`,
		[]string{"repository", "issues"},
		map[string]any{"owner": owner, "repo": repo})
}

// RepoCommits iterates over the default branch history via GraphQL,
// including parent SHAs.
func (v *V4) RepoCommits(ctx context.Context, slug string) *client.Iterator {
	owner, repo, err := splitSlug(slug)
	if err != nil {
		return client.FailedIterator(err)
	}
	return v.Query(ctx, `
		query ($owner: String!, $repo: String!, $cursor: String) {
		  repository(name: $repo, owner: $owner) {
		    defaultBranchRef { target {
		      ... on Commit {
		        history(first: 100, after: $cursor) {
		          nodes {sha: oid, author {name, email, user {login}},
		                 message, committedDate,
		                 parents(first: 100) { nodes {sha: oid} }}
		          pageInfo {endCursor, hasNextPage}
		        }
		      }
		    }}
		  }
		}`,
		[]string{"repository", "defaultBranchRef", "target", "history"},
		map[string]any{"owner": owner, "repo": repo})
}

// UserFollowers iterates over a user's followers (logins only).
func (v *V4) UserFollowers(ctx context.Context, user string) *client.Iterator {
	return v.Query(ctx, `
		query ($user: String!, $cursor: String) {
		  user(login: $user) {
		    followers(first: 100, after: $cursor) {
		      nodes { login }
		      pageInfo {endCursor, hasNextPage}
		    }
		  }
		}`,
		[]string{"user", "followers"},
		map[string]any{"user": user})
}

// UserInfo returns a user profile. The email field needs extra token
// scopes and is deliberately not selected.
func (v *V4) UserInfo(ctx context.Context, user string) (json.RawMessage, error) {
	return v.QueryOne(ctx, `
		query ($user: String!) {
		  user(login: $user) {
		    login, name, avatarUrl, websiteUrl,
		    company, bio, location, twitterUsername, isHireable,
		    createdAt, updatedAt,
		    followers {totalCount},
		    following {totalCount}
		  }
		}`,
		[]string{"user"},
		map[string]any{"user": user})
}

func splitSlug(slug string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid repository slug %q, want owner/repo", slug)
	}
	return owner, repo, nil
}
