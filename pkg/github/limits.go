package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/strudelkit/stscraper/pkg/ratelimit"
	"github.com/strudelkit/stscraper/pkg/tokenpool"
)

// ClassLimits is the quota state of one rate limit class of one token.
type ClassLimits struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// TokenLimits is one credential's usage report across rate limit
// classes.
type TokenLimits struct {
	// User is the login the token authenticates as; "<unknownN>" when
	// the token cannot even fetch its own identity.
	User string

	// Token is the redacted token representation, safe to print.
	Token string

	// Classes maps rate limit class to its current quota window.
	Classes map[ratelimit.Class]ClassLimits
}

// Limits queries /rate_limit with each token in the pool and returns a
// per-token usage report. The pool's quota view is refreshed as a side
// effect, so a follow-up Acquire starts from fresh numbers.
//
// The endpoint itself does not count against quota.
func (a *API) Limits(ctx context.Context) ([]TokenLimits, error) {
	tokens := a.client.Pool().Tokens()
	report := make([]TokenLimits, 0, len(tokens))

	for i, tok := range tokens {
		tl := TokenLimits{
			User:    fmt.Sprintf("<unknown%d>", i),
			Token:   tok.String(),
			Classes: make(map[ratelimit.Class]ClassLimits),
		}

		resources, err := a.checkLimits(ctx, tok)
		if err != nil {
			a.logger.Warn().Err(err).Str("token", tok.String()).Msg("Rate limit check failed")
			report = append(report, tl)
			continue
		}
		for class, s := range resources {
			tl.Classes[class] = ClassLimits{Limit: s.Limit, Remaining: s.Remaining, ResetAt: s.ResetAt}
			a.client.Pool().Update(tok, class, s)
		}

		if user, err := a.tokenUser(ctx, tok); err == nil && user != "" {
			tl.User = user
		}
		report = append(report, tl)
	}
	return report, nil
}

// CheckLimits refreshes the pool's quota view from /rate_limit for
// every token. It is Limits without the identity lookups.
func (a *API) CheckLimits(ctx context.Context) error {
	for _, tok := range a.client.Pool().Tokens() {
		resources, err := a.checkLimits(ctx, tok)
		if err != nil {
			return err
		}
		for class, s := range resources {
			a.client.Pool().Update(tok, class, s)
		}
	}
	return nil
}

// checkLimits fetches /rate_limit authorized as tok. This goes straight
// through the HTTP client: the whole point is asking about a specific
// token, so the rotating fetcher cannot be used.
func (a *API) checkLimits(ctx context.Context, tok *tokenpool.Token) (map[ratelimit.Class]ratelimit.State, error) {
	var body struct {
		Resources map[string]struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"resources"`
	}
	if err := a.tokenGet(ctx, tok, "rate_limit", &body); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make(map[ratelimit.Class]ratelimit.State, 3)
	for _, class := range []ratelimit.Class{ratelimit.ClassCore, ratelimit.ClassSearch, ratelimit.ClassGraphQL} {
		r, ok := body.Resources[string(class)]
		if !ok {
			continue
		}
		out[class] = ratelimit.State{
			Limit:      r.Limit,
			Remaining:  r.Remaining,
			ResetAt:    time.Unix(r.Reset, 0),
			LastUpdate: now,
		}
	}
	return out, nil
}

// tokenUser returns the login tok authenticates as.
func (a *API) tokenUser(ctx context.Context, tok *tokenpool.Token) (string, error) {
	var body struct {
		Login string `json:"login"`
	}
	if err := a.tokenGet(ctx, tok, "user", &body); err != nil {
		return "", err
	}
	return body.Login, nil
}

// tokenGet performs a GET authorized as one specific token.
func (a *API) tokenGet(ctx context.Context, tok *tokenpool.Token, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.BaseURL()+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if !tok.Anonymous() {
		req.Header.Set("Authorization", "token "+tok.Secret())
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
