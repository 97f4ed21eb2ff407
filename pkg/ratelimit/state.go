// Package ratelimit models per-token, per-class API quota state.
//
// Forge APIs meter requests in separate buckets ("classes"): GitHub tracks
// its core REST, search, and GraphQL quotas independently. Each token in a
// pool carries one State per class, updated from response headers after
// every request.
package ratelimit

import (
	"time"
)

// Class identifies an independently metered API quota bucket.
type Class string

const (
	// ClassCore is the default bucket covering most REST endpoints.
	ClassCore Class = "core"

	// ClassSearch covers search endpoints, which GitHub meters separately
	// with a much smaller window.
	ClassSearch Class = "search"

	// ClassGraphQL covers GraphQL API calls.
	ClassGraphQL Class = "graphql"
)

// State is the last known quota state for one token and class.
// The zero value means "never observed": requests are allowed until the
// API tells us otherwise.
type State struct {
	// Limit is the overall request quota for the current window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left before the API starts
	// rejecting calls.
	Remaining int `json:"remaining"`

	// ResetAt is when the quota window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from response
	// headers. Zero for never-observed state.
	LastUpdate time.Time `json:"last_update"`
}

// Known reports whether the state has ever been observed from the API.
func (s *State) Known() bool {
	return !s.LastUpdate.IsZero()
}

// Exhausted reports whether the quota is spent and the window has not
// reset yet. Unknown state is never exhausted.
func (s *State) Exhausted() bool {
	return s.Known() && s.Remaining <= 0 && time.Now().Before(s.ResetAt)
}

// TimeUntilReset returns the duration until the quota window resets, or 0
// if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale reports whether the state is older than maxAge and should be
// refreshed with an explicit limits probe.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
