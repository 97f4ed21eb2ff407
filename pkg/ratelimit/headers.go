package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// Header prefixes used by the supported forges. GitHub sends
// X-RateLimit-{Limit,Remaining,Reset}; GitLab sends the same trio without
// the X- prefix. Both report Reset as a UNIX timestamp in seconds.
const (
	GitHubHeaderPrefix = "X-RateLimit-"
	GitLabHeaderPrefix = "RateLimit-"
)

// ParseHeaders extracts quota state from response headers using the given
// prefix. It returns false when the limit headers are absent, which is
// normal for unmetered endpoints and for Bitbucket.
func ParseHeaders(h http.Header, prefix string) (State, bool) {
	remaining, ok := headerInt(h, prefix+"Remaining")
	if !ok {
		return State{}, false
	}

	s := State{
		Remaining:  remaining,
		LastUpdate: time.Now(),
	}
	if limit, ok := headerInt(h, prefix+"Limit"); ok {
		s.Limit = limit
	}
	if reset, ok := headerInt64(h, prefix+"Reset"); ok {
		s.ResetAt = time.Unix(reset, 0)
	}
	return s, true
}

func headerInt(h http.Header, key string) (int, bool) {
	v, err := strconv.Atoi(h.Get(key))
	if err != nil {
		return 0, false
	}
	return v, true
}

func headerInt64(h http.Header, key string) (int64, bool) {
	v, err := strconv.ParseInt(h.Get(key), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
