package tokenpool

import (
	"sync"
	"time"

	"github.com/strudelkit/stscraper/pkg/ratelimit"
)

// Token is one opaque API credential together with its last known quota
// state per rate limit class. An empty secret models anonymous access,
// which forges meter by IP instead.
type Token struct {
	secret string

	mu     sync.Mutex
	limits map[ratelimit.Class]ratelimit.State
}

func newToken(secret string) *Token {
	return &Token{
		secret: secret,
		limits: make(map[ratelimit.Class]ratelimit.State),
	}
}

// Secret returns the raw credential for use in auth headers.
func (t *Token) Secret() string {
	return t.secret
}

// Anonymous reports whether this token carries no credential.
func (t *Token) Anonymous() bool {
	return t.secret == ""
}

// String redacts the secret. Tokens end up in log fields and error
// messages; the credential itself must never appear there.
func (t *Token) String() string {
	if t.secret == "" {
		return "<anonymous>"
	}
	return "<redacted>"
}

// State returns a copy of the last known quota state for class.
func (t *Token) State(class ratelimit.Class) ratelimit.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limits[class]
}

// SetState replaces the quota state for class. Last known quota wins; no
// ordering is guaranteed between concurrent updates.
func (t *Token) SetState(class ratelimit.Class, s ratelimit.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[class] = s
}

// MarkExhausted records that the API rejected this token for class until
// resetAt. Used when the reject status arrives without usable headers.
func (t *Token) MarkExhausted(class ratelimit.Class, resetAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.limits[class]
	s.Remaining = 0
	if resetAt.After(s.ResetAt) {
		s.ResetAt = resetAt
	}
	s.LastUpdate = time.Now()
	t.limits[class] = s
}

// Ready reports whether the token can be used for class without blocking.
func (t *Token) Ready(class ratelimit.Class) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.limits[class]
	return !s.Exhausted()
}
