// Package tokenpool implements a per-client pool of API credentials with
// quota-aware selection.
//
// Each fetch call borrows the ready token with the most remaining quota;
// when every token is exhausted the pool blocks until the earliest quota
// reset. The pool is owned by exactly one client instance and passed
// explicitly — there is no process-wide token state.
package tokenpool

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/strudelkit/stscraper/pkg/logging"
	"github.com/strudelkit/stscraper/pkg/ratelimit"
)

// Prometheus metrics for token pool operations.
var (
	poolTokens = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stscraper_pool_tokens",
		Help: "Number of tokens in the pool by provider",
	}, []string{"provider"})

	tokenQuotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stscraper_token_quota_remaining",
		Help: "Last known remaining quota by provider, token index, and class",
	}, []string{"provider", "token", "class"})

	tokensExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stscraper_tokens_exhausted_total",
		Help: "Times a token was marked exhausted by provider and class",
	}, []string{"provider", "class"})

	poolWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stscraper_pool_waits_total",
		Help: "Times the pool blocked for a quota reset by provider and class",
	}, []string{"provider", "class"})
)

// ErrAllExhausted is returned by Acquire when no token is ready. The
// caller is expected to Wait and try again rather than fail the fetch.
var ErrAllExhausted = errors.New("all tokens exhausted")

// ErrNoTokens is returned by New when constructed without any secrets.
var ErrNoTokens = errors.New("token pool must not be empty")

// Pool is an ordered collection of tokens for one provider. Safe for use
// from multiple goroutines.
type Pool struct {
	provider string
	tokens   []*Token
	logger   zerolog.Logger
}

// New creates a pool from the given secrets, dropping duplicates while
// preserving order. At least one secret is required; usage without
// credentials goes through NewAnonymous so the choice is explicit.
func New(provider string, secrets []string) (*Pool, error) {
	seen := make(map[string]bool, len(secrets))
	var tokens []*Token
	for _, s := range secrets {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		tokens = append(tokens, newToken(s))
	}
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}

	p := &Pool{
		provider: provider,
		tokens:   tokens,
		logger:   logging.NewLogger("tokenpool").With().Str("provider", provider).Logger(),
	}
	poolTokens.WithLabelValues(provider).Set(float64(len(tokens)))
	return p, nil
}

// NewAnonymous creates a pool holding a single anonymous token. The pool
// still enforces quota state, since forges rate limit by IP as well.
func NewAnonymous(provider string) *Pool {
	p := &Pool{
		provider: provider,
		tokens:   []*Token{newToken("")},
		logger:   logging.NewLogger("tokenpool").With().Str("provider", provider).Logger(),
	}
	p.logger.Warn().Msg("No tokens provided, operating anonymously with reduced quota")
	poolTokens.WithLabelValues(provider).Set(1)
	return p
}

// Provider returns the provider name the pool was built for.
func (p *Pool) Provider() string {
	return p.provider
}

// Len returns the number of tokens in the pool.
func (p *Pool) Len() int {
	return len(p.tokens)
}

// Tokens returns the pool's tokens in order. The slice must not be
// modified; it is exposed for limit reporting.
func (p *Pool) Tokens() []*Token {
	return p.tokens
}

// Acquire returns the ready token with the most remaining quota for
// class. Tokens with unobserved state count as full quota so fresh
// credentials are tried before blocking. Returns ErrAllExhausted when
// every token is spent for the class.
func (p *Pool) Acquire(class ratelimit.Class) (*Token, error) {
	var best *Token
	bestRemaining := -1

	for _, tok := range p.tokens {
		s := tok.State(class)
		if s.Exhausted() {
			continue
		}
		remaining := s.Remaining
		if !s.Known() {
			remaining = int(^uint(0) >> 1) // unobserved: assume full
		}
		if remaining > bestRemaining {
			best = tok
			bestRemaining = remaining
		}
	}

	if best == nil {
		return nil, ErrAllExhausted
	}
	return best, nil
}

// Update stores quota state observed for tok and refreshes metrics.
func (p *Pool) Update(tok *Token, class ratelimit.Class, s ratelimit.State) {
	tok.SetState(class, s)
	tokenQuotaRemaining.WithLabelValues(p.provider, p.indexOf(tok), string(class)).Set(float64(s.Remaining))
}

// MarkExhausted records a quota rejection for tok until resetAt.
func (p *Pool) MarkExhausted(tok *Token, class ratelimit.Class, resetAt time.Time) {
	tok.MarkExhausted(class, resetAt)
	tokensExhaustedTotal.WithLabelValues(p.provider, string(class)).Inc()
	tokenQuotaRemaining.WithLabelValues(p.provider, p.indexOf(tok), string(class)).Set(0)

	p.logger.Debug().
		Str("class", string(class)).
		Str("token", p.indexOf(tok)).
		Time("reset_at", resetAt).
		Msg("Token exhausted")
}

// NextReset returns the earliest quota reset time across all tokens for
// class. The zero time means no token has a known reset pending.
func (p *Pool) NextReset(class ratelimit.Class) time.Time {
	var earliest time.Time
	for _, tok := range p.tokens {
		s := tok.State(class)
		if !s.Exhausted() {
			continue
		}
		if earliest.IsZero() || s.ResetAt.Before(earliest) {
			earliest = s.ResetAt
		}
	}
	return earliest
}

// Wait blocks until the earliest quota reset for class, honoring context
// cancellation. A second of slack is added so the forge-side window has
// actually rolled over when the caller retries.
func (p *Pool) Wait(ctx context.Context, class ratelimit.Class) error {
	reset := p.NextReset(class)
	if reset.IsZero() {
		return nil
	}

	wait := time.Until(reset) + time.Second
	if wait <= 0 {
		return nil
	}

	poolWaitsTotal.WithLabelValues(p.provider, string(class)).Inc()
	p.logger.Info().
		Str("class", string(class)).
		Dur("wait", wait).
		Time("reset_at", reset).
		Msg("Out of tokens, waiting for quota reset")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	p.logger.Info().Str("class", string(class)).Msg("Quota wait complete, resuming")
	return nil
}

func (p *Pool) indexOf(tok *Token) string {
	for i, t := range p.tokens {
		if t == tok {
			return strconv.Itoa(i)
		}
	}
	return "?"
}
