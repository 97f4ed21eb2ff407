// Package client implements the token-rotating paginated fetcher shared
// by all forge providers.
//
// A Client owns a token pool and, per request, selects the credential
// with the most remaining quota, retries transient failures with bounded
// exponential backoff, and blocks (not fails) when every token is out of
// quota. Fetch returns a lazy iterator that follows the provider's
// pagination scheme until the cursor is exhausted.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/strudelkit/stscraper/pkg/cache"
	"github.com/strudelkit/stscraper/pkg/logging"
	"github.com/strudelkit/stscraper/pkg/ratelimit"
	"github.com/strudelkit/stscraper/pkg/tokenpool"
)

// Prometheus metrics for fetcher operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stscraper_requests_total",
		Help: "Total API requests by provider and status",
	}, []string{"provider", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stscraper_request_duration_seconds",
		Help:    "API request duration in seconds by provider",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stscraper_errors_total",
		Help: "Total fetch errors by provider and class",
	}, []string{"provider", "class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stscraper_retries_total",
		Help: "Total retry attempts by provider and error class",
	}, []string{"provider", "error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stscraper_retry_exhausted_total",
		Help: "Times the transient retry ceiling was hit by provider",
	}, []string{"provider"})

	rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stscraper_token_rotations_total",
		Help: "Times a request switched tokens after a quota rejection",
	}, []string{"provider"})
)

// Config holds the fetcher configuration. Providers fill in the status
// sets and auth hook; research code normally goes through pkg/github and
// friends instead of constructing this directly.
type Config struct {
	// Provider is the forge name used in logs and metrics.
	Provider string

	// BaseURL is the API root, e.g. "https://api.github.com/".
	BaseURL string

	// Tokens is the credential pool. Required; use tokenpool.NewAnonymous
	// for unauthenticated access.
	Tokens *tokenpool.Pool

	// Authorize adds the credential to an outgoing request. Providers
	// differ: GitHub uses an Authorization header, GitLab a Private-Token
	// header. Nil for providers without auth.
	Authorize func(req *http.Request, tok *tokenpool.Token)

	// Headers are default request headers (Accept previews and the like).
	Headers map[string]string

	// Classify maps a request path to its rate limit class. Nil means
	// everything is ClassCore.
	Classify func(path string) ratelimit.Class

	// LimitHeaderPrefix selects the quota header family to parse; empty
	// disables header tracking (Bitbucket).
	LimitHeaderPrefix string

	// StatusNotFound are statuses reported as ErrNotFound.
	StatusNotFound []int

	// StatusEmpty are statuses treated as a valid empty result (GitHub
	// returns 409 for empty repositories).
	StatusEmpty []int

	// StatusTooManyRequests are quota rejection statuses triggering token
	// rotation. GitHub signals quota through 403, GitLab through 429.
	StatusTooManyRequests []int

	// RateLimitPenalty is how long a token sits out after a quota
	// rejection that carried no usable reset header.
	RateLimitPenalty time.Duration

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration

	// Retry is the transient error retry policy.
	Retry RetryConfig

	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64

	// Redis enables the conditional request cache when non-nil.
	Redis *redis.Client
}

// DefaultConfig returns a fetcher configuration with the policy defaults
// shared by all providers.
func DefaultConfig(provider, baseURL string, tokens *tokenpool.Pool) Config {
	return Config{
		Provider:              provider,
		BaseURL:               baseURL,
		Tokens:                tokens,
		StatusNotFound:        []int{404, 451},
		StatusEmpty:           []int{409},
		StatusTooManyRequests: nil,
		RateLimitPenalty:      time.Minute,
		Timeout:               30 * time.Second,
		Retry:                 DefaultRetryConfig(),
	}
}

// Client is the token-rotating fetcher for one provider.
type Client struct {
	httpClient *http.Client
	config     Config
	tokens     *tokenpool.Pool
	cache      *cache.Manager
	pacer      *rate.Limiter
	logger     zerolog.Logger
}

// New creates a fetcher from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token pool is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimitPenalty == 0 {
		cfg.RateLimitPenalty = time.Minute
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		tokens:     cfg.Tokens,
		logger:     logging.NewLogger("fetcher").With().Str("provider", cfg.Provider).Logger(),
	}
	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
	}
	if cfg.RequestsPerSecond > 0 {
		c.pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Provider returns the configured provider name.
func (c *Client) Provider() string {
	return c.config.Provider
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Pool returns the client's token pool.
func (c *Client) Pool() *tokenpool.Pool {
	return c.tokens
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Do performs a single API request with token rotation, quota blocking,
// and bounded retry on transient errors. Terminal failures come back as
// *APIError wrapping one of the sentinel errors.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	class := req.Class
	if class == "" {
		class = c.classify(req.Path)
	}

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(c.config.Provider).Observe(time.Since(start).Seconds())
	}()

	attempts := 0
	for {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		tok, err := c.tokens.Acquire(class)
		if err != nil {
			// Every token is spent: block until the earliest reset,
			// then go around again. Rate limit exhaustion never fails
			// the fetch.
			if waitErr := c.tokens.Wait(ctx, class); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		resp, err := c.roundTrip(ctx, req, tok)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errorsTotal.WithLabelValues(c.config.Provider, string(ErrorClassNetwork)).Inc()
			if retryErr := c.retryTransient(ctx, &attempts, ErrorClassNetwork, err); retryErr != nil {
				return nil, retryErr
			}
			continue
		}

		c.updateQuota(tok, class, resp.Header)
		requestsTotal.WithLabelValues(c.config.Provider, strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case statusIn(resp.StatusCode, c.config.StatusEmpty):
			// Valid empty result; pagination stops here.
			resp.Data = nil
			return resp, nil

		case statusIn(resp.StatusCode, c.config.StatusTooManyRequests) && c.quotaRejected(resp):
			c.rotate(tok, class, resp)
			continue

		case statusIn(resp.StatusCode, c.config.StatusNotFound):
			errorsTotal.WithLabelValues(c.config.Provider, string(ErrorClassClient)).Inc()
			return nil, &APIError{
				Provider:   c.config.Provider,
				StatusCode: resp.StatusCode,
				Class:      ErrorClassClient,
				Message:    req.Path,
				Err:        ErrNotFound,
			}

		case resp.StatusCode == http.StatusUnauthorized:
			errorsTotal.WithLabelValues(c.config.Provider, string(ErrorClassClient)).Inc()
			return nil, &APIError{
				Provider:   c.config.Provider,
				StatusCode: resp.StatusCode,
				Class:      ErrorClassClient,
				Message:    "credential rejected",
				Err:        ErrAuthentication,
			}

		case resp.StatusCode >= 500:
			errorsTotal.WithLabelValues(c.config.Provider, string(ErrorClassServer)).Inc()
			serverErr := fmt.Errorf("server error %d at %s", resp.StatusCode, req.Path)
			if retryErr := c.retryTransient(ctx, &attempts, ErrorClassServer, serverErr); retryErr != nil {
				return nil, retryErr
			}
			continue

		case resp.StatusCode >= 400:
			errorsTotal.WithLabelValues(c.config.Provider, string(ErrorClassClient)).Inc()
			return nil, &APIError{
				Provider:   c.config.Provider,
				StatusCode: resp.StatusCode,
				Class:      ErrorClassClient,
				Message:    string(truncate(resp.Data, 200)),
			}
		}

		if attempts > 0 {
			c.logger.Info().
				Str("endpoint", req.Path).
				Int("attempt", attempts+1).
				Msg("Request succeeded after retry")
		}
		return resp, nil
	}
}

// retryTransient sleeps with backoff for one more transient attempt, or
// returns ErrRetryExhausted once the ceiling is hit.
func (c *Client) retryTransient(ctx context.Context, attempts *int, class ErrorClass, cause error) error {
	if *attempts >= c.config.Retry.MaxRetries {
		retryExhaustedTotal.WithLabelValues(c.config.Provider).Inc()
		c.logger.Error().
			Err(cause).
			Int("max_retries", c.config.Retry.MaxRetries).
			Msg("Retry attempts exhausted")
		return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, *attempts+1, cause)
	}

	backoff := c.config.Retry.backoffFor(*attempts)
	retriesTotal.WithLabelValues(c.config.Provider, string(class)).Inc()
	c.logger.Warn().
		Err(cause).
		Str("error_class", string(class)).
		Int("attempt", *attempts+1).
		Dur("backoff", backoff).
		Msg("Transient error, retrying after backoff")

	if err := sleep(ctx, backoff); err != nil {
		return err
	}
	*attempts++
	return nil
}

// quotaRejected tells a real quota rejection apart from a plain
// forbidden response on the same status code. GitHub reports legal
// takedowns and SAML-restricted resources as 403 with untouched quota
// headers; only a zeroed remaining count means the token is spent.
// Without parseable headers the status code is all there is to go on.
func (c *Client) quotaRejected(resp *Response) bool {
	if c.config.LimitHeaderPrefix == "" {
		return true
	}
	s, ok := ratelimit.ParseHeaders(resp.Header, c.config.LimitHeaderPrefix)
	if !ok {
		return true
	}
	return s.Remaining <= 0
}

// rotate benches the token that just got a quota rejection so the next
// Acquire picks a different one.
func (c *Client) rotate(tok *tokenpool.Token, class ratelimit.Class, resp *Response) {
	errorsTotal.WithLabelValues(c.config.Provider, string(ErrorClassRateLimit)).Inc()
	rotationsTotal.WithLabelValues(c.config.Provider).Inc()

	resetAt := time.Now().Add(c.config.RateLimitPenalty)
	if c.config.LimitHeaderPrefix != "" {
		if s, ok := ratelimit.ParseHeaders(resp.Header, c.config.LimitHeaderPrefix); ok && !s.ResetAt.IsZero() {
			resetAt = s.ResetAt
		}
	}
	c.tokens.MarkExhausted(tok, class, resetAt)
}

// updateQuota refreshes the pool's view of tok from response headers.
func (c *Client) updateQuota(tok *tokenpool.Token, class ratelimit.Class, h http.Header) {
	if c.config.LimitHeaderPrefix == "" {
		return
	}
	if s, ok := ratelimit.ParseHeaders(h, c.config.LimitHeaderPrefix); ok {
		c.tokens.Update(tok, class, s)
	}
}

// roundTrip performs one HTTP exchange, consulting the conditional
// request cache for GET requests.
func (c *Client) roundTrip(ctx context.Context, req *Request, tok *tokenpool.Token) (*Response, error) {
	fullURL, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), fullURL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if c.config.Authorize != nil && !tok.Anonymous() {
		c.config.Authorize(httpReq, tok)
	}

	// Conditional request: a 304 revalidation is free on GitHub, so
	// cached entries are always revalidated instead of served stale.
	var cached *cache.Entry
	var key cache.Key
	if c.cache != nil && req.method() == http.MethodGet {
		key = cache.Key{Provider: c.config.Provider, Path: req.Path, Query: req.Query}
		entry, err := c.cache.Get(ctx, key)
		if err != nil && err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("endpoint", req.Path).Msg("Cache get error")
		}
		if entry != nil && entry.SupportsRevalidation() {
			cached = entry
			cache.AddConditionalHeaders(httpReq, entry)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := readBody(httpResp)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Data:       data,
	}

	if cached != nil && httpResp.StatusCode == http.StatusNotModified {
		cache.NotModifiedResponses.Inc()
		c.logger.Debug().Str("endpoint", req.Path).Msg("304 Not Modified, serving cached body")
		resp.StatusCode = cached.StatusCode
		resp.Data = cached.Data
		resp.Header = revalidatedHeaders(cached.Headers, httpResp.Header)
		resp.FromCache = true
		return resp, nil
	}

	if c.cache != nil && req.method() == http.MethodGet && httpResp.StatusCode == http.StatusOK {
		entry := cache.EntryFromResponse(httpResp.StatusCode, httpResp.Header, data)
		if entry.SupportsRevalidation() {
			if err := c.cache.Set(ctx, key, entry); err != nil {
				c.logger.Warn().Err(err).Str("endpoint", req.Path).Msg("Failed to cache response")
			}
		}
	}

	return resp, nil
}

// revalidatedHeaders rebuilds the header set of a revalidated response.
// A 304 omits most of the original headers, including the pagination
// cursor (Link, X-Page, X-Total-Pages), so the cached headers come back
// with the 304's own values, notably the quota headers, on top.
func revalidatedHeaders(cached, fresh http.Header) http.Header {
	merged := cached.Clone()
	if merged == nil {
		merged = http.Header{}
	}
	for k, vals := range fresh {
		merged[k] = vals
	}
	return merged
}

func (c *Client) buildURL(req *Request) (string, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(req.Path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint path: %w", err)
	}
	u := base.ResolveReference(ref)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String(), nil
}

func (c *Client) classify(path string) ratelimit.Class {
	if c.config.Classify != nil {
		return c.config.Classify(path)
	}
	return ratelimit.ClassCore
}

func readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

func statusIn(status int, set []int) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
