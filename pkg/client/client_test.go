package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/strudelkit/stscraper/pkg/ratelimit"
	"github.com/strudelkit/stscraper/pkg/tokenpool"
)

func newTestClient(t *testing.T, baseURL string, secrets []string) *Client {
	t.Helper()
	var pool *tokenpool.Pool
	if len(secrets) == 0 {
		pool = tokenpool.NewAnonymous("test")
	} else {
		var err error
		if pool, err = tokenpool.New("test", secrets); err != nil {
			t.Fatal(err)
		}
	}

	cfg := DefaultConfig("test", baseURL, pool)
	cfg.Authorize = func(req *http.Request, tok *tokenpool.Token) {
		req.Header.Set("Authorization", "token "+tok.Secret())
	}
	cfg.LimitHeaderPrefix = ratelimit.GitHubHeaderPrefix
	cfg.StatusTooManyRequests = []int{http.StatusForbidden}
	cfg.Retry.InitialBackoff = 5 * time.Millisecond
	cfg.Retry.MaxBackoff = 20 * time.Millisecond

	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://x/"}); err == nil {
		t.Error("New() without a token pool should fail")
	}
	pool := tokenpool.NewAnonymous("test")
	if _, err := New(Config{Tokens: pool}); err == nil {
		t.Error("New() without a base URL should fail")
	}
}

func TestRotationOnQuotaRejection(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth := r.Header.Get("Authorization")
		seen[auth]++
		mu.Unlock()

		if auth == "token tok1" {
			// tok1 is out of quota until far in the future.
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"tok1", "tok2"})

	resp, err := c.Do(context.Background(), &Request{Path: "endpoint"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["token tok2"] == 0 {
		t.Error("quota rejection did not rotate to the second token")
	}
	if seen["token tok1"] > 1 {
		t.Errorf("rejected token was retried %d times, want at most 1", seen["token tok1"])
	}
}

func TestAllExhaustedBlocksUntilReset(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n == 1 {
			// Quota spent, window resets in a second.
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"only"})

	start := time.Now()
	resp, err := c.Do(context.Background(), &Request{Path: "endpoint"})
	if err != nil {
		t.Fatalf("Do() error = %v, exhaustion must block, not fail", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	// The pool waits out the window (plus slack) instead of erroring.
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("Do() returned after %v, expected a quota wait", elapsed)
	}
}

func TestExhaustionWaitHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"only"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, &Request{Path: "endpoint"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() err = %v, want context.DeadlineExceeded", err)
	}
}

func TestNotFoundIsFatal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"t"})

	_, err := c.Do(context.Background(), &Request{Path: "repos/gone/gone"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Do() err = %v, want ErrNotFound", err)
	}
	if calls != 1 {
		t.Errorf("made %d requests, want 1 (4xx is not retried)", calls)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("error is not an *APIError")
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Class != ErrorClassClient {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"badtoken"})

	_, err := c.Do(context.Background(), &Request{Path: "user"})
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("Do() err = %v, want ErrAuthentication", err)
	}
}

func TestEmptyStatusYieldsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// GitHub returns 409 for empty repositories.
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message": "Git Repository is empty."}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"t"})

	resp, err := c.Do(context.Background(), &Request{Path: "repos/e/e/commits"})
	if err != nil {
		t.Fatalf("Do() error = %v, 409 is a valid empty result", err)
	}
	if resp.Data != nil {
		t.Errorf("Data = %q, want nil", resp.Data)
	}
}

func TestOtherClientErrorIsFatal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message": "Validation Failed"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"t"})

	_, err := c.Do(context.Background(), &Request{Path: "search/repositories"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Do() err = %v, want *APIError", err)
	}
	if apiErr.Class != ErrorClassClient {
		t.Errorf("class = %v, want client", apiErr.Class)
	}
	if calls != 1 {
		t.Errorf("made %d requests, want 1", calls)
	}
}

func TestForbiddenWithRemainingQuotaIsFatal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// A takedown-blocked repository: 403 with the quota untouched.
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "Repository access blocked"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"tok1", "tok2"})

	_, err := c.Do(context.Background(), &Request{Path: "repos/blocked/blocked"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Do() err = %v, want *APIError (non-quota 403 is fatal)", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Class != ErrorClassClient {
		t.Errorf("APIError = %+v, want status 403 class client", apiErr)
	}
	if calls != 1 {
		t.Errorf("made %d requests, want 1 (a forbidden resource must not rotate tokens)", calls)
	}
}

func TestForbiddenWithoutQuotaHeadersStillRotates(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth := r.Header.Get("Authorization")
		seen[auth]++
		mu.Unlock()

		// No quota headers at all: the status code is the only signal.
		if auth == "token tok1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"tok1", "tok2"})

	resp, err := c.Do(context.Background(), &Request{Path: "endpoint"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen["token tok2"] == 0 {
		t.Error("header-less quota rejection did not rotate to the second token")
	}
}

func TestQuotaTrackedFromHeaders(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4321")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"t"})

	if _, err := c.Do(context.Background(), &Request{Path: "user"}); err != nil {
		t.Fatal(err)
	}

	s := c.Pool().Tokens()[0].State(ratelimit.ClassCore)
	if s.Remaining != 4321 || s.Limit != 5000 {
		t.Errorf("tracked state = %+v, want remaining 4321 limit 5000", s)
	}
	if s.ResetAt.Unix() != reset {
		t.Errorf("reset = %v, want %v", s.ResetAt.Unix(), reset)
	}
}
