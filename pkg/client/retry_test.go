package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/strudelkit/stscraper/pkg/tokenpool"
)

func TestTransientErrorsRetriedThenSucceed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"t"})

	resp, err := c.Do(context.Background(), &Request{Path: "endpoint"})
	if err != nil {
		t.Fatalf("Do() error = %v after transient failures", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if calls != 4 {
		t.Errorf("made %d requests, want 4 (3 failures + success)", calls)
	}
}

func TestRetryCeiling(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", []string{"t"})

	_, err := c.Do(context.Background(), &Request{Path: "endpoint"})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Do() err = %v, want ErrRetryExhausted", err)
	}
	want := c.config.Retry.MaxRetries + 1
	if calls != want {
		t.Errorf("made %d requests, want %d (initial + retries)", calls, want)
	}
}

func TestNetworkErrorsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL + "/"
	srv.Close() // every request now fails at the dial

	c := newTestClient(t, base, []string{"t"})

	_, err := c.Do(context.Background(), &Request{Path: "endpoint"})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Do() err = %v, want ErrRetryExhausted", err)
	}
}

func TestRetrySleepHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	pool, err := tokenpool.New("test", []string{"t"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig("test", srv.URL+"/", pool)
	cfg.Retry.InitialBackoff = time.Minute // force a long sleep

	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Do(ctx, &Request{Path: "endpoint"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() err = %v, want context.DeadlineExceeded", err)
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    time.Second,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}

	// Base values double until the cap; jitter stays within ±20%.
	wantBase := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}
	for attempt, base := range wantBase {
		for i := 0; i < 20; i++ {
			got := cfg.backoffFor(attempt)
			lo := time.Duration(float64(base) * 0.8)
			hi := time.Duration(float64(base) * 1.2)
			if got < lo || got > hi {
				t.Fatalf("backoffFor(%d) = %v, want within [%v, %v]", attempt, got, lo, hi)
			}
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.InitialBackoff <= 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		t.Errorf("backoff bounds = %v / %v", cfg.InitialBackoff, cfg.MaxBackoff)
	}
}
