// Package testutil provides a configurable fake forge API for tests:
// paginated list endpoints, per-token quota accounting in the GitHub
// header dialect, injectable transient failures, and ETag revalidation.
package testutil

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockForge is an in-process forge API stand-in.
type MockForge struct {
	server *httptest.Server

	mu       sync.Mutex
	records  map[string][]any
	failures map[string]int
	perPage  int

	limit     int
	window    time.Duration
	remaining map[string]int
	resetAt   map[string]time.Time

	requests int
}

// NewMockForge starts a forge server that shuts down with the test. By
// default there is no quota accounting and pages hold 2 records, so a
// handful of fixtures already exercises pagination.
func NewMockForge(t interface {
	Helper()
	Cleanup(func())
}) *MockForge {
	t.Helper()
	f := &MockForge{
		records:   make(map[string][]any),
		failures:  make(map[string]int),
		perPage:   2,
		remaining: make(map[string]int),
		resetAt:   make(map[string]time.Time),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the server's base URL with a trailing slash.
func (f *MockForge) URL() string {
	return f.server.URL + "/"
}

// SetRecords installs the record list served by a path ("users",
// "repos/a/b/issues").
func (f *MockForge) SetRecords(path string, records []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[strings.Trim(path, "/")] = records
}

// SetPerPage sets how many records fit on one page.
func (f *MockForge) SetPerPage(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perPage = n
}

// FailTransient makes the next n requests to path return 502 before
// normal service resumes.
func (f *MockForge) FailTransient(path string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[strings.Trim(path, "/")] = n
}

// SetQuota enables per-token quota accounting: each token may make
// limit requests per window, and exhausted tokens get 403 with
// X-RateLimit-Remaining: 0 until the window rolls over.
func (f *MockForge) SetQuota(limit int, window time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	f.window = window
}

// Requests returns how many requests reached the server, including
// failed and rate-limited ones.
func (f *MockForge) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *MockForge) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	path := strings.Trim(r.URL.Path, "/")

	if n := f.failures[path]; n > 0 {
		f.failures[path] = n - 1
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	token := f.tokenOf(r)
	if f.limit > 0 && !f.spendQuota(w, token) {
		return
	}

	records, ok := f.records[path]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	start := (page - 1) * f.perPage
	end := start + f.perPage
	if start > len(records) {
		start = len(records)
	}
	if end > len(records) {
		end = len(records)
	}
	body, _ := json.Marshal(records[start:end])

	etag := fmt.Sprintf(`"%x"`, sha1.Sum(body))
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if end < len(records) {
		w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=%d>; rel="next"`, f.URL(), path, page+1))
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (f *MockForge) tokenOf(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "token ")
	}
	if t := r.Header.Get("Private-Token"); t != "" {
		return t
	}
	return "<anonymous>"
}

// spendQuota charges one request to token and writes the GitHub-style
// quota headers. Returns false when the request was rejected.
func (f *MockForge) spendQuota(w http.ResponseWriter, token string) bool {
	now := time.Now()
	if _, seen := f.remaining[token]; !seen || now.After(f.resetAt[token]) {
		f.remaining[token] = f.limit
		f.resetAt[token] = now.Add(f.window)
	}

	writeHeaders := func() {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(f.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(f.remaining[token]))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(f.resetAt[token].Unix(), 10))
	}

	if f.remaining[token] == 0 {
		writeHeaders()
		http.Error(w, "API rate limit exceeded", http.StatusForbidden)
		return false
	}
	f.remaining[token]--
	writeHeaders()
	return true
}
