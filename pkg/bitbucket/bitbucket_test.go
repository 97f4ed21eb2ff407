package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/strudelkit/stscraper/pkg/client"
)

func newTestAPI(t *testing.T, handler http.Handler) *API {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api, err := New(Config{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return api
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestAnonymousRequests(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want none", auth)
		}
		writeJSON(w, map[string]any{"full_name": "team/repo"})
	}))

	if _, err := api.RepoInfo(context.Background(), "team/repo"); err != nil {
		t.Fatalf("RepoInfo() error = %v", err)
	}
}

func TestBodyCursorPagination(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("pagelen"); got != "100" {
			t.Errorf("pagelen = %q, want 100", got)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		body := map[string]any{
			"values": []map[string]any{{"page": page}},
		}
		if page < 3 {
			body["next"] = "https://api.bitbucket.org/2.0/repositories?page=" + strconv.Itoa(page+1)
		}
		writeJSON(w, body)
	}))

	records, err := api.AllRepos(context.Background()).Collect()
	if err != nil {
		t.Fatalf("AllRepos() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 (cursor ends when next is absent)", len(records))
	}
}

func TestBodyErrorIsFatal(t *testing.T) {
	calls := 0
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, map[string]any{
			"error": map[string]any{"message": "Repository unavailable"},
		})
	}))

	_, err := api.RepoIssues(context.Background(), "team/repo").Collect()
	if err == nil {
		t.Fatal("Collect() error = nil, want body error")
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Repository unavailable" {
		t.Errorf("err = %v, want APIError with body message", err)
	}
	if calls != 1 {
		t.Errorf("made %d requests, want 1 (body errors are fatal)", calls)
	}
}

func TestFetchOneBodyError(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"error": map[string]any{"message": "Access denied"},
		})
	}))

	_, err := api.RepoInfo(context.Background(), "team/private")
	if err == nil {
		t.Fatal("RepoInfo() error = nil, want body error")
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Access denied" {
		t.Errorf("err = %v, want APIError with body message", err)
	}
}

func TestUnimplementedOperations(t *testing.T) {
	api := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unimplemented operations must not hit the API")
	}))

	ctx := context.Background()
	if it := api.AllUsers(ctx); !errors.Is(it.Err(), client.ErrNotImplemented) {
		t.Errorf("AllUsers Err() = %v, want ErrNotImplemented", it.Err())
	}
	if _, err := api.UserInfo(ctx, "u"); !errors.Is(err, client.ErrNotImplemented) {
		t.Errorf("UserInfo err = %v, want ErrNotImplemented", err)
	}
	if _, err := api.CanonicalURL(ctx, "bitbucket.org/team/repo"); !errors.Is(err, client.ErrNotImplemented) {
		t.Errorf("CanonicalURL err = %v, want ErrNotImplemented", err)
	}
}
