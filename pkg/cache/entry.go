package cache

import (
	"net/http"
	"time"
)

// Entry is a cached API response together with its revalidation
// validators.
type Entry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// Headers are the response headers at fetch time. A 304 omits most
	// of them, including the pagination cursor, so revalidation serves
	// these alongside the cached body.
	Headers http.Header `json:"headers"`

	// ETag for If-None-Match revalidation.
	ETag string `json:"etag"`

	// LastModified for If-Modified-Since revalidation.
	LastModified time.Time `json:"last_modified"`

	// StatusCode of the original response.
	StatusCode int `json:"status_code"`

	// FetchedAt is when the response was obtained from the API.
	FetchedAt time.Time `json:"fetched_at"`
}

// EntryFromResponse builds a cache entry from a completed response.
func EntryFromResponse(statusCode int, header http.Header, body []byte) *Entry {
	entry := &Entry{
		Data:       body,
		Headers:    header.Clone(),
		ETag:       header.Get("ETag"),
		StatusCode: statusCode,
		FetchedAt:  time.Now(),
	}
	if lm := header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.LastModified = t
		}
	}
	return entry
}

// SupportsRevalidation reports whether the entry carries a validator
// usable for a conditional request. Entries without validators are not
// worth storing: they would always be refetched in full anyway.
func (e *Entry) SupportsRevalidation() bool {
	if e == nil {
		return false
	}
	return e.ETag != "" || !e.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match or If-Modified-Since to req.
// ETag wins when both validators are present.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if req == nil || entry == nil {
		return
	}
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}
