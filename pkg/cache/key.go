package cache

import (
	"net/url"
	"strings"
)

// Key identifies a cached response by provider, endpoint, and query.
type Key struct {
	// Provider is the forge name, keeping providers from colliding on
	// identical paths.
	Provider string

	// Path is the endpoint path relative to the provider's API root.
	Path string

	// Query holds the request's query parameters.
	Query url.Values
}

// String generates a deterministic Redis key.
// Format: stscraper:cache:<provider>:<path>?<sorted query>
func (k Key) String() string {
	var b strings.Builder
	b.WriteString("stscraper:cache:")
	b.WriteString(k.Provider)
	b.WriteString(":")
	b.WriteString(strings.Trim(k.Path, "/"))
	if len(k.Query) > 0 {
		// url.Values.Encode sorts by key, so equal queries written in
		// different orders map to the same entry.
		b.WriteString("?")
		b.WriteString(k.Query.Encode())
	}
	return b.String()
}
