// Package cache implements a Redis-backed store for conditional API
// requests.
//
// Forge APIs expose validators on most GET responses: an ETag and often a
// Last-Modified timestamp. Replaying them as If-None-Match or
// If-Modified-Since turns an unchanged resource into a 304 with an empty
// body — and on GitHub a 304 does not count against the rate limit, so a
// warm cache stretches the token quota considerably on re-scrapes.
//
// The cache never serves entries without revalidating: every hit still
// costs a round trip, it just costs no quota and no body transfer.
// Caching is optional; a client without a Redis connection simply fetches
// everything fresh.
package cache
