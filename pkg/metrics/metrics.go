// Package metrics documents the Prometheus metrics exposed by the
// scraper. Metrics are defined next to the code that drives them (client,
// tokenpool, cache) to keep packages self-contained; this package holds
// the registry reference and the inventory.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the scraper.
// All metrics are registered via promauto in their owning packages.
var Registry = prometheus.DefaultRegisterer

// Metrics inventory
//
// Fetcher (pkg/client):
//   - stscraper_requests_total{provider, status} (Counter)
//   - stscraper_request_duration_seconds{provider} (Histogram)
//   - stscraper_errors_total{provider, class} (Counter): class is one of
//     client, server, rate_limit, network
//   - stscraper_retries_total{provider, error_class} (Counter)
//   - stscraper_retry_exhausted_total{provider} (Counter)
//   - stscraper_token_rotations_total{provider} (Counter)
//
// Token pool (pkg/tokenpool):
//   - stscraper_pool_tokens{provider} (Gauge)
//   - stscraper_token_quota_remaining{provider, token, class} (Gauge):
//     token is the pool index, never the secret
//   - stscraper_tokens_exhausted_total{provider, class} (Counter)
//   - stscraper_pool_waits_total{provider, class} (Counter)
//
// Cache (pkg/cache):
//   - stscraper_cache_hits_total (Counter)
//   - stscraper_cache_misses_total (Counter)
//   - stscraper_cache_304_total (Counter)
//   - stscraper_cache_errors_total{operation} (Counter)
//   - stscraper_cache_size_bytes (Gauge)
//
// Example queries:
//
//   # Quota headroom per token
//   stscraper_token_quota_remaining{provider="github", class="core"}
//
//   # Share of requests answered by revalidation
//   rate(stscraper_cache_304_total[5m]) / rate(stscraper_requests_total[5m])
//
//   # Time lost to quota waits
//   rate(stscraper_pool_waits_total[15m])
