package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for cache operations.
var (
	Hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stscraper_cache_hits_total",
		Help: "Cache entries found for revalidation",
	})

	Misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stscraper_cache_misses_total",
		Help: "Cache lookups that found no entry",
	})

	NotModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stscraper_cache_304_total",
		Help: "304 Not Modified responses served from cache",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stscraper_cache_errors_total",
		Help: "Cache operation errors by operation",
	}, []string{"operation"})

	Size = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stscraper_cache_size_bytes",
		Help: "Cumulative bytes written to the cache",
	})
)
