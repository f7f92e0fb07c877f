package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks page store hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_cache_hits_total",
			Help: "Total number of sensor page store hits",
		},
		[]string{"layer"}, // "memory", "redis", "sqlite"
	)

	// CacheMisses tracks page store misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_cache_misses_total",
			Help: "Total number of sensor page store misses",
		},
	)

	// CachePages tracks the number of stored pages by layer
	CachePages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensor_cache_pages",
			Help: "Current number of stored sensor pages",
		},
		[]string{"layer"}, // "memory", "redis", "sqlite"
	)

	// CacheEvictions tracks fingerprints evicted from the memory store
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_cache_evictions_total",
			Help: "Total number of fingerprints evicted from the memory page store",
		},
	)

	// CacheErrors tracks page store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_cache_errors_total",
			Help: "Total number of page store operation errors",
		},
		[]string{"operation"}, // "get", "put", "pages", "trim", "invalidate", "prune"
	)
)
