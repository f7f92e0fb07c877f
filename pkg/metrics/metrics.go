// Package metrics exposes the Prometheus registry of the sensor-data cache.
// Collectors are defined in their respective packages (cache, pagination,
// coordinator, source, ratelimit) to keep the packages independent; this
// package documents them and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all collectors are registered with via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Page Store Metrics (pkg/cache):
//   - sensor_cache_hits_total{layer} (Counter): Page store hits by layer (memory, redis, sqlite)
//   - sensor_cache_misses_total (Counter): Page store misses
//   - sensor_cache_pages{layer} (Gauge): Pages held by layer
//   - sensor_cache_evictions_total (Counter): Fingerprints evicted from memory
//   - sensor_cache_errors_total{operation} (Counter): Page store operation errors
//
// Pagination Metrics (pkg/pagination):
//   - sensor_page_fetches_total{result} (Counter): Page fetches by result (success, error, timeout, stale)
//   - sensor_page_fetch_duration_seconds (Histogram): Page fetch duration
//
// Coordinator Metrics (pkg/coordinator):
//   - sensor_requests_total{outcome} (Counter): Requests by outcome (cache_hit, stale_hit, fetched, forced, error)
//   - sensor_debounce_superseded_total (Counter): Pending requests replaced within the debounce window
//   - sensor_inflight_joins_total (Counter): Requests attached to a running fetch
//   - sensor_stale_responses_total (Counter): Responses discarded after a filter change
//
// Gateway Metrics (pkg/source):
//   - sensor_remote_requests_total{status} (Counter): Gateway requests by HTTP status
//   - sensor_remote_request_duration_seconds (Histogram): Gateway request duration
//   - sensor_remote_errors_total{class} (Counter): Errors by class (client, server, quota, network)
//
// Quota Metrics (pkg/ratelimit):
//   - sensor_remote_quota_remaining (Gauge): Requests remaining in the gateway quota window
//   - sensor_quota_blocks_total (Counter): Requests refused on a critical quota
//   - sensor_quota_throttles_total (Counter): Requests delayed on a low quota
//
// API Metrics (cmd/sensordata-api):
//   - sensor_api_sessions (Gauge): Client sessions holding a coordinator
//   - sensor_api_sessions_evicted_total{reason} (Counter): Sessions dropped by reason (idle, capacity)
//
// Example Prometheus Queries:
//
//   # Page Store Hit Rate
//   sum(rate(sensor_cache_hits_total[5m])) /
//   (sum(rate(sensor_cache_hits_total[5m])) + sum(rate(sensor_cache_misses_total[5m])))
//
//   # Share of fetches discarded as stale
//   rate(sensor_stale_responses_total[5m]) / rate(sensor_page_fetches_total[5m])
//
//   # P95 Page Fetch Latency
//   histogram_quantile(0.95, rate(sensor_page_fetch_duration_seconds_bucket[5m]))
//
//   # Gateway Quota Status
//   sensor_remote_quota_remaining < 20
