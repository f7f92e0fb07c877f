package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for request coordination.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_requests_total",
		Help: "Total sensor-data requests by outcome",
	}, []string{"outcome"}) // "cache_hit", "stale_hit", "fetched", "forced", "error"

	debounceSupersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_debounce_superseded_total",
		Help: "Total pending requests replaced by a later request within the debounce window",
	})

	inflightJoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_inflight_joins_total",
		Help: "Total requests attached to an in-flight fetch for the same fingerprint",
	})

	staleResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_stale_responses_total",
		Help: "Total responses discarded because their fingerprint was superseded",
	})
)
