package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for page fetching.
var (
	pageFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_page_fetches_total",
		Help: "Total remote page fetches by result",
	}, []string{"result"}) // "success", "error", "timeout", "stale"

	pageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensor_page_fetch_duration_seconds",
		Help:    "Remote page fetch duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	})
)
