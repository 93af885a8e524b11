package proximity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proximity_search_seconds",
		Help:    "Time spent scanning and ranking available mechanics.",
		Buckets: prometheus.DefBuckets,
	})

	candidatesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proximity_candidates_scanned_total",
		Help: "Total mechanic profiles examined by proximity searches.",
	})
)
