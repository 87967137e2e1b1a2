package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matching_time_seconds",
		Help:    "Time spent selecting a vendor for a booking.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	matchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "match_attempts_total",
		Help: "Vendor match attempts grouped by outcome.",
	}, []string{"result"})
)
