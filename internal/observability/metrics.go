package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecomputesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "activity_radar", Name: "recomputes_total", Help: "Filter and sort passes over the catalog"})
	RecomputeLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "activity_radar", Name: "recompute_latency_seconds", Help: "Filter and sort pass latency", Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1}})
	ResultSize       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "activity_radar", Name: "result_size", Help: "Items returned by a recompute", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})

	DistanceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "activity_radar", Name: "distance_cache_lookups_total", Help: "Distance cache lookups by outcome"},
		[]string{"outcome"},
	)
	MarkerProjections = promauto.NewCounter(prometheus.CounterOpts{Namespace: "activity_radar", Name: "marker_projections_total", Help: "Marker sets pushed to map widgets"})

	LocateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "activity_radar", Name: "locate_outcomes_total", Help: "Location resolution outcomes"},
		[]string{"stage", "outcome"},
	)
	StorageWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "activity_radar", Name: "storage_write_failures_total", Help: "Failed durable writes that fell back to session-only state"},
		[]string{"key"},
	)
	AchievementsUnlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "activity_radar", Name: "achievements_unlocked_total", Help: "Achievements unlocked"},
		[]string{"achievement"},
	)
	SessionsActive  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "activity_radar", Name: "sessions_active", Help: "Sessions held in memory"})
	WidgetsAttached = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "activity_radar", Name: "map_widgets_attached", Help: "Connected map widgets"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "activity_radar", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "activity_radar",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
