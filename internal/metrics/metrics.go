package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwidget_api_calls_total",
			Help: "Total Open-Meteo API attempts",
		},
		[]string{"status"},
	)

	APILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weatherwidget_api_latency_seconds",
			Help:    "Open-Meteo API attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FetchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwidget_fetch_cycles_total",
			Help: "Completed poller cycles by outcome state",
		},
		[]string{"state"},
	)

	FetchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weatherwidget_fetch_cycle_duration_seconds",
			Help:    "Duration of a full fetch, cache and publish cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwidget_cache_ops_total",
			Help: "Bundle cache operations by op and result",
		},
		[]string{"op", "result"},
	)

	ScoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherwidget_scores_total",
			Help: "Consistency scores computed by reason",
		},
		[]string{"reason"},
	)
)
