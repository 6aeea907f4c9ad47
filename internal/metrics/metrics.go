package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "kafkameta"

var (
	RefreshRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "refresh_runs_total",
			Namespace: Namespace,
			Help:      "The total number of refresh runs per cluster, by result.",
		},
		[]string{"cluster", "result"},
	)

	RefreshDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:      "refresh_duration_seconds",
			Namespace: Namespace,
			Buckets:   prometheus.DefBuckets,
			Help:      "The duration of complete refresh runs in seconds.",
		},
		[]string{"cluster"},
	)

	FetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:      "fetch_duration_seconds",
			Namespace: Namespace,
			Buckets:   prometheus.DefBuckets,
			Help:      "The latency of upstream fetches in seconds, by refresh phase.",
		},
		[]string{"cluster", "phase"},
	)

	LastRefreshTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:      "last_refresh_timestamp_seconds",
			Namespace: Namespace,
			Help:      "Unix time of the last aggregate snapshot published per cluster.",
		},
		[]string{"cluster"},
	)

	ScheduledTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "scheduled_tasks",
		Namespace: Namespace,
		Help:      "The number of keys registered with the scheduler.",
	})
)
