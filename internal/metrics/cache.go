package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "cache_writes_total",
			Namespace: Namespace,
			Help:      "The total number of cache writes, by cache and result.",
		},
		[]string{"cache", "result"},
	)

	CacheWriteLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:      "cache_write_latency_seconds",
			Namespace: Namespace,
			Buckets:   prometheus.DefBuckets,
			Help:      "The latency of cache write operations, replication included, in seconds.",
		},
		[]string{"cache"},
	)

	ReplicationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "cache_replication_errors_total",
			Namespace: Namespace,
			Help:      "The total number of failed writes to a cache replica.",
		},
		[]string{"cache", "replica"},
	)
)
