package security

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RepoLatency is used by repository implementations to record operation latency.
	RepoLatency *prometheus.HistogramVec

	// AuthDecisionsTotal counts direct permission-check outcomes by decision.
	AuthDecisionsTotal *prometheus.CounterVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
)

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics. Safe to call multiple times;
// only the first call registers.
func InitMetrics() {
	initMetricsOnce.Do(func() {
		f := promauto.With(prometheus.DefaultRegisterer)

		RepoLatency = f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "node_service_repo_operation_duration_seconds",
				Help:    "Latency of node repository operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		)

		AuthDecisionsTotal = f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_service_auth_decisions_total",
				Help: "Direct permission check outcomes",
			},
			[]string{"decision"},
		)

		CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
			Name: "node_service_cache_hits_total",
			Help: "Node cache hits",
		})
		CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
			Name: "node_service_cache_misses_total",
			Help: "Node cache misses",
		})
	})
}
