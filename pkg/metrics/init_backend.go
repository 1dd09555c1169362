package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initBackendMetrics() {
	r.BackendCommitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_backend_commits_total",
			Help: "Commit decisions taken by the backend oracle",
		},
		[]string{"result"}, // committed, aborted
	)

	r.BackendGroupAppliedIndex = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphdb_backend_group_applied_index",
			Help: "Applied index per group, the counters clients see in read vectors",
		},
		[]string{"group"},
	)

	r.BackendPendingTxns = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphdb_backend_pending_txns",
			Help: "Transactions holding uncommitted writes",
		},
	)

	r.BackendLinReadWaitSeconds = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphdb_backend_linread_wait_seconds",
			Help:    "Time requests waited for a group to catch up with their read vector",
			Buckets: prometheus.DefBuckets,
		},
	)
}
