package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClientMetrics() {
	r.ClientRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphclient_requests_total",
			Help: "Total number of client RPCs",
		},
		[]string{"op", "status"},
	)

	r.ClientRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphclient_request_duration_seconds",
			Help:    "Client RPC duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	r.ClientTxnsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphclient_txns_total",
			Help: "Total number of finished transactions",
		},
		[]string{"outcome"}, // committed, aborted, discarded
	)

	r.ClientLinReadPartitions = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphclient_linread_partitions",
			Help: "Number of partitions tracked in the client read vector",
		},
	)

	r.ClientConnectionPicks = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphclient_connection_picks_total",
			Help: "Number of operations dispatched per connection slot",
		},
		[]string{"slot"},
	)

	r.ClientRetriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphclient_retries_total",
			Help: "Number of RPCs re-dispatched after a transport failure",
		},
		[]string{"op"},
	)
}
