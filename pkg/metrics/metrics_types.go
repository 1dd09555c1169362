package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the client library and the reference backend
type Registry struct {
	// Client Metrics
	ClientRequestsTotal     *prometheus.CounterVec
	ClientRequestDuration   *prometheus.HistogramVec
	ClientTxnsTotal         *prometheus.CounterVec
	ClientLinReadPartitions prometheus.Gauge
	ClientConnectionPicks   *prometheus.CounterVec
	ClientRetriesTotal      *prometheus.CounterVec

	// Transport Metrics
	TransportBytesTotal  *prometheus.CounterVec
	TransportFramesTotal *prometheus.CounterVec

	// Backend Metrics
	BackendCommitsTotal       *prometheus.CounterVec
	BackendGroupAppliedIndex  *prometheus.GaugeVec
	BackendPendingTxns        prometheus.Gauge
	BackendLinReadWaitSeconds prometheus.Histogram

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)
