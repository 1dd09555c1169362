package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initClientMetrics()
	r.initTransportMetrics()
	r.initBackendMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Status labels used by the Record helpers
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusTimeout  = "timeout"
	StatusAborted  = "aborted"
	OutcomeCommit  = "committed"
	OutcomeAbort   = "aborted"
	OutcomeDiscard = "discarded"
)

// RecordRequest records one client RPC
func (r *Registry) RecordRequest(op, status string, duration time.Duration) {
	r.ClientRequestsTotal.WithLabelValues(op, status).Inc()
	r.ClientRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTxn records how a transaction ended
func (r *Registry) RecordTxn(outcome string) {
	r.ClientTxnsTotal.WithLabelValues(outcome).Inc()
}

// RecordPick records which pool slot served an operation
func (r *Registry) RecordPick(slot int) {
	r.ClientConnectionPicks.WithLabelValues(strconv.Itoa(slot)).Inc()
}

// RecordRetry records a re-dispatch on a fresh connection
func (r *Registry) RecordRetry(op string) {
	r.ClientRetriesTotal.WithLabelValues(op).Inc()
}

// SetLinReadPartitions sets the number of partitions in the client vector
func (r *Registry) SetLinReadPartitions(n int) {
	r.ClientLinReadPartitions.Set(float64(n))
}

// RecordFrame records one transport frame
func (r *Registry) RecordFrame(direction, method string, size int) {
	r.TransportFramesTotal.WithLabelValues(direction, method).Inc()
	r.TransportBytesTotal.WithLabelValues(direction).Add(float64(size))
}

// RecordCommit records a backend commit decision
func (r *Registry) RecordCommit(result string) {
	r.BackendCommitsTotal.WithLabelValues(result).Inc()
}

// SetGroupAppliedIndex publishes a group's applied index
func (r *Registry) SetGroupAppliedIndex(group uint32, index uint64) {
	r.BackendGroupAppliedIndex.WithLabelValues(strconv.FormatUint(uint64(group), 10)).Set(float64(index))
}
