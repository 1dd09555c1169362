package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.TransportBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphclient_transport_bytes_total",
			Help: "Bytes moved over transport sockets",
		},
		[]string{"direction"}, // sent, received
	)

	r.TransportFramesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphclient_transport_frames_total",
			Help: "Frames moved over transport sockets",
		},
		[]string{"direction", "method"},
	)
}
