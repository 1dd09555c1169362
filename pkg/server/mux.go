package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-graphclient/pkg/health"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
)

// NewMux routes /metrics to reg and /health, /health/ready and
// /health/live to hc.
func NewMux(reg *metrics.Registry, hc *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.Handle("GET /health", hc.HTTPHandler())
	mux.Handle("GET /health/ready", hc.ReadinessHandler())
	mux.Handle("GET /health/live", hc.LivenessHandler())
	return mux
}
