package health

import (
	"encoding/json"
	"net/http"
)

// HTTPHandler serves the general checks. Degraded still answers 200.
func (hc *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())
		code := http.StatusOK
		if response.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response)
	}
}

// ReadinessHandler serves the readiness checks
func (hc *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeBinary(w, hc.CheckReadiness(r.Context()))
	}
}

// LivenessHandler serves the liveness checks
func (hc *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeBinary(w, hc.CheckLiveness(r.Context()))
	}
}

// writeBinary answers 200 only when every check is healthy.
func writeBinary(w http.ResponseWriter, response Response) {
	code := http.StatusOK
	if response.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func writeJSON(w http.ResponseWriter, code int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}
