package health

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

// ConnCheck pings a backend with CheckVersion. A ping slower than slow is
// reported as degraded.
func ConnCheck(name string, conn api.Conn, slow time.Duration) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: name, Details: make(map[string]any)}

		start := time.Now()
		v, err := conn.CheckVersion(ctx, &api.Check{})
		elapsed := time.Since(start)
		check.Details["latency_ms"] = elapsed.Milliseconds()

		switch {
		case err != nil:
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		case slow > 0 && elapsed > slow:
			check.Status = StatusDegraded
			check.Message = "slow response"
			check.Details["version"] = v.Tag
		default:
			check.Status = StatusHealthy
			check.Details["version"] = v.Tag
		}
		return check
	}
}

// BackendStats is what ProgressCheck needs to know about a backend.
type BackendStats struct {
	PendingTxns int
	Applied     map[uint32]uint64
}

// ProgressCheck reports per-group applied indexes and flags a backend with
// more than maxPending open transactions as degraded.
func ProgressCheck(stats func() BackendStats, maxPending int) CheckFunc {
	return func(ctx context.Context) Check {
		st := stats()
		check := Check{
			Name: "backend",
			Details: map[string]any{
				"pending_txns": st.PendingTxns,
				"groups":       len(st.Applied),
				"applied":      st.Applied,
			},
			Status: StatusHealthy,
		}
		if maxPending > 0 && st.PendingTxns > maxPending {
			check.Status = StatusDegraded
			check.Message = "many open transactions"
		}
		return check
	}
}

// ServingCheck is unhealthy once closed reports true.
func ServingCheck(name string, closed func() bool) CheckFunc {
	return func(ctx context.Context) Check {
		if closed() {
			return Check{Name: name, Status: StatusUnhealthy, Message: "shutting down"}
		}
		return Check{Name: name, Status: StatusHealthy}
	}
}
