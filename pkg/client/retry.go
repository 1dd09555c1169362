package client

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

// RetryPolicy re-dispatches a failed RPC on a freshly picked connection.
// Only CodeUnavailable failures are retried: the request never reached a
// server, so sending it elsewhere cannot apply it twice. Timeouts and
// protocol errors always surface to the caller.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries. Values below 2 disable
	// failover.
	MaxAttempts int
	Backoff     time.Duration
}

// NoRetry is the default policy: one attempt, fail fast.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) attempts() int {
	return max(1, p.MaxAttempts)
}

func (p RetryPolicy) shouldRetry(err error) bool {
	return api.StatusCode(err) == api.CodeUnavailable
}

// wait sleeps for the backoff or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context) error {
	if p.Backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
