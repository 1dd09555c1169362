// Package health aggregates named checks into healthy, degraded or
// unhealthy reports and serves them over HTTP.
package health

import (
	"context"
	"time"
)

// NewChecker creates a checker with no checks registered
func NewChecker() *Checker {
	return &Checker{
		started:     time.Now(),
		checks:      make(map[string]CheckFunc),
		readyChecks: make(map[string]CheckFunc),
		liveChecks:  make(map[string]CheckFunc),
	}
}

// RegisterCheck registers a check reported by /health
func (hc *Checker) RegisterCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// RegisterReadinessCheck registers a readiness check
func (hc *Checker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.readyChecks[name] = check
}

// RegisterLivenessCheck registers a liveness check
func (hc *Checker) RegisterLivenessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.liveChecks[name] = check
}

// Check runs every general check
func (hc *Checker) Check(ctx context.Context) Response {
	return hc.run(ctx, func() map[string]CheckFunc { return hc.checks })
}

// CheckReadiness runs the readiness checks
func (hc *Checker) CheckReadiness(ctx context.Context) Response {
	return hc.run(ctx, func() map[string]CheckFunc { return hc.readyChecks })
}

// CheckLiveness runs the liveness checks
func (hc *Checker) CheckLiveness(ctx context.Context) Response {
	return hc.run(ctx, func() map[string]CheckFunc { return hc.liveChecks })
}

func (hc *Checker) run(ctx context.Context, pick func() map[string]CheckFunc) Response {
	hc.mu.RLock()
	checks := make(map[string]CheckFunc, len(pick()))
	for name, fn := range pick() {
		checks[name] = fn
	}
	hc.mu.RUnlock()

	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(checks)),
		Uptime:    time.Since(hc.started),
	}
	for name, fn := range checks {
		start := time.Now()
		check := fn(ctx)
		if check.Name == "" {
			check.Name = name
		}
		check.Duration = time.Since(start)
		check.LastChecked = start
		response.Checks[name] = check

		// worst status wins
		switch {
		case check.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case check.Status == StatusDegraded && response.Status != StatusUnhealthy:
			response.Status = StatusDegraded
		}
	}
	return response
}
