package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/health"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
)

func startServer(t *testing.T, handler http.Handler) (*GracefulServer, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gs := NewGracefulServer(ln.Addr().String(), handler, nil)
	done := make(chan error, 1)
	go func() { done <- gs.Serve(ln) }()
	t.Cleanup(func() {
		_ = gs.Shutdown(time.Second)
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	})
	return gs, "http://" + ln.Addr().String()
}

func TestGracefulServer_ServeAndShutdown(t *testing.T) {
	gs, base := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	resp, err := http.Get(base + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if gs.IsShuttingDown() {
		t.Error("should not be shutting down yet")
	}
	if err := gs.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if !gs.IsShuttingDown() {
		t.Error("IsShuttingDown() should be true after Shutdown")
	}
	select {
	case <-gs.ShutdownChannel():
	default:
		t.Error("shutdown channel not closed")
	}
	if err := gs.Shutdown(time.Second); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestGracefulServer_HandleSignalsStopsOnContext(t *testing.T) {
	gs, _ := startServer(t, http.NotFoundHandler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.HandleSignals(ctx, time.Second) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("HandleSignals() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("HandleSignals did not return")
	}
	if !gs.IsShuttingDown() {
		t.Error("server should be shutting down")
	}
}

func TestGracefulServer_ReloadConfig(t *testing.T) {
	gs := NewGracefulServer(":0", http.NotFoundHandler(), nil)
	if err := gs.ReloadConfig(); err != nil {
		t.Errorf("reload without func: %v", err)
	}

	called := false
	gs.SetConfigReloadFunc(func() error { called = true; return nil })
	if err := gs.ReloadConfig(); err != nil || !called {
		t.Errorf("ReloadConfig() = %v, called = %v", err, called)
	}

	boom := errors.New("bad config")
	gs.SetConfigReloadFunc(func() error { return boom })
	if err := gs.ReloadConfig(); !errors.Is(err, boom) {
		t.Errorf("ReloadConfig() error = %v, want %v", err, boom)
	}
}

func TestNewMux(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.RecordCommit("committed")
	hc := health.NewChecker()
	hc.RegisterCheck("backend", func(context.Context) health.Check {
		return health.Check{Status: health.StatusHealthy}
	})
	hc.RegisterReadinessCheck("transport", func(context.Context) health.Check {
		return health.Check{Status: health.StatusUnhealthy}
	})
	mux := NewMux(reg, hc)

	get := func(path string) (*httptest.ResponseRecorder, string) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		body, _ := io.ReadAll(rec.Body)
		return rec, string(body)
	}

	rec, body := get("/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(body, `graphdb_backend_commits_total{result="committed"} 1`) {
		t.Errorf("/metrics = %d\n%s", rec.Code, body)
	}
	if rec, _ := get("/health"); rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}
	if rec, _ := get("/health/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/ready = %d", rec.Code)
	}
	if rec, _ := get("/health/live"); rec.Code != http.StatusOK {
		t.Errorf("/health/live = %d", rec.Code)
	}
}
