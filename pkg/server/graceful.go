// Package server runs the backend's HTTP side: Prometheus metrics and health
// endpoints, with graceful shutdown and SIGHUP configuration reload.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/logging"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// GracefulServer wraps an HTTP server with graceful shutdown capabilities
type GracefulServer struct {
	server         *http.Server
	logger         logging.Logger
	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	configReloadFn ConfigReloadFunc
	configMu       sync.RWMutex
}

// NewGracefulServer creates a new graceful HTTP server
func NewGracefulServer(addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &GracefulServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger:     logger.With(logging.Component("http")),
		shutdownCh: make(chan struct{}),
	}
}

// Start listens on the configured address and serves until Shutdown.
func (gs *GracefulServer) Start() error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	return gs.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (gs *GracefulServer) Serve(ln net.Listener) error {
	gs.logger.Info("serving http", logging.Endpoint(ln.Addr().String()))
	if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits up to timeout for
// in-flight requests. Only the first call has an effect.
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", timeout))
		if err = gs.server.Shutdown(ctx); err != nil {
			gs.logger.Error("shutdown failed", logging.Error(err))
			return
		}
		gs.logger.Info("http shutdown complete")
	})
	return err
}

// HandleSignals blocks until ctx is done or SIGINT/SIGTERM arrives, then
// shuts the server down. SIGHUP triggers ReloadConfig.
func (gs *GracefulServer) HandleSignals(ctx context.Context, timeout time.Duration) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return gs.Shutdown(timeout)
		case <-gs.shutdownCh:
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				gs.logger.Info("received SIGHUP, reloading configuration")
				if err := gs.ReloadConfig(); err != nil {
					gs.logger.Warn("configuration reload failed", logging.Error(err))
				}
				continue
			}
			gs.logger.Info("received signal, shutting down", logging.String("signal", sig.String()))
			return gs.Shutdown(timeout)
		}
	}
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Debug("configuration reload requested, but no reload function configured")
		return nil
	}
	if err := reloadFn(); err != nil {
		return err
	}
	gs.logger.Info("configuration reloaded")
	return nil
}
