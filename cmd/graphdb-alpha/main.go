// Command graphdb-alpha runs the in-memory graph backend behind the RPC
// transport, with Prometheus metrics and health endpoints over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-graphclient/pkg/auth"
	"github.com/dd0wney/cluso-graphclient/pkg/config"
	"github.com/dd0wney/cluso-graphclient/pkg/health"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/memgraph"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
	"github.com/dd0wney/cluso-graphclient/pkg/server"
	"github.com/dd0wney/cluso-graphclient/pkg/transport"
)

const shutdownTimeout = 10 * time.Second

// options are the command line settings that are not part of the config
// file.
type options struct {
	configPath string
	issueRole  string
	subject    string
	tokenTTL   time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "graphdb-alpha:", err)
		os.Exit(1)
	}
}

// parseFlags layers explicitly set flags over the config file.
func parseFlags(args []string, stderr io.Writer) (config.ServerConfig, options, error) {
	cfg := config.DefaultServerConfig()
	var opts options

	fs := flag.NewFlagSet("graphdb-alpha", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "server config YAML")
	listen := fs.String("listen", cfg.ListenAddr, "RPC listen address")
	network := fs.String("transport", cfg.Transport, "nng or zmq")
	workers := fs.Int("workers", cfg.Workers, "concurrent RPC workers")
	groups := fs.Int("groups", cfg.Groups, "predicate groups")
	metricsAddr := fs.String("metrics", cfg.MetricsAddr, "HTTP address for /metrics and /health; empty disables")
	compression := fs.Bool("compression", cfg.Compression, "compress replies")
	secret := fs.String("auth-secret", "", "JWT secret; enables token verification")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&opts.issueRole, "issue-token", "", "print a token for this role (reader, writer, admin) and exit")
	fs.StringVar(&opts.subject, "subject", "graphclient", "subject of an issued token")
	fs.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of an issued token")
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}

	if opts.configPath != "" {
		loaded, err := config.LoadServerConfig(opts.configPath)
		if err != nil {
			return cfg, opts, err
		}
		cfg = *loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listen
		case "transport":
			cfg.Transport = *network
		case "workers":
			cfg.Workers = *workers
		case "groups":
			cfg.Groups = *groups
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "compression":
			cfg.Compression = *compression
		case "auth-secret":
			cfg.Auth.Secret = *secret
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, opts, err
	}
	return cfg, opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	var jwt *auth.JWTManager
	if cfg.Auth.Secret != "" {
		if jwt, err = auth.NewJWTManager(cfg.Auth.Secret, opts.tokenTTL); err != nil {
			return err
		}
	}
	if opts.issueRole != "" {
		if jwt == nil {
			return errors.New("-issue-token needs an auth secret")
		}
		token, err := jwt.GenerateToken(opts.subject, opts.issueRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, token)
		return nil
	}

	logger := logging.NewStderrLogger(logging.ParseLevel(cfg.LogLevel))
	logging.SetDefaultLogger(logger)
	reg := metrics.NewRegistry()

	store, err := memgraph.NewStore(memgraph.StoreConfig{
		Groups:  cfg.Groups,
		Logger:  logger,
		Metrics: reg,
	})
	if err != nil {
		return err
	}

	srvOpts := []transport.ServerOption{
		transport.WithWorkers(cfg.Workers),
		transport.WithReplyCompression(cfg.Compression),
		transport.WithServerLogger(logger),
		transport.WithServerMetrics(reg),
	}
	if jwt != nil {
		srvOpts = append(srvOpts, transport.WithVerifier(auth.NewJWTVerifier(jwt)))
	}
	rpc := transport.NewServer(store, srvOpts...)
	if err := rpc.Listen(cfg.Transport, cfg.ListenAddr); err != nil {
		return err
	}

	hc := health.NewChecker()
	hc.RegisterCheck("store", health.ConnCheck("store", store, 100*time.Millisecond))
	hc.RegisterCheck("backend", health.ProgressCheck(func() health.BackendStats {
		st := store.Stats()
		return health.BackendStats{PendingTxns: st.PendingTxns, Applied: st.Applied}
	}, 10000))
	hc.RegisterReadinessCheck("rpc", health.ServingCheck("rpc", func() bool { return !rpc.Serving() }))
	hc.RegisterLivenessCheck("store", health.ConnCheck("store", store, 0))

	logger.Info("graphdb-alpha starting",
		logging.Endpoint(cfg.ListenAddr),
		logging.String("transport", cfg.Transport),
		logging.Int("groups", cfg.Groups),
		logging.Bool("auth", jwt != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := rpc.Serve(gctx); err != nil && !errors.Is(err, transport.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.MetricsAddr != "" {
		httpSrv := server.NewGracefulServer(cfg.MetricsAddr, server.NewMux(reg, hc), logger)
		httpSrv.SetConfigReloadFunc(func() error {
			return reloadLogLevel(opts.configPath, logger)
		})
		g.Go(httpSrv.Start)
		g.Go(func() error {
			return httpSrv.HandleSignals(gctx, shutdownTimeout)
		})
		g.Go(func() error {
			<-httpSrv.ShutdownChannel()
			return rpc.Close()
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return rpc.Close()
		})
	}

	err = g.Wait()
	logger.Info("graphdb-alpha stopped", logging.Error(err))
	return err
}

// reloadLogLevel re-reads the config file and applies its log level.
func reloadLogLevel(path string, logger *logging.JSONLogger) error {
	if path == "" {
		return nil
	}
	cfg, err := config.LoadServerConfig(path)
	if err != nil {
		return err
	}
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger.Info("log level reloaded", logging.String("level", cfg.LogLevel))
	return nil
}
