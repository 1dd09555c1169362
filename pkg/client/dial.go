package client

import (
	"context"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/auth"
	"github.com/dd0wney/cluso-graphclient/pkg/config"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/selector"
	"github.com/dd0wney/cluso-graphclient/pkg/transport"
)

// NewFromConfig dials every endpoint in cfg and builds a client over them.
// Options are applied after the ones derived from cfg and win over them.
// An invalid cfg or a failed dial yields a *ConfigurationError.
func NewFromConfig(ctx context.Context, cfg config.ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	base := []Option{
		WithSelectorPolicy(selector.Policy(cfg.Selector)),
		WithRetryPolicy(RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Backoff: cfg.Retry.Backoff}),
		WithDefaultTimeout(cfg.Timeout),
		WithLogger(logging.NewStderrLogger(logging.ParseLevel(cfg.LogLevel))),
	}
	if cfg.Auth.Token != "" {
		base = append(base, WithDefaultCredentials(auth.NewTokenCredentials(cfg.Auth.Token)))
	}
	opts = append(base, opts...)

	// The transport shares the client's logger and metrics.
	staged := &Client{}
	for _, opt := range opts {
		opt(staged)
	}
	dialOpts := []transport.DialOption{transport.WithCompression(cfg.Compression)}
	if staged.logger != nil {
		dialOpts = append(dialOpts, transport.WithDialLogger(staged.logger))
	}
	if staged.metrics != nil {
		dialOpts = append(dialOpts, transport.WithDialMetrics(staged.metrics))
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	conns := make([]api.Conn, 0, len(cfg.Endpoints))
	for _, addr := range cfg.Endpoints {
		conn, err := transport.Dial(ctx, cfg.Transport, addr, dialOpts...)
		if err != nil {
			closeAll(conns)
			return nil, &ConfigurationError{Err: err}
		}
		conns = append(conns, conn)
	}

	c, err := NewClientWithOptions(conns, opts...)
	if err != nil {
		closeAll(conns)
		return nil, err
	}
	return c, nil
}

func closeAll(conns []api.Conn) {
	c := &Client{conns: conns}
	if err := c.Close(); err != nil {
		logging.DefaultLogger().Warn("close connections", logging.Error(err))
	}
}
