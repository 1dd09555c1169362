package client

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
	"github.com/dd0wney/cluso-graphclient/pkg/selector"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithSelectorPolicy chooses how connections are picked. Random is the
// default.
func WithSelectorPolicy(p selector.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRetryPolicy enables failover to another connection on transport
// errors.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(c *Client) { c.metrics = r }
}

// WithDefaultTimeout bounds every call that does not set its own timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

// WithDefaultCredentials attaches creds to every call unless a call
// overrides them.
func WithDefaultCredentials(creds api.Credentials) Option {
	return func(c *Client) { c.defaultCreds = creds }
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout     time.Duration
	metadata    map[string]string
	credentials api.Credentials
}

// WithTimeout aborts the call after d. Zero means no timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithMetadata attaches a key-value pair to the outbound call.
func WithMetadata(key, value string) CallOption {
	return func(o *callOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]string)
		}
		o.metadata[key] = value
	}
}

// WithCredentials overrides the credentials for one call.
func WithCredentials(creds api.Credentials) CallOption {
	return func(o *callOptions) { o.credentials = creds }
}

// callContext derives the context an RPC runs under.
func (c *Client) callContext(ctx context.Context, opts []CallOption) (context.Context, context.CancelFunc) {
	o := callOptions{timeout: c.defaultTimeout, credentials: c.defaultCreds}
	for _, opt := range opts {
		opt(&o)
	}

	if len(o.metadata) > 0 || o.credentials != nil {
		ctx = api.WithCallInfo(ctx, api.CallInfo{Metadata: o.metadata, Credentials: o.credentials})
	}
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}
