// Package client is the access layer for a graph database cluster. A Client
// spreads calls over a fixed set of connections and carries a read-progress
// vector between transactions, so that every new transaction observes a
// cluster state at least as recent as anything this client has seen.
package client

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/linread"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
	"github.com/dd0wney/cluso-graphclient/pkg/selector"
)

// Client is safe for concurrent use. Transactions created from it hold a
// pointer back to it; the Client never tracks its transactions.
type Client struct {
	conns   []api.Conn
	slots   selector.Selector[int]
	linRead *linread.Manager

	policy         selector.Policy
	retry          RetryPolicy
	defaultTimeout time.Duration
	defaultCreds   api.Credentials
	logger         logging.Logger
	metrics        *metrics.Registry
}

// NewClient creates a client backed by conns, which may point at the same
// server or at several servers of one cluster. It fails with a
// *ConfigurationError when conns is empty.
func NewClient(conns ...api.Conn) (*Client, error) {
	return NewClientWithOptions(conns)
}

// NewClientWithOptions is NewClient with construction options.
func NewClientWithOptions(conns []api.Conn, opts ...Option) (*Client, error) {
	if len(conns) == 0 {
		return nil, &ConfigurationError{Err: ErrNoConnections}
	}
	for _, conn := range conns {
		if conn == nil {
			return nil, &ConfigurationError{Err: ErrNilConnection}
		}
	}

	c := &Client{
		conns:   append([]api.Conn(nil), conns...),
		linRead: linread.NewManager(),
		policy:  selector.PolicyRandom,
		retry:   NoRetry,
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	idx := make([]int, len(c.conns))
	for i := range idx {
		idx[i] = i
	}
	slots, err := selector.New(c.policy, idx)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	c.slots = slots
	c.logger = c.logger.With(logging.Component("client"))

	return c, nil
}

// Alter runs a schema operation on one connection. It is not transactional.
func (c *Client) Alter(ctx context.Context, op *api.Operation, opts ...CallOption) (*api.Payload, error) {
	return invoke(c, ctx, "alter", opts, func(ctx context.Context, conn api.Conn) (*api.Payload, error) {
		return conn.Alter(ctx, op)
	})
}

// AlterAsync is the non-blocking form of Alter.
func (c *Client) AlterAsync(ctx context.Context, op *api.Operation, opts ...CallOption) *Future[*api.Payload] {
	return goAsync(ctx, func(ctx context.Context) (*api.Payload, error) {
		return c.Alter(ctx, op, opts...)
	})
}

// DropAll removes all data and schema.
func (c *Client) DropAll(ctx context.Context, opts ...CallOption) error {
	_, err := c.Alter(ctx, &api.Operation{DropAll: true}, opts...)
	return err
}

// Query runs q in a new read-only transaction. The transaction is discarded
// afterwards; since it holds no mutations that costs no round trip.
func (c *Client) Query(ctx context.Context, q string, opts ...CallOption) (*api.Response, error) {
	return c.QueryWithVars(ctx, q, nil, opts...)
}

// QueryWithVars is Query with GraphQL-style variables.
func (c *Client) QueryWithVars(ctx context.Context, q string, vars map[string]string, opts ...CallOption) (*api.Response, error) {
	txn := c.NewReadOnlyTxn()
	defer txn.Discard(ctx)
	return txn.QueryWithVars(ctx, q, vars, opts...)
}

// QueryAsync is the non-blocking form of Query.
func (c *Client) QueryAsync(ctx context.Context, q string, opts ...CallOption) *Future[*api.Response] {
	return c.QueryWithVarsAsync(ctx, q, nil, opts...)
}

// QueryWithVarsAsync is the non-blocking form of QueryWithVars.
func (c *Client) QueryWithVarsAsync(ctx context.Context, q string, vars map[string]string, opts ...CallOption) *Future[*api.Response] {
	return goAsync(ctx, func(ctx context.Context) (*api.Response, error) {
		return c.QueryWithVars(ctx, q, vars, opts...)
	})
}

// CheckVersion asks one server for its version.
func (c *Client) CheckVersion(ctx context.Context, opts ...CallOption) (*api.Version, error) {
	return invoke(c, ctx, "check_version", opts, func(ctx context.Context, conn api.Conn) (*api.Version, error) {
		return conn.CheckVersion(ctx, &api.Check{})
	})
}

// NewTxn starts a transaction seeded with the client's current read vector.
func (c *Client) NewTxn() *Txn {
	return newTxn(c, false)
}

// NewReadOnlyTxn starts a transaction that refuses mutations.
func (c *Client) NewReadOnlyTxn() *Txn {
	return newTxn(c, true)
}

// SetLinRead copies the client's read vector into dst.
func (c *Client) SetLinRead(dst *api.LinRead) {
	c.linRead.AttachTo(dst)
}

// MergeLinReads folds src into the client's read vector.
func (c *Client) MergeLinReads(src *api.LinRead) {
	tracked, advanced := c.linRead.MergeFrom(src)
	if c.metrics != nil {
		c.metrics.SetLinReadPartitions(tracked)
	}
	for _, group := range advanced {
		c.logger.Debug("read vector advanced", logging.Partition(group), logging.Uint64("applied", src.Ids[group]))
	}
}

// LinRead returns a copy of the client's read vector.
func (c *Client) LinRead() *api.LinRead {
	return c.linRead.Snapshot()
}

// AnyConn returns a connection chosen by the selector.
func (c *Client) AnyConn() api.Conn {
	_, conn := c.pick()
	return conn
}

// Close closes every connection that holds resources.
func (c *Client) Close() error {
	var errs []error
	for _, conn := range c.conns {
		if closer, ok := conn.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Client) pick() (int, api.Conn) {
	slot := c.slots.Pick()
	if c.metrics != nil {
		c.metrics.RecordPick(slot)
	}
	return slot, c.conns[slot]
}

// invoke runs fn against a picked connection under the call options and the
// retry policy. Errors from fn are returned unmodified. A call whose context
// expired is reported as a timeout even if fn returned a result, so callers
// never merge state from a timed-out call.
func invoke[T any](c *Client, ctx context.Context, op string, opts []CallOption,
	fn func(context.Context, api.Conn) (T, error)) (T, error) {
	ctx, cancel := c.callContext(ctx, opts)
	defer cancel()

	var zero T
	for attempt := 1; ; attempt++ {
		slot, conn := c.pick()
		start := time.Now()
		res, err := fn(ctx, conn)
		if err == nil && ctx.Err() != nil {
			err = api.WrapError(api.CodeDeadlineExceeded, ctx.Err(), op)
		}
		c.observe(op, slot, attempt, time.Since(start), err)
		if err == nil {
			return res, nil
		}

		if attempt >= c.retry.attempts() || !c.retry.shouldRetry(err) {
			return zero, err
		}
		if c.metrics != nil {
			c.metrics.RecordRetry(op)
		}
		if werr := c.retry.wait(ctx); werr != nil {
			return zero, err
		}
	}
}

func (c *Client) observe(op string, slot, attempt int, d time.Duration, err error) {
	if c.metrics != nil {
		c.metrics.RecordRequest(op, statusLabel(err), d)
	}
	fields := []logging.Field{logging.Op(op), logging.Int("slot", slot), logging.Attempt(attempt), logging.Latency(d)}
	if err != nil {
		c.logger.Warn("rpc failed", append(fields, logging.Error(err))...)
		return
	}
	c.logger.Debug("rpc done", fields...)
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return metrics.StatusOK
	case IsTimeout(err):
		return metrics.StatusTimeout
	case isAborted(err):
		return metrics.StatusAborted
	default:
		return metrics.StatusError
	}
}
