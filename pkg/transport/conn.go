package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
)

// Conn is an api.Conn over a request/reply socket. It is safe for
// concurrent use.
type Conn struct {
	network string
	addr    string
	ep      Endpoint

	compress    bool
	maxCallTime time.Duration
	logger      logging.Logger
	metrics     *metrics.Registry
}

// Dial opens a connection to addr over network ("nng" or, when built with
// the zmq tag, "zmq").
func Dial(ctx context.Context, network, addr string, opts ...DialOption) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := Factory(network)
	if err != nil {
		return nil, err
	}
	ep, err := f.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}

	c := &Conn{
		network:     network,
		addr:        addr,
		ep:          ep,
		maxCallTime: DefaultMaxCallTime,
		logger:      logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Component("transport"), logging.Endpoint(addr))
	return c, nil
}

// Addr returns the dialed address.
func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) Close() error {
	return c.ep.Close()
}

func (c *Conn) Alter(ctx context.Context, op *api.Operation) (*api.Payload, error) {
	var out api.Payload
	if err := c.call(ctx, api.MethodAlter, op, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Conn) Query(ctx context.Context, req *api.Request) (*api.Response, error) {
	var out api.Response
	if err := c.call(ctx, api.MethodQuery, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Conn) Mutate(ctx context.Context, mu *api.Mutation) (*api.Assigned, error) {
	var out api.Assigned
	if err := c.call(ctx, api.MethodMutate, mu, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Conn) CommitOrAbort(ctx context.Context, tc *api.TxnContext) (*api.TxnContext, error) {
	var out api.TxnContext
	if err := c.call(ctx, api.MethodCommitOrAbort, tc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Conn) CheckVersion(ctx context.Context, check *api.Check) (*api.Version, error) {
	var out api.Version
	if err := c.call(ctx, api.MethodCheckVersion, check, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type exchangeResult struct {
	data []byte
	err  error
}

// call runs one exchange. The exchange owns its socket and runs on its own
// goroutine so that a cancelled ctx returns at once; the socket is released
// when the exchange's own deadline passes.
func (c *Conn) call(ctx context.Context, method api.Method, in, out any) error {
	if err := ctx.Err(); err != nil {
		return api.WrapError(api.CodeDeadlineExceeded, err, string(method))
	}
	md, err := api.OutgoingMetadata(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return api.WrapError(api.CodeInvalidArgument, err, "encode request")
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.maxCallTime)
	}
	wait := time.Until(deadline)
	if wait <= 0 {
		return api.WrapError(api.CodeDeadlineExceeded, context.DeadlineExceeded, string(method))
	}

	req := &Frame{
		ID:       uuid.NewString(),
		Method:   method,
		Metadata: md,
		Deadline: deadline.UnixNano(),
		Body:     body,
	}
	data, err := EncodeFrame(req, c.compress)
	if err != nil {
		return api.WrapError(api.CodeInternal, err, string(method))
	}
	c.record("out", method, len(data))

	done := make(chan exchangeResult, 1)
	go func() {
		data, err := c.exchange(data, wait)
		done <- exchangeResult{data: data, err: err}
	}()

	// The buffer goes back to the pool only once exchange is done with it.
	var res exchangeResult
	select {
	case res = <-done:
		ReleaseFrame(data)
	case <-ctx.Done():
		return api.WrapError(api.CodeDeadlineExceeded, ctx.Err(), string(method))
	}
	if res.err != nil {
		c.logger.Debug("exchange failed", logging.Method(string(method)), logging.Error(res.err))
		return c.classify(method, res.err)
	}
	c.record("in", method, len(res.data))

	reply, err := DecodeFrame(res.data)
	if err != nil {
		return api.WrapError(api.CodeInternal, err, string(method))
	}
	if reply.ID != req.ID {
		return api.WrapError(api.CodeInternal, ErrIDMismatch, string(method))
	}
	if reply.Err != nil {
		return reply.Err
	}
	if err := json.Unmarshal(reply.Body, out); err != nil {
		return api.WrapError(api.CodeInternal, err, "decode reply")
	}
	return nil
}

func (c *Conn) exchange(data []byte, wait time.Duration) ([]byte, error) {
	sock, err := c.ep.OpenContext()
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	if err := sock.SetSendDeadline(wait); err != nil {
		return nil, err
	}
	if err := sock.SetRecvDeadline(wait); err != nil {
		return nil, err
	}
	if err := sock.Send(data); err != nil {
		return nil, err
	}
	reply, err := sock.Recv()
	if err != nil && !errors.Is(err, ErrTimeout) {
		return nil, fmt.Errorf("%w: %w", ErrReplyLost, err)
	}
	return reply, err
}

func (c *Conn) classify(method api.Method, err error) error {
	if errors.Is(err, ErrTimeout) {
		return api.WrapError(api.CodeDeadlineExceeded, context.DeadlineExceeded, string(method))
	}
	// The server may have applied the request, so the call is not safe to
	// send again.
	if errors.Is(err, ErrReplyLost) {
		return api.WrapError(api.CodeUnknown, err, fmt.Sprintf("%s %s", method, c.addr))
	}
	return api.WrapError(api.CodeUnavailable, err, fmt.Sprintf("%s %s", method, c.addr))
}

func (c *Conn) record(direction string, method api.Method, size int) {
	if c.metrics != nil {
		c.metrics.RecordFrame(direction, string(method), size)
	}
}

var _ api.Conn = (*Conn)(nil)
