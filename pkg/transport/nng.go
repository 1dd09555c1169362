package transport

import (
	"errors"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// NetworkNNG selects the mangos transport. Addresses use the nng URL forms
// tcp://, ipc:// and inproc://.
const NetworkNNG = "nng"

func init() {
	RegisterFactory(NetworkNNG, NewNNGSocketFactory())
}

// nngContext wraps a mangos.Context so concurrent exchanges on one socket
// do not interleave.
type nngContext struct {
	ctx mangos.Context
}

func (c *nngContext) Send(data []byte) error {
	return nngError(c.ctx.Send(data))
}

func (c *nngContext) Recv() ([]byte, error) {
	data, err := c.ctx.Recv()
	return data, nngError(err)
}

func (c *nngContext) Close() error {
	err := c.ctx.Close()
	if errors.Is(err, mangos.ErrClosed) {
		return nil
	}
	return err
}

func (c *nngContext) SetRecvDeadline(d time.Duration) error {
	return c.ctx.SetOption(mangos.OptionRecvDeadline, d)
}

func (c *nngContext) SetSendDeadline(d time.Duration) error {
	return c.ctx.SetOption(mangos.OptionSendDeadline, d)
}

type nngEndpoint struct {
	sock mangos.Socket
}

func (e *nngEndpoint) OpenContext() (Socket, error) {
	ctx, err := e.sock.OpenContext()
	if err != nil {
		return nil, nngError(err)
	}
	return &nngContext{ctx: ctx}, nil
}

func (e *nngEndpoint) Close() error {
	return e.sock.Close()
}

// NNGSocketFactory creates REQ/REP sockets.
type NNGSocketFactory struct{}

// NewNNGSocketFactory creates a new NNG socket factory.
func NewNNGSocketFactory() *NNGSocketFactory {
	return &NNGSocketFactory{}
}

// Dial connects a REQ socket. The connection is established in the
// background, so a server that is not up yet surfaces as a timeout on the
// first call rather than here. Automatic resend is disabled: a request is
// delivered at most once.
func (f *NNGSocketFactory) Dial(addr string) (Endpoint, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.SetOption(mangos.OptionRetryTime, time.Duration(0)); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.DialOptions(addr, map[string]interface{}{mangos.OptionDialAsynch: true}); err != nil {
		sock.Close()
		return nil, err
	}
	return &nngEndpoint{sock: sock}, nil
}

// Listen binds a REP socket.
func (f *NNGSocketFactory) Listen(addr string) (Endpoint, error) {
	sock, err := rep.NewSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, err
	}
	return &nngEndpoint{sock: sock}, nil
}

func nngError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mangos.ErrRecvTimeout), errors.Is(err, mangos.ErrSendTimeout):
		return ErrTimeout
	case errors.Is(err, mangos.ErrClosed):
		return ErrClosed
	}
	return err
}

var _ SocketFactory = (*NNGSocketFactory)(nil)
