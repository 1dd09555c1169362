//go:build zmq
// +build zmq

package transport

import (
	"errors"
	"syscall"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"
)

// NetworkZMQ selects the ZeroMQ transport. Addresses use the zmq endpoint
// forms tcp://host:port and ipc://path.
const NetworkZMQ = "zmq"

const zmqPoolSize = 8

func init() {
	RegisterFactory(NetworkZMQ, NewZMQSocketFactory())
}

// zmqSocket is a REQ or REP socket used by one goroutine at a time.
type zmqSocket struct {
	sock *zmq.Socket
	// release is called instead of closing when set; REQ sockets go back
	// to their pool unless an exchange failed midway.
	release func(s *zmq.Socket, healthy bool)
	broken  bool
}

func (s *zmqSocket) Send(data []byte) error {
	_, err := s.sock.SendBytes(data, 0)
	return s.fail(err)
}

func (s *zmqSocket) Recv() ([]byte, error) {
	data, err := s.sock.RecvBytes(0)
	return data, s.fail(err)
}

func (s *zmqSocket) Close() error {
	if s.release != nil {
		s.release(s.sock, !s.broken)
		return nil
	}
	return s.sock.Close()
}

func (s *zmqSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetRcvtimeo(zmqTimeout(d))
}

func (s *zmqSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetSndtimeo(zmqTimeout(d))
}

func (s *zmqSocket) fail(err error) error {
	if err == nil {
		return nil
	}
	s.broken = true
	switch zmq.AsErrno(err) {
	case zmq.Errno(syscall.EAGAIN):
		return ErrTimeout
	case zmq.ETERM, zmq.Errno(syscall.ENOTSOCK):
		return ErrClosed
	}
	return err
}

// zmqTimeout maps "no deadline" to zmq's infinite timeout.
func zmqTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

// zmqReqEndpoint keeps a small pool of connected REQ sockets. A REQ socket
// that timed out waiting for its reply cannot send again, so it is closed
// instead of pooled.
type zmqReqEndpoint struct {
	addr string
	pool chan *zmq.Socket
}

func (e *zmqReqEndpoint) OpenContext() (Socket, error) {
	select {
	case sock := <-e.pool:
		return &zmqSocket{sock: sock, release: e.release}, nil
	default:
	}

	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Connect(e.addr); err != nil {
		sock.Close()
		return nil, err
	}
	return &zmqSocket{sock: sock, release: e.release}, nil
}

func (e *zmqReqEndpoint) release(sock *zmq.Socket, healthy bool) {
	if healthy {
		select {
		case e.pool <- sock:
			return
		default:
		}
	}
	sock.Close()
}

func (e *zmqReqEndpoint) Close() error {
	for {
		select {
		case sock := <-e.pool:
			sock.Close()
		default:
			return nil
		}
	}
}

// zmqRepEndpoint fans a ROUTER socket out to REP workers over inproc, the
// usual zmq pattern for a multi-threaded server.
type zmqRepEndpoint struct {
	router  *zmq.Socket
	dealer  *zmq.Socket
	control *zmq.Socket
	steer   *zmq.Socket
	backend string
	done    chan error
}

func (e *zmqRepEndpoint) OpenContext() (Socket, error) {
	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Connect(e.backend); err != nil {
		sock.Close()
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (e *zmqRepEndpoint) Close() error {
	if _, err := e.steer.Send("TERMINATE", 0); err != nil {
		return err
	}
	err := <-e.done
	for _, s := range []*zmq.Socket{e.router, e.dealer, e.control, e.steer} {
		s.Close()
	}
	return err
}

// ZMQSocketFactory creates REQ sockets and ROUTER/DEALER backed REP
// endpoints.
type ZMQSocketFactory struct{}

// NewZMQSocketFactory creates a new ZeroMQ socket factory.
func NewZMQSocketFactory() *ZMQSocketFactory {
	return &ZMQSocketFactory{}
}

func (f *ZMQSocketFactory) Dial(addr string) (Endpoint, error) {
	return &zmqReqEndpoint{addr: addr, pool: make(chan *zmq.Socket, zmqPoolSize)}, nil
}

func (f *ZMQSocketFactory) Listen(addr string) (Endpoint, error) {
	id := uuid.NewString()
	e := &zmqRepEndpoint{
		backend: "inproc://graphrpc-" + id,
		done:    make(chan error, 1),
	}

	var err error
	cleanup := func() {
		for _, s := range []*zmq.Socket{e.router, e.dealer, e.control, e.steer} {
			if s != nil {
				s.Close()
			}
		}
	}
	if e.router, err = zmq.NewSocket(zmq.ROUTER); err != nil {
		return nil, err
	}
	if err = e.router.Bind(addr); err != nil {
		cleanup()
		return nil, err
	}
	if e.dealer, err = zmq.NewSocket(zmq.DEALER); err != nil {
		cleanup()
		return nil, err
	}
	if err = e.dealer.Bind(e.backend); err != nil {
		cleanup()
		return nil, err
	}

	controlAddr := "inproc://graphrpc-ctl-" + id
	if e.control, err = zmq.NewSocket(zmq.PAIR); err != nil {
		cleanup()
		return nil, err
	}
	if err = e.control.Bind(controlAddr); err != nil {
		cleanup()
		return nil, err
	}
	if e.steer, err = zmq.NewSocket(zmq.PAIR); err != nil {
		cleanup()
		return nil, err
	}
	if err = e.steer.Connect(controlAddr); err != nil {
		cleanup()
		return nil, err
	}

	go func() {
		err := zmq.ProxySteerable(e.router, e.dealer, nil, e.control)
		if errors.Is(err, zmq.ETERM) {
			err = nil
		}
		e.done <- err
	}()
	return e, nil
}

var _ SocketFactory = (*ZMQSocketFactory)(nil)
