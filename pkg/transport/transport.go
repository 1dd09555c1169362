// Package transport carries api.Conn calls over request/reply sockets.
// NNG (mangos) is always available; ZeroMQ is compiled in with the zmq build
// tag.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Transport errors
var (
	ErrTimeout        = errors.New("transport: timed out")
	ErrClosed         = errors.New("transport: socket closed")
	ErrUnknownNetwork = errors.New("transport: unknown network")
	ErrFrameTooShort  = errors.New("transport: frame too short")
	ErrIDMismatch     = errors.New("transport: reply id does not match request")
	ErrReplyLost      = errors.New("transport: request sent but no reply")
)

// Socket is one request/reply exchange channel. A client opens one per call;
// a server worker keeps one for its lifetime.
type Socket interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// Endpoint is a dialed or bound socket that hands out exchange channels.
type Endpoint interface {
	io.Closer
	OpenContext() (Socket, error)
}

// SocketFactory creates request (client) and reply (server) endpoints.
type SocketFactory interface {
	Dial(addr string) (Endpoint, error)
	Listen(addr string) (Endpoint, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]SocketFactory)
)

// RegisterFactory makes a transport available under network. Registering
// the same name twice replaces the earlier factory.
func RegisterFactory(network string, f SocketFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[network] = f
}

// Factory returns the factory registered for network.
func Factory(network string) (SocketFactory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[network]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}
	return f, nil
}

// Networks lists the registered transports.
func Networks() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
