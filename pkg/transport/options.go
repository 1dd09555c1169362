package transport

import (
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/auth"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
)

// DefaultMaxCallTime bounds a call whose context has no deadline, so an
// abandoned exchange always releases its socket.
const DefaultMaxCallTime = 2 * time.Minute

// DialOption configures a Conn.
type DialOption func(*Conn)

// WithCompression snappy-compresses outgoing frames.
func WithCompression(on bool) DialOption {
	return func(c *Conn) { c.compress = on }
}

// WithMaxCallTime overrides DefaultMaxCallTime.
func WithMaxCallTime(d time.Duration) DialOption {
	return func(c *Conn) { c.maxCallTime = d }
}

func WithDialLogger(l logging.Logger) DialOption {
	return func(c *Conn) { c.logger = l }
}

func WithDialMetrics(r *metrics.Registry) DialOption {
	return func(c *Conn) { c.metrics = r }
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithWorkers sets how many requests are served concurrently.
func WithWorkers(n int) ServerOption {
	return func(s *Server) { s.workers = n }
}

// WithVerifier rejects calls whose metadata the verifier does not accept.
func WithVerifier(v auth.Verifier) ServerOption {
	return func(s *Server) { s.verifier = v }
}

// WithReplyCompression snappy-compresses replies.
func WithReplyCompression(on bool) ServerOption {
	return func(s *Server) { s.compress = on }
}

func WithServerLogger(l logging.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithServerMetrics(r *metrics.Registry) ServerOption {
	return func(s *Server) { s.metrics = r }
}
