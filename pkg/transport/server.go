package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/auth"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
)

// pollInterval is how often idle workers check for shutdown.
const pollInterval = 250 * time.Millisecond

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("transport: server closed")

// Server answers frames on a reply socket, one worker per concurrent
// request.
type Server struct {
	router   *Router
	verifier auth.Verifier
	workers  int
	compress bool
	logger   logging.Logger
	metrics  *metrics.Registry

	mu      sync.Mutex
	ep      Endpoint
	addr    string
	closing atomic.Bool
}

// NewServer serves handler's methods.
func NewServer(handler api.Conn, opts ...ServerOption) *Server {
	s := &Server{
		router:  NewConnRouter(handler),
		workers: 16,
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	s.logger = s.logger.With(logging.Component("rpc_server"))
	return s
}

// Router exposes the method table, e.g. to add handlers.
func (s *Server) Router() *Router {
	return s.router
}

// Listen binds addr over network.
func (s *Server) Listen(network, addr string) error {
	f, err := Factory(network)
	if err != nil {
		return err
	}
	ep, err := f.Listen(addr)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ep = ep
	s.addr = addr
	return nil
}

// Serve runs the workers until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ep := s.ep
	s.mu.Unlock()
	if ep == nil {
		return errors.New("transport: Serve called before Listen")
	}

	s.logger.Info("serving", logging.Endpoint(s.addr), logging.Count(s.workers))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		sock, err := ep.OpenContext()
		if err != nil {
			s.closing.Store(true)
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			defer sock.Close()
			return s.work(gctx, sock)
		})
	}

	err := g.Wait()
	s.closeEndpoint()
	if err == nil && s.closing.Load() {
		return ErrServerClosed
	}
	return err
}

// Close stops the workers; Serve returns once in-flight requests finish.
func (s *Server) Close() error {
	s.closing.Store(true)
	return nil
}

// Serving reports whether the server holds an endpoint and has not been
// closed.
func (s *Server) Serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep != nil && !s.closing.Load()
}

func (s *Server) closeEndpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep != nil {
		if err := s.ep.Close(); err != nil {
			s.logger.Warn("close endpoint", logging.Error(err))
		}
		s.ep = nil
	}
}

func (s *Server) work(ctx context.Context, sock Socket) error {
	for {
		if ctx.Err() != nil || s.closing.Load() {
			return nil
		}
		if err := sock.SetRecvDeadline(pollInterval); err != nil {
			return err
		}
		data, err := sock.Recv()
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			return err
		}

		reply := s.handle(ctx, data)
		out, err := EncodeFrame(reply, s.compress)
		if err != nil {
			s.logger.Error("encode reply", logging.Error(err))
			out, _ = EncodeFrame(&Frame{ID: reply.ID, Err: api.FromError(err)}, false)
		}
		if err := sock.Send(out); err != nil && !errors.Is(err, ErrTimeout) {
			s.logger.Warn("send reply", logging.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordFrame("out", string(reply.Method), len(out))
		}
		ReleaseFrame(out)
	}
}

// handle never fails: errors travel back to the caller in the reply frame.
func (s *Server) handle(ctx context.Context, data []byte) *Frame {
	req, err := DecodeFrame(data)
	if err != nil {
		return &Frame{Err: api.Errorf(api.CodeInvalidArgument, "%v", err)}
	}
	if s.metrics != nil {
		s.metrics.RecordFrame("in", string(req.Method), len(data))
	}
	reply := &Frame{ID: req.ID, Method: req.Method}

	var cancel context.CancelFunc
	if req.Deadline > 0 {
		ctx, cancel = context.WithDeadline(ctx, time.Unix(0, req.Deadline))
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	ctx = api.WithIncomingMetadata(ctx, req.Metadata)

	log := s.logger.With(logging.RequestID(req.ID), logging.Method(string(req.Method)))
	if s.verifier != nil {
		claims, err := s.verifier.Verify(ctx, req.Method)
		if err != nil {
			log.Warn("unauthenticated call", logging.Error(err))
			reply.Err = api.FromError(err)
			return reply
		}
		log = log.With(logging.String("subject", claims.Subject))
	}

	timer := logging.StartTimer(log, "handled")
	body, err := s.router.Dispatch(ctx, req.Method, req.Body)
	timer.Finish(err)
	if err != nil {
		reply.Err = api.FromError(err)
		return reply
	}
	reply.Body = body
	return reply
}
