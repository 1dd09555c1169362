package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

// HandlerFunc serves one method. It receives the raw request body and
// returns a value to be JSON encoded as the reply body.
type HandlerFunc func(ctx context.Context, body []byte) (any, error)

// Router dispatches frames to the handler registered for their method.
type Router struct {
	handlers map[api.Method]HandlerFunc
	mu       sync.RWMutex
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[api.Method]HandlerFunc)}
}

// Handle registers a handler for method.
func (r *Router) Handle(method api.Method, h HandlerFunc) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
	return r
}

// Handle is a convenience method that registers a typed handler.
func Handle[Req, Resp any](r *Router, method api.Method, fn func(context.Context, *Req) (*Resp, error)) *Router {
	return r.Handle(method, func(ctx context.Context, body []byte) (any, error) {
		var in Req
		if len(body) > 0 {
			if err := json.Unmarshal(body, &in); err != nil {
				return nil, api.Errorf(api.CodeInvalidArgument, "decode %s request: %v", method, err)
			}
		}
		return fn(ctx, &in)
	})
}

// NewConnRouter routes every api.Conn method to conn.
func NewConnRouter(conn api.Conn) *Router {
	r := NewRouter()
	Handle(r, api.MethodAlter, conn.Alter)
	Handle(r, api.MethodQuery, conn.Query)
	Handle(r, api.MethodMutate, conn.Mutate)
	Handle(r, api.MethodCommitOrAbort, conn.CommitOrAbort)
	Handle(r, api.MethodCheckVersion, conn.CheckVersion)
	return r
}

// Dispatch runs the handler for method and encodes its result.
func (r *Router) Dispatch(ctx context.Context, method api.Method, body []byte) (json.RawMessage, error) {
	r.mu.RLock()
	h, ok := r.handlers[method]
	r.mu.RUnlock()
	if !ok {
		return nil, api.Errorf(api.CodeNotFound, "no handler for method %q", method)
	}

	out, err := h(ctx, body)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, api.Errorf(api.CodeInternal, "encode %s reply: %v", method, err)
	}
	return data, nil
}

// HasHandler returns true if a handler is registered for method.
func (r *Router) HasHandler(method api.Method) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[method]
	return ok
}

// HandlerCount returns the number of registered handlers.
func (r *Router) HandlerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
