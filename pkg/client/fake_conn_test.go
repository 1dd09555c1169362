package client

import (
	"context"
	"sync"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

// fakeConn records calls and answers from per-method hooks. Unset hooks
// return empty successful replies.
type fakeConn struct {
	mu     sync.Mutex
	calls  map[api.Method]int
	closed bool

	commits []*api.TxnContext
	queries []*api.Request
	ctxs    []context.Context

	alter  func(context.Context, *api.Operation) (*api.Payload, error)
	query  func(context.Context, *api.Request) (*api.Response, error)
	mutate func(context.Context, *api.Mutation) (*api.Assigned, error)
	commit func(context.Context, *api.TxnContext) (*api.TxnContext, error)
}

func newFakeConn() *fakeConn {
	return &fakeConn{calls: make(map[api.Method]int)}
}

// linReadConn answers queries with the given vector and start ts.
func linReadConn(startTs uint64, ids map[uint32]uint64) *fakeConn {
	f := newFakeConn()
	f.query = func(context.Context, *api.Request) (*api.Response, error) {
		return &api.Response{
			Json: []byte(`{}`),
			Txn:  &api.TxnContext{StartTs: startTs, LinRead: &api.LinRead{Ids: ids}},
		}, nil
	}
	return f
}

func (f *fakeConn) record(ctx context.Context, m api.Method) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[m]++
	f.ctxs = append(f.ctxs, ctx)
}

func (f *fakeConn) count(m api.Method) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[m]
}

func (f *fakeConn) lastCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxs[len(f.ctxs)-1]
}

func (f *fakeConn) Alter(ctx context.Context, op *api.Operation) (*api.Payload, error) {
	f.record(ctx, api.MethodAlter)
	if f.alter != nil {
		return f.alter(ctx, op)
	}
	return &api.Payload{}, nil
}

func (f *fakeConn) Query(ctx context.Context, req *api.Request) (*api.Response, error) {
	f.record(ctx, api.MethodQuery)
	f.mu.Lock()
	f.queries = append(f.queries, req)
	f.mu.Unlock()
	if f.query != nil {
		return f.query(ctx, req)
	}
	return &api.Response{Json: []byte(`{}`)}, nil
}

func (f *fakeConn) Mutate(ctx context.Context, mu *api.Mutation) (*api.Assigned, error) {
	f.record(ctx, api.MethodMutate)
	if f.mutate != nil {
		return f.mutate(ctx, mu)
	}
	return &api.Assigned{Context: &api.TxnContext{StartTs: mu.StartTs}}, nil
}

func (f *fakeConn) CommitOrAbort(ctx context.Context, tc *api.TxnContext) (*api.TxnContext, error) {
	f.record(ctx, api.MethodCommitOrAbort)
	f.mu.Lock()
	f.commits = append(f.commits, tc)
	f.mu.Unlock()
	if f.commit != nil {
		return f.commit(ctx, tc)
	}
	return &api.TxnContext{StartTs: tc.StartTs, CommitTs: tc.StartTs + 1}, nil
}

func (f *fakeConn) CheckVersion(ctx context.Context, _ *api.Check) (*api.Version, error) {
	f.record(ctx, api.MethodCheckVersion)
	return &api.Version{Tag: "fake"}, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
