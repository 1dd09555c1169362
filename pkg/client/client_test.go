package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/auth"
	"github.com/dd0wney/cluso-graphclient/pkg/linread"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
	"github.com/dd0wney/cluso-graphclient/pkg/selector"
)

func lr(ids map[uint32]uint64) *api.LinRead {
	return &api.LinRead{Ids: ids}
}

func TestNewClientRequiresConnections(t *testing.T) {
	c, err := NewClient()
	require.Nil(t, c)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.ErrorIs(t, err, ErrNoConnections)

	_, err = NewClientWithOptions(nil)
	assert.ErrorIs(t, err, ErrNoConnections)

	_, err = NewClient(newFakeConn(), nil)
	assert.ErrorIs(t, err, ErrNilConnection)
	assert.True(t, IsConfigurationError(err))
}

func TestAnyConnReturnsPoolMember(t *testing.T) {
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	c, err := NewClient(conns[0], conns[1], conns[2])
	require.NoError(t, err)

	seen := make(map[api.Conn]int)
	for i := 0; i < 300; i++ {
		seen[c.AnyConn()]++
	}
	require.Len(t, seen, 3)
	for _, fc := range conns {
		assert.Positive(t, seen[fc])
	}
}

func TestSingleConnectionAlwaysChosen(t *testing.T) {
	only := newFakeConn()
	c, err := NewClient(only)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.Same(t, only, c.AnyConn())
	}
}

func TestQueryMergesLinRead(t *testing.T) {
	conns := []*fakeConn{
		linReadConn(10, map[uint32]uint64{1: 5}),
		linReadConn(10, map[uint32]uint64{1: 5}),
		linReadConn(10, map[uint32]uint64{1: 5}),
	}
	c, err := NewClient(conns[0], conns[1], conns[2])
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Query(ctx, "{ q(func: uid(1)) { uid } }")
	require.NoError(t, err)
	assert.Equal(t, map[uint32]uint64{1: 5}, c.LinRead().Ids)

	for _, fc := range conns {
		fc.query = func(context.Context, *api.Request) (*api.Response, error) {
			return &api.Response{Txn: &api.TxnContext{StartTs: 11, LinRead: lr(map[uint32]uint64{1: 3, 2: 7})}}, nil
		}
	}
	_, err = c.Query(ctx, "{ q(func: uid(1)) { uid } }")
	require.NoError(t, err)
	assert.Equal(t, map[uint32]uint64{1: 5, 2: 7}, c.LinRead().Ids)

	sent := 0
	for _, fc := range conns {
		for _, req := range fc.queries {
			sent++
			assert.True(t, req.ReadOnly, "single queries run read-only")
		}
	}
	assert.Equal(t, 2, sent)
}

func TestMergeLogsAdvancedPartitions(t *testing.T) {
	var buf bytes.Buffer
	c, err := NewClientWithOptions([]api.Conn{newFakeConn()},
		WithLogger(logging.NewJSONLogger(&buf, logging.DebugLevel)))
	require.NoError(t, err)

	c.MergeLinReads(lr(map[uint32]uint64{2: 4, 1: 1}))
	c.MergeLinReads(lr(map[uint32]uint64{1: 1, 2: 3}))

	var entries []logging.LogEntry
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var e logging.LogEntry
		require.NoError(t, dec.Decode(&e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, 1.0, entries[0].Fields["partition"])
	assert.Equal(t, 2.0, entries[1].Fields["partition"])
	assert.Equal(t, 4.0, entries[1].Fields["applied"])
}

func TestNewTxnCarriesClientVector(t *testing.T) {
	fc := linReadConn(10, nil)
	c, err := NewClient(fc)
	require.NoError(t, err)
	c.MergeLinReads(lr(map[uint32]uint64{1: 5, 2: 7}))

	txn := c.NewTxn()
	assert.Equal(t, map[uint32]uint64{1: 5, 2: 7}, txn.LinRead().Ids)

	_, err = txn.Query(context.Background(), "{ q(func: uid(1)) { uid } }")
	require.NoError(t, err)
	require.Len(t, fc.queries, 1)
	assert.Equal(t, map[uint32]uint64{1: 5, 2: 7}, fc.queries[0].LinRead.Ids)

	// Later client progress does not leak into an existing txn's snapshot.
	c.MergeLinReads(lr(map[uint32]uint64{3: 1}))
	assert.NotContains(t, txn.LinRead().Ids, uint32(3))
}

func TestSetLinReadOverwritesOwnedPartitions(t *testing.T) {
	c, err := NewClient(newFakeConn())
	require.NoError(t, err)
	c.MergeLinReads(lr(map[uint32]uint64{1: 5}))

	dst := lr(map[uint32]uint64{1: 9, 3: 1})
	c.SetLinRead(dst)
	assert.Equal(t, map[uint32]uint64{1: 5, 3: 1}, dst.Ids)

	empty := &api.LinRead{}
	c.SetLinRead(empty)
	assert.Equal(t, map[uint32]uint64{1: 5}, empty.Ids)
}

func TestMergeLinReadsEmptyIsNoop(t *testing.T) {
	c, err := NewClient(newFakeConn())
	require.NoError(t, err)
	c.MergeLinReads(lr(map[uint32]uint64{4: 2}))
	c.MergeLinReads(nil)
	c.MergeLinReads(&api.LinRead{})
	assert.Equal(t, map[uint32]uint64{4: 2}, c.LinRead().Ids)
}

func TestConcurrentMergesKeepMaximum(t *testing.T) {
	c, err := NewClient(newFakeConn())
	require.NoError(t, err)

	var g errgroup.Group
	for i := 1; i <= 16; i++ {
		g.Go(func() error {
			for j := 0; j < 100; j++ {
				c.MergeLinReads(lr(map[uint32]uint64{uint32(i): uint64(j), 0: uint64(i*100 + j)}))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got := c.LinRead()
	require.Len(t, got.Ids, 17)
	assert.Equal(t, uint64(1699), got.Ids[0])
	for i := uint32(1); i <= 16; i++ {
		assert.Equal(t, uint64(99), got.Ids[i])
	}
}

func TestTimedOutQueryLeavesVectorUnchanged(t *testing.T) {
	fc := newFakeConn()
	fc.query = func(context.Context, *api.Request) (*api.Response, error) {
		time.Sleep(50 * time.Millisecond)
		return &api.Response{Txn: &api.TxnContext{StartTs: 1, LinRead: lr(map[uint32]uint64{1: 99})}}, nil
	}
	c, err := NewClient(fc)
	require.NoError(t, err)
	c.MergeLinReads(lr(map[uint32]uint64{1: 5}))

	_, err = c.Query(context.Background(), "{ q(func: uid(1)) { uid } }", WithTimeout(5*time.Millisecond))
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, map[uint32]uint64{1: 5}, c.LinRead().Ids)
}

func TestFailedCallReturnsErrorUnchanged(t *testing.T) {
	unavailable := api.Errorf(api.CodeUnavailable, "connection refused")
	fc := newFakeConn()
	fc.query = func(context.Context, *api.Request) (*api.Response, error) {
		return nil, unavailable
	}
	fc.alter = func(context.Context, *api.Operation) (*api.Payload, error) {
		return nil, unavailable
	}
	c, err := NewClient(fc)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "{ me }")
	assert.Same(t, unavailable, err)
	assert.True(t, IsTransportError(err))
	assert.Empty(t, c.LinRead().Ids)

	_, err = c.Alter(context.Background(), &api.Operation{Schema: "name: string ."})
	assert.Same(t, unavailable, err)
}

func TestRetryFailsOverOnUnavailable(t *testing.T) {
	bad := newFakeConn()
	bad.alter = func(context.Context, *api.Operation) (*api.Payload, error) {
		return nil, api.Errorf(api.CodeUnavailable, "down")
	}
	good := newFakeConn()
	reg := metrics.NewRegistry()

	c, err := NewClientWithOptions([]api.Conn{bad, good},
		WithSelectorPolicy(selector.PolicyRoundRobin),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}),
		WithMetrics(reg),
	)
	require.NoError(t, err)

	_, err = c.Alter(context.Background(), &api.Operation{Schema: "name: string ."})
	require.NoError(t, err)
	assert.Equal(t, 1, bad.count(api.MethodAlter))
	assert.Equal(t, 1, good.count(api.MethodAlter))
	assert.Equal(t, 1.0, counterValue(t, reg.ClientRetriesTotal.WithLabelValues("alter")))
}

func TestRetrySkipsNonTransportErrors(t *testing.T) {
	for _, code := range []api.Code{api.CodeAborted, api.CodeInvalidArgument, api.CodeDeadlineExceeded, api.CodeUnknown} {
		t.Run(code.String(), func(t *testing.T) {
			fc := newFakeConn()
			fc.alter = func(context.Context, *api.Operation) (*api.Payload, error) {
				return nil, api.Errorf(code, "nope")
			}
			c, err := NewClientWithOptions([]api.Conn{fc}, WithRetryPolicy(RetryPolicy{MaxAttempts: 5}))
			require.NoError(t, err)

			_, err = c.Alter(context.Background(), &api.Operation{DropAll: true})
			require.Error(t, err)
			assert.Equal(t, 1, fc.count(api.MethodAlter))
		})
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	fc := newFakeConn()
	fc.alter = func(context.Context, *api.Operation) (*api.Payload, error) {
		return nil, api.Errorf(api.CodeUnavailable, "down")
	}
	c, err := NewClientWithOptions([]api.Conn{fc}, WithRetryPolicy(RetryPolicy{MaxAttempts: 3}))
	require.NoError(t, err)

	_, err = c.Alter(context.Background(), &api.Operation{DropAll: true})
	assert.True(t, IsTransportError(err))
	assert.Equal(t, 3, fc.count(api.MethodAlter))
}

func TestNoRetryByDefault(t *testing.T) {
	fc := newFakeConn()
	fc.alter = func(context.Context, *api.Operation) (*api.Payload, error) {
		return nil, api.Errorf(api.CodeUnavailable, "down")
	}
	c, err := NewClient(fc)
	require.NoError(t, err)

	_, err = c.Alter(context.Background(), &api.Operation{DropAll: true})
	require.Error(t, err)
	assert.Equal(t, 1, fc.count(api.MethodAlter))
}

func TestAsyncMatchesBlocking(t *testing.T) {
	fc := linReadConn(3, map[uint32]uint64{2: 4})
	fc.alter = func(context.Context, *api.Operation) (*api.Payload, error) {
		return &api.Payload{Data: []byte("done")}, nil
	}
	c, err := NewClient(fc)
	require.NoError(t, err)
	ctx := context.Background()

	payload, err := c.AlterAsync(ctx, &api.Operation{Schema: "name: string ."}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "done", string(payload.Data))

	f := c.QueryWithVarsAsync(ctx, "query q($a: int) { q(func: uid($a)) { uid } }", map[string]string{"$a": "1"})
	<-f.Done()
	resp, err := f.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(resp.Json))
	assert.Equal(t, map[uint32]uint64{2: 4}, c.LinRead().Ids)
	assert.Equal(t, map[string]string{"$a": "1"}, fc.queries[0].Vars)
}

func TestFutureAwaitHonorsContext(t *testing.T) {
	fc := newFakeConn()
	release := make(chan struct{})
	fc.alter = func(context.Context, *api.Operation) (*api.Payload, error) {
		<-release
		return &api.Payload{}, nil
	}
	c, err := NewClient(fc)
	require.NoError(t, err)

	f := c.AlterAsync(context.Background(), &api.Operation{DropAll: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = f.Wait()
	assert.NoError(t, err)
}

func TestCallOptions(t *testing.T) {
	fc := newFakeConn()
	c, err := NewClientWithOptions([]api.Conn{fc},
		WithDefaultTimeout(time.Minute),
		WithDefaultCredentials(auth.NewTokenCredentials("secret-token")),
	)
	require.NoError(t, err)

	_, err = c.CheckVersion(context.Background(), WithMetadata("trace", "abc"))
	require.NoError(t, err)

	ctx := fc.lastCtx()
	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
	md, err := api.OutgoingMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", md["trace"])
	assert.Equal(t, "Bearer secret-token", md[auth.MetadataKey])

	_, err = c.CheckVersion(context.Background(), WithCredentials(auth.NewTokenCredentials("other")), WithTimeout(0))
	require.NoError(t, err)
	md, err = api.OutgoingMetadata(fc.lastCtx())
	require.NoError(t, err)
	assert.Equal(t, "Bearer other", md[auth.MetadataKey])
}

func TestDropAllAndCheckVersion(t *testing.T) {
	fc := newFakeConn()
	var got *api.Operation
	fc.alter = func(_ context.Context, op *api.Operation) (*api.Payload, error) {
		got = op
		return &api.Payload{}, nil
	}
	c, err := NewClient(fc)
	require.NoError(t, err)

	require.NoError(t, c.DropAll(context.Background()))
	require.NotNil(t, got)
	assert.True(t, got.DropAll)

	v, err := c.CheckVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake", v.Tag)
}

func TestClientMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	fc := linReadConn(1, map[uint32]uint64{1: 1, 2: 2})
	c, err := NewClientWithOptions([]api.Conn{fc}, WithMetrics(reg))
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "{ me }")
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg.ClientRequestsTotal.WithLabelValues("query", metrics.StatusOK)))
	assert.Equal(t, 1.0, counterValue(t, reg.ClientConnectionPicks.WithLabelValues("0")))
	assert.Equal(t, 1.0, counterValue(t, reg.ClientTxnsTotal.WithLabelValues(metrics.OutcomeDiscard)))

	var m dto.Metric
	require.NoError(t, reg.ClientLinReadPartitions.Write(&m))
	assert.Equal(t, 2.0, m.Gauge.GetValue())
}

func TestCloseClosesConnections(t *testing.T) {
	a, b := newFakeConn(), newFakeConn()
	c, err := NewClient(a, b)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestConcurrentQueriesMergeIntoOneVector(t *testing.T) {
	conns := make([]api.Conn, 3)
	for i := range conns {
		conns[i] = linReadConn(uint64(i+1), map[uint32]uint64{uint32(i): uint64(10 * (i + 1))})
	}
	c, err := NewClient(conns...)
	require.NoError(t, err)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 30; i++ {
		g.Go(func() error {
			_, err := c.Query(ctx, fmt.Sprintf("{ q%d(func: uid(1)) { uid } }", i))
			return err
		})
	}
	require.NoError(t, g.Wait())

	got := c.LinRead()
	want := api.NewLinRead()
	for id := range got.Ids {
		want.Ids[id] = uint64(10 * (id + 1))
	}
	assert.True(t, linread.Equal(want, got))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.Counter.GetValue()
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name                       string
		err                        error
		config, timeout, transport bool
		protocol, retryable        bool
	}{
		{name: "nil"},
		{name: "config", err: &ConfigurationError{Err: ErrNoConnections}, config: true},
		{name: "deadline", err: context.DeadlineExceeded, timeout: true, retryable: true},
		{name: "deadline status", err: api.Errorf(api.CodeDeadlineExceeded, "slow"), timeout: true, retryable: true},
		{name: "cancelled", err: fmt.Errorf("wrapped: %w", context.Canceled), timeout: true, retryable: true},
		{name: "unavailable", err: api.Errorf(api.CodeUnavailable, "down"), transport: true, retryable: true},
		{name: "internal", err: api.Errorf(api.CodeInternal, "bad frame"), transport: true, retryable: true},
		{name: "aborted status", err: api.Errorf(api.CodeAborted, "conflict"), protocol: true},
		{name: "aborted", err: errors.Join(ErrAborted, errors.New("x")), protocol: true},
		{name: "finished", err: ErrFinished, protocol: true},
		{name: "read only", err: ErrReadOnly, protocol: true},
		{name: "start ts", err: fmt.Errorf("%w: 1 vs 2", ErrStartTsMismatch), protocol: true},
		{name: "invalid", err: api.Errorf(api.CodeInvalidArgument, "bad query"), protocol: true},
		{name: "other", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConfigurationError(tt.err); got != tt.config {
				t.Errorf("IsConfigurationError() = %v, want %v", got, tt.config)
			}
			if got := IsTimeout(tt.err); got != tt.timeout {
				t.Errorf("IsTimeout() = %v, want %v", got, tt.timeout)
			}
			if got := IsTransportError(tt.err); got != tt.transport {
				t.Errorf("IsTransportError() = %v, want %v", got, tt.transport)
			}
			if got := IsProtocolError(tt.err); got != tt.protocol {
				t.Errorf("IsProtocolError() = %v, want %v", got, tt.protocol)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}
