package memgraph_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/client"
	"github.com/dd0wney/cluso-graphclient/pkg/memgraph"
	"github.com/dd0wney/cluso-graphclient/pkg/transport"
)

func newStoreClient(t *testing.T) (*memgraph.Store, *client.Client) {
	t.Helper()
	s, err := memgraph.NewStore(memgraph.DefaultStoreConfig())
	require.NoError(t, err)
	c, err := client.NewClient(s)
	require.NoError(t, err)
	return s, c
}

func setObj(v any) *api.Mutation {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &api.Mutation{SetJson: b}
}

func delObj(v any) *api.Mutation {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &api.Mutation{DeleteJson: b}
}

func onlyUID(t *testing.T, ag *api.Assigned) string {
	t.Helper()
	require.Len(t, ag.Uids, 1, "Nothing was assigned")
	for _, uid := range ag.Uids {
		return uid
	}
	return ""
}

// me decodes the "me" block of a response.
func me(t *testing.T, resp *api.Response) []map[string]any {
	t.Helper()
	var out struct {
		Me []map[string]any `json:"me"`
	}
	require.NoError(t, json.Unmarshal(resp.Json, &out))
	return out.Me
}

func nameQuery(uid string) string {
	return fmt.Sprintf(`{ me(func: uid(%q)) { name } }`, uid)
}

func TestTxnReadAtStartTs(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()

	txn := c.NewTxn()
	uid := onlyUID(t, must(txn.Mutate(ctx, setObj(map[string]any{"name": "Manish"}))))

	resp, err := txn.Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Manish"}}, me(t, resp))
}

func TestTxnReadBeforeAndAfterStartTs(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()

	txn := c.NewTxn()
	uid := onlyUID(t, must(txn.Mutate(ctx, setObj(map[string]any{"name": "Manish"}))))

	before := c.NewTxn()
	resp, err := before.Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Empty(t, me(t, resp))

	require.NoError(t, txn.Commit(ctx))

	// The older snapshot does not see the commit, a new one does.
	resp, err = before.Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Empty(t, me(t, resp))

	after := c.NewTxn()
	resp, err = after.Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Manish"}}, me(t, resp))

	update := c.NewTxn()
	_, err = update.Mutate(ctx, setObj(map[string]any{"uid": uid, "name": "Manish2"}))
	require.NoError(t, err)
	require.NoError(t, update.Commit(ctx))

	resp, err = after.Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Manish"}}, me(t, resp))

	resp, err = c.Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Manish2"}}, me(t, resp))
}

func TestReadFromNewClient(t *testing.T) {
	s, c := newStoreClient(t)
	ctx := context.Background()

	ag, err := c.NewTxn().Mutate(ctx, &api.Mutation{SetJson: []byte(`{"name": "Manish"}`), CommitNow: true})
	require.NoError(t, err)
	uid := onlyUID(t, ag)

	c2, err := client.NewClient(s)
	require.NoError(t, err)
	resp, err := c2.NewTxn().Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Manish"}}, me(t, resp))
	assert.Positive(t, resp.Txn.StartTs)
}

func TestConflict(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()

	txn := c.NewTxn()
	uid := onlyUID(t, must(txn.Mutate(ctx, setObj(map[string]any{"name": "Manish"}))))

	txn2 := c.NewTxn()
	_, err := txn2.Mutate(ctx, setObj(map[string]any{"uid": uid, "name": "Manish"}))
	require.NoError(t, err)

	require.NoError(t, txn.Commit(ctx))
	err = txn2.Commit(ctx)
	assert.ErrorIs(t, err, client.ErrAborted)

	resp, err := c.NewTxn().Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Manish"}}, me(t, resp))
}

func TestConflictReverseOrder(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()

	txn := c.NewTxn()
	uid := onlyUID(t, must(txn.Mutate(ctx, setObj(map[string]any{"name": "Manish"}))))

	txn2 := c.NewTxn()
	resp, err := txn2.Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Empty(t, me(t, resp))

	_, err = txn2.Mutate(ctx, setObj(map[string]any{"uid": uid, "name": "Jan the man"}))
	require.NoError(t, err)
	require.NoError(t, txn2.Commit(ctx))
	assert.ErrorIs(t, txn.Commit(ctx), client.ErrAborted)

	resp, err = c.NewTxn().Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Jan the man"}}, me(t, resp))
}

func TestMutationAfterFailedCommit(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()

	txn := c.NewTxn()
	uid := onlyUID(t, must(txn.Mutate(ctx, setObj(map[string]any{"name": "Manish"}))))

	txn2 := c.NewTxn()
	_, err := txn2.Mutate(ctx, setObj(map[string]any{"uid": uid, "name": "Jan the man"}))
	require.NoError(t, err)

	require.NoError(t, txn.Commit(ctx))
	assert.ErrorIs(t, txn2.Commit(ctx), client.ErrAborted)

	txn3 := c.NewTxn()
	_, err = txn3.Mutate(ctx, setObj(map[string]any{"uid": uid, "name": "Jan the man"}))
	require.NoError(t, err)
	require.NoError(t, txn3.Commit(ctx))

	resp, err := c.NewTxn().Query(ctx, nameQuery(uid))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"name": "Jan the man"}}, me(t, resp))
}

func TestConflictIgnore(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()
	_, err := c.Alter(ctx, &api.Operation{Schema: "name: string @index(exact) ."})
	require.NoError(t, err)

	mu := func() *api.Mutation {
		m := setObj(map[string]any{"name": "Manish"})
		m.IgnoreIndexConflict = true
		return m
	}
	txn := c.NewTxn()
	uid1 := onlyUID(t, must(txn.Mutate(ctx, mu())))
	txn2 := c.NewTxn()
	uid2 := onlyUID(t, must(txn2.Mutate(ctx, mu())))

	require.NoError(t, txn.Commit(ctx))
	require.NoError(t, txn2.Commit(ctx))

	resp, err := c.NewTxn().Query(ctx, `{ me(func: eq(name, "Manish")) { uid } }`)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"uid": uid1}, {"uid": uid2}}, me(t, resp))
}

func TestReadIndexKeySameTxn(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()
	require.NoError(t, c.DropAll(ctx))
	_, err := c.Alter(ctx, &api.Operation{Schema: "name: string @index(exact) ."})
	require.NoError(t, err)

	txn := c.NewTxn()
	m := setObj(map[string]any{"name": "Manish"})
	m.IgnoreIndexConflict = true
	uid := onlyUID(t, must(txn.Mutate(ctx, m)))

	resp, err := txn.Query(ctx, `{ me(func: le(name, "Manish")) { uid } }`)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"uid": uid}}, me(t, resp))
}

func TestSPStar(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()
	_, err := c.Alter(ctx, &api.Operation{Schema: "friend: [uid] ."})
	require.NoError(t, err)

	txn := c.NewTxn()
	ag, err := txn.Mutate(ctx, setObj(map[string]any{"name": "Manish", "friend": []any{map[string]any{"name": "Jan"}}}))
	require.NoError(t, err)
	require.Len(t, ag.Uids, 2)
	uid1, uid2 := ag.Uids["blank-0"], ag.Uids["blank-1"]
	query := fmt.Sprintf(`{ me(func: uid(%q)) { uid friend { uid name } } }`, uid1)

	resp, err := txn.Query(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{
		"uid":    uid1,
		"friend": []any{map[string]any{"name": "Jan", "uid": uid2}},
	}}, me(t, resp))

	deleted, err := txn.Mutate(ctx, delObj(map[string]any{"uid": uid1, "friend": nil}))
	require.NoError(t, err)
	assert.Empty(t, deleted.Uids)

	resp, err = txn.Query(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"uid": uid1}}, me(t, resp))

	ag, err = txn.Mutate(ctx, setObj(map[string]any{"uid": uid1, "name": "Manish", "friend": []any{map[string]any{"name": "Jan2"}}}))
	require.NoError(t, err)
	require.Len(t, ag.Uids, 1)
	uid3 := ag.Uids["blank-0"]

	resp, err = txn.Query(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{
		"uid":    uid1,
		"friend": []any{map[string]any{"name": "Jan2", "uid": uid3}},
	}}, me(t, resp))
	require.NoError(t, txn.Commit(ctx))
}

func TestCommitAdvancesClientReadVector(t *testing.T) {
	s, c := newStoreClient(t)
	ctx := context.Background()

	txn := c.NewTxn()
	_, err := txn.Mutate(ctx, setObj(map[string]any{"name": "a"}))
	require.NoError(t, err)
	require.NoError(t, txn.Commit(ctx))

	lr := c.LinRead()
	require.NotEmpty(t, lr.Ids)
	for g, idx := range lr.Ids {
		assert.Equal(t, s.AppliedIndex(g), idx, "group %d", g)
	}

	// A fresh transaction carries the vector to the server.
	assert.Equal(t, lr.Ids, c.NewTxn().LinRead().Ids)
}

func TestConcurrentCounterIncrements(t *testing.T) {
	_, c := newStoreClient(t)
	ctx := context.Background()

	ag, err := c.NewTxn().Mutate(ctx, &api.Mutation{SetJson: []byte(`{"count": 0}`), CommitNow: true})
	require.NoError(t, err)
	uid := onlyUID(t, ag)
	q := fmt.Sprintf(`{ me(func: uid(%q)) { count } }`, uid)

	var committed atomic.Int32
	incr := func() error {
		for {
			txn := c.NewTxn()
			resp, err := txn.Query(ctx, q)
			if err != nil {
				return err
			}
			n := me(t, resp)[0]["count"].(float64)
			_, err = txn.Mutate(ctx, setObj(map[string]any{"uid": uid, "count": n + 1}))
			if err == nil {
				err = txn.Commit(ctx)
			}
			if err == nil {
				committed.Add(1)
				return nil
			}
			if !assert.ErrorIs(t, err, client.ErrAborted) {
				return err
			}
		}
	}

	done := make(chan error, 8)
	for range 8 {
		go func() { done <- incr() }()
	}
	for range 8 {
		require.NoError(t, <-done)
	}

	resp, err := c.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, float64(8), me(t, resp)[0]["count"])
	assert.Equal(t, int32(8), committed.Load())
}

var addrSeq atomic.Int32

// TestTransportRoundTrip runs the same transaction flow with the store
// behind a transport server.
func TestTransportRoundTrip(t *testing.T) {
	s, err := memgraph.NewStore(memgraph.DefaultStoreConfig())
	require.NoError(t, err)

	addr := fmt.Sprintf("inproc://memgraph-test-%d", addrSeq.Add(1))
	srv := transport.NewServer(s, transport.WithWorkers(4))
	require.NoError(t, srv.Listen(transport.NetworkNNG, addr))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-served
	})

	conn, err := transport.Dial(ctx, transport.NetworkNNG, addr, transport.WithCompression(true))
	require.NoError(t, err)
	c, err := client.NewClient(conn)
	require.NoError(t, err)
	defer c.Close()

	v, err := c.CheckVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, memgraph.VersionTag, v.Tag)

	_, err = c.Alter(ctx, &api.Operation{Schema: "name: string @index(exact) ."})
	require.NoError(t, err)

	txn := c.NewTxn()
	uid := onlyUID(t, must(txn.Mutate(ctx, setObj(map[string]any{"name": "Manish"}))))
	txn2 := c.NewTxn()
	_, err = txn2.Mutate(ctx, setObj(map[string]any{"uid": uid, "name": "Other"}))
	require.NoError(t, err)
	require.NoError(t, txn.Commit(ctx))
	assert.ErrorIs(t, txn2.Commit(ctx), client.ErrAborted)

	resp, err := c.QueryWithVars(ctx, `query q($n: string) { me(func: eq(name, $n)) { uid name } }`, map[string]string{"$n": "Manish"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"uid": uid, "name": "Manish"}}, me(t, resp))

	_, err = c.Query(ctx, `{ me(func: eq(nope, 1)) { name } }`)
	assert.Equal(t, api.CodeInvalidArgument, api.StatusCode(err))

	// Waiting on a group that never advances fails with the caller's deadline.
	short, stop := context.WithTimeout(ctx, 100*time.Millisecond)
	defer stop()
	c.SetLinRead(&api.LinRead{Ids: map[uint32]uint64{1: 1000}})
	_, err = c.Query(short, `{ me(func: has(name)) { name } }`)
	assert.True(t, client.IsTimeout(err), "err = %v", err)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
