package client

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/linread"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
)

// Txn is a single transaction. Operations on one Txn are serialized; use
// separate transactions for concurrent work.
//
// A Txn is finished once it has been committed or discarded. Discard after
// Commit is a no-op, so
//
//	txn := c.NewTxn()
//	defer txn.Discard(ctx)
//
// is the usual pattern.
type Txn struct {
	mu sync.Mutex

	dg       *Client
	id       string
	context  *api.TxnContext
	keys     map[string]struct{}
	finished bool
	mutated  bool
	readOnly bool

	logger logging.Logger
}

func newTxn(c *Client, readOnly bool) *Txn {
	tc := &api.TxnContext{LinRead: api.NewLinRead()}
	c.SetLinRead(tc.LinRead)

	id := uuid.NewString()
	return &Txn{
		dg:       c,
		id:       id,
		context:  tc,
		keys:     make(map[string]struct{}),
		readOnly: readOnly,
		logger:   c.logger.With(logging.RequestID(id)),
	}
}

// ID identifies the transaction in logs.
func (txn *Txn) ID() string {
	return txn.id
}

// StartTs returns the start timestamp, zero until the first server reply.
func (txn *Txn) StartTs() uint64 {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	return txn.context.StartTs
}

// LinRead returns a copy of the transaction's read vector.
func (txn *Txn) LinRead() *api.LinRead {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	return linread.Clone(txn.context.LinRead)
}

// Keys returns the conflict keys collected so far, sorted.
func (txn *Txn) Keys() []string {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	return slices.Sorted(maps.Keys(txn.keys))
}

// Query runs q at the transaction's snapshot.
func (txn *Txn) Query(ctx context.Context, q string, opts ...CallOption) (*api.Response, error) {
	return txn.QueryWithVars(ctx, q, nil, opts...)
}

// QueryWithVars runs q with variables at the transaction's snapshot.
func (txn *Txn) QueryWithVars(ctx context.Context, q string, vars map[string]string, opts ...CallOption) (*api.Response, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	if txn.finished {
		return nil, ErrFinished
	}
	req := &api.Request{
		Query:    q,
		Vars:     vars,
		StartTs:  txn.context.StartTs,
		LinRead:  linread.Clone(txn.context.LinRead),
		ReadOnly: txn.readOnly,
	}
	resp, err := invoke(txn.dg, ctx, "query", opts, func(ctx context.Context, conn api.Conn) (*api.Response, error) {
		return conn.Query(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if err := txn.mergeContext(resp.Txn); err != nil {
		return nil, err
	}
	return resp, nil
}

// Mutate applies mu inside the transaction. If the server aborts the
// transaction it is discarded and ErrAborted is returned. With CommitNow set
// the transaction is finished on success.
func (txn *Txn) Mutate(ctx context.Context, mu *api.Mutation, opts ...CallOption) (*api.Assigned, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	switch {
	case txn.readOnly:
		return nil, ErrReadOnly
	case txn.finished:
		return nil, ErrFinished
	}

	txn.mutated = true
	mu.StartTs = txn.context.StartTs
	ag, err := invoke(txn.dg, ctx, "mutate", opts, func(ctx context.Context, conn api.Conn) (*api.Assigned, error) {
		return conn.Mutate(ctx, mu)
	})
	if err != nil {
		// The caller sees the mutation error, not the discard's.
		_ = txn.discardLocked(ctx, opts)
		if isAborted(err) {
			return nil, errors.Join(ErrAborted, err)
		}
		return nil, err
	}

	if mu.CommitNow {
		txn.finished = true
		txn.record(metrics.OutcomeCommit)
	}
	if err := txn.mergeContext(ag.Context); err != nil {
		return nil, err
	}
	return ag, nil
}

// Commit commits the mutations made so far. A transaction without
// mutations commits without contacting the server.
func (txn *Txn) Commit(ctx context.Context, opts ...CallOption) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()

	switch {
	case txn.readOnly:
		return ErrReadOnly
	case txn.finished:
		return ErrFinished
	}
	txn.finished = true

	if !txn.mutated {
		txn.record(metrics.OutcomeCommit)
		return nil
	}

	tc, err := txn.commitOrAbort(ctx, opts)
	if err != nil {
		if isAborted(err) {
			txn.record(metrics.OutcomeAbort)
			return errors.Join(ErrAborted, err)
		}
		return err
	}
	if tc != nil && tc.Aborted {
		txn.record(metrics.OutcomeAbort)
		return ErrAborted
	}
	if tc != nil {
		txn.context.CommitTs = tc.CommitTs
		txn.dg.MergeLinReads(tc.LinRead)
	}
	txn.record(metrics.OutcomeCommit)
	txn.logger.Debug("committed", logging.StartTs(txn.context.StartTs), logging.CommitTs(txn.context.CommitTs))
	return nil
}

// Discard ends the transaction, rolling back its mutations. It is safe to
// call more than once and after Commit.
func (txn *Txn) Discard(ctx context.Context, opts ...CallOption) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	return txn.discardLocked(ctx, opts)
}

func (txn *Txn) discardLocked(ctx context.Context, opts []CallOption) error {
	if txn.finished {
		return nil
	}
	txn.finished = true
	txn.record(metrics.OutcomeDiscard)
	if !txn.mutated {
		return nil
	}

	txn.context.Aborted = true
	_, err := txn.commitOrAbort(ctx, opts)
	return err
}

func (txn *Txn) commitOrAbort(ctx context.Context, opts []CallOption) (*api.TxnContext, error) {
	tc := *txn.context
	tc.Keys = slices.Sorted(maps.Keys(txn.keys))
	tc.LinRead = linread.Clone(txn.context.LinRead)

	op := "commit"
	if tc.Aborted {
		op = "abort"
	}
	return invoke(txn.dg, ctx, op, opts, func(ctx context.Context, conn api.Conn) (*api.TxnContext, error) {
		return conn.CommitOrAbort(ctx, &tc)
	})
}

// mergeContext folds a server reply into the transaction and the client.
func (txn *Txn) mergeContext(src *api.TxnContext) error {
	if src == nil {
		return nil
	}

	// A rejected reply leaves both vectors untouched.
	switch {
	case txn.context.StartTs == 0:
		txn.context.StartTs = src.StartTs
	case src.StartTs != 0 && txn.context.StartTs != src.StartTs:
		return fmt.Errorf("%w: txn %d, reply %d", ErrStartTsMismatch, txn.context.StartTs, src.StartTs)
	}

	linread.Merge(txn.context.LinRead, src.LinRead)
	txn.dg.MergeLinReads(src.LinRead)

	for _, k := range src.Keys {
		txn.keys[k] = struct{}{}
	}
	return nil
}

func (txn *Txn) record(outcome string) {
	if txn.dg.metrics != nil {
		txn.dg.metrics.RecordTxn(outcome)
	}
}

// QueryAsync is the non-blocking form of Query.
func (txn *Txn) QueryAsync(ctx context.Context, q string, opts ...CallOption) *Future[*api.Response] {
	return txn.QueryWithVarsAsync(ctx, q, nil, opts...)
}

// QueryWithVarsAsync is the non-blocking form of QueryWithVars.
func (txn *Txn) QueryWithVarsAsync(ctx context.Context, q string, vars map[string]string, opts ...CallOption) *Future[*api.Response] {
	return goAsync(ctx, func(ctx context.Context) (*api.Response, error) {
		return txn.QueryWithVars(ctx, q, vars, opts...)
	})
}

// MutateAsync is the non-blocking form of Mutate.
func (txn *Txn) MutateAsync(ctx context.Context, mu *api.Mutation, opts ...CallOption) *Future[*api.Assigned] {
	return goAsync(ctx, func(ctx context.Context) (*api.Assigned, error) {
		return txn.Mutate(ctx, mu, opts...)
	})
}

// CommitAsync is the non-blocking form of Commit.
func (txn *Txn) CommitAsync(ctx context.Context, opts ...CallOption) *Future[struct{}] {
	return goAsync(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, txn.Commit(ctx, opts...)
	})
}

// DiscardAsync is the non-blocking form of Discard.
func (txn *Txn) DiscardAsync(ctx context.Context, opts ...CallOption) *Future[struct{}] {
	return goAsync(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, txn.Discard(ctx, opts...)
	})
}
