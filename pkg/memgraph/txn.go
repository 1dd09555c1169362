package memgraph

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/validation"
)

// Mutate stages a mutation in the transaction named by mu.StartTs, starting
// a new one when it is zero. Deletes are applied before sets. With
// CommitNow the transaction is committed in the same call.
func (s *Store) Mutate(ctx context.Context, mu *api.Mutation) (*api.Assigned, error) {
	start := time.Now()
	if err := validation.ValidateMutation(mu); err != nil {
		return nil, api.WrapError(api.CodeInvalidArgument, err, "mutate")
	}
	var sets, dels []map[string]any
	var err error
	if len(mu.SetJson) > 0 {
		if sets, err = decodeObjects(mu.SetJson); err != nil {
			return nil, api.WrapError(api.CodeInvalidArgument, err, "set")
		}
	}
	if len(mu.DeleteJson) > 0 {
		if dels, err = decodeObjects(mu.DeleteJson); err != nil {
			return nil, api.WrapError(api.CodeInvalidArgument, err, "delete")
		}
	}
	parsed := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, api.WrapError(api.CodeDeadlineExceeded, err, "mutate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	startTs := mu.StartTs
	if startTs == 0 {
		startTs = s.oracle.next()
	}
	if err := s.checkOpenLocked(startTs); err != nil {
		return nil, err
	}
	txn := s.oracle.pending[startTs]

	staged := newPendingTxn(startTs)
	m := &mutator{
		s:                   s,
		view:                s.viewLocked(startTs, staged, txn),
		staged:              staged,
		blanks:              make(map[string]uint64),
		ignoreIndexConflict: mu.IgnoreIndexConflict,
	}
	for _, obj := range dels {
		if err := m.del(obj); err != nil {
			return nil, api.WrapError(api.CodeInvalidArgument, err, "delete")
		}
	}
	for _, obj := range sets {
		if _, err := m.set(obj); err != nil {
			return nil, api.WrapError(api.CodeInvalidArgument, err, "set")
		}
	}

	if txn == nil {
		txn = newPendingTxn(startTs)
		s.oracle.pending[startTs] = txn
	}
	txn.merge(staged)
	s.setPendingGaugeLocked()

	uids := make(map[string]string, len(m.blanks))
	for name, uid := range m.blanks {
		uids[name] = formatUID(uid)
	}
	tc := &api.TxnContext{
		StartTs: startTs,
		Keys:    staged.keys(),
		LinRead: s.linReadLocked(staged.preds()),
	}

	if mu.CommitNow {
		commitTs, err := s.commitLocked(txn)
		if err != nil {
			return nil, err
		}
		tc.CommitTs = commitTs
		tc.LinRead = s.linReadLocked(staged.preds())
	}

	return &api.Assigned{
		Uids:    uids,
		Context: tc,
		Latency: &api.Latency{
			ParsingNs:    uint64(parsed.Sub(start)),
			ProcessingNs: uint64(time.Since(parsed)),
		},
	}, nil
}

// CommitOrAbort finishes a transaction. Commit fails with CodeAborted if a
// key the transaction wrote was committed by another transaction after this
// one started.
func (s *Store) CommitOrAbort(ctx context.Context, tc *api.TxnContext) (*api.TxnContext, error) {
	if tc == nil {
		return nil, api.WrapError(api.CodeInvalidArgument, validation.ErrNilPayload, "commit")
	}
	if tc.StartTs == 0 {
		return nil, api.WrapError(api.CodeInvalidArgument, ErrMissingStart, "commit")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tc.Aborted {
		if st := s.oracle.finished[tc.StartTs]; st == txnCommitted {
			return nil, api.WrapError(api.CodeInvalidArgument, ErrTxnCommitted, "abort")
		}
		s.oracle.finish(tc.StartTs, txnAborted)
		s.setPendingGaugeLocked()
		s.logger.Debug("aborted", logging.StartTs(tc.StartTs))
		return &api.TxnContext{StartTs: tc.StartTs, Aborted: true}, nil
	}

	if err := s.checkOpenLocked(tc.StartTs); err != nil {
		return nil, err
	}
	txn := s.oracle.pending[tc.StartTs]
	if txn == nil {
		txn = newPendingTxn(tc.StartTs)
	}
	commitTs, err := s.commitLocked(txn)
	if err != nil {
		return nil, err
	}
	return &api.TxnContext{
		StartTs:  tc.StartTs,
		CommitTs: commitTs,
		Keys:     txn.keys(),
		LinRead:  s.linReadLocked(txn.preds()),
	}, nil
}

func (s *Store) checkOpenLocked(startTs uint64) error {
	switch s.oracle.finished[startTs] {
	case txnAborted:
		return api.WrapError(api.CodeAborted, ErrTxnAborted, fmt.Sprintf("start ts %d", startTs))
	case txnCommitted:
		return api.WrapError(api.CodeInvalidArgument, ErrTxnCommitted, fmt.Sprintf("start ts %d", startTs))
	}
	if startTs > s.oracle.ts {
		return api.Errorf(api.CodeInvalidArgument, "start ts %d was never issued", startTs)
	}
	return nil
}

// commitLocked checks txn for conflicts and, if there are none, makes its
// writes visible at a fresh commit timestamp.
func (s *Store) commitLocked(txn *pendingTxn) (uint64, error) {
	defer s.setPendingGaugeLocked()

	if s.oracle.hasConflict(txn) {
		s.oracle.finish(txn.startTs, txnAborted)
		s.recordCommit("aborted")
		s.logger.Debug("commit conflict", logging.StartTs(txn.startTs))
		return 0, api.WrapError(api.CodeAborted, ErrConflict, fmt.Sprintf("start ts %d", txn.startTs))
	}

	commitTs := s.oracle.next()
	for pred, byUID := range txn.writes {
		postings, ok := s.data[pred]
		if !ok {
			postings = make(map[uint64]*posting)
			s.data[pred] = postings
		}
		for uid, v := range byUID {
			p, ok := postings[uid]
			if !ok {
				p = &posting{}
				postings[uid] = p
			}
			p.versions = append(p.versions, version{ts: commitTs, val: v.clone()})
		}
	}
	for k := range maps.Keys(txn.conflicts) {
		s.oracle.lastCommit[k] = commitTs
	}
	groups := make(map[uint32]struct{})
	for _, pred := range txn.preds() {
		groups[s.strategy.GetGroup(pred)] = struct{}{}
	}
	for g := range groups {
		s.bumpLocked(g)
	}

	s.oracle.finish(txn.startTs, txnCommitted)
	s.recordCommit("committed")
	s.logger.Debug("committed", logging.StartTs(txn.startTs), logging.CommitTs(commitTs), logging.Count(len(txn.conflicts)))
	return commitTs, nil
}

func (s *Store) recordCommit(result string) {
	if s.metrics != nil {
		s.metrics.RecordCommit(result)
	}
}

func (s *Store) setPendingGaugeLocked() {
	if s.metrics != nil {
		s.metrics.BackendPendingTxns.Set(float64(len(s.oracle.pending)))
	}
}
