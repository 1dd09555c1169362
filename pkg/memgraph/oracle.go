package memgraph

import (
	"maps"
	"slices"
)

type txnState int

const (
	txnCommitted txnState = iota + 1
	txnAborted
)

// pendingTxn holds a transaction's uncommitted writes. A nil value in
// writes is a deletion.
type pendingTxn struct {
	startTs   uint64
	writes    map[string]map[uint64]*value
	conflicts map[string]struct{}
}

func newPendingTxn(startTs uint64) *pendingTxn {
	return &pendingTxn{
		startTs:   startTs,
		writes:    make(map[string]map[uint64]*value),
		conflicts: make(map[string]struct{}),
	}
}

func (p *pendingTxn) lookup(pred string, uid uint64) (*value, bool) {
	byUID, ok := p.writes[pred]
	if !ok {
		return nil, false
	}
	v, ok := byUID[uid]
	return v, ok
}

func (p *pendingTxn) put(pred string, uid uint64, v *value) {
	byUID, ok := p.writes[pred]
	if !ok {
		byUID = make(map[uint64]*value)
		p.writes[pred] = byUID
	}
	byUID[uid] = v
}

// merge folds a staged mutation into the transaction.
func (p *pendingTxn) merge(other *pendingTxn) {
	for pred, byUID := range other.writes {
		for uid, v := range byUID {
			p.put(pred, uid, v)
		}
	}
	maps.Copy(p.conflicts, other.conflicts)
}

func (p *pendingTxn) preds() []string {
	return slices.Sorted(maps.Keys(p.writes))
}

func (p *pendingTxn) keys() []string {
	return slices.Sorted(maps.Keys(p.conflicts))
}

// oracle hands out timestamps and decides commits. Callers hold the store
// lock.
type oracle struct {
	ts         uint64
	pending    map[uint64]*pendingTxn
	finished   map[uint64]txnState
	lastCommit map[string]uint64
}

func newOracle() *oracle {
	return &oracle{
		pending:    make(map[uint64]*pendingTxn),
		finished:   make(map[uint64]txnState),
		lastCommit: make(map[string]uint64),
	}
}

func (o *oracle) next() uint64 {
	o.ts++
	return o.ts
}

// hasConflict reports whether any key p touched was committed after p
// started.
func (o *oracle) hasConflict(p *pendingTxn) bool {
	for k := range p.conflicts {
		if o.lastCommit[k] > p.startTs {
			return true
		}
	}
	return false
}

func (o *oracle) finish(startTs uint64, st txnState) {
	delete(o.pending, startTs)
	o.finished[startTs] = st
}

// abortAll aborts every pending transaction and returns how many there were.
func (o *oracle) abortAll() int {
	n := len(o.pending)
	for ts := range o.pending {
		o.finish(ts, txnAborted)
	}
	o.lastCommit = make(map[string]uint64)
	return n
}
