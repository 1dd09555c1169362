package memgraph

import (
	"maps"
	"slices"
)

// view reads the store at a snapshot. Layers hold uncommitted writes that
// shadow committed data, innermost first. Callers hold the store lock.
type view struct {
	s      *Store
	readTs uint64
	layers []*pendingTxn
}

func (s *Store) viewLocked(readTs uint64, layers ...*pendingTxn) *view {
	return &view{s: s, readTs: readTs, layers: slices.DeleteFunc(layers, func(p *pendingTxn) bool { return p == nil })}
}

func (v *view) get(pred string, uid uint64) *value {
	for _, l := range v.layers {
		if val, ok := l.lookup(pred, uid); ok {
			return val
		}
	}
	if p, ok := v.s.data[pred][uid]; ok {
		return p.at(v.readTs)
	}
	return nil
}

// nodesWith returns, ascending, the nodes holding a value for pred.
func (v *view) nodesWith(pred string) []uint64 {
	candidates := make(map[uint64]struct{})
	for uid := range v.s.data[pred] {
		candidates[uid] = struct{}{}
	}
	for _, l := range v.layers {
		for uid := range l.writes[pred] {
			candidates[uid] = struct{}{}
		}
	}

	out := make([]uint64, 0, len(candidates))
	for _, uid := range slices.Sorted(maps.Keys(candidates)) {
		if !v.get(pred, uid).empty() {
			out = append(out, uid)
		}
	}
	return out
}

// predsOf returns the predicates uid holds a value for.
func (v *view) predsOf(uid uint64) []string {
	names := make(map[string]struct{})
	for pred := range v.s.data {
		names[pred] = struct{}{}
	}
	for _, l := range v.layers {
		for pred := range l.writes {
			names[pred] = struct{}{}
		}
	}

	var out []string
	for _, pred := range slices.Sorted(maps.Keys(names)) {
		if !v.get(pred, uid).empty() {
			out = append(out, pred)
		}
	}
	return out
}

// reverse returns, ascending, the nodes with a pred edge pointing at uid.
func (v *view) reverse(pred string, uid uint64) []uint64 {
	var out []uint64
	for _, src := range v.nodesWith(pred) {
		if _, found := slices.BinarySearch(v.get(pred, src).uids, uid); found {
			out = append(out, src)
		}
	}
	return out
}
