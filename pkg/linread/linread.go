// Package linread tracks linearized-read vectors: per partition, the highest
// applied index a client has observed. Vectors only ever grow; merging takes
// the element-wise maximum.
package linread

import (
	"maps"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

// Merge folds src into dst, keeping the larger counter per partition.
// dst.Ids is allocated if nil. Keys are never removed.
func Merge(dst, src *api.LinRead) {
	if dst == nil || src == nil || len(src.Ids) == 0 {
		return
	}
	if dst.Ids == nil {
		dst.Ids = make(map[uint32]uint64, len(src.Ids))
	}
	for group, idx := range src.Ids {
		if cur, ok := dst.Ids[group]; !ok || idx > cur {
			dst.Ids[group] = idx
		}
	}
}

// Clone returns a deep copy. A nil vector clones to an empty one.
func Clone(lr *api.LinRead) *api.LinRead {
	out := api.NewLinRead()
	if lr != nil {
		maps.Copy(out.Ids, lr.Ids)
	}
	return out
}

// Equal reports whether two vectors hold the same entries. nil and empty are
// equal.
func Equal(a, b *api.LinRead) bool {
	var am, bm map[uint32]uint64
	if a != nil {
		am = a.Ids
	}
	if b != nil {
		bm = b.Ids
	}
	return maps.Equal(am, bm)
}

// Dominates reports whether a is at least as fresh as b for every partition
// in b.
func Dominates(a, b *api.LinRead) bool {
	if b == nil {
		return true
	}
	for group, idx := range b.Ids {
		if a == nil || a.Ids[group] < idx {
			return false
		}
	}
	return true
}

// Partitions returns the partition ids of lr in ascending order.
func Partitions(lr *api.LinRead) []uint32 {
	if lr == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(lr.Ids))
}

// Manager owns a client's vector. It is safe for concurrent use.
type Manager struct {
	mu sync.Mutex
	lr *api.LinRead
}

// NewManager returns a manager holding an empty vector.
func NewManager() *Manager {
	return &Manager{lr: api.NewLinRead()}
}

// AttachTo copies every entry of the managed vector into dst, overwriting
// dst's counter for those partitions.
func (m *Manager) AttachTo(dst *api.LinRead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dst.Ids == nil {
		dst.Ids = make(map[uint32]uint64, len(m.lr.Ids))
	}
	for group, idx := range m.lr.Ids {
		dst.Ids[group] = idx
	}
}

// MergeFrom folds src into the managed vector. It returns the number of
// partitions now tracked and, in ascending order, the partitions whose
// counter src advanced.
func (m *Manager) MergeFrom(src *api.LinRead) (tracked int, advanced []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, group := range Partitions(src) {
		if cur, ok := m.lr.Ids[group]; !ok || src.Ids[group] > cur {
			advanced = append(advanced, group)
		}
	}
	Merge(m.lr, src)
	return len(m.lr.Ids), advanced
}

// Snapshot returns a copy of the managed vector.
func (m *Manager) Snapshot() *api.LinRead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Clone(m.lr)
}
