// Package partition assigns predicates to server groups. Every predicate
// lives in exactly one group; groups are numbered from 1.
package partition

import (
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
)

// PartitionStrategy defines how predicates are spread over groups
type PartitionStrategy interface {
	GetGroup(predicate string) uint32
	GetGroupCount() int
}

// HashPartition places predicates by hash (good load balance, no config)
type HashPartition struct {
	groupCount int
}

// NewHashPartition creates a hash-based strategy over groupCount groups.
// Counts below one are treated as one.
func NewHashPartition(groupCount int) *HashPartition {
	return &HashPartition{groupCount: max(1, groupCount)}
}

// GetGroup returns which group a predicate belongs to
func (hp *HashPartition) GetGroup(predicate string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(predicate))
	return h.Sum32()%uint32(hp.groupCount) + 1
}

// GetGroupCount returns total number of groups
func (hp *HashPartition) GetGroupCount() int {
	return hp.groupCount
}

// FixedPartition pins predicates to groups; anything unpinned falls back to
// another strategy.
type FixedPartition struct {
	pinned   map[string]uint32
	fallback PartitionStrategy
}

// NewFixedPartition creates a strategy with explicit placements. Pinned
// groups must lie within the fallback's range.
func NewFixedPartition(pinned map[string]uint32, fallback PartitionStrategy) (*FixedPartition, error) {
	for pred, g := range pinned {
		if g == 0 || int(g) > fallback.GetGroupCount() {
			return nil, fmt.Errorf("predicate %q pinned to group %d outside 1..%d", pred, g, fallback.GetGroupCount())
		}
	}
	return &FixedPartition{pinned: maps.Clone(pinned), fallback: fallback}, nil
}

func (fp *FixedPartition) GetGroup(predicate string) uint32 {
	if g, ok := fp.pinned[predicate]; ok {
		return g
	}
	return fp.fallback.GetGroup(predicate)
}

func (fp *FixedPartition) GetGroupCount() int {
	return fp.fallback.GetGroupCount()
}

// GroupsOf returns the distinct groups serving predicates, ascending.
func GroupsOf(s PartitionStrategy, predicates []string) []uint32 {
	seen := make(map[uint32]struct{}, len(predicates))
	for _, p := range predicates {
		seen[s.GetGroup(p)] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Tablets maps each group to the predicates it serves, sorted.
func Tablets(s PartitionStrategy, predicates []string) map[uint32][]string {
	out := make(map[uint32][]string)
	for _, p := range predicates {
		g := s.GetGroup(p)
		out[g] = append(out[g], p)
	}
	for g := range out {
		slices.Sort(out[g])
	}
	return out
}
