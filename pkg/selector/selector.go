// Package selector chooses one connection handle out of a fixed pool per
// operation.
package selector

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sync/atomic"
)

// ErrEmptyPool is returned when a selector is built without handles.
var ErrEmptyPool = errors.New("selector: at least one handle is required")

// Selector picks a handle for the next operation. Implementations are safe
// for concurrent use and never mutate the handle set.
type Selector[T any] interface {
	Pick() T
}

// Random picks uniformly at random with replacement.
type Random[T any] struct {
	items []T
}

// NewRandom builds a Random selector over a copy of items.
func NewRandom[T any](items []T) (*Random[T], error) {
	if len(items) == 0 {
		return nil, ErrEmptyPool
	}
	return &Random[T]{items: slices.Clone(items)}, nil
}

func (r *Random[T]) Pick() T {
	return r.items[rand.IntN(len(r.items))]
}

// RoundRobin cycles through the handles in order.
type RoundRobin[T any] struct {
	items []T
	next  atomic.Uint64
}

// NewRoundRobin builds a RoundRobin selector over a copy of items.
func NewRoundRobin[T any](items []T) (*RoundRobin[T], error) {
	if len(items) == 0 {
		return nil, ErrEmptyPool
	}
	return &RoundRobin[T]{items: slices.Clone(items)}, nil
}

func (r *RoundRobin[T]) Pick() T {
	n := r.next.Add(1) - 1
	return r.items[n%uint64(len(r.items))]
}

// Policy names a selection strategy in configuration.
type Policy string

const (
	PolicyRandom     Policy = "random"
	PolicyRoundRobin Policy = "round_robin"
)

// New builds the selector for policy. An unknown policy falls back to Random.
func New[T any](policy Policy, items []T) (Selector[T], error) {
	switch policy {
	case PolicyRoundRobin:
		return NewRoundRobin(items)
	default:
		return NewRandom(items)
	}
}

var (
	_ Selector[int] = (*Random[int])(nil)
	_ Selector[int] = (*RoundRobin[int])(nil)
)
