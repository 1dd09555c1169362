// Package memgraph is an in-memory graph backend that speaks the api.Conn
// protocol. It keeps multi-version data per (predicate, node), hands out
// timestamps, detects write conflicts at commit, and reports per-group
// read progress so clients can carry linearizable read vectors. It backs
// the tests, the CLI demo and the graphdb-alpha server.
package memgraph

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/metrics"
	"github.com/dd0wney/cluso-graphclient/pkg/partition"
	"github.com/dd0wney/cluso-graphclient/pkg/validation"
)

// VersionTag is reported by CheckVersion.
const VersionTag = "v1.0.0-memgraph"

// StoreConfig configures a Store.
type StoreConfig struct {
	// Groups is the number of predicate groups (partitions).
	Groups int
	// Pinned places predicates in fixed groups; others are hashed.
	Pinned  map[string]uint32
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultStoreConfig returns a three-group configuration without logging.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{Groups: 3}
}

// version is one committed state of a posting. A nil val is a deletion.
type version struct {
	ts  uint64
	val *value
}

// posting holds the committed history of one (predicate, node) pair, oldest
// first.
type posting struct {
	versions []version
}

// at returns the value visible at readTs.
func (p *posting) at(readTs uint64) *value {
	for i := len(p.versions) - 1; i >= 0; i-- {
		if p.versions[i].ts <= readTs {
			return p.versions[i].val
		}
	}
	return nil
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	schema map[string]*PredicateSchema
	data   map[string]map[uint64]*posting
	nextID uint64

	oracle   *oracle
	strategy partition.PartitionStrategy

	// applied[g] is group g's applied index; index 0 is unused.
	applied  []uint64
	progress chan struct{}

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Groups < 1 {
		return nil, fmt.Errorf("memgraph: groups must be positive, got %d", cfg.Groups)
	}
	var strategy partition.PartitionStrategy = partition.NewHashPartition(cfg.Groups)
	if len(cfg.Pinned) > 0 {
		fixed, err := partition.NewFixedPartition(cfg.Pinned, strategy)
		if err != nil {
			return nil, err
		}
		strategy = fixed
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		schema:   make(map[string]*PredicateSchema),
		data:     make(map[string]map[uint64]*posting),
		nextID:   1,
		oracle:   newOracle(),
		strategy: strategy,
		applied:  make([]uint64, cfg.Groups+1),
		progress: make(chan struct{}),
		logger:   logger.With(logging.Component("memgraph")),
		metrics:  cfg.Metrics,
	}, nil
}

// Schema returns the current schema sorted by predicate.
func (s *Store) Schema() []*PredicateSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*PredicateSchema, 0, len(s.schema))
	for _, ps := range s.schema {
		cp := *ps
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *PredicateSchema) int {
		return strings.Compare(a.Predicate, b.Predicate)
	})
	return out
}

// AppliedIndex returns the applied index of group.
func (s *Store) AppliedIndex(group uint32) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(group) >= len(s.applied) {
		return 0
	}
	return s.applied[group]
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	PendingTxns int
	Predicates  int
	Applied     map[uint32]uint64
}

// Stats reports open transactions and every group's applied index.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		PendingTxns: len(s.oracle.pending),
		Predicates:  len(s.schema),
		Applied:     make(map[uint32]uint64, len(s.applied)-1),
	}
	for g := 1; g < len(s.applied); g++ {
		st.Applied[uint32(g)] = s.applied[g]
	}
	return st
}

// Groups returns the number of groups.
func (s *Store) Groups() int {
	return len(s.applied) - 1
}

func (s *Store) CheckVersion(ctx context.Context, _ *api.Check) (*api.Version, error) {
	return &api.Version{Tag: VersionTag}, nil
}

// Alter applies a schema change. It is not transactional: it takes effect
// immediately for every transaction.
func (s *Store) Alter(ctx context.Context, op *api.Operation) (*api.Payload, error) {
	if err := validation.ValidateOperation(op); err != nil {
		return nil, api.WrapError(api.CodeInvalidArgument, err, "alter")
	}
	var parsed []*PredicateSchema
	if op.Schema != "" {
		var err error
		if parsed, err = ParseSchema(op.Schema); err != nil {
			return nil, api.WrapError(api.CodeInvalidArgument, err, "alter")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject the whole operation before any drop runs.
	for _, ps := range parsed {
		if op.DropAll || ps.Predicate == op.DropAttr {
			continue
		}
		if old, ok := s.schema[ps.Predicate]; ok && (old.Type == TypeUID) != (ps.Type == TypeUID) && len(s.data[ps.Predicate]) > 0 {
			return nil, api.WrapError(api.CodeInvalidArgument, ErrTypeChange, ps.Predicate)
		}
	}

	switch {
	case op.DropAll:
		s.schema = make(map[string]*PredicateSchema)
		s.data = make(map[string]map[uint64]*posting)
		n := s.oracle.abortAll()
		for g := 1; g < len(s.applied); g++ {
			s.bumpLocked(uint32(g))
		}
		s.logger.Info("dropped all data", logging.Count(n))
	case op.DropAttr != "":
		delete(s.schema, op.DropAttr)
		delete(s.data, op.DropAttr)
		s.bumpLocked(s.strategy.GetGroup(op.DropAttr))
		s.logger.Info("dropped predicate", logging.String("predicate", op.DropAttr))
	}

	for _, ps := range parsed {
		s.schema[ps.Predicate] = ps
		s.bumpLocked(s.strategy.GetGroup(ps.Predicate))
	}
	if len(parsed) > 0 {
		s.logger.Info("schema updated", logging.Count(len(parsed)))
	}
	return &api.Payload{}, nil
}

// predSchemaLocked returns the schema for pred, inferring and recording one from
// raw when the predicate is new.
func (s *Store) predSchemaLocked(pred string, raw any) (*PredicateSchema, error) {
	if ps, ok := s.schema[pred]; ok {
		return ps, nil
	}
	if err := validation.ValidatePredicate(pred); err != nil {
		return nil, err
	}
	ps := &PredicateSchema{Predicate: pred, Type: inferType(raw)}
	s.schema[pred] = ps
	return ps, nil
}

func (s *Store) allocUIDLocked() uint64 {
	uid := s.nextID
	s.nextID++
	return uid
}

// bumpLocked advances a group's applied index and wakes waiting readers.
func (s *Store) bumpLocked(group uint32) {
	s.applied[group]++
	close(s.progress)
	s.progress = make(chan struct{})
	if s.metrics != nil {
		s.metrics.SetGroupAppliedIndex(group, s.applied[group])
	}
}

// linReadLocked reports the applied index of every group serving preds.
func (s *Store) linReadLocked(preds []string) *api.LinRead {
	lr := api.NewLinRead()
	for _, g := range partition.GroupsOf(s.strategy, preds) {
		lr.Ids[g] = s.applied[g]
	}
	return lr
}

// waitForProgress blocks until every group in want has applied at least the
// requested index.
func (s *Store) waitForProgress(ctx context.Context, want *api.LinRead) error {
	if want == nil || len(want.Ids) == 0 {
		return nil
	}
	start := time.Now()
	waited := false
	for {
		s.mu.RLock()
		ready := true
		for g, idx := range want.Ids {
			if g == 0 || int(g) >= len(s.applied) {
				s.mu.RUnlock()
				return api.WrapError(api.CodeInvalidArgument, ErrUnknownGroup, fmt.Sprintf("group %d", g))
			}
			if s.applied[g] < idx {
				ready = false
				break
			}
		}
		ch := s.progress
		s.mu.RUnlock()

		if ready {
			if waited && s.metrics != nil {
				s.metrics.BackendLinReadWaitSeconds.Observe(time.Since(start).Seconds())
			}
			return nil
		}
		waited = true
		select {
		case <-ch:
		case <-ctx.Done():
			return api.WrapError(api.CodeDeadlineExceeded, ctx.Err(), "waiting for read progress")
		}
	}
}

var _ api.Conn = (*Store)(nil)
