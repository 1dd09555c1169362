package memgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/validation"
)

// Query runs a read at the request's start timestamp, allocating one when
// it is zero. It first waits until every group in req.LinRead has applied
// at least the requested index. A transaction sees its own uncommitted
// writes.
func (s *Store) Query(ctx context.Context, req *api.Request) (*api.Response, error) {
	start := time.Now()
	if err := validation.ValidateRequest(req); err != nil {
		return nil, api.WrapError(api.CodeInvalidArgument, err, "query")
	}
	doc, err := ParseQuery(req.Query, req.Vars)
	if err != nil {
		return nil, api.WrapError(api.CodeInvalidArgument, err, "query")
	}
	parsed := time.Now()

	if err := s.waitForProgress(ctx, req.LinRead); err != nil {
		return nil, err
	}

	startTs := req.StartTs
	if startTs == 0 {
		s.mu.Lock()
		startTs = s.oracle.next()
		s.mu.Unlock()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if startTs > s.oracle.ts {
		return nil, api.Errorf(api.CodeInvalidArgument, "start ts %d was never issued", startTs)
	}
	ex := &executor{
		view:  s.viewLocked(startTs, s.oracle.pending[startTs]),
		preds: make(map[string]struct{}),
	}
	result := make(map[string]any, len(doc.Blocks))
	for _, b := range doc.Blocks {
		nodes, err := ex.block(b)
		if err != nil {
			return nil, api.WrapError(api.CodeInvalidArgument, err, b.Alias)
		}
		result[b.Alias] = nodes
	}
	processed := time.Now()

	js, err := json.Marshal(result)
	if err != nil {
		return nil, api.WrapError(api.CodeInternal, err, "encode result")
	}
	s.logger.Debug("query", logging.StartTs(startTs), logging.Count(len(doc.Blocks)))

	return &api.Response{
		Json: js,
		Txn: &api.TxnContext{
			StartTs: startTs,
			LinRead: s.linReadLocked(slices.Sorted(maps.Keys(ex.preds))),
		},
		Latency: &api.Latency{
			ParsingNs:    uint64(parsed.Sub(start)),
			ProcessingNs: uint64(processed.Sub(parsed)),
			EncodingNs:   uint64(time.Since(processed)),
		},
	}, nil
}

// executor evaluates blocks against one view and remembers which
// predicates it read.
type executor struct {
	view  *view
	preds map[string]struct{}
}

func (e *executor) schema(pred string) *PredicateSchema {
	e.preds[pred] = struct{}{}
	return e.view.s.schema[pred]
}

func (e *executor) block(b *Block) ([]map[string]any, error) {
	roots, err := e.roots(b.Func)
	if err != nil {
		return nil, err
	}
	return e.renderAll(roots, b.Fields)
}

// roots returns, ascending and without duplicates, the nodes fn selects.
func (e *executor) roots(fn *Function) ([]uint64, error) {
	switch fn.Name {
	case "uid":
		var out []uint64
		for _, arg := range fn.Args {
			uid, err := parseUID(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, uid)
		}
		slices.Sort(out)
		return slices.Compact(out), nil
	case "has":
		e.schema(fn.Predicate)
		return e.view.nodesWith(fn.Predicate), nil
	}

	ps := e.schema(fn.Predicate)
	if ps == nil || !ps.Indexed() {
		return nil, fmt.Errorf("%w: %s() on %s", ErrNotIndexed, fn.Name, fn.Predicate)
	}
	arg, err := parseArg(fn.Args[0], ps.Type)
	if err != nil {
		return nil, err
	}

	var out []uint64
	for _, uid := range e.view.nodesWith(fn.Predicate) {
		v := e.view.get(fn.Predicate, uid)
		if v.scalar == nil {
			continue
		}
		c, ok := compareValues(v.scalar, arg)
		if ok && matches(fn.Name, c) {
			out = append(out, uid)
		}
	}
	return out, nil
}

func matches(fn string, c int) bool {
	switch fn {
	case "eq":
		return c == 0
	case "le":
		return c <= 0
	case "lt":
		return c < 0
	case "ge":
		return c >= 0
	case "gt":
		return c > 0
	}
	return false
}

// renderAll renders each node, dropping those with nothing to show.
func (e *executor) renderAll(uids []uint64, fields []*Field) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(uids))
	for _, uid := range uids {
		obj, err := e.render(uid, fields)
		if err != nil {
			return nil, err
		}
		if len(obj) > 0 {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (e *executor) render(uid uint64, fields []*Field) (map[string]any, error) {
	obj := make(map[string]any)
	for _, f := range fields {
		if f.Predicate == "uid" && !f.Reverse {
			obj[f.Key()] = formatUID(uid)
			continue
		}

		ps := e.schema(f.Predicate)
		if f.Reverse {
			if ps == nil || !ps.Reverse {
				return nil, fmt.Errorf("%w: %s", ErrNoReverse, f.Predicate)
			}
			if err := e.renderEdges(obj, f, e.view.reverse(f.Predicate, uid)); err != nil {
				return nil, err
			}
			continue
		}

		v := e.view.get(f.Predicate, uid)
		if v.empty() {
			continue
		}
		if v.scalar != nil {
			if f.Children != nil {
				return nil, fmt.Errorf("%w: %s", ErrNoSelection, f.Predicate)
			}
			obj[f.Key()] = v.scalar
			continue
		}
		if err := e.renderEdges(obj, f, v.uids); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// renderEdges sets obj[f] to the targets. Without a selection each target
// is rendered as its uid.
func (e *executor) renderEdges(obj map[string]any, f *Field, targets []uint64) error {
	if len(targets) == 0 {
		return nil
	}
	fields := f.Children
	if fields == nil {
		fields = []*Field{{Predicate: "uid"}}
	}
	children, err := e.renderAll(targets, fields)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		obj[f.Key()] = children
	}
	return nil
}
