package memgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// mutator turns JSON objects into staged writes. Objects without a uid get
// blank names blank-0, blank-1, ... in the order they are visited (parents
// before children); "_:name" uids keep their name.
type mutator struct {
	s      *Store
	view   *view
	staged *pendingTxn

	blanks              map[string]uint64
	blankSeq            int
	ignoreIndexConflict bool
}

func decodeObjects(data []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMutation, err)
	}
	switch x := raw.(type) {
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, item := range x {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, ErrBadMutation
			}
			out = append(out, obj)
		}
		return out, nil
	}
	return nil, ErrBadMutation
}

func dataKey(pred string, uid uint64) string {
	return pred + "|" + formatUID(uid)
}

func indexKey(pred string, v any) string {
	return "idx|" + pred + "|" + indexToken(v)
}

// write stages v for (pred, uid) and records the conflict keys it touches.
func (m *mutator) write(ps *PredicateSchema, uid uint64, v *value) {
	old := m.view.get(ps.Predicate, uid)
	m.staged.put(ps.Predicate, uid, v)
	m.staged.conflicts[dataKey(ps.Predicate, uid)] = struct{}{}

	if !ps.Indexed() || m.ignoreIndexConflict {
		return
	}
	if !old.empty() && old.scalar != nil {
		m.staged.conflicts[indexKey(ps.Predicate, old.scalar)] = struct{}{}
	}
	if !v.empty() && v.scalar != nil {
		m.staged.conflicts[indexKey(ps.Predicate, v.scalar)] = struct{}{}
	}
}

// resolve maps an object's uid field to a node, allocating blank nodes.
func (m *mutator) resolve(obj map[string]any) (uint64, error) {
	raw, ok := obj["uid"]
	if !ok {
		name := fmt.Sprintf("blank-%d", m.blankSeq)
		m.blankSeq++
		return m.blank(name), nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrBadUID, raw)
	}
	if name, ok := strings.CutPrefix(s, "_:"); ok {
		if name == "" {
			return 0, fmt.Errorf("%w: empty blank node name", ErrBadUID)
		}
		return m.blank(name), nil
	}
	uid, err := parseUID(s)
	if err != nil {
		return 0, err
	}
	if uid >= m.s.nextID {
		m.s.nextID = uid + 1
	}
	return uid, nil
}

func (m *mutator) blank(name string) uint64 {
	if uid, ok := m.blanks[name]; ok {
		return uid
	}
	uid := m.s.allocUIDLocked()
	m.blanks[name] = uid
	return uid
}

func sortedKeys(obj map[string]any) []string {
	return slices.Sorted(maps.Keys(obj))
}

// set stages every predicate of obj and returns the node it describes.
func (m *mutator) set(obj map[string]any) (uint64, error) {
	uid, err := m.resolve(obj)
	if err != nil {
		return 0, err
	}

	for _, pred := range sortedKeys(obj) {
		raw := obj[pred]
		if pred == "uid" || raw == nil {
			continue
		}
		ps, err := m.s.predSchemaLocked(pred, raw)
		if err != nil {
			return 0, err
		}

		if ps.Type == TypeUID {
			children, err := childObjects(raw)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", pred, err)
			}
			next := m.view.get(pred, uid).clone()
			if next == nil {
				next = &value{}
			}
			for _, child := range children {
				childUID, err := m.set(child)
				if err != nil {
					return 0, err
				}
				next.addEdge(childUID)
			}
			m.write(ps, uid, next)
			continue
		}

		switch raw.(type) {
		case map[string]any:
			return 0, fmt.Errorf("%s: %w", pred, ErrObjectOnValue)
		case []any:
			return 0, fmt.Errorf("%s: %w", pred, ErrListValue)
		}
		conv, err := convert(raw, ps.Type)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", pred, err)
		}
		m.write(ps, uid, &value{scalar: conv})
	}
	return uid, nil
}

// del applies delete semantics: {"uid": x} drops every predicate of x,
// {"uid": x, "p": null} drops all of x's p, and a concrete value or edge
// list drops just those.
func (m *mutator) del(obj map[string]any) error {
	raw, ok := obj["uid"].(string)
	if !ok || strings.HasPrefix(raw, "_:") {
		return ErrNeedUID
	}
	uid, err := parseUID(raw)
	if err != nil {
		return err
	}

	if len(obj) == 1 {
		for _, pred := range m.view.predsOf(uid) {
			if ps, ok := m.s.schema[pred]; ok {
				m.write(ps, uid, nil)
			}
		}
		return nil
	}

	for _, pred := range sortedKeys(obj) {
		if pred == "uid" {
			continue
		}
		ps, ok := m.s.schema[pred]
		if !ok {
			continue
		}
		cur := m.view.get(pred, uid)
		if cur.empty() {
			continue
		}

		target := obj[pred]
		if target == nil {
			m.write(ps, uid, nil)
			continue
		}

		if ps.Type == TypeUID {
			children, err := childObjects(target)
			if err != nil {
				return fmt.Errorf("%s: %w", pred, err)
			}
			next := cur.clone()
			for _, child := range children {
				s, _ := child["uid"].(string)
				edge, err := parseUID(s)
				if err != nil {
					return fmt.Errorf("%s: %w", pred, err)
				}
				next.removeEdge(edge)
			}
			if next.empty() {
				next = nil
			}
			m.write(ps, uid, next)
			continue
		}

		conv, err := convert(target, ps.Type)
		if err != nil {
			return fmt.Errorf("%s: %w", pred, err)
		}
		if c, ok := compareValues(cur.scalar, conv); ok && c == 0 {
			m.write(ps, uid, nil)
		}
	}
	return nil
}

func childObjects(raw any) ([]map[string]any, error) {
	switch x := raw.(type) {
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, item := range x {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, ErrScalarOnEdge
			}
			out = append(out, obj)
		}
		return out, nil
	}
	return nil, ErrScalarOnEdge
}
