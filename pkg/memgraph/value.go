package memgraph

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// value is what one node holds for one predicate. Scalar predicates hold a
// single value; uid predicates hold a sorted edge list.
type value struct {
	scalar any
	uids   []uint64
}

func (v *value) clone() *value {
	if v == nil {
		return nil
	}
	return &value{scalar: v.scalar, uids: slices.Clone(v.uids)}
}

func (v *value) empty() bool {
	return v == nil || (v.scalar == nil && len(v.uids) == 0)
}

func (v *value) addEdge(uid uint64) {
	i, found := slices.BinarySearch(v.uids, uid)
	if !found {
		v.uids = slices.Insert(v.uids, i, uid)
	}
}

func (v *value) removeEdge(uid uint64) {
	if i, found := slices.BinarySearch(v.uids, uid); found {
		v.uids = slices.Delete(v.uids, i, i+1)
	}
}

// inferType picks a schema type for a predicate first seen in a mutation.
func inferType(raw any) ValueType {
	switch x := raw.(type) {
	case map[string]any:
		return TypeUID
	case []any:
		if len(x) > 0 {
			if _, ok := x[0].(map[string]any); ok {
				return TypeUID
			}
		}
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return TypeInt
		}
		return TypeFloat
	case bool:
		return TypeBool
	}
	return TypeDefault
}

// convert coerces a decoded JSON scalar to the predicate's type.
func convert(raw any, t ValueType) (any, error) {
	switch t {
	case TypeDefault:
		if n, ok := raw.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			return n.Float64()
		}
		return raw, nil
	case TypeString:
		switch x := raw.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
	case TypeInt:
		switch x := raw.(type) {
		case json.Number:
			if i, err := x.Int64(); err == nil {
				return i, nil
			}
		case string:
			if i, err := strconv.ParseInt(x, 10, 64); err == nil {
				return i, nil
			}
		}
	case TypeFloat:
		switch x := raw.(type) {
		case json.Number:
			return x.Float64()
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, nil
			}
		}
	case TypeBool:
		switch x := raw.(type) {
		case bool:
			return x, nil
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b, nil
			}
		}
	case TypeDateTime:
		if s, ok := raw.(string); ok {
			return parseDateTime(s)
		}
	}
	return nil, fmt.Errorf("%w: %v is not %s", ErrConversion, raw, t)
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a datetime", ErrConversion, s)
}

// parseArg converts a query argument to the predicate's type.
func parseArg(arg string, t ValueType) (any, error) {
	switch t {
	case TypeInt:
		return convert(arg, TypeInt)
	case TypeFloat:
		return convert(arg, TypeFloat)
	case TypeBool:
		return convert(arg, TypeBool)
	case TypeDateTime:
		return parseDateTime(arg)
	}
	return arg, nil
}

// compareValues orders a stored scalar against a query argument. ok is
// false when the two cannot be compared.
func compareValues(stored, arg any) (c int, ok bool) {
	switch s := stored.(type) {
	case string:
		a, isStr := arg.(string)
		return strings.Compare(s, a), isStr
	case int64:
		switch a := arg.(type) {
		case int64:
			return cmp.Compare(s, a), true
		case float64:
			return cmp.Compare(float64(s), a), true
		case string:
			if ai, err := strconv.ParseInt(a, 10, 64); err == nil {
				return cmp.Compare(s, ai), true
			}
			if af, err := strconv.ParseFloat(a, 64); err == nil {
				return cmp.Compare(float64(s), af), true
			}
		}
	case float64:
		switch a := arg.(type) {
		case float64:
			return cmp.Compare(s, a), true
		case int64:
			return cmp.Compare(s, float64(a)), true
		case string:
			if af, err := strconv.ParseFloat(a, 64); err == nil {
				return cmp.Compare(s, af), true
			}
		}
	case bool:
		var a bool
		switch x := arg.(type) {
		case bool:
			a = x
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return 0, false
			}
			a = b
		default:
			return 0, false
		}
		if s == a {
			return 0, true
		}
		if !s {
			return -1, true
		}
		return 1, true
	case time.Time:
		if a, isTime := arg.(time.Time); isTime {
			return s.Compare(a), true
		}
	}
	return 0, false
}

// indexToken is the conflict-key form of an indexed value.
func indexToken(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

func formatUID(uid uint64) string {
	return "0x" + strconv.FormatUint(uid, 16)
}

func parseUID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	var (
		uid uint64
		err error
	)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		uid, err = strconv.ParseUint(rest, 16, 64)
	} else {
		uid, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadUID, s)
	}
	return uid, nil
}
