package memgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dd0wney/cluso-graphclient/pkg/validation"
)

// ValueType is the declared type of a predicate.
type ValueType int

const (
	TypeDefault ValueType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeDateTime
	TypeUID
)

var typeNames = map[string]ValueType{
	"default":  TypeDefault,
	"string":   TypeString,
	"int":      TypeInt,
	"float":    TypeFloat,
	"bool":     TypeBool,
	"datetime": TypeDateTime,
	"uid":      TypeUID,
}

func (t ValueType) String() string {
	for name, vt := range typeNames {
		if vt == t {
			return name
		}
	}
	return "unknown"
}

var tokenizers = []string{"exact", "hash", "term", "fulltext", "trigram", "int", "float", "bool", "year", "month", "day", "hour"}

// PredicateSchema describes one predicate.
type PredicateSchema struct {
	Predicate string
	Type      ValueType
	Index     []string
	Reverse   bool
}

// Indexed reports whether the predicate has any tokenizer.
func (p *PredicateSchema) Indexed() bool {
	return len(p.Index) > 0
}

// ParseSchema reads lines of the form
//
//	name: string @index(exact, term) .
//	friend: [uid] @reverse .
//
// Blank lines and lines starting with # are skipped.
func ParseSchema(text string) ([]*PredicateSchema, error) {
	var out []*PredicateSchema
	for n, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ps, err := parseSchemaLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		out = append(out, ps)
	}
	return out, nil
}

func parseSchemaLine(line string) (*PredicateSchema, error) {
	body, ok := strings.CutSuffix(line, ".")
	if !ok {
		return nil, fmt.Errorf("%w: missing trailing '.' in %q", ErrSchemaSyntax, line)
	}
	name, rest, ok := strings.Cut(body, ":")
	if !ok {
		return nil, fmt.Errorf("%w: missing ':' in %q", ErrSchemaSyntax, line)
	}
	name = strings.Trim(strings.TrimSpace(name), "<>")
	if err := validation.ValidatePredicate(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaSyntax, err)
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no type for %s", ErrSchemaSyntax, name)
	}
	typeName := strings.Trim(fields[0], "[]")
	vt, ok := typeNames[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, fields[0])
	}
	ps := &PredicateSchema{Predicate: name, Type: vt}

	directives := strings.Join(fields[1:], " ")
	for directives != "" {
		directives = strings.TrimSpace(directives)
		switch {
		case strings.HasPrefix(directives, "@reverse"):
			if vt != TypeUID {
				return nil, fmt.Errorf("%w: @reverse on non-uid predicate %s", ErrSchemaSyntax, name)
			}
			ps.Reverse = true
			directives = strings.TrimPrefix(directives, "@reverse")
		case strings.HasPrefix(directives, "@index("):
			args, tail, ok := strings.Cut(strings.TrimPrefix(directives, "@index("), ")")
			if !ok {
				return nil, fmt.Errorf("%w: unclosed @index on %s", ErrSchemaSyntax, name)
			}
			for _, tok := range strings.Split(args, ",") {
				tok = strings.TrimSpace(tok)
				if !slices.Contains(tokenizers, tok) {
					return nil, fmt.Errorf("%w: %q", ErrUnknownIndexer, tok)
				}
				ps.Index = append(ps.Index, tok)
			}
			directives = tail
		case directives == "":
		default:
			return nil, fmt.Errorf("%w: unexpected %q", ErrSchemaSyntax, directives)
		}
	}
	if vt == TypeUID && len(ps.Index) > 0 {
		return nil, fmt.Errorf("%w: uid predicate %s cannot be indexed", ErrSchemaSyntax, name)
	}
	return ps, nil
}

// String renders the schema line.
func (p *PredicateSchema) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", p.Predicate, p.Type)
	if len(p.Index) > 0 {
		fmt.Fprintf(&b, " @index(%s)", strings.Join(p.Index, ", "))
	}
	if p.Reverse {
		b.WriteString(" @reverse")
	}
	b.WriteString(" .")
	return b.String()
}
