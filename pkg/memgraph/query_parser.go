package memgraph

import (
	"fmt"
	"strings"
)

// Document is a parsed query: one or more named blocks.
type Document struct {
	Name   string
	Blocks []*Block
}

// Block selects root nodes with a function and renders Fields for each.
type Block struct {
	Alias  string
	Func   *Function
	Fields []*Field
}

// Function is a root selector such as uid(0x1) or eq(name, "x").
type Function struct {
	Name      string
	Predicate string
	Args      []string
}

// Field is one selected predicate, optionally with a nested selection.
type Field struct {
	Alias     string
	Predicate string
	Reverse   bool
	Children  []*Field
}

// Key returns the name the field is rendered under.
func (f *Field) Key() string {
	if f.Alias != "" {
		return f.Alias
	}
	if f.Reverse {
		return "~" + f.Predicate
	}
	return f.Predicate
}

var compareFuncs = map[string]bool{"eq": true, "le": true, "lt": true, "ge": true, "gt": true}

// Parser builds a Document from tokens
type Parser struct {
	tokens []Token
	pos    int
	vars   map[string]string
	known  map[string]string
}

// ParseQuery parses q, substituting vars for the $variables it declares.
func ParseQuery(q string, vars map[string]string) (*Document, error) {
	tokens, err := NewLexer(q).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens, vars: vars, known: make(map[string]string)}
	return p.parse()
}

func (p *Parser) parse() (*Document, error) {
	doc := &Document{}
	if tok := p.peek(); tok.Type == TokenWord && tok.Value == "query" {
		p.advance()
		if p.peek().Type == TokenWord {
			doc.Name = p.advance().Value
		}
		if p.peek().Type == TokenLeftParen {
			if err := p.parseVarDecls(); err != nil {
				return nil, err
			}
		}
	}

	if _, err := p.expect(TokenLeftBrace); err != nil {
		return nil, err
	}
	for p.peek().Type != TokenRightBrace {
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		doc.Blocks = append(doc.Blocks, block)
	}
	p.advance()
	if _, err := p.expect(TokenEOF); err != nil {
		return nil, err
	}
	if len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("%w: query has no blocks", ErrQuerySyntax)
	}
	return doc, nil
}

// parseVarDecls reads ($a: string, $b: int = 5).
func (p *Parser) parseVarDecls() error {
	p.advance()
	for p.peek().Type != TokenRightParen {
		name, err := p.expect(TokenVariable)
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenColon); err != nil {
			return err
		}
		if _, err := p.expect(TokenWord); err != nil {
			return err
		}

		if v, ok := p.vars[name.Value]; ok {
			p.known[name.Value] = v
		}
		if p.peek().Type == TokenEquals {
			p.advance()
			def := p.advance()
			if def.Type != TokenWord && def.Type != TokenString {
				return p.errorf(def, "default value")
			}
			if _, ok := p.known[name.Value]; !ok {
				p.known[name.Value] = def.Value
			}
		}
		if p.peek().Type == TokenComma {
			p.advance()
		}
	}
	p.advance()
	return nil
}

func (p *Parser) parseBlock() (*Block, error) {
	alias, err := p.expect(TokenWord)
	if err != nil {
		return nil, err
	}
	block := &Block{Alias: alias.Value}

	if _, err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}
	if kw, err := p.expect(TokenWord); err != nil || kw.Value != "func" {
		return nil, fmt.Errorf("%w: block %s needs func:", ErrQuerySyntax, block.Alias)
	}
	if _, err := p.expect(TokenColon); err != nil {
		return nil, err
	}
	if block.Func, err = p.parseFunction(); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type == TokenAt {
		return nil, fmt.Errorf("%w: directives are not supported (line %d)", ErrQuerySyntax, tok.Line)
	}

	if block.Fields, err = p.parseSelection(); err != nil {
		return nil, err
	}
	return block, nil
}

func (p *Parser) parseFunction() (*Function, error) {
	name, err := p.expect(TokenWord)
	if err != nil {
		return nil, err
	}
	fn := &Function{Name: name.Value}
	if _, err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}

	var args []string
	for p.peek().Type != TokenRightParen {
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().Type == TokenComma {
			p.advance()
		}
	}
	p.advance()

	switch {
	case fn.Name == "uid":
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: uid() needs at least one uid", ErrQuerySyntax)
		}
		for _, a := range args {
			for _, part := range strings.Split(a, ",") {
				fn.Args = append(fn.Args, strings.TrimSpace(part))
			}
		}
	case fn.Name == "has":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: has() takes one predicate", ErrQuerySyntax)
		}
		fn.Predicate = args[0]
	case compareFuncs[fn.Name]:
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: %s() takes a predicate and a value", ErrQuerySyntax, fn.Name)
		}
		fn.Predicate, fn.Args = args[0], args[1:]
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, fn.Name)
	}
	return fn, nil
}

func (p *Parser) parseArg() (string, error) {
	tok := p.advance()
	switch tok.Type {
	case TokenWord, TokenString:
		return tok.Value, nil
	case TokenVariable:
		v, ok := p.known[tok.Value]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUndefinedVar, tok.Value)
		}
		return v, nil
	}
	return "", p.errorf(tok, "function argument")
}

func (p *Parser) parseSelection() ([]*Field, error) {
	if _, err := p.expect(TokenLeftBrace); err != nil {
		return nil, err
	}
	var fields []*Field
	for p.peek().Type != TokenRightBrace {
		f, err := p.parseField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	p.advance()
	return fields, nil
}

func (p *Parser) parseField() (*Field, error) {
	name, err := p.expect(TokenWord)
	if err != nil {
		return nil, err
	}
	f := &Field{}
	pred := name.Value
	if p.peek().Type == TokenColon {
		p.advance()
		target, err := p.expect(TokenWord)
		if err != nil {
			return nil, err
		}
		f.Alias, pred = name.Value, target.Value
	}
	if rest, ok := strings.CutPrefix(pred, "~"); ok {
		f.Reverse, pred = true, rest
	}
	f.Predicate = pred

	switch p.peek().Type {
	case TokenAt:
		return nil, fmt.Errorf("%w: directives are not supported (line %d)", ErrQuerySyntax, p.peek().Line)
	case TokenLeftBrace:
		if f.Children, err = p.parseSelection(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.errorf(tok, tt.String())
	}
	return tok, nil
}

func (p *Parser) errorf(tok Token, want string) error {
	got := tok.Type.String()
	if tok.Value != "" {
		got = fmt.Sprintf("%q", tok.Value)
	}
	return fmt.Errorf("%w: expected %s, got %s at line %d, column %d", ErrQuerySyntax, want, got, tok.Line, tok.Column)
}
