package memgraph

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a query token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenWord
	TokenString
	TokenVariable
	TokenLeftParen
	TokenRightParen
	TokenLeftBrace
	TokenRightBrace
	TokenComma
	TokenColon
	TokenEquals
	TokenAt
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of query"
	case TokenWord:
		return "name"
	case TokenString:
		return "string"
	case TokenVariable:
		return "variable"
	case TokenLeftParen:
		return "'('"
	case TokenRightParen:
		return "')'"
	case TokenLeftBrace:
		return "'{'"
	case TokenRightBrace:
		return "'}'"
	case TokenComma:
		return "','"
	case TokenColon:
		return "':'"
	case TokenEquals:
		return "'='"
	case TokenAt:
		return "'@'"
	}
	return "unknown"
}

// Token represents a lexical token
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
}

// Lexer tokenizes a query string
type Lexer struct {
	input  string
	pos    int
	line   int
	column int
	tokens []Token
}

// NewLexer creates a new lexer
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, column: 1}
}

// Tokenize converts the input string into tokens
func (l *Lexer) Tokenize() ([]Token, error) {
	for l.pos < len(l.input) {
		ch := l.peek()
		switch {
		case unicode.IsSpace(rune(ch)):
			l.advance()
		case ch == '#':
			for l.pos < len(l.input) && l.peek() != '\n' {
				l.advance()
			}
		default:
			tok, err := l.nextToken()
			if err != nil {
				return nil, err
			}
			l.tokens = append(l.tokens, tok)
		}
	}
	l.tokens = append(l.tokens, Token{Type: TokenEOF, Line: l.line, Column: l.column})
	return l.tokens, nil
}

func (l *Lexer) nextToken() (Token, error) {
	line, col := l.line, l.column
	single := map[byte]TokenType{
		'(': TokenLeftParen, ')': TokenRightParen,
		'{': TokenLeftBrace, '}': TokenRightBrace,
		',': TokenComma, ':': TokenColon, '=': TokenEquals, '@': TokenAt,
	}

	ch := l.peek()
	if tt, ok := single[ch]; ok {
		l.advance()
		return Token{Type: tt, Value: string(ch), Line: line, Column: col}, nil
	}
	switch {
	case ch == '"':
		return l.readString()
	case ch == '$':
		l.advance()
		name := l.readWord()
		if name == "" {
			return Token{}, fmt.Errorf("%w: empty variable name at line %d, column %d", ErrQuerySyntax, line, col)
		}
		return Token{Type: TokenVariable, Value: "$" + name, Line: line, Column: col}, nil
	case isWordChar(ch):
		return Token{Type: TokenWord, Value: l.readWord(), Line: line, Column: col}, nil
	}
	return Token{}, fmt.Errorf("%w: unexpected character '%c' at line %d, column %d", ErrQuerySyntax, ch, line, col)
}

func isWordChar(ch byte) bool {
	return ch == '_' || ch == '.' || ch == '~' || ch == '-' || ch == '+' ||
		unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch))
}

func (l *Lexer) readWord() string {
	start := l.pos
	for l.pos < len(l.input) && isWordChar(l.peek()) {
		l.advance()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readString() (Token, error) {
	line, col := l.line, l.column
	l.advance()

	var b strings.Builder
	for {
		if l.pos >= len(l.input) {
			return Token{}, fmt.Errorf("%w: unterminated string at line %d", ErrQuerySyntax, line)
		}
		ch := l.advance()
		switch ch {
		case '"':
			return Token{Type: TokenString, Value: b.String(), Line: line, Column: col}, nil
		case '\\':
			if l.pos >= len(l.input) {
				return Token{}, fmt.Errorf("%w: unterminated string at line %d", ErrQuerySyntax, line)
			}
			switch esc := l.advance(); esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
		default:
			b.WriteByte(ch)
		}
	}
}

func (l *Lexer) peek() byte {
	return l.input[l.pos]
}

func (l *Lexer) advance() byte {
	ch := l.input[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return ch
}
