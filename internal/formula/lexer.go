package formula

import (
	"fmt"
	"strings"
	"unicode"
)

var singleCharTokens = map[rune]TokenKind{
	'(': TokLParen, ')': TokRParen, ',': TokComma, '=': TokEq,
	'+': TokPlus, '-': TokMinus, '*': TokStar, '/': TokSlash, '&': TokAmp,
}

// Lexer tokenizes a formula expression.
type Lexer struct {
	input  []rune
	pos    int
	peeked *Token
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input)}
}

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() (Token, error) {
	if l.peeked != nil {
		return *l.peeked, nil
	}
	tok, err := l.next()
	if err != nil {
		return Token{}, err
	}
	l.peeked = &tok
	return tok, nil
}

// Next consumes and returns the next token.
func (l *Lexer) Next() (Token, error) {
	if l.peeked != nil {
		tok := *l.peeked
		l.peeked = nil
		return tok, nil
	}
	return l.next()
}

func (l *Lexer) next() (Token, error) {
	l.skipWhitespace()
	if l.pos >= len(l.input) {
		return Token{Kind: TokEOF, Pos: l.pos}, nil
	}

	ch := l.input[l.pos]
	pos := l.pos

	if kind, ok := singleCharTokens[ch]; ok {
		l.pos++
		return Token{Kind: kind, Lit: string(ch), Pos: pos}, nil
	}

	switch ch {
	case '!':
		if l.peekRune() == '=' {
			l.pos += 2
			return Token{Kind: TokNeq, Lit: "!=", Pos: pos}, nil
		}
		return Token{}, l.errorf(pos, "unexpected '!', did you mean '!='?")
	case '>':
		if l.peekRune() == '=' {
			l.pos += 2
			return Token{Kind: TokGte, Lit: ">=", Pos: pos}, nil
		}
		l.pos++
		return Token{Kind: TokGt, Lit: ">", Pos: pos}, nil
	case '<':
		switch l.peekRune() {
		case '=':
			l.pos += 2
			return Token{Kind: TokLte, Lit: "<=", Pos: pos}, nil
		case '>':
			l.pos += 2
			return Token{Kind: TokNeq, Lit: "<>", Pos: pos}, nil
		}
		l.pos++
		return Token{Kind: TokLt, Lit: "<", Pos: pos}, nil
	case '"', '\'':
		return l.readString(pos, ch)
	case '{':
		return l.readField(pos)
	default:
		if unicode.IsDigit(ch) {
			return l.readNumber(pos)
		}
		if isIdentStart(ch) {
			return l.readIdent(pos)
		}
		return Token{}, l.errorf(pos, "unexpected character %q", ch)
	}
}

func (l *Lexer) peekRune() rune {
	if l.pos+1 < len(l.input) {
		return l.input[l.pos+1]
	}
	return 0
}

func (l *Lexer) readString(pos int, quote rune) (Token, error) {
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.pos+1 < len(l.input) {
			sb.WriteRune(l.input[l.pos+1])
			l.pos += 2
			continue
		}
		if ch == quote {
			l.pos++
			return Token{Kind: TokString, Lit: sb.String(), Pos: pos}, nil
		}
		sb.WriteRune(ch)
		l.pos++
	}
	return Token{}, l.errorf(pos, "unterminated string literal")
}

func (l *Lexer) readField(pos int) (Token, error) {
	l.pos++
	start := l.pos
	for l.pos < len(l.input) && l.input[l.pos] != '}' {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{}, l.errorf(pos, "unterminated field reference")
	}
	id := strings.TrimSpace(string(l.input[start:l.pos]))
	l.pos++
	if id == "" {
		return Token{}, l.errorf(pos, "empty field reference")
	}
	return Token{Kind: TokField, Lit: id, Pos: pos}, nil
}

func (l *Lexer) readNumber(pos int) (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	return Token{Kind: TokNumber, Lit: string(l.input[start:l.pos]), Pos: pos}, nil
}

func (l *Lexer) readIdent(pos int) (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && isIdentCont(l.input[l.pos]) {
		l.pos++
	}
	lit := string(l.input[start:l.pos])
	kind := TokIdent
	if kw, ok := keywords[strings.ToUpper(lit)]; ok {
		kind = kw
	}
	return Token{Kind: kind, Lit: lit, Pos: pos}, nil
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(l.input[l.pos]) {
		l.pos++
	}
}

func (l *Lexer) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("lexer error at position %d: %s", pos, fmt.Sprintf(format, args...))
}

func isIdentStart(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}

func isIdentCont(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}
