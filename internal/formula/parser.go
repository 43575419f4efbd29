package formula

import (
	"fmt"
	"strings"
)

// Parse parses a formula expression into an AST.
func Parse(input string) (Node, error) {
	p := &parser{lexer: NewLexer(input)}
	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != TokEOF {
		return nil, p.errorf(tok.Pos, "unexpected %s, expected end of expression", tok.Kind)
	}
	return node, nil
}

type parser struct {
	lexer *Lexer
}

// parseComparison: concat [ cmpOp concat ]
func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if !isComparisonOp(tok.Kind) {
		return left, nil
	}
	p.advance()
	right, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	op := tok.Lit
	if op == "<>" {
		op = "!="
	}
	return &BinaryOp{Op: op, Left: left, Right: right}, nil
}

// parseConcat: additive { "&" additive }
func (p *parser) parseConcat() (Node, error) {
	return p.parseLeftAssoc(p.parseAdditive, TokAmp)
}

// parseAdditive: term { ("+" | "-") term }
func (p *parser) parseAdditive() (Node, error) {
	return p.parseLeftAssoc(p.parseTerm, TokPlus, TokMinus)
}

// parseTerm: unary { ("*" | "/") unary }
func (p *parser) parseTerm() (Node, error) {
	return p.parseLeftAssoc(p.parseUnary, TokStar, TokSlash)
}

func (p *parser) parseLeftAssoc(operand func() (Node, error), kinds ...TokenKind) (Node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if !isOneOf(tok.Kind, kinds) {
			return left, nil
		}
		p.advance()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Op: tok.Lit, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind == TokMinus {
		p.advance()
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryMinus{Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok, err := p.peek()
	if err != nil {
		return nil, err
	}

	switch tok.Kind {
	case TokField:
		p.advance()
		return &FieldRef{ID: tok.Lit}, nil
	case TokString, TokNumber, TokTrue, TokFalse:
		p.advance()
		return &Literal{Kind: tok.Kind, Value: tok.Lit}, nil
	case TokIdent:
		return p.parseFuncCall()
	case TokLParen:
		p.advance()
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, p.errorf(tok.Pos, "unexpected %s, expected expression", tok.Kind)
	}
}

// parseFuncCall handles NAME(args...). Zero-argument functions may omit the parens.
func (p *parser) parseFuncCall() (Node, error) {
	tok, err := p.lexer.Next()
	if err != nil {
		return nil, err
	}
	name := strings.ToUpper(tok.Lit)
	def, ok := GetFunction(name)
	if !ok {
		return nil, p.errorf(tok.Pos, "unknown function %q", tok.Lit)
	}

	next, err := p.peek()
	if err != nil {
		return nil, err
	}
	if next.Kind != TokLParen {
		if def.MinArgs > 0 {
			return nil, p.errorf(tok.Pos, "function %q requires arguments", name)
		}
		return &FuncCall{Func: def, Name: name}, nil
	}
	p.advance()

	var args []Node
	for {
		next, err = p.peek()
		if err != nil {
			return nil, err
		}
		if next.Kind == TokRParen {
			break
		}
		if len(args) > 0 {
			if err := p.expect(TokComma); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.advance()

	if len(args) < def.MinArgs || (def.MaxArgs >= 0 && len(args) > def.MaxArgs) {
		switch {
		case def.MinArgs == def.MaxArgs:
			return nil, p.errorf(tok.Pos, "function %q requires exactly %d argument(s), got %d", name, def.MinArgs, len(args))
		case def.MaxArgs < 0:
			return nil, p.errorf(tok.Pos, "function %q requires at least %d argument(s), got %d", name, def.MinArgs, len(args))
		default:
			return nil, p.errorf(tok.Pos, "function %q requires %d to %d arguments, got %d", name, def.MinArgs, def.MaxArgs, len(args))
		}
	}
	return &FuncCall{Func: def, Name: name, Args: args}, nil
}

func isComparisonOp(k TokenKind) bool {
	switch k {
	case TokEq, TokNeq, TokGt, TokGte, TokLt, TokLte:
		return true
	}
	return false
}

func isOneOf(k TokenKind, kinds []TokenKind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func (p *parser) peek() (Token, error) {
	return p.lexer.Peek()
}

func (p *parser) advance() {
	p.lexer.Next() //nolint:errcheck
}

func (p *parser) expect(kind TokenKind) error {
	tok, err := p.lexer.Next()
	if err != nil {
		return err
	}
	if tok.Kind != kind {
		return p.errorf(tok.Pos, "expected %s, got %s", kind, tok.Kind)
	}
	return nil
}

func (p *parser) errorf(pos int, format string, args ...any) error {
	return fmt.Errorf("parse error at position %d: %s", pos, fmt.Sprintf(format, args...))
}
