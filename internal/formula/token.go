package formula

import "fmt"

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF    TokenKind = iota
	TokLParen           // (
	TokRParen           // )
	TokComma            // ,
	TokEq               // =
	TokNeq              // != or <>
	TokGt               // >
	TokGte              // >=
	TokLt               // <
	TokLte              // <=
	TokPlus             // +
	TokMinus            // -
	TokStar             // *
	TokSlash            // /
	TokAmp              // &
	TokField            // {fldXXX}
	TokIdent            // function name
	TokString           // "text" or 'text'
	TokNumber           // 42, 3.14
	TokTrue             // TRUE
	TokFalse            // FALSE
)

// Token is a single lexical token produced by the lexer.
type Token struct {
	Kind TokenKind
	Lit  string
	Pos  int
}

func (t Token) String() string {
	if t.Lit != "" {
		return fmt.Sprintf("%s(%q)", t.Kind, t.Lit)
	}
	return t.Kind.String()
}

var kindNames = map[TokenKind]string{
	TokEOF:    "EOF",
	TokLParen: "(",
	TokRParen: ")",
	TokComma:  ",",
	TokEq:     "=",
	TokNeq:    "!=",
	TokGt:     ">",
	TokGte:    ">=",
	TokLt:     "<",
	TokLte:    "<=",
	TokPlus:   "+",
	TokMinus:  "-",
	TokStar:   "*",
	TokSlash:  "/",
	TokAmp:    "&",
	TokField:  "field",
	TokIdent:  "identifier",
	TokString: "string",
	TokNumber: "number",
	TokTrue:   "TRUE",
	TokFalse:  "FALSE",
}

func (k TokenKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Keywords are case-insensitive.
var keywords = map[string]TokenKind{
	"TRUE":  TokTrue,
	"FALSE": TokFalse,
}
