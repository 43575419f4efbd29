package formula

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect renders the functions whose SQL differs between databases.
type Dialect interface {
	Concat(parts ...string) string
	Round(expr, digits string) string
	Divide(left, right string) string
	Now() string
	Today() string
}

// Resolver returns the SQL expression of a referenced field.
type Resolver func(fieldID string) (string, bool)

// ToSQL translates a parsed formula into a SQL expression. String literals
// become bind arguments.
func ToSQL(n Node, resolve Resolver, d Dialect) (sq.Sqlizer, error) {
	t := &translator{resolve: resolve, dialect: d}
	s, err := t.expr(n)
	if err != nil {
		return nil, err
	}
	return sq.Expr(s, t.args...), nil
}

// Compile parses and translates expression in one step.
func Compile(expression string, resolve Resolver, d Dialect) (sq.Sqlizer, error) {
	n, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	return ToSQL(n, resolve, d)
}

type translator struct {
	resolve Resolver
	dialect Dialect
	args    []any
}

func (t *translator) expr(n Node) (string, error) {
	switch n := n.(type) {
	case *FieldRef:
		s, ok := t.resolve(n.ID)
		if !ok {
			return "", fmt.Errorf("unknown field reference {%s}", n.ID)
		}
		return s, nil

	case *Literal:
		switch n.Kind {
		case TokString:
			t.args = append(t.args, n.Value)
			return "?", nil
		case TokNumber:
			return n.Value, nil
		case TokTrue:
			return "TRUE", nil
		case TokFalse:
			return "FALSE", nil
		}
		return "", fmt.Errorf("unsupported literal %s", n.Kind)

	case *UnaryMinus:
		s, err := t.expr(n.Expr)
		if err != nil {
			return "", err
		}
		return "(-" + s + ")", nil

	case *BinaryOp:
		return t.binary(n)

	case *FuncCall:
		return t.call(n)
	}
	return "", fmt.Errorf("unsupported node %T", n)
}

func (t *translator) binary(n *BinaryOp) (string, error) {
	left, err := t.expr(n.Left)
	if err != nil {
		return "", err
	}
	right, err := t.expr(n.Right)
	if err != nil {
		return "", err
	}
	switch n.Op {
	case "&":
		return t.dialect.Concat(left, right), nil
	case "/":
		return t.dialect.Divide(left, right), nil
	case "!=":
		return fmt.Sprintf("(%s <> %s)", left, right), nil
	case "=", ">", ">=", "<", "<=", "+", "-", "*":
		return fmt.Sprintf("(%s %s %s)", left, n.Op, right), nil
	}
	return "", fmt.Errorf("unsupported operator %q", n.Op)
}

func (t *translator) call(n *FuncCall) (string, error) {
	args := make([]string, 0, len(n.Args))
	for _, a := range n.Args {
		s, err := t.expr(a)
		if err != nil {
			return "", err
		}
		args = append(args, s)
	}

	switch n.Name {
	case "IF":
		otherwise := "NULL"
		if len(args) == 3 {
			otherwise = args[2]
		}
		return fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", args[0], args[1], otherwise), nil
	case "AND":
		return "(" + strings.Join(args, " AND ") + ")", nil
	case "OR":
		return "(" + strings.Join(args, " OR ") + ")", nil
	case "NOT":
		return "(NOT " + args[0] + ")", nil
	case "ROUND":
		digits := "0"
		if len(args) == 2 {
			digits = args[1]
		}
		return t.dialect.Round(args[0], digits), nil
	case "ABS", "UPPER", "LOWER", "TRIM":
		return fmt.Sprintf("%s(%s)", n.Name, args[0]), nil
	case "LEN":
		return fmt.Sprintf("LENGTH(%s)", args[0]), nil
	case "CONCATENATE":
		return t.dialect.Concat(args...), nil
	case "BLANK":
		return "NULL", nil
	case "TODAY":
		return t.dialect.Today(), nil
	case "NOW":
		return t.dialect.Now(), nil
	}
	return "", fmt.Errorf("unsupported function %s", n.Name)
}
