package formula

// Node is the interface all AST nodes implement.
type Node interface {
	node()
}

// FieldRef references another field of the same table: {fldXXX}.
type FieldRef struct {
	ID string
}

// FuncCall represents NAME(arg1, arg2, ...). Name is upper-cased.
type FuncCall struct {
	Func *FuncDef
	Name string
	Args []Node
}

// BinaryOp represents left op right.
type BinaryOp struct {
	Op    string // "=", "!=", ">", ">=", "<", "<=", "+", "-", "*", "/", "&"
	Left  Node
	Right Node
}

// UnaryMinus represents -expr.
type UnaryMinus struct {
	Expr Node
}

// Literal represents a string, number, or boolean literal.
type Literal struct {
	Kind  TokenKind // TokString, TokNumber, TokTrue, TokFalse
	Value string
}

func (*FieldRef) node()   {}
func (*FuncCall) node()   {}
func (*BinaryOp) node()   {}
func (*UnaryMinus) node() {}
func (*Literal) node()    {}

// Refs returns the distinct field ids referenced by n in order of appearance.
func Refs(n Node) []string {
	var ids []string
	seen := make(map[string]bool)
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *FieldRef:
			if !seen[n.ID] {
				seen[n.ID] = true
				ids = append(ids, n.ID)
			}
		case *FuncCall:
			for _, a := range n.Args {
				walk(a)
			}
		case *BinaryOp:
			walk(n.Left)
			walk(n.Right)
		case *UnaryMinus:
			walk(n.Expr)
		}
	}
	walk(n)
	return ids
}
