package formula

// FuncDef describes a formula function.
type FuncDef struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 for variadic
}

// Functions is the registry of supported formula functions, keyed by upper-case name.
var Functions = map[string]*FuncDef{
	"IF":          {Name: "IF", MinArgs: 2, MaxArgs: 3},
	"AND":         {Name: "AND", MinArgs: 1, MaxArgs: -1},
	"OR":          {Name: "OR", MinArgs: 1, MaxArgs: -1},
	"NOT":         {Name: "NOT", MinArgs: 1, MaxArgs: 1},
	"ROUND":       {Name: "ROUND", MinArgs: 1, MaxArgs: 2},
	"ABS":         {Name: "ABS", MinArgs: 1, MaxArgs: 1},
	"UPPER":       {Name: "UPPER", MinArgs: 1, MaxArgs: 1},
	"LOWER":       {Name: "LOWER", MinArgs: 1, MaxArgs: 1},
	"LEN":         {Name: "LEN", MinArgs: 1, MaxArgs: 1},
	"TRIM":        {Name: "TRIM", MinArgs: 1, MaxArgs: 1},
	"CONCATENATE": {Name: "CONCATENATE", MinArgs: 1, MaxArgs: -1},
	"BLANK":       {Name: "BLANK", MinArgs: 0, MaxArgs: 0},
	"TODAY":       {Name: "TODAY", MinArgs: 0, MaxArgs: 0},
	"NOW":         {Name: "NOW", MinArgs: 0, MaxArgs: 0},
}

// GetFunction returns the FuncDef for an upper-case name.
func GetFunction(name string) (*FuncDef, bool) {
	f, ok := Functions[name]
	return f, ok
}
