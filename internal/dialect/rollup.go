package dialect

import (
	"regexp"
	"strings"
)

// RollupFunc aggregates the values reached through a link.
type RollupFunc string

const (
	RollupSum          RollupFunc = "sum"
	RollupAverage      RollupFunc = "average"
	RollupCount        RollupFunc = "count"
	RollupCountAll     RollupFunc = "countall"
	RollupCountA       RollupFunc = "counta"
	RollupMax          RollupFunc = "max"
	RollupMin          RollupFunc = "min"
	RollupAnd          RollupFunc = "and"
	RollupOr           RollupFunc = "or"
	RollupArrayJoin    RollupFunc = "array_join"
	RollupArrayUnique  RollupFunc = "array_unique"
	RollupArrayCompact RollupFunc = "array_compact"
	RollupConcatenate  RollupFunc = "concatenate"
)

var rollupFuncs = map[RollupFunc]bool{
	RollupSum: true, RollupAverage: true, RollupCount: true, RollupCountAll: true,
	RollupCountA: true, RollupMax: true, RollupMin: true, RollupAnd: true, RollupOr: true,
	RollupArrayJoin: true, RollupArrayUnique: true, RollupArrayCompact: true,
	RollupConcatenate: true,
}

var rollupExpr = regexp.MustCompile(`^\s*([A-Za-z_]+)\(\s*\{values\}\s*\)\s*$`)

// ParseRollup reads an expression of the form fn({values}).
func ParseRollup(expression string) (RollupFunc, bool) {
	m := rollupExpr.FindStringSubmatch(expression)
	if m == nil {
		return "", false
	}
	fn := RollupFunc(strings.ToLower(m[1]))
	return fn, rollupFuncs[fn]
}

// ProducesArray reports whether fn yields a JSON array rather than a scalar.
func (fn RollupFunc) ProducesArray() bool {
	return fn == RollupArrayUnique || fn == RollupArrayCompact
}
