package dialect

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/filter"
	"github.com/atlekbai/record_query/internal/schema"
	"go.uber.org/zap"
)

// filterOps is the engine-specific vocabulary the shared filter builder uses.
type filterOps interface {
	likeOp() string
	text(expr string) string
	jsonField(expr, key string) string
	// elements is a FROM item yielding one row per array element of expr,
	// with elem the element as text and obj the element as a JSON object.
	elements(expr string) (from, elem, obj string)
	containsAll(expr string, values []string, key string) sq.Sqlizer
	arrayLength(expr string) string
	arrayEmpty(expr string) string
	day(f *schema.Field, expr string) string
}

type filterBuilder struct {
	ops filterOps
}

func (b filterBuilder) Build(f *filter.Filter, ctx FilterContext) sq.Sqlizer {
	if ctx.Logger == nil {
		ctx.Logger = zap.NewNop()
	}
	return b.node(f, ctx)
}

func (b filterBuilder) node(f *filter.Filter, ctx FilterContext) sq.Sqlizer {
	if f == nil {
		return nil
	}
	if f.IsLeaf() {
		cond, err := b.leaf(f, ctx)
		if err != nil {
			ctx.Logger.Debug("filter item skipped",
				zap.String("field", f.FieldID),
				zap.String("operator", string(f.Operator)),
				zap.Error(err))
			return nil
		}
		return cond
	}

	var parts []sq.Sqlizer
	for _, child := range f.FilterSet {
		if c := b.node(child, ctx); c != nil {
			parts = append(parts, c)
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	if f.Conjunction == filter.Or {
		return sq.Or(parts)
	}
	return sq.And(parts)
}

func (b filterBuilder) Empty(f *schema.Field, expr string) string {
	c := schema.Classify(f)
	switch {
	case c.Multiple:
		return fmt.Sprintf("(%s IS NULL OR %s)", expr, b.ops.arrayEmpty(expr))
	case c.Shape != schema.ShapeJSON && (c.Value == schema.ValueText || c.Value == schema.ValueSingleSelect):
		return fmt.Sprintf("(%s IS NULL OR %s = '')", expr, expr)
	}
	return expr + " IS NULL"
}

func (b filterBuilder) leaf(l *filter.Filter, ctx FilterContext) (sq.Sqlizer, error) {
	if !l.Operator.Valid() {
		return nil, fmt.Errorf("unknown operator %q", l.Operator)
	}
	f, expr, ok := ctx.Resolve(l.FieldID)
	if !ok {
		return nil, fmt.Errorf("field %s not resolvable", l.FieldID)
	}

	switch l.Operator {
	case filter.OpIsEmpty:
		return sq.Expr(b.Empty(f, expr)), nil
	case filter.OpIsNotEmpty:
		return sq.Expr("NOT " + b.Empty(f, expr)), nil
	}

	if ref, ok := filter.AsFieldRef(l.Value); ok {
		return b.refLeaf(l, f, expr, ref, ctx)
	}

	c := schema.Classify(f)
	values := filter.Values(l.Value)
	if c.Value == schema.ValueUser {
		values = resolveMe(values, ctx.CurrentUserID)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("operator %s needs a value", l.Operator)
	}
	if c.Multiple {
		return b.arrayLeaf(l.Operator, c, expr, values)
	}
	return b.scalarLeaf(l.Operator, f, c, expr, values)
}

// refLeaf compares the field against another field's expression.
func (b filterBuilder) refLeaf(l *filter.Filter, f *schema.Field, expr, ref string, ctx FilterContext) (sq.Sqlizer, error) {
	if ctx.ResolveRef == nil {
		return nil, fmt.Errorf("field references are not available here")
	}
	other, ok := ctx.ResolveRef(ref)
	if !ok {
		return nil, fmt.Errorf("referenced field %s not resolvable", ref)
	}
	if schema.Classify(f).Multiple {
		return nil, fmt.Errorf("field references on multi-valued fields are not supported")
	}
	op, ok := comparisonOps[l.Operator]
	if !ok {
		return nil, fmt.Errorf("operator %s does not accept field references", l.Operator)
	}
	return sq.Expr(fmt.Sprintf("%s %s %s", expr, op, other)), nil
}

var comparisonOps = map[filter.Operator]string{
	filter.OpIs:             "=",
	filter.OpIsNot:          "<>",
	filter.OpIsGreater:      ">",
	filter.OpIsGreaterEqual: ">=",
	filter.OpIsLess:         "<",
	filter.OpIsLessEqual:    "<=",
}

func (b filterBuilder) scalarLeaf(op filter.Operator, f *schema.Field, c schema.Class, expr string, values []string) (sq.Sqlizer, error) {
	switch c.Value {
	case schema.ValueBoolean:
		return b.booleanLeaf(op, expr, values[0])
	case schema.ValueLink, schema.ValueUser:
		if op == filter.OpContains || op == filter.OpDoesNotContain {
			return b.likeLeaf(op, b.ops.jsonField(expr, "title"), values[0]), nil
		}
		expr = b.ops.jsonField(expr, "id")
	case schema.ValueDateTime:
		expr = b.ops.day(f, expr)
		days := make([]string, len(values))
		for i, v := range values {
			days[i] = dayValue(v)
		}
		values = days
	}

	switch op {
	case filter.OpContains, filter.OpDoesNotContain:
		return b.likeLeaf(op, b.ops.text(expr), values[0]), nil
	case filter.OpIsAnyOf:
		return sq.Eq{expr: typedArgs(c, values)}, nil
	case filter.OpIsNoneOf:
		return sq.Or{sq.Expr(expr + " IS NULL"), sq.NotEq{expr: typedArgs(c, values)}}, nil
	case filter.OpIsNot:
		return sq.Or{sq.Expr(expr + " IS NULL"), sq.Expr(expr+" <> ?", typedArg(c, values[0]))}, nil
	}
	if sqlOp, ok := comparisonOps[op]; ok {
		if op != filter.OpIs && !orderable(c.Value) {
			return nil, fmt.Errorf("operator %s not supported for %s", op, c.Value)
		}
		return sq.Expr(fmt.Sprintf("%s %s ?", expr, sqlOp), typedArg(c, values[0])), nil
	}
	return nil, fmt.Errorf("operator %s not supported for single %s", op, c.Value)
}

func (b filterBuilder) booleanLeaf(op filter.Operator, expr, value string) (sq.Sqlizer, error) {
	want, err := strconv.ParseBool(value)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", value)
	}
	switch op {
	case filter.OpIs:
	case filter.OpIsNot:
		want = !want
	default:
		return nil, fmt.Errorf("operator %s not supported for boolean", op)
	}
	if want {
		return sq.Expr(expr + " = TRUE"), nil
	}
	return sq.Expr(fmt.Sprintf("(%s IS NULL OR %s = FALSE)", expr, expr)), nil
}

func (b filterBuilder) likeLeaf(op filter.Operator, expr, value string) sq.Sqlizer {
	pattern := "%" + escapeLike(value) + "%"
	if op == filter.OpDoesNotContain {
		return sq.Expr(fmt.Sprintf("(%s IS NULL OR %s NOT %s ? ESCAPE '\\')", expr, expr, b.ops.likeOp()), pattern)
	}
	return sq.Expr(fmt.Sprintf("%s %s ? ESCAPE '\\'", expr, b.ops.likeOp()), pattern)
}

func (b filterBuilder) arrayLeaf(op filter.Operator, c schema.Class, expr string, values []string) (sq.Sqlizer, error) {
	from, elem, obj := b.ops.elements(expr)
	key := ""
	if c.Value == schema.ValueLink || c.Value == schema.ValueUser {
		key = "id"
		elem = b.ops.jsonField(obj, "id")
	}

	exists := func(pred string, args ...any) sq.Sqlizer {
		return sq.Expr(fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", from, pred), args...)
	}
	notExists := func(pred string, args ...any) sq.Sqlizer {
		return sq.Expr(fmt.Sprintf("(%s IS NULL OR NOT EXISTS (SELECT 1 FROM %s WHERE %s))", expr, from, pred), args...)
	}
	in := fmt.Sprintf("%s IN (%s)", elem, sq.Placeholders(len(values)))

	switch op {
	case filter.OpIs, filter.OpHasAnyOf, filter.OpIsAnyOf:
		return exists(in, anyArgs(values)...), nil
	case filter.OpIsNot, filter.OpHasNoneOf, filter.OpIsNoneOf:
		return notExists(in, anyArgs(values)...), nil
	case filter.OpHasAllOf:
		return b.ops.containsAll(expr, values, key), nil
	case filter.OpIsExactly:
		distinct := slices.Compact(slices.Sorted(slices.Values(values)))
		return sq.And{
			b.ops.containsAll(expr, distinct, key),
			sq.Expr(fmt.Sprintf("%s = ?", b.ops.arrayLength(expr)), len(distinct)),
		}, nil
	case filter.OpContains, filter.OpDoesNotContain:
		if key != "" {
			elem = b.ops.jsonField(obj, "title")
		}
		pred := fmt.Sprintf("%s %s ? ESCAPE '\\'", b.ops.text(elem), b.ops.likeOp())
		pattern := "%" + escapeLike(values[0]) + "%"
		if op == filter.OpDoesNotContain {
			return notExists(pred, pattern), nil
		}
		return exists(pred, pattern), nil
	}
	return nil, fmt.Errorf("operator %s not supported for multiple %s", op, c.Value)
}

func resolveMe(values []string, currentUserID string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == filter.Me {
			if currentUserID == "" {
				continue
			}
			v = currentUserID
		}
		out = append(out, v)
	}
	return out
}

func orderable(k schema.ValueKind) bool {
	switch k {
	case schema.ValueNumber, schema.ValueDateTime, schema.ValueText:
		return true
	}
	return false
}

// typedArg binds numbers as float64 so engines without column affinity
// still compare numerically.
func typedArg(c schema.Class, v string) any {
	if c.Value == schema.ValueNumber {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return v
}

func typedArgs(c schema.Class, values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = typedArg(c, v)
	}
	return out
}

func anyArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
