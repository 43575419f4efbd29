package dialect

import (
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/schema"
)

type sqlite struct{}

var sqliteDialect Dialect = sqlite{}

func (sqlite) Name() string                      { return SQLite }
func (sqlite) Placeholder() sq.PlaceholderFormat { return questionFormat{} }
func (sqlite) Sort() SortAdapter                 { return sqliteSort{} }
func (sqlite) Filter() FilterAdapter             { return filterBuilder{ops: sqliteFilterOps{}} }
func (sqlite) Functions() Functions              { return sqliteFunctions{} }

func (sqlite) Aggregation() AggregationAdapter {
	return aggregator{ops: sqliteAggregationOps{}, filter: filterBuilder{ops: sqliteFilterOps{}}}
}

// sqliteJSON makes expr safe for json_each: non-JSON text becomes a JSON string.
func sqliteJSON(expr string) string {
	return fmt.Sprintf("CASE WHEN json_valid(%s) THEN %s ELSE json_quote(%s) END", expr, expr, expr)
}

// sqliteFirst is the first array element, or the raw value when the cell is not an array.
func sqliteFirst(expr string) string {
	return fmt.Sprintf("CASE WHEN json_valid(%s) AND json_type(%s) = 'array' THEN json_extract(%s, '$[0]') ELSE %s END",
		expr, expr, expr, expr)
}

func sqliteChoicePosition(f *schema.Field, value string) string {
	doc, _ := json.Marshal(f.ChoiceNames())
	return fmt.Sprintf("(SELECT key FROM json_each(%s) WHERE value = %s)", QuoteLit(string(doc)), value)
}

func sqliteLocalTime(pattern string, f *schema.Field, expr string) string {
	if mod := sqliteOffsetModifier(f.TimeZone()); mod != "" {
		return fmt.Sprintf("strftime(%s, %s, %s)", QuoteLit(pattern), expr, QuoteLit(mod))
	}
	return fmt.Sprintf("strftime(%s, %s)", QuoteLit(pattern), expr)
}

type sqliteSort struct{}

func (s sqliteSort) Apply(qb sq.SelectBuilder, f *schema.Field, expr string, order Order) sq.SelectBuilder {
	return qb.OrderBy(s.Clause(f, expr, order)...)
}

func (s sqliteSort) Clause(f *schema.Field, expr string, order Order) []string {
	c := schema.Classify(f)
	if c.Multiple {
		return orderItems(order, s.multiple(f, c, expr)...)
	}
	return orderItems(order, s.single(f, c, expr)...)
}

func (sqliteSort) single(f *schema.Field, c schema.Class, expr string) []string {
	switch c.Value {
	case schema.ValueDateTime:
		if f.HasTime() {
			return []string{expr}
		}
		return []string{sqliteLocalTime(sqliteDatePattern(f), f, expr)}
	case schema.ValueSingleSelect:
		return []string{sqliteChoicePosition(f, expr)}
	case schema.ValueMultiSelect:
		return []string{sqliteChoicePosition(f, sqliteFirst(expr))}
	case schema.ValueLink, schema.ValueUser:
		return []string{fmt.Sprintf("json_extract(%s, '$.title')", expr)}
	}
	return []string{expr}
}

func (sqliteSort) multiple(f *schema.Field, c schema.Class, expr string) []string {
	first := sqliteFirst(expr)

	switch c.Value {
	case schema.ValueMultiSelect, schema.ValueSingleSelect:
		return []string{sqliteChoicePosition(f, first), expr}
	case schema.ValueDateTime:
		if f.HasTime() {
			return []string{first, expr}
		}
		return []string{sqliteLocalTime(sqliteDatePattern(f), f, first), expr}
	case schema.ValueNumber:
		p, ok := f.Precision()
		if !ok {
			return []string{first, expr}
		}
		rounded := fmt.Sprintf("(SELECT json_group_array(ROUND(value, %d)) FROM json_each(%s))", p, sqliteJSON(expr))
		return []string{fmt.Sprintf("ROUND(%s, %d)", first, p), rounded}
	case schema.ValueLink, schema.ValueUser:
		titles := fmt.Sprintf("(SELECT json_group_array(json_extract(value, '$.title')) FROM json_each(%s))", sqliteJSON(expr))
		return []string{fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s END", expr, titles)}
	}
	return []string{first, expr}
}

type sqliteFilterOps struct{}

func (sqliteFilterOps) likeOp() string          { return "LIKE" }
func (sqliteFilterOps) text(expr string) string { return "CAST(" + expr + " AS TEXT)" }

func (sqliteFilterOps) jsonField(expr, key string) string {
	return fmt.Sprintf("json_extract(%s, %s)", expr, QuoteLit("$."+key))
}

func (sqliteFilterOps) elements(expr string) (string, string, string) {
	return "json_each(" + sqliteJSON(expr) + ") AS x", "x.value", "x.value"
}

func (o sqliteFilterOps) containsAll(expr string, values []string, key string) sq.Sqlizer {
	elem := "x.value"
	if key != "" {
		elem = o.jsonField("x.value", key)
	}
	distinct := make(map[string]bool, len(values))
	args := make([]any, 0, len(values)+1)
	for _, v := range values {
		distinct[v] = true
		args = append(args, v)
	}
	args = append(args, len(distinct))
	return sq.Expr(fmt.Sprintf("(SELECT COUNT(DISTINCT %s) FROM json_each(%s) AS x WHERE %s IN (%s)) = ?",
		elem, sqliteJSON(expr), elem, sq.Placeholders(len(values))), args...)
}

func (sqliteFilterOps) arrayLength(expr string) string {
	return "json_array_length(" + sqliteJSON(expr) + ")"
}

func (sqliteFilterOps) arrayEmpty(expr string) string {
	return fmt.Sprintf("(json_valid(%s) AND json_type(%s) = 'array' AND json_array_length(%s) = 0)", expr, expr, expr)
}

func (sqliteFilterOps) day(f *schema.Field, expr string) string {
	return sqliteLocalTime("%Y-%m-%d", f, expr)
}

type sqliteAggregationOps struct{}

func (sqliteAggregationOps) number(expr string) string      { return expr }
func (sqliteAggregationOps) timestamp(expr string) string   { return expr }
func (sqliteAggregationOps) distinctKey(expr string) string { return expr }

func (sqliteAggregationOps) dayRange(max, min string) string {
	return fmt.Sprintf("CAST(julianday(%s) - julianday(%s) AS INTEGER)", max, min)
}

func (sqliteAggregationOps) groupKey(_ schema.Class, expr string) string { return expr }

type sqliteFunctions struct{}

func (sqliteFunctions) Concat(parts ...string) string {
	wrapped := make([]string, len(parts))
	for i, p := range parts {
		wrapped[i] = "COALESCE(CAST(" + p + " AS TEXT), '')"
	}
	return "(" + strings.Join(wrapped, " || ") + ")"
}

func (sqliteFunctions) Round(expr, digits string) string {
	return fmt.Sprintf("ROUND(%s, %s)", expr, digits)
}

func (sqliteFunctions) Divide(left, right string) string {
	return fmt.Sprintf("(CAST(%s AS REAL) / NULLIF(%s, 0))", left, right)
}

func (sqliteFunctions) Now() string   { return "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')" }
func (sqliteFunctions) Today() string { return "date('now')" }

// JSONAgg assembles the array from JSON fragments so object elements stay
// objects after passing through a CTE.
func (sqliteFunctions) JSONAgg(value, orderBy string, isJSON bool) string {
	frag := value
	if !isJSON {
		frag = "json_quote(" + value + ")"
	}
	return fmt.Sprintf(
		"CASE WHEN COUNT(%s) = 0 THEN NULL ELSE json('[' || group_concat(%s, ',' ORDER BY %s) FILTER (WHERE %s IS NOT NULL) || ']') END",
		value, frag, orderBy, value)
}

func (sqliteFunctions) ElementJoin(expr, alias string) string {
	return fmt.Sprintf("LEFT JOIN json_each(%s) AS %s ON TRUE", sqliteJSON(expr), alias)
}

// ElementValue is the element as a JSON fragment, NULL for JSON null.
func (sqliteFunctions) ElementValue(alias string) string {
	return fmt.Sprintf("CASE WHEN %[1]s.type IS NULL OR %[1]s.type = 'null' THEN NULL WHEN %[1]s.type IN ('object', 'array') THEN %[1]s.value ELSE json_quote(%[1]s.value) END", alias)
}

func (sqliteFunctions) ElementText(alias string) string  { return alias + ".value" }
func (sqliteFunctions) ElementOrder(alias string) string { return alias + ".key" }

func (sqliteFunctions) Rollup(fn RollupFunc, v, rowID string, _ schema.ValueKind) (string, bool) {
	switch fn {
	case RollupSum:
		return fmt.Sprintf("COALESCE(SUM(%s), 0)", v), true
	case RollupAverage:
		return fmt.Sprintf("AVG(%s)", v), true
	case RollupCount:
		return fmt.Sprintf("COUNT(%s)", v), true
	case RollupCountAll:
		return fmt.Sprintf("COUNT(%s)", rowID), true
	case RollupCountA:
		return fmt.Sprintf("COUNT(NULLIF(CAST(%s AS TEXT), ''))", v), true
	case RollupMax:
		return fmt.Sprintf("MAX(%s)", v), true
	case RollupMin:
		return fmt.Sprintf("MIN(%s)", v), true
	case RollupAnd:
		return fmt.Sprintf("(MIN(CASE WHEN %s THEN 1 ELSE 0 END) = 1)", v), true
	case RollupOr:
		return fmt.Sprintf("(MAX(CASE WHEN %s THEN 1 ELSE 0 END) = 1)", v), true
	case RollupArrayJoin:
		return fmt.Sprintf("group_concat(%s, ', ' ORDER BY %s)", v, rowID), true
	case RollupArrayUnique:
		return fmt.Sprintf("json_group_array(DISTINCT %s) FILTER (WHERE %s IS NOT NULL)", v, v), true
	case RollupArrayCompact:
		return fmt.Sprintf("json_group_array(%s ORDER BY %s) FILTER (WHERE %s IS NOT NULL AND CAST(%s AS TEXT) <> '')", v, rowID, v, v), true
	case RollupConcatenate:
		return fmt.Sprintf("group_concat(%s, '' ORDER BY %s)", v, rowID), true
	}
	return "", false
}
