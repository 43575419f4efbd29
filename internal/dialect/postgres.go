package dialect

import (
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/schema"
)

type postgres struct{}

var postgresDialect Dialect = postgres{}

func (postgres) Name() string                      { return Postgres }
func (postgres) Placeholder() sq.PlaceholderFormat { return sq.Dollar }
func (postgres) Sort() SortAdapter                 { return postgresSort{} }
func (postgres) Filter() FilterAdapter             { return filterBuilder{ops: postgresFilterOps{}} }
func (postgres) Functions() Functions              { return postgresFunctions{} }

func (postgres) Aggregation() AggregationAdapter {
	return aggregator{ops: postgresAggregationOps{}, filter: filterBuilder{ops: postgresFilterOps{}}}
}

// pgArray coerces expr to a jsonb array; scalars become one-element arrays.
func pgArray(expr string) string {
	j := "to_jsonb(" + expr + ")"
	return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'array' THEN %s ELSE jsonb_build_array(%s) END", j, j, expr)
}

// pgFirst is the first element of a JSON array as text, or the raw value
// when the stored cell is not an array.
func pgFirst(expr string) string {
	j := "(" + expr + ")::jsonb"
	return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'array' THEN %s ->> 0 ELSE %s #>> '{}' END", j, j, j)
}

func pgChoices(f *schema.Field) string {
	names := f.ChoiceNames()
	lits := make([]string, len(names))
	for i, n := range names {
		lits[i] = QuoteLit(n)
	}
	return "ARRAY[" + strings.Join(lits, ", ") + "]::text[]"
}

func pgLocalDate(f *schema.Field, ts string) string {
	return fmt.Sprintf("TO_CHAR(TIMEZONE(%s, %s), %s)", QuoteLit(f.TimeZone()), ts, QuoteLit(pgDatePattern(f)))
}

type postgresSort struct{}

func (s postgresSort) Apply(qb sq.SelectBuilder, f *schema.Field, expr string, order Order) sq.SelectBuilder {
	return qb.OrderBy(s.Clause(f, expr, order)...)
}

func (s postgresSort) Clause(f *schema.Field, expr string, order Order) []string {
	c := schema.Classify(f)
	if c.Multiple {
		return orderItems(order, s.multiple(f, c, expr)...)
	}
	return orderItems(order, s.single(f, c, expr)...)
}

func (postgresSort) single(f *schema.Field, c schema.Class, expr string) []string {
	switch c.Value {
	case schema.ValueDateTime:
		if f.HasTime() {
			return []string{expr}
		}
		return []string{pgLocalDate(f, "("+expr+")::timestamptz")}
	case schema.ValueSingleSelect:
		return []string{fmt.Sprintf("ARRAY_POSITION(%s, (%s)::text)", pgChoices(f), expr)}
	case schema.ValueMultiSelect:
		return []string{fmt.Sprintf("ARRAY_POSITION(%s, %s)", pgChoices(f), pgFirst(expr))}
	case schema.ValueLink, schema.ValueUser:
		return []string{fmt.Sprintf("(%s)::jsonb ->> 'title'", expr)}
	case schema.ValueJSON:
		return []string{"(" + expr + ")::text"}
	}
	if c.Shape == schema.ShapeJSON {
		return []string{"(" + expr + ")::text"}
	}
	return []string{expr}
}

func (postgresSort) multiple(f *schema.Field, c schema.Class, expr string) []string {
	first := pgFirst(expr)
	whole := "(" + expr + ")::jsonb::text"

	switch c.Value {
	case schema.ValueMultiSelect, schema.ValueSingleSelect:
		return []string{fmt.Sprintf("ARRAY_POSITION(%s, %s)", pgChoices(f), first), whole}
	case schema.ValueDateTime:
		ts := "(" + first + ")::timestamptz"
		if f.HasTime() {
			return []string{ts, whole}
		}
		return []string{pgLocalDate(f, ts), whole}
	case schema.ValueNumber:
		p, ok := f.Precision()
		if !ok {
			return []string{"(" + first + ")::numeric", whole}
		}
		rounded := fmt.Sprintf(
			"(SELECT jsonb_agg(ROUND((a.v #>> '{}')::numeric, %d) ORDER BY a.n) FROM jsonb_array_elements(%s) WITH ORDINALITY AS a(v, n))::text",
			p, pgArray(expr))
		return []string{fmt.Sprintf("ROUND((%s)::numeric, %d)", first, p), rounded}
	case schema.ValueLink, schema.ValueUser:
		return []string{fmt.Sprintf("jsonb_path_query_array((%s)::jsonb, '$[*].title')::text", expr)}
	}
	return []string{first, whole}
}

type postgresFilterOps struct{}

func (postgresFilterOps) likeOp() string          { return "ILIKE" }
func (postgresFilterOps) text(expr string) string { return "(" + expr + ")::text" }

func (postgresFilterOps) jsonField(expr, key string) string {
	return fmt.Sprintf("(%s)::jsonb ->> %s", expr, QuoteLit(key))
}

func (postgresFilterOps) elements(expr string) (string, string, string) {
	return "jsonb_array_elements(" + pgArray(expr) + ") AS x(v)", "(x.v #>> '{}')", "x.v"
}

func (postgresFilterOps) containsAll(expr string, values []string, key string) sq.Sqlizer {
	var doc []byte
	if key == "" {
		doc, _ = json.Marshal(values)
	} else {
		objs := make([]map[string]string, len(values))
		for i, v := range values {
			objs[i] = map[string]string{key: v}
		}
		doc, _ = json.Marshal(objs)
	}
	return sq.Expr(pgArray(expr)+" @> ?::jsonb", string(doc))
}

func (postgresFilterOps) arrayLength(expr string) string {
	return "jsonb_array_length(" + pgArray(expr) + ")"
}

func (o postgresFilterOps) arrayEmpty(expr string) string {
	return o.arrayLength(expr) + " = 0"
}

func (postgresFilterOps) day(f *schema.Field, expr string) string {
	return fmt.Sprintf("TO_CHAR(TIMEZONE(%s, (%s)::timestamptz), 'YYYY-MM-DD')", QuoteLit(f.TimeZone()), expr)
}

type postgresAggregationOps struct{}

func (postgresAggregationOps) number(expr string) string      { return "(" + expr + ")::numeric" }
func (postgresAggregationOps) timestamp(expr string) string   { return "(" + expr + ")::timestamptz" }
func (postgresAggregationOps) distinctKey(expr string) string { return "(" + expr + ")::text" }

func (postgresAggregationOps) dayRange(max, min string) string {
	return fmt.Sprintf("EXTRACT(DAY FROM (%s - %s))", max, min)
}

func (postgresAggregationOps) groupKey(c schema.Class, expr string) string {
	if c.Multiple || c.Shape == schema.ShapeJSON {
		return "(" + expr + ")::jsonb"
	}
	return expr
}

type postgresFunctions struct{}

func (postgresFunctions) Concat(parts ...string) string {
	return "CONCAT(" + strings.Join(parts, ", ") + ")"
}

func (postgresFunctions) Round(expr, digits string) string {
	return fmt.Sprintf("ROUND((%s)::numeric, %s)", expr, digits)
}

func (postgresFunctions) Divide(left, right string) string {
	return fmt.Sprintf("((%s)::numeric / NULLIF((%s)::numeric, 0))", left, right)
}

func (postgresFunctions) Now() string   { return "NOW()" }
func (postgresFunctions) Today() string { return "CURRENT_DATE" }

func (postgresFunctions) JSONAgg(value, orderBy string, _ bool) string {
	return fmt.Sprintf("jsonb_agg(%s ORDER BY %s) FILTER (WHERE %s IS NOT NULL)", value, orderBy, value)
}

func (postgresFunctions) ElementJoin(expr, alias string) string {
	return fmt.Sprintf("LEFT JOIN LATERAL jsonb_array_elements(%s) WITH ORDINALITY AS %s(value, n) ON TRUE", pgArray(expr), alias)
}

func (postgresFunctions) ElementValue(alias string) string { return alias + ".value" }
func (postgresFunctions) ElementText(alias string) string  { return "(" + alias + ".value #>> '{}')" }
func (postgresFunctions) ElementOrder(alias string) string { return alias + ".n" }

func (postgresFunctions) Rollup(fn RollupFunc, v, rowID string, kind schema.ValueKind) (string, bool) {
	typed := v
	switch kind {
	case schema.ValueNumber:
		typed = "(" + v + ")::numeric"
	case schema.ValueDateTime:
		typed = "(" + v + ")::timestamptz"
	}
	switch fn {
	case RollupSum:
		return fmt.Sprintf("COALESCE(SUM((%s)::numeric), 0)", v), true
	case RollupAverage:
		return fmt.Sprintf("AVG((%s)::numeric)", v), true
	case RollupCount:
		return fmt.Sprintf("COUNT(%s)", v), true
	case RollupCountAll:
		return fmt.Sprintf("COUNT(%s)", rowID), true
	case RollupCountA:
		return fmt.Sprintf("COUNT(NULLIF((%s)::text, ''))", v), true
	case RollupMax:
		return fmt.Sprintf("MAX(%s)", typed), true
	case RollupMin:
		return fmt.Sprintf("MIN(%s)", typed), true
	case RollupAnd:
		return fmt.Sprintf("BOOL_AND((%s)::boolean)", v), true
	case RollupOr:
		return fmt.Sprintf("BOOL_OR((%s)::boolean)", v), true
	case RollupArrayJoin:
		return fmt.Sprintf("STRING_AGG((%s)::text, ', ' ORDER BY %s)", v, rowID), true
	case RollupArrayUnique:
		return fmt.Sprintf("jsonb_agg(DISTINCT %s) FILTER (WHERE %s IS NOT NULL)", v, v), true
	case RollupArrayCompact:
		return fmt.Sprintf("jsonb_agg(%s ORDER BY %s) FILTER (WHERE %s IS NOT NULL AND (%s)::text <> '')", v, rowID, v, v), true
	case RollupConcatenate:
		return fmt.Sprintf("STRING_AGG((%s)::text, '' ORDER BY %s)", v, rowID), true
	}
	return "", false
}
