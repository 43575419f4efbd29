// Package dialect holds the per-engine strategies used by the record query
// compiler: ordering, filtering, aggregation and the SQL functions field CTEs
// are built from.
package dialect

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/filter"
	"github.com/atlekbai/record_query/internal/formula"
	"github.com/atlekbai/record_query/internal/schema"
	"go.uber.org/zap"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Dialect is the adapter set chosen once per compilation.
type Dialect interface {
	Name() string
	Placeholder() sq.PlaceholderFormat
	Sort() SortAdapter
	Filter() FilterAdapter
	Aggregation() AggregationAdapter
	Functions() Functions
}

// SortAdapter turns (field, direction) pairs into ORDER BY items.
type SortAdapter interface {
	// Clause renders the ORDER BY items for one field, most significant first.
	Clause(f *schema.Field, expr string, order Order) []string
	// Apply appends the same items to qb.
	Apply(qb sq.SelectBuilder, f *schema.Field, expr string, order Order) sq.SelectBuilder
}

// FieldResolver returns a field together with the SQL expression holding its value.
type FieldResolver func(fieldID string) (*schema.Field, string, bool)

// FilterContext carries what a filter translation needs besides the tree.
type FilterContext struct {
	Resolve FieldResolver
	// ResolveRef resolves {"fieldId": ...} values. Nil disables references.
	ResolveRef    func(fieldID string) (string, bool)
	CurrentUserID string
	Logger        *zap.Logger
}

// FilterAdapter translates a predicate tree into a WHERE condition.
type FilterAdapter interface {
	// Build returns nil when no leaf of the tree produced a condition.
	Build(f *filter.Filter, ctx FilterContext) sq.Sqlizer
	// Empty renders the isEmpty predicate for a field expression.
	Empty(f *schema.Field, expr string) string
}

// AggregationAdapter renders statistic and group key expressions.
type AggregationAdapter interface {
	Statistic(f *schema.Field, expr string, fn Statistic) (string, error)
	GroupKey(f *schema.Field, expr string) string
}

// Functions are the dialect-specific building blocks of field CTEs.
type Functions interface {
	formula.Dialect
	// JSONAgg aggregates value into a JSON array ordered by orderBy, skipping NULLs.
	// isJSON marks values that already hold JSON documents.
	JSONAgg(value, orderBy string, isJSON bool) string
	// ElementJoin expands the JSON value expr into one row per element under alias.
	// Scalars and non-JSON values produce a single element.
	ElementJoin(expr, alias string) string
	// ElementValue is the JSON value of the current element.
	ElementValue(alias string) string
	// ElementText is the element as SQL text or number.
	ElementText(alias string) string
	// ElementOrder is the element's position within its array.
	ElementOrder(alias string) string
	// Rollup renders fn over value. rowID counts linked rows for countall.
	Rollup(fn RollupFunc, value, rowID string, kind schema.ValueKind) (string, bool)
}

// New returns the adapter set for an engine id. Unknown ids get the postgres family.
func New(name string) Dialect {
	switch strings.ToLower(name) {
	case SQLite, "sqlite3":
		return sqliteDialect
	default:
		return postgresDialect
	}
}

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// ParseOrder accepts asc/desc in any case; anything else is ascending.
func ParseOrder(s string) Order {
	if strings.EqualFold(s, string(Desc)) {
		return Desc
	}
	return Asc
}

// orderItem pairs the direction with its NULLS placement:
// ascending sorts NULLs first, descending sorts them last.
func orderItem(expr string, o Order) string {
	if o == Desc {
		return expr + " DESC NULLS LAST"
	}
	return expr + " ASC NULLS FIRST"
}

func orderItems(o Order, exprs ...string) []string {
	items := make([]string, 0, len(exprs))
	for _, e := range exprs {
		items = append(items, orderItem(e, o))
	}
	return items
}

// QuoteLit quotes a SQL string literal. A '?' inside is escaped as "??".
func QuoteLit(s string) string {
	return "'" + schema.EscapeMarks(strings.ReplaceAll(s, "'", "''")) + "'"
}

// questionFormat keeps ? placeholders and collapses "??" escapes, matching
// how sq.Dollar treats them.
type questionFormat struct{}

func (questionFormat) ReplacePlaceholders(sql string) (string, error) {
	return strings.ReplaceAll(sql, "??", "?"), nil
}
