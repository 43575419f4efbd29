package dialect

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/filter"
	"github.com/atlekbai/record_query/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterFields() map[string]*schema.Field {
	fields := []*schema.Field{
		{ID: "fldName", DBFieldName: "name", Type: schema.FieldSingleLineText},
		{ID: "fldAmount", DBFieldName: "amount", Type: schema.FieldNumber},
		{ID: "fldDone", DBFieldName: "done", Type: schema.FieldCheckbox},
		{ID: "fldOwner", DBFieldName: "owner", Type: schema.FieldUser, DBFieldType: schema.DbJSON},
		{ID: "fldLimit", DBFieldName: "limit", Type: schema.FieldNumber},
		dateField(schema.TimeNone, "UTC", false),
		tagsField(),
	}
	out := make(map[string]*schema.Field, len(fields))
	for _, f := range fields {
		out[f.ID] = f
	}
	return out
}

func testFilterContext() FilterContext {
	fields := filterFields()
	return FilterContext{
		Resolve: func(id string) (*schema.Field, string, bool) {
			f, ok := fields[id]
			if !ok {
				return nil, "", false
			}
			return f, `t."` + f.DBFieldName + `"`, true
		},
		ResolveRef: func(id string) (string, bool) {
			f, ok := fields[id]
			if !ok {
				return "", false
			}
			return `m."` + f.DBFieldName + `"`, true
		},
		CurrentUserID: "usr1",
	}
}

func buildFilter(t *testing.T, d Dialect, f *filter.Filter) (string, []any) {
	t.Helper()
	cond := d.Filter().Build(f, testFilterContext())
	require.NotNil(t, cond)
	sql, args, err := cond.ToSql()
	require.NoError(t, err)
	return sql, args
}

func leaf(field string, op filter.Operator, value any) *filter.Filter {
	return &filter.Filter{FieldID: field, Operator: op, Value: value}
}

func TestFilterScalarOperators(t *testing.T) {
	pg := New(Postgres)

	sql, args := buildFilter(t, pg, leaf("fldName", filter.OpIs, "alice"))
	assert.Equal(t, `t."name" = ?`, sql)
	assert.Equal(t, []any{"alice"}, args)

	sql, args = buildFilter(t, pg, leaf("fldAmount", filter.OpIsGreater, "10"))
	assert.Equal(t, `t."amount" > ?`, sql)
	assert.Equal(t, []any{10.0}, args)

	sql, _ = buildFilter(t, pg, leaf("fldName", filter.OpIsNot, "bob"))
	assert.Equal(t, `(t."name" IS NULL OR t."name" <> ?)`, sql)

	sql, args = buildFilter(t, pg, leaf("fldName", filter.OpContains, "50%"))
	assert.Equal(t, `(t."name")::text ILIKE ? ESCAPE '\'`, sql)
	assert.Equal(t, []any{`%50\%%`}, args)

	sql, args = buildFilter(t, New(SQLite), leaf("fldName", filter.OpContains, "al"))
	assert.Equal(t, `CAST(t."name" AS TEXT) LIKE ? ESCAPE '\'`, sql)
	assert.Equal(t, []any{"%al%"}, args)

	sql, args = buildFilter(t, pg, leaf("fldName", filter.OpIsAnyOf, []any{"a", "b"}))
	assert.Equal(t, `t."name" IN (?,?)`, sql)
	assert.Equal(t, []any{"a", "b"}, args)
}

func TestFilterEmptiness(t *testing.T) {
	pg := New(Postgres)

	sql, _ := buildFilter(t, pg, leaf("fldName", filter.OpIsEmpty, nil))
	assert.Equal(t, `(t."name" IS NULL OR t."name" = '')`, sql)

	sql, _ = buildFilter(t, pg, leaf("fldAmount", filter.OpIsNotEmpty, nil))
	assert.Equal(t, `NOT t."amount" IS NULL`, sql)

	sql, _ = buildFilter(t, New(SQLite), leaf("fldTags", filter.OpIsEmpty, nil))
	assert.Contains(t, sql, `json_array_length(t."tags") = 0`)
}

func TestFilterCheckboxFalseMatchesNull(t *testing.T) {
	sql, _ := buildFilter(t, New(SQLite), leaf("fldDone", filter.OpIs, false))
	assert.Equal(t, `(t."done" IS NULL OR t."done" = FALSE)`, sql)

	sql, _ = buildFilter(t, New(SQLite), leaf("fldDone", filter.OpIs, true))
	assert.Equal(t, `t."done" = TRUE`, sql)
}

func TestFilterUserMeResolvesCurrentUser(t *testing.T) {
	sql, args := buildFilter(t, New(Postgres), leaf("fldOwner", filter.OpIs, filter.Me))
	assert.Equal(t, `(t."owner")::jsonb ->> 'id' = ?`, sql)
	assert.Equal(t, []any{"usr1"}, args)
}

func TestFilterDateComparesDays(t *testing.T) {
	sql, args := buildFilter(t, New(Postgres), leaf("fldDate", filter.OpIs, "2024-03-05T10:00:00Z"))
	assert.Equal(t, `TO_CHAR(TIMEZONE('UTC', (t."due")::timestamptz), 'YYYY-MM-DD') = ?`, sql)
	assert.Equal(t, []any{"2024-03-05"}, args)
}

func TestFilterArrayOperators(t *testing.T) {
	pg := New(Postgres)

	sql, args := buildFilter(t, pg, leaf("fldTags", filter.OpHasAnyOf, []any{"a", "b"}))
	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM jsonb_array_elements(")
	assert.Contains(t, sql, "(x.v #>> '{}') IN (?,?)")
	assert.Equal(t, []any{"a", "b"}, args)

	sql, args = buildFilter(t, pg, leaf("fldTags", filter.OpHasAllOf, []any{"a", "b"}))
	assert.Contains(t, sql, "@> ?::jsonb")
	assert.Equal(t, []any{`["a","b"]`}, args)

	sql, args = buildFilter(t, New(SQLite), leaf("fldTags", filter.OpIsExactly, []any{"b", "a", "a"}))
	assert.Contains(t, sql, "COUNT(DISTINCT x.value)")
	assert.Contains(t, sql, `json_array_length(`)
	assert.Equal(t, []any{"a", "b", 2, 2}, args)

	sql, _ = buildFilter(t, New(SQLite), leaf("fldTags", filter.OpHasNoneOf, []any{"a"}))
	assert.Contains(t, sql, `(t."tags" IS NULL OR NOT EXISTS (SELECT 1 FROM json_each(`)
}

func TestFilterFieldReference(t *testing.T) {
	sql, args := buildFilter(t, New(Postgres),
		leaf("fldAmount", filter.OpIsLessEqual, map[string]any{"fieldId": "fldLimit"}))
	assert.Equal(t, `t."amount" <= m."limit"`, sql)
	assert.Empty(t, args)
}

func TestFilterGroupsAndSkipsUnusableLeaves(t *testing.T) {
	f := &filter.Filter{
		Conjunction: filter.Or,
		FilterSet: []*filter.Filter{
			leaf("fldName", filter.OpIs, "a"),
			leaf("fldMissing", filter.OpIs, "x"),
			{Conjunction: filter.And, FilterSet: []*filter.Filter{
				leaf("fldAmount", filter.OpIsGreater, 1),
				leaf("fldDone", filter.OpIsGreater, true),
			}},
		},
	}
	sql, args := buildFilter(t, New(Postgres), f)
	assert.Equal(t, `(t."name" = ? OR t."amount" > ?)`, sql)
	assert.Equal(t, []any{"a", 1.0}, args)
}

func TestFilterNothingUsable(t *testing.T) {
	cond := New(Postgres).Filter().Build(leaf("fldMissing", filter.OpIs, "x"), testFilterContext())
	assert.Nil(t, cond)
}

func TestFilterPostgresPlaceholders(t *testing.T) {
	cond := New(Postgres).Filter().Build(filter.Items(
		leaf("fldName", filter.OpIs, "a"),
		leaf("fldTags", filter.OpHasAllOf, []any{"x"}),
	), testFilterContext())
	sql, _, err := sq.Select("1").From("t").Where(cond).PlaceholderFormat(sq.Dollar).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, `t."name" = $1`)
	assert.Contains(t, sql, `@> $2::jsonb`)
}
