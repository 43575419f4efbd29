package query

import (
	"context"
	"database/sql"
	"testing"

	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/filter"
	"github.com/atlekbai/record_query/internal/schema"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const e2eSchema = `
CREATE TABLE tasks (
	__id TEXT PRIMARY KEY, __auto_number INTEGER, __created_time TEXT, __last_modified_time TEXT,
	name TEXT, amount REAL, priority TEXT, project TEXT, __fk_project TEXT
);
CREATE TABLE projects (
	__id TEXT PRIMARY KEY, __auto_number INTEGER, __created_time TEXT, __last_modified_time TEXT,
	title TEXT, level TEXT, tasks TEXT
);
INSERT INTO projects VALUES
	('p1', 1, '', '', 'Alpha', 'High', NULL),
	('p2', 2, '', '', 'Beta', 'Low', NULL),
	('p3', 3, '', '', 'Gamma', NULL, NULL);
INSERT INTO tasks VALUES
	('t1', 1, '', '', 'write', 5, 'High', NULL, 'p1'),
	('t2', 2, '', '', 'review', 3, 'Low', NULL, 'p1'),
	('t3', 3, '', '', 'ship', NULL, NULL, NULL, 'p2'),
	('t4', 4, '', '', 'plan', 8, 'Medium', NULL, NULL);
`

func openE2E(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(e2eSchema)
	require.NoError(t, err)
	return db
}

// run executes st and returns each row as strings keyed by column name.
func run(t *testing.T, db *sql.DB, st *Statement) []map[string]sql.NullString {
	t.Helper()
	query, args := compileSQL(t, st)
	rows, err := db.QueryContext(context.Background(), query, args...)
	require.NoError(t, err, query)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)
	var out []map[string]sql.NullString
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		row := make(map[string]sql.NullString, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	require.NoError(t, rows.Err())
	return out
}

func ids(rows []map[string]sql.NullString) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["__id"].String)
	}
	return out
}

func TestSQLiteOrdering(t *testing.T) {
	db := openE2E(t)
	svc := newTestService(dialect.SQLite, nil, tasksTable(), projectsTable())

	cases := []struct {
		name  string
		sort  SortItem
		limit int
		skip  int
		want  []string
	}{
		{"choices ascending", SortItem{FieldID: "fldPriority", Order: dialect.Asc}, 0, 0, []string{"t3", "t2", "t4", "t1"}},
		{"choices descending", SortItem{FieldID: "fldPriority", Order: dialect.Desc}, 0, 0, []string{"t1", "t4", "t2", "t3"}},
		{"numbers ascending", SortItem{FieldID: "fldAmount", Order: dialect.Asc}, 0, 0, []string{"t3", "t2", "t1", "t4"}},
		{"numbers descending", SortItem{FieldID: "fldAmount", Order: dialect.Desc}, 0, 0, []string{"t4", "t1", "t2", "t3"}},
		{"bounded page", SortItem{FieldID: "fldAmount", Order: dialect.Desc}, 2, 1, []string{"t1", "t2"}},
		{"lookup ascending", SortItem{FieldID: "fldProjectName", Order: dialect.Asc}, 0, 0, []string{"t4", "t1", "t2", "t3"}},
		{"lookup descending", SortItem{FieldID: "fldProjectName", Order: dialect.Desc}, 0, 0, []string{"t3", "t1", "t2", "t4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := svc.CreateQueryBuilder(context.Background(), &Descriptor{
				TableID:    "tblTasks",
				Projection: []string{"fldName"},
				Sort:       []SortItem{tc.sort},
				Limit:      tc.limit,
				Offset:     tc.skip,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(run(t, db, st)))
		})
	}
}

func TestSQLiteLookupAndFilter(t *testing.T) {
	db := openE2E(t)
	svc := newTestService(dialect.SQLite, nil, tasksTable(), projectsTable())

	st, err := svc.CreateQueryBuilder(context.Background(), &Descriptor{
		TableID:    "tblTasks",
		Projection: []string{"fldProjectName", "fldDouble"},
		Filter:     leaf("fldProjectName", filter.OpIs, "Alpha"),
	})
	require.NoError(t, err)
	rows := run(t, db, st)
	require.Equal(t, []string{"t1", "t2"}, ids(rows))
	assert.Equal(t, "Alpha", rows[0]["project_name"].String)
	assert.Equal(t, "10", rows[0]["double"].String)

	count, err := svc.CreateCountBuilder(context.Background(), &Descriptor{
		TableID: "tblTasks",
		Filter:  leaf("fldDouble", filter.OpIsGreater, 8),
	})
	require.NoError(t, err)
	rows = run(t, db, count)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0]["COUNT(*)"].String)
}

func TestSQLiteRollups(t *testing.T) {
	db := openE2E(t)
	svc := newTestService(dialect.SQLite, nil, tasksTable(), projectsTable())

	st, err := svc.CreateQueryBuilder(context.Background(), &Descriptor{
		TableID:    "tblProjects",
		Projection: []string{"fldTaskNames", "fldTaskCount", "fldMatching"},
		Sort:       []SortItem{{FieldID: "fldTitle"}},
	})
	require.NoError(t, err)
	rows := run(t, db, st)
	require.Equal(t, []string{"p1", "p2", "p3"}, ids(rows))

	assert.Equal(t, `["write","review"]`, rows[0]["task_names"].String)
	assert.Equal(t, `["ship"]`, rows[1]["task_names"].String)
	assert.False(t, rows[2]["task_names"].Valid)

	assert.Equal(t, []string{"2", "1", "0"},
		[]string{rows[0]["task_count"].String, rows[1]["task_count"].String, rows[2]["task_count"].String})
	assert.Equal(t, []string{"5", "3", "0"},
		[]string{rows[0]["matching"].String, rows[1]["matching"].String, rows[2]["matching"].String})
}

func TestSQLiteRestrictedRecords(t *testing.T) {
	db := openE2E(t)
	svc := newTestService(dialect.SQLite, nil, tasksTable(), projectsTable())

	st, err := svc.CreateQueryBuilder(context.Background(), &Descriptor{
		TableID:           "tblTasks",
		Projection:        []string{"fldProjectName"},
		Sort:              []SortItem{{FieldID: "fldProjectName"}},
		Limit:             5,
		RestrictRecordIDs: []string{"t2", "t3", "t4"},
	})
	require.NoError(t, err)
	require.Equal(t, baseCTE, st.BaseCTE())
	assert.Equal(t, []string{"t4", "t2", "t3"}, ids(run(t, db, st)))
}

const eventsSchema = `
CREATE TABLE events (
	__id TEXT PRIMARY KEY, __auto_number INTEGER, __created_time TEXT, __last_modified_time TEXT,
	tags TEXT, days TEXT, stamps TEXT, scores TEXT, owner TEXT, links TEXT, "status?" TEXT
);
INSERT INTO events VALUES
	('e1', 1, '', '', '["a","b"]', '["2024-03-01T10:00:00Z","2024-01-01T00:00:00Z"]', '["2024-05-01T08:00:00Z"]',
	 '[2.04,9]', '{"id":"u1","title":"Mia"}', '[{"id":"r1","title":"b"}]', 'Done'),
	('e2', 2, '', '', '["b"]', '["2024-03-01T23:00:00Z"]', '["2024-05-01T07:00:00Z","2025-01-01T00:00:00Z"]',
	 '[1.96]', '{"id":"u2","title":"Ann"}', '[{"id":"r2","title":"a"},{"id":"r3","title":"c"}]', 'Ready?'),
	('e3', 3, '', '', NULL, NULL, '2024-04-30T00:00:00Z',
	 '5', NULL, '[{"id":"r2","title":"a"}]', NULL),
	('e4', 4, '', '', 'c', '2024-01-15T00:00:00Z', NULL,
	 NULL, '{"id":"u3","title":"Zed"}', NULL, 'Done'),
	('e5', 5, '', '', '["a","c"]', '["2023-12-31T12:00:00Z"]', '["2024-05-01T08:00:00Z","2024-01-01T00:00:00Z"]',
	 '[0.5]', '{"id":"u1","title":"Mia"}', '[]', 'Ready?');
`

func eventsTable() *schema.TableDomain {
	one := 1
	day := &schema.Formatting{Date: "YYYY-MM-DD", Time: schema.TimeNone, TimeZone: "UTC"}
	stamp := &schema.Formatting{Date: "YYYY-MM-DD", Time: "HH:mm", TimeZone: "UTC"}
	return schema.NewTableDomain("tblEvents", "Events", "events",
		&schema.Field{ID: "fldTags", DBFieldName: "tags", Type: schema.FieldMultipleSelect, DBFieldType: schema.DbJSON,
			Options: schema.Options{Choices: []schema.Choice{{Name: "b"}, {Name: "a"}, {Name: "c"}}}},
		&schema.Field{ID: "fldDays", DBFieldName: "days", Type: schema.FieldDate, CellValueType: schema.CellDateTime,
			DBFieldType: schema.DbJSON, IsMultipleCellValue: true, Options: schema.Options{Formatting: day}},
		&schema.Field{ID: "fldStamps", DBFieldName: "stamps", Type: schema.FieldDate, CellValueType: schema.CellDateTime,
			DBFieldType: schema.DbJSON, IsMultipleCellValue: true, Options: schema.Options{Formatting: stamp}},
		&schema.Field{ID: "fldScores", DBFieldName: "scores", Type: schema.FieldNumber, CellValueType: schema.CellNumber,
			DBFieldType: schema.DbJSON, IsMultipleCellValue: true,
			Options: schema.Options{Formatting: &schema.Formatting{Precision: &one}}},
		&schema.Field{ID: "fldOwner", DBFieldName: "owner", Type: schema.FieldUser, DBFieldType: schema.DbJSON},
		&schema.Field{ID: "fldLinks", DBFieldName: "links", Type: schema.FieldLink, DBFieldType: schema.DbJSON,
			IsMultipleCellValue: true, Options: schema.Options{ForeignTableID: "tblEvents", Relationship: schema.ManyMany}},
		&schema.Field{ID: "fldStatus", DBFieldName: "status?", Type: schema.FieldSingleSelect, DBFieldType: schema.DbText,
			Options: schema.Options{Choices: []schema.Choice{{Name: "Ready?"}, {Name: "Done"}}}},
	)
}

func TestSQLiteOrderingByKind(t *testing.T) {
	db := openE2E(t)
	_, err := db.Exec(eventsSchema)
	require.NoError(t, err)
	svc := newTestService(dialect.SQLite, nil, eventsTable())

	// e3 and e4 hold NULLs or bare scalars in the multi-valued columns.
	cases := []struct {
		field     string
		asc, desc []string
	}{
		{"fldTags", []string{"e3", "e2", "e1", "e5", "e4"}, []string{"e4", "e5", "e1", "e2", "e3"}},
		{"fldDays", []string{"e3", "e5", "e4", "e1", "e2"}, []string{"e2", "e1", "e4", "e5", "e3"}},
		{"fldStamps", []string{"e4", "e3", "e2", "e5", "e1"}, []string{"e1", "e5", "e2", "e3", "e4"}},
		{"fldScores", []string{"e4", "e5", "e1", "e2", "e3"}, []string{"e3", "e2", "e1", "e5", "e4"}},
		{"fldOwner", []string{"e3", "e2", "e1", "e5", "e4"}, []string{"e4", "e1", "e5", "e2", "e3"}},
		{"fldLinks", []string{"e4", "e2", "e3", "e1", "e5"}, []string{"e5", "e1", "e3", "e2", "e4"}},
		{"fldStatus", []string{"e3", "e2", "e5", "e1", "e4"}, []string{"e1", "e4", "e2", "e5", "e3"}},
	}
	for _, tc := range cases {
		for order, want := range map[dialect.Order][]string{dialect.Asc: tc.asc, dialect.Desc: tc.desc} {
			t.Run(tc.field+" "+string(order), func(t *testing.T) {
				st, err := svc.CreateQueryBuilder(context.Background(), &Descriptor{
					TableID:    "tblEvents",
					Projection: []string{tc.field},
					Sort:       []SortItem{{FieldID: tc.field, Order: order}},
				})
				require.NoError(t, err)
				assert.Equal(t, want, ids(run(t, db, st)))
			})
		}
	}
}

func TestSQLiteQuestionMarksInNames(t *testing.T) {
	db := openE2E(t)
	_, err := db.Exec(eventsSchema)
	require.NoError(t, err)
	svc := newTestService(dialect.SQLite, nil, eventsTable())

	st, err := svc.CreateQueryBuilder(context.Background(), &Descriptor{
		TableID:    "tblEvents",
		Projection: []string{"fldStatus"},
		Filter:     leaf("fldStatus", filter.OpIs, "Done"),
		Sort:       []SortItem{{FieldID: "fldStatus"}},
		Limit:      5,
	})
	require.NoError(t, err)
	rows := run(t, db, st)
	require.Equal(t, []string{"e1", "e4"}, ids(rows))
	assert.Equal(t, "Done", rows[0]["status?"].String)
}
