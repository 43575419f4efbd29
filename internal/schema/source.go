package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	pgTablesQuery = `
SELECT id, name, db_table_name, coalesce(cache_view, '')
FROM metadata.tables
ORDER BY id
`
	pgFieldsQuery = `
SELECT
	id, table_id, name, db_field_name, type,
	coalesce(cell_value_type, ''), coalesce(db_field_type, ''),
	is_multiple_cell_value, is_lookup, lookup_options, options
FROM metadata.fields
ORDER BY table_id, field_order
`
	sqliteTablesQuery = `
SELECT id, name, db_table_name, coalesce(cache_view, '')
FROM metadata_tables
ORDER BY id
`
	sqliteFieldsQuery = `
SELECT
	id, table_id, name, db_field_name, type,
	coalesce(cell_value_type, ''), coalesce(db_field_type, ''),
	is_multiple_cell_value, is_lookup, lookup_options, options
FROM metadata_fields
ORDER BY table_id, field_order
`
)

// SQLiteMetadataDDL creates the metadata tables read by SQLSource.
const SQLiteMetadataDDL = `
CREATE TABLE IF NOT EXISTS metadata_tables (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	db_table_name TEXT NOT NULL,
	cache_view    TEXT
);
CREATE TABLE IF NOT EXISTS metadata_fields (
	id                     TEXT PRIMARY KEY,
	table_id               TEXT NOT NULL REFERENCES metadata_tables(id),
	name                   TEXT NOT NULL,
	db_field_name          TEXT NOT NULL,
	type                   TEXT NOT NULL,
	cell_value_type        TEXT,
	db_field_type          TEXT,
	is_multiple_cell_value BOOLEAN NOT NULL DEFAULT 0,
	is_lookup              BOOLEAN NOT NULL DEFAULT 0,
	lookup_options         TEXT,
	options                TEXT,
	field_order            INTEGER NOT NULL DEFAULT 0
);
`

type rowScanner interface {
	Scan(dest ...any) error
}

type fieldRow struct {
	tableID string
	field   *Field
}

func scanTable(row rowScanner) (*TableDomain, error) {
	t := &TableDomain{}
	if err := row.Scan(&t.ID, &t.Name, &t.DBTableName, &t.CacheView); err != nil {
		return nil, fmt.Errorf("scan table: %w", err)
	}
	return t, nil
}

func scanField(row rowScanner) (fieldRow, error) {
	var (
		r             fieldRow
		f             Field
		cellType      string
		dbType        string
		lookupOptions []byte
		options       []byte
	)
	err := row.Scan(
		&f.ID, &r.tableID, &f.Name, &f.DBFieldName, &f.Type,
		&cellType, &dbType,
		&f.IsMultipleCellValue, &f.IsLookup, &lookupOptions, &options,
	)
	if err != nil {
		return r, fmt.Errorf("scan field: %w", err)
	}
	f.CellValueType = CellValueType(cellType)
	f.DBFieldType = DbFieldType(dbType)

	if len(lookupOptions) > 0 && string(lookupOptions) != "null" {
		f.LookupOptions = &LookupOptions{}
		if err := json.Unmarshal(lookupOptions, f.LookupOptions); err != nil {
			return r, fmt.Errorf("field %s lookup options: %w", f.ID, err)
		}
	}
	if len(options) > 0 && string(options) != "null" {
		if err := json.Unmarshal(options, &f.Options); err != nil {
			return r, fmt.Errorf("field %s options: %w", f.ID, err)
		}
	}
	r.field = &f
	return r, nil
}

// assemble attaches fields to their tables. Fields of unknown tables are dropped.
func assemble(tables []*TableDomain, fields []fieldRow) []*TableDomain {
	byID := make(map[string]*TableDomain, len(tables))
	for _, t := range tables {
		byID[t.ID] = t
	}
	for _, r := range fields {
		if t, ok := byID[r.tableID]; ok {
			t.Fields = append(t.Fields, r.field)
		}
	}
	for _, t := range tables {
		t.index()
	}
	return tables
}

// PgSource reads metadata from the metadata schema of a Postgres database.
type PgSource struct {
	Pool *pgxpool.Pool
}

func (s PgSource) Fetch(ctx context.Context) ([]*TableDomain, error) {
	var (
		tables []*TableDomain
		fields []fieldRow
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.Pool.Query(ctx, pgTablesQuery)
		if err != nil {
			return fmt.Errorf("query tables: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTable(rows)
			if err != nil {
				return err
			}
			tables = append(tables, t)
		}
		return rows.Err()
	})
	g.Go(func() error {
		rows, err := s.Pool.Query(ctx, pgFieldsQuery)
		if err != nil {
			return fmt.Errorf("query fields: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanField(rows)
			if err != nil {
				return err
			}
			fields = append(fields, r)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assemble(tables, fields), nil
}

// SQLSource reads metadata through database/sql, normally a go-sqlite3 handle.
type SQLSource struct {
	DB *sql.DB
}

func (s SQLSource) Fetch(ctx context.Context) ([]*TableDomain, error) {
	rows, err := s.DB.QueryContext(ctx, sqliteTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	var tables []*TableDomain
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.DB.QueryContext(ctx, sqliteFieldsQuery)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()
	var fields []fieldRow
	for rows.Next() {
		r, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assemble(tables, fields), nil
}

// OpenSQLite opens a go-sqlite3 database.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// Fixture is the YAML document describing a set of tables.
type Fixture struct {
	Tables []*TableDomain `yaml:"tables"`
}

// FixtureSource reads tables from a YAML fixture file.
type FixtureSource struct {
	Path string
}

func (s FixtureSource) Fetch(ctx context.Context) ([]*TableDomain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(data []byte) ([]*TableDomain, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for _, t := range fx.Tables {
		if t.ID == "" {
			return nil, fmt.Errorf("parse fixture: table without id")
		}
		t.index()
	}
	return fx.Tables, nil
}
