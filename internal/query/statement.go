package query

import (
	sq "github.com/Masterminds/squirrel"
)

// Mode is the table source a statement was compiled against.
type Mode string

const (
	ModeCanonical Mode = "canonical"
	ModeCacheView Mode = "cacheView"
)

// Statement is a compiled, immutable SQL statement with the selection it
// projects.
type Statement struct {
	builder   sq.SelectBuilder
	selection *SelectionMap
	mode      Mode
	dialect   string
	baseCTE   string
	ctes      []string
}

func (s *Statement) ToSql() (string, []any, error) {
	return s.builder.ToSql()
}

// Builder returns the statement builder. Builders are values, so changes made
// by the caller do not affect s.
func (s *Statement) Builder() sq.SelectBuilder { return s.builder }

// Selection returns a copy of the final SelectionMap.
func (s *Statement) Selection() *SelectionMap { return s.selection.clone() }

func (s *Statement) Mode() Mode      { return s.mode }
func (s *Statement) Dialect() string { return s.dialect }

// BaseCTE names the pagination sub-query, empty when none was planned.
func (s *Statement) BaseCTE() string { return s.baseCTE }

// CTEs lists the field CTEs in emission order.
func (s *Statement) CTEs() []string { return append([]string(nil), s.ctes...) }
