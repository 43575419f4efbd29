package query

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/schema"
)

var systemColumns = []string{
	schema.ColID,
	schema.ColAutoNumber,
	schema.ColCreatedTime,
	schema.ColLastModifiedTime,
}

// selectVisitor emits the SELECT list of the main statement.
type selectVisitor struct {
	state     *QueryPlanState
	cacheView bool
}

// expr resolves the value of a root field. Not-ready fields resolve to NULL
// with ready=false.
func (v selectVisitor) expr(f *schema.Field) (expr string, ready bool) {
	if v.cacheView || !schema.Classify(f).Computed() {
		return column(v.state.MainAlias, f.DBFieldName), true
	}
	name, joined, ok := v.state.FieldCTE(f.ID)
	if !ok {
		return "NULL", false
	}
	if joined {
		return column(name, valueColumn), true
	}
	return fmt.Sprintf("(SELECT %s FROM %s WHERE %s = %s)",
		column(name, valueColumn), qi(name), column(name, schema.ColID), column(v.state.MainAlias, schema.ColID)), true
}

// visit adds system columns and each projected field, recording field
// expressions in sel.
func (v selectVisitor) visit(qb sq.SelectBuilder, fields []*schema.Field, sel *SelectionMap) sq.SelectBuilder {
	for _, c := range systemColumns {
		qb = qb.Column(column(v.state.MainAlias, c))
	}
	for _, f := range fields {
		if _, dup := sel.Get(f.ID); dup {
			continue
		}
		e, _ := v.expr(f)
		sel.Set(f.ID, e)
		qb = qb.Column(e + " AS " + qi(f.DBFieldName))
	}
	return qb
}
