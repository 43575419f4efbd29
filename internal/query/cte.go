package query

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/formula"
	"github.com/atlekbai/record_query/internal/schema"
	"go.uber.org/zap"
)

// Aliases inside field CTEs.
const (
	hostAlias     = "m"
	foreignAlias  = "f"
	junctionAlias = "j"
	elementAlias  = "e"
	valueColumn   = "value"
)

var errNotReady = errors.New("dependency not ready")

// cteVisitor materializes computed fields as named sub-queries of shape
// (__id, value), dependencies first.
type cteVisitor struct {
	domains *schema.Domains
	dialect dialect.Dialect
	fns     dialect.Functions
	state   *QueryPlanState
	userID  string
	logger  *zap.Logger
}

func newCTEVisitor(domains *schema.Domains, d dialect.Dialect, state *QueryPlanState, userID string, logger *zap.Logger) *cteVisitor {
	return &cteVisitor{
		domains: domains,
		dialect: d,
		fns:     d.Functions(),
		state:   state,
		userID:  userID,
		logger:  logger,
	}
}

// join materializes a computed root field and joins its CTE into qb once.
// It reports false when the field is not ready.
func (v *cteVisitor) join(qb sq.SelectBuilder, f *schema.Field) (sq.SelectBuilder, bool) {
	k := v.state.rootKey(f.ID)
	if _, ok := v.ensure(v.domains.Root(), f, k.restricted); !ok {
		return qb, false
	}
	e := v.state.ctes[k]
	if e.joined {
		return qb, true
	}
	e.joined = true
	return qb.LeftJoin(fmt.Sprintf("%s ON %s = %s",
		qi(e.name), column(e.name, schema.ColID), column(v.state.MainAlias, schema.ColID))), true
}

// ensure returns the CTE name of a computed field of tbl, building it and its
// dependencies when missing.
func (v *cteVisitor) ensure(tbl *schema.TableDomain, f *schema.Field, restricted bool) (string, bool) {
	k := cteKey{tableID: tbl.ID, fieldID: f.ID, restricted: restricted}
	if e, ok := v.state.ctes[k]; ok {
		return e.name, true
	}
	if v.state.notReady[k] {
		return "", false
	}
	if v.state.visiting[k] {
		v.logger.Warn("field dependency cycle", zap.String("table", tbl.ID), zap.String("field", f.ID))
		return "", false
	}

	v.state.visiting[k] = true
	body, err := v.build(tbl, f, restricted)
	delete(v.state.visiting, k)
	if err != nil {
		v.state.notReady[k] = true
		v.logger.Warn("field not ready",
			zap.String("table", tbl.ID), zap.String("field", f.ID), zap.Error(err))
		return "", false
	}

	e := &cteEntry{key: k, name: v.state.cteName(k), body: body}
	v.state.ctes[k] = e
	v.state.order = append(v.state.order, e)
	return e.name, true
}

func (v *cteVisitor) build(tbl *schema.TableDomain, f *schema.Field, restricted bool) (sq.Sqlizer, error) {
	switch schema.Classify(f).Compute {
	case schema.ComputeLookup:
		return v.lookup(tbl, f, restricted)
	case schema.ComputeRollup:
		return v.rollup(tbl, f, restricted)
	case schema.ComputeConditionalRollup:
		return v.conditionalRollup(tbl, f, restricted)
	case schema.ComputeFormula:
		return v.formula(tbl, f, restricted)
	case schema.ComputeNone:
	}
	return nil, fmt.Errorf("field %s is not computed", f.ID)
}

// host is the FROM item for the records a CTE computes values for.
func (v *cteVisitor) host(tbl *schema.TableDomain, restricted bool) string {
	if restricted {
		return qi(v.state.BaseCTE) + " AS " + qi(hostAlias)
	}
	return tbl.TableName() + " AS " + qi(hostAlias)
}

func (v *cteVisitor) selectHost(tbl *schema.TableDomain, restricted bool) sq.SelectBuilder {
	return sq.Select(column(hostAlias, schema.ColID)).From(v.host(tbl, restricted))
}

// fieldValue resolves a field of tbl read through alias. A computed field
// joins its CTE under alias+"v"; the join is returned for the caller to add.
func (v *cteVisitor) fieldValue(tbl *schema.TableDomain, f *schema.Field, alias string, restricted bool) (string, []string, error) {
	if !schema.Classify(f).Computed() {
		return column(alias, f.DBFieldName), nil, nil
	}
	name, ok := v.ensure(tbl, f, restricted)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", errNotReady, f.ID)
	}
	va := alias + "v"
	join := fmt.Sprintf("%s AS %s ON %s = %s", qi(name), qi(va), column(va, schema.ColID), column(alias, schema.ColID))
	return column(va, valueColumn), []string{join}, nil
}

type linkPath struct {
	link    *schema.Field
	foreign *schema.TableDomain
	target  *schema.Field
}

func (v *cteVisitor) path(tbl *schema.TableDomain, f *schema.Field) (linkPath, error) {
	lo := f.LookupOptions
	if lo == nil {
		return linkPath{}, fmt.Errorf("field %s has no lookup options", f.ID)
	}
	link, ok := tbl.Field(lo.LinkFieldID)
	if !ok {
		return linkPath{}, fmt.Errorf("link field %s not found", lo.LinkFieldID)
	}
	foreignID := lo.ForeignTableID
	if foreignID == "" {
		foreignID = link.Options.ForeignTableID
	}
	foreign, ok := v.domains.Table(foreignID)
	if !ok {
		return linkPath{}, fmt.Errorf("foreign table %s not in domain graph", foreignID)
	}
	target, ok := foreign.Field(lo.LookupFieldID)
	if !ok {
		return linkPath{}, fmt.Errorf("lookup field %s not found in %s", lo.LookupFieldID, foreignID)
	}
	return linkPath{link: link, foreign: foreign, target: target}, nil
}

// relation is how host rows reach their linked foreign rows.
type relation struct {
	joins []string
	// many is set when a host row can link several foreign rows.
	many    bool
	orderBy string
	rowID   string
}

func relationOf(host *schema.TableDomain, p linkPath) relation {
	o := p.link.Options
	rel := o.Relationship
	if rel == "" {
		rel = schema.ManyOne
		if p.link.IsMultipleCellValue {
			rel = schema.ManyMany
		}
	}
	foreign := p.foreign.TableName() + " AS " + qi(foreignAlias)
	fID := column(foreignAlias, schema.ColID)
	mID := column(hostAlias, schema.ColID)

	fkElsewhere := o.FkHostTableName != "" &&
		o.FkHostTableName != host.DBTableName && o.FkHostTableName != p.foreign.DBTableName

	switch {
	case rel == schema.ManyMany || fkElsewhere:
		jID := column(junctionAlias, schema.ColID)
		return relation{
			joins: []string{
				fmt.Sprintf("%s AS %s ON %s = %s", schema.QuoteQualified(o.FkHostTableName), qi(junctionAlias),
					column(junctionAlias, o.SelfKeyName), mID),
				fmt.Sprintf("%s ON %s = %s", foreign, fID, column(junctionAlias, o.ForeignKeyName)),
			},
			many:    true,
			orderBy: jID,
			rowID:   jID,
		}
	case rel == schema.ManyOne || (rel == schema.OneOne && o.FkHostTableName == host.DBTableName):
		return relation{
			joins:   []string{fmt.Sprintf("%s ON %s = %s", foreign, fID, column(hostAlias, o.ForeignKeyName))},
			orderBy: column(foreignAlias, schema.ColAutoNumber),
			rowID:   fID,
		}
	default:
		return relation{
			joins:   []string{fmt.Sprintf("%s ON %s = %s", foreign, column(foreignAlias, o.SelfKeyName), mID)},
			many:    rel != schema.OneOne,
			orderBy: column(foreignAlias, schema.ColAutoNumber),
			rowID:   fID,
		}
	}
}

func leftJoins(qb sq.SelectBuilder, joins []string) sq.SelectBuilder {
	for _, j := range joins {
		qb = qb.LeftJoin(j)
	}
	return qb
}

// jsonValued reports whether values of c are JSON documents rather than scalars.
func jsonValued(f *schema.Field, c schema.Class) bool {
	switch c.Value {
	case schema.ValueLink, schema.ValueUser, schema.ValueJSON:
		return true
	}
	return f.DBFieldType == schema.DbJSON
}

func (v *cteVisitor) lookup(tbl *schema.TableDomain, f *schema.Field, restricted bool) (sq.Sqlizer, error) {
	p, err := v.path(tbl, f)
	if err != nil {
		return nil, err
	}
	value, valueJoins, err := v.fieldValue(p.foreign, p.target, foreignAlias, false)
	if err != nil {
		return nil, err
	}
	rel := relationOf(tbl, p)

	qb := v.selectHost(tbl, restricted)
	qb = leftJoins(qb, rel.joins)
	qb = leftJoins(qb, valueJoins)

	if !rel.many {
		return qb.Column(value + " AS " + qi(valueColumn)), nil
	}

	tc := schema.Classify(p.target)
	var agg string
	if tc.Multiple {
		qb = qb.JoinClause(v.fns.ElementJoin(value, elementAlias))
		agg = v.fns.JSONAgg(v.fns.ElementValue(elementAlias), rel.orderBy+", "+v.fns.ElementOrder(elementAlias), true)
	} else {
		agg = v.fns.JSONAgg(value, rel.orderBy, jsonValued(p.target, tc))
	}
	return qb.Column(agg + " AS " + qi(valueColumn)).GroupBy(column(hostAlias, schema.ColID)), nil
}

func (v *cteVisitor) rollup(tbl *schema.TableDomain, f *schema.Field, restricted bool) (sq.Sqlizer, error) {
	fn, ok := dialect.ParseRollup(f.Options.Expression)
	if !ok {
		return nil, fmt.Errorf("unsupported rollup expression %q", f.Options.Expression)
	}
	p, err := v.path(tbl, f)
	if err != nil {
		return nil, err
	}
	value, valueJoins, err := v.fieldValue(p.foreign, p.target, foreignAlias, false)
	if err != nil {
		return nil, err
	}
	rel := relationOf(tbl, p)

	qb := v.selectHost(tbl, restricted)
	qb = leftJoins(qb, rel.joins)
	qb = leftJoins(qb, valueJoins)

	tc := schema.Classify(p.target)
	if tc.Multiple {
		qb = qb.JoinClause(v.fns.ElementJoin(value, elementAlias))
		value = v.fns.ElementText(elementAlias)
	}
	agg, ok := v.fns.Rollup(fn, value, rel.rowID, tc.Value)
	if !ok {
		return nil, fmt.Errorf("rollup %s not supported by %s", fn, v.dialect.Name())
	}
	return qb.Column(agg + " AS " + qi(valueColumn)).GroupBy(column(hostAlias, schema.ColID)), nil
}

// conditionalRollup aggregates a foreign field over the rows matching the
// field's filter. Filter values may reference plain fields of the host record.
func (v *cteVisitor) conditionalRollup(tbl *schema.TableDomain, f *schema.Field, restricted bool) (sq.Sqlizer, error) {
	fn, ok := dialect.ParseRollup(f.Options.Expression)
	if !ok {
		return nil, fmt.Errorf("unsupported rollup expression %q", f.Options.Expression)
	}
	foreign, ok := v.domains.Table(f.Options.ForeignTableID)
	if !ok {
		return nil, fmt.Errorf("foreign table %s not in domain graph", f.Options.ForeignTableID)
	}
	target, ok := foreign.Field(f.Options.LookupFieldID)
	if !ok {
		return nil, fmt.Errorf("lookup field %s not found in %s", f.Options.LookupFieldID, foreign.ID)
	}

	cond := f.Options.Filter
	for _, id := range cond.FieldIDs() {
		if _, ok := foreign.Field(id); !ok {
			return nil, fmt.Errorf("filter field %s not found in %s", id, foreign.ID)
		}
	}
	for _, id := range cond.RefFieldIDs() {
		hf, ok := tbl.Field(id)
		if !ok || schema.Classify(hf).Computed() {
			return nil, fmt.Errorf("filter reference %s is not a plain host field", id)
		}
	}

	value, valueJoins, err := v.fieldValue(foreign, target, foreignAlias, false)
	if err != nil {
		return nil, err
	}

	var resolveErr error
	ctx := dialect.FilterContext{
		Resolve: func(id string) (*schema.Field, string, bool) {
			ff, ok := foreign.Field(id)
			if !ok {
				return nil, "", false
			}
			if !schema.Classify(ff).Computed() {
				return ff, column(foreignAlias, ff.DBFieldName), true
			}
			name, ok := v.ensure(foreign, ff, false)
			if !ok {
				resolveErr = fmt.Errorf("%w: %s", errNotReady, id)
				return nil, "", false
			}
			return ff, fmt.Sprintf("(SELECT %s FROM %s AS %s WHERE %s = %s)",
				column("c", valueColumn), qi(name), qi("c"), column("c", schema.ColID), column(foreignAlias, schema.ColID)), true
		},
		ResolveRef: func(id string) (string, bool) {
			hf, ok := tbl.Field(id)
			if !ok {
				return "", false
			}
			return column(hostAlias, hf.DBFieldName), true
		},
		CurrentUserID: v.userID,
		Logger:        v.logger,
	}

	sub := sq.Select().From(foreign.TableName() + " AS " + qi(foreignAlias))
	sub = leftJoins(sub, valueJoins)
	tc := schema.Classify(target)
	if tc.Multiple {
		sub = sub.JoinClause(v.fns.ElementJoin(value, elementAlias))
		value = v.fns.ElementText(elementAlias)
	}
	agg, ok := v.fns.Rollup(fn, value, column(foreignAlias, schema.ColID), tc.Value)
	if !ok {
		return nil, fmt.Errorf("rollup %s not supported by %s", fn, v.dialect.Name())
	}
	sub = sub.Column(agg)
	if where := v.dialect.Filter().Build(cond, ctx); where != nil {
		sub = sub.Where(where)
	}
	if resolveErr != nil {
		return nil, resolveErr
	}

	return v.selectHost(tbl, restricted).Column(sq.Alias(sub, qi(valueColumn))), nil
}

func (v *cteVisitor) formula(tbl *schema.TableDomain, f *schema.Field, restricted bool) (sq.Sqlizer, error) {
	node, err := formula.Parse(f.Options.Expression)
	if err != nil {
		return nil, fmt.Errorf("parse formula: %w", err)
	}

	qb := v.selectHost(tbl, restricted)
	exprs := make(map[string]string)
	for i, id := range formula.Refs(node) {
		rf, ok := tbl.Field(id)
		if !ok {
			return nil, fmt.Errorf("formula references unknown field %s", id)
		}
		if !schema.Classify(rf).Computed() {
			exprs[id] = column(hostAlias, rf.DBFieldName)
			continue
		}
		name, ok := v.ensure(tbl, rf, restricted)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errNotReady, id)
		}
		alias := fmt.Sprintf("r%d", i)
		qb = qb.LeftJoin(fmt.Sprintf("%s AS %s ON %s = %s",
			qi(name), qi(alias), column(alias, schema.ColID), column(hostAlias, schema.ColID)))
		exprs[id] = column(alias, valueColumn)
	}

	expr, err := formula.ToSQL(node, func(id string) (string, bool) {
		e, ok := exprs[id]
		return e, ok
	}, v.fns)
	if err != nil {
		return nil, err
	}
	return qb.Column(sq.Alias(expr, qi(valueColumn))), nil
}

// withClause renders the WITH prefix: the base CTE first, then field CTEs in
// dependency order.
type withClause struct {
	names  []string
	bodies []sq.Sqlizer
}

func (v *cteVisitor) with(base sq.Sqlizer) withClause {
	var w withClause
	if base != nil {
		w.names = append(w.names, v.state.BaseCTE)
		w.bodies = append(w.bodies, base)
	}
	for _, e := range v.state.order {
		w.names = append(w.names, e.name)
		w.bodies = append(w.bodies, e.body)
	}
	return w
}

func (w withClause) empty() bool { return len(w.names) == 0 }

func (w withClause) ToSql() (string, []any, error) {
	var b strings.Builder
	var args []any
	b.WriteString("WITH ")
	for i, name := range w.names {
		sql, a, err := w.bodies[i].ToSql()
		if err != nil {
			return "", nil, fmt.Errorf("cte %s: %w", name, err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(qi(name) + " AS (" + sql + ")")
		args = append(args, a...)
	}
	return b.String(), args, nil
}
