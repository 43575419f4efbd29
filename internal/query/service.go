// Package query compiles logical record queries into dialect SQL. Computed
// fields become named CTEs joined once into the main statement.
package query

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/schema"
	"go.uber.org/zap"
)

// Service builds statements for record queries. It is safe for concurrent
// use; each call owns its plan state.
type Service struct {
	provider schema.Provider
	dialect  dialect.Dialect
	logger   *zap.Logger
}

func NewService(provider schema.Provider, d dialect.Dialect, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provider: provider, dialect: d, logger: logger}
}

func (s *Service) Dialect() dialect.Dialect { return s.dialect }

// compilation is the per-call context threaded through the visitors.
type compilation struct {
	desc      *Descriptor
	dialect   dialect.Dialect
	domains   *schema.Domains
	root      *schema.TableDomain
	state     *QueryPlanState
	selection *SelectionMap
	mode      Mode
	ctes      *cteVisitor
	selects   selectVisitor
	logger    *zap.Logger
}

func (s *Service) compile(ctx context.Context, desc *Descriptor, required []string) (*compilation, error) {
	if desc.TableID == "" {
		return nil, ErrMissingTable
	}
	domains, mode, err := s.domains(ctx, desc, required)
	if err != nil {
		return nil, err
	}
	root := domains.Root()

	source := root.TableName()
	if mode == ModeCacheView {
		source = schema.QuoteQualified(root.CacheView)
	}
	state := newPlanState(root, source)
	logger := s.logger.With(zap.String("table", root.ID), zap.String("dialect", s.dialect.Name()))
	return &compilation{
		desc:      desc,
		dialect:   s.dialect,
		domains:   domains,
		root:      root,
		state:     state,
		selection: NewSelectionMap(),
		mode:      mode,
		ctes:      newCTEVisitor(domains, s.dialect, state, desc.CurrentUserID, logger),
		selects:   selectVisitor{state: state, cacheView: mode == ModeCacheView},
		logger:    logger,
	}, nil
}

// domains loads the table graph. Cache-view mode falls back to the canonical
// table when the view cannot be used.
func (s *Service) domains(ctx context.Context, desc *Descriptor, required []string) (*schema.Domains, Mode, error) {
	if desc.UseCacheView {
		t, err := s.provider.GetTableDomainByID(ctx, desc.TableID)
		if err == nil && t.CacheView != "" {
			return schema.NewDomains(t.ID, t), ModeCacheView, nil
		}
		if err == nil {
			err = schema.ErrCacheViewUnavailable
		}
		s.logger.Warn("cache view unavailable, using table source",
			zap.String("table", desc.TableID), zap.Error(err))
	}

	var projection []string
	if len(desc.Projection) > 0 {
		projection = required
	}
	domains, err := s.provider.GetAllRelatedTableDomains(ctx, desc.TableID, projection)
	if err != nil {
		return nil, "", fmt.Errorf("load table domains: %w", err)
	}
	if domains.Root() == nil {
		return nil, "", fmt.Errorf("%w: %s", schema.ErrTableNotFound, desc.TableID)
	}
	return domains, ModeCanonical, nil
}

// CreateQueryBuilder compiles a record listing: projection, filter, ordering
// and pagination.
func (s *Service) CreateQueryBuilder(ctx context.Context, desc *Descriptor) (*Statement, error) {
	if desc == nil {
		return nil, ErrMissingTable
	}
	required := append(append([]string(nil), desc.Projection...), desc.referencedFields()...)
	c, err := s.compile(ctx, desc, dedupe(required))
	if err != nil {
		return nil, err
	}

	var base sq.Sqlizer
	if c.mode == ModeCanonical {
		if plan := c.planPagination(); plan.ok {
			c.state.BaseCTE = baseCTE
			base = plan.base
		}
	}

	fields := c.projection()
	qb := sq.Select().From(c.state.From())
	qb = c.joinComputed(qb, append(fields, c.fields(desc.referencedFields())...))
	qb = c.selects.visit(qb, fields, c.selection)

	if c.state.BaseCTE == "" && len(desc.RestrictRecordIDs) > 0 {
		qb = qb.Where(sq.Eq{column(c.state.MainAlias, schema.ColID): desc.RestrictRecordIDs})
	}
	if cond := c.filterCond(); cond != nil {
		qb = qb.Where(cond)
	}
	qb = c.applyOrder(qb)
	if desc.Limit > 0 {
		qb = qb.Limit(uint64(desc.Limit))
	}
	if desc.Offset > 0 {
		qb = qb.Offset(uint64(desc.Offset))
	}
	return c.finish(qb, base), nil
}

// CreateCountBuilder compiles SELECT COUNT(*) under the same filter and
// record restriction, joining only what the filter needs.
func (s *Service) CreateCountBuilder(ctx context.Context, desc *Descriptor) (*Statement, error) {
	if desc == nil {
		return nil, ErrMissingTable
	}
	required := dedupe(append(desc.Filter.FieldIDs(), desc.Filter.RefFieldIDs()...))
	c, err := s.compile(ctx, desc, required)
	if err != nil {
		return nil, err
	}

	qb := sq.Select("COUNT(*)").From(c.state.From())
	qb = c.joinComputed(qb, c.fields(required))
	qb = c.where(qb)
	return c.finish(qb, nil), nil
}

// CreateAggregateBuilder compiles per-field statistics, grouped and ordered
// by GroupBy when set.
func (s *Service) CreateAggregateBuilder(ctx context.Context, desc *Descriptor) (*Statement, error) {
	if desc == nil {
		return nil, ErrMissingTable
	}
	required := append(desc.Filter.FieldIDs(), desc.Filter.RefFieldIDs()...)
	for _, g := range desc.GroupBy {
		required = append(required, g.FieldID)
	}
	for _, a := range desc.Aggregations {
		required = append(required, a.FieldID)
	}
	required = dedupe(required)

	c, err := s.compile(ctx, desc, required)
	if err != nil {
		return nil, err
	}

	qb := sq.Select().From(c.state.From())
	qb = c.joinComputed(qb, c.fields(required))
	agg := c.dialect.Aggregation()

	for _, g := range desc.GroupBy {
		f, ok := c.root.Field(g.FieldID)
		if !ok {
			c.logger.Debug("skipping unknown group field", zap.String("field", g.FieldID))
			continue
		}
		expr, ready := c.selects.expr(f)
		if !ready {
			c.logger.Debug("skipping group field not ready", zap.String("field", f.ID))
			continue
		}
		key := agg.GroupKey(f, expr)
		qb = qb.Column(key + " AS " + qi(f.DBFieldName)).GroupBy(key)
		qb = c.dialect.Sort().Apply(qb, f, key, g.Order)
	}

	for _, a := range desc.Aggregations {
		f, ok := c.root.Field(a.FieldID)
		if !ok {
			c.logger.Debug("skipping unknown aggregation field", zap.String("field", a.FieldID))
			continue
		}
		expr, _ := c.selects.expr(f)
		for _, stat := range a.Statistics {
			sql, err := agg.Statistic(f, expr, stat)
			if err != nil {
				c.logger.Warn("skipping statistic", zap.String("field", f.ID), zap.Error(err))
				continue
			}
			qb = qb.Column(sql + " AS " + qi(f.ID+"_"+string(stat)))
		}
	}
	qb = qb.Column("COUNT(*) AS " + qi("__c"))
	qb = c.where(qb)
	return c.finish(qb, nil), nil
}

// projection lists the fields to select: the requested ones in order, or
// every field of the root table. Unknown ids are skipped.
func (c *compilation) projection() []*schema.Field {
	if len(c.desc.Projection) == 0 {
		return append([]*schema.Field(nil), c.root.Fields...)
	}
	return c.fields(dedupe(c.desc.Projection))
}

func (c *compilation) fields(ids []string) []*schema.Field {
	out := make([]*schema.Field, 0, len(ids))
	for _, id := range ids {
		f, ok := c.root.Field(id)
		if !ok {
			c.logger.Debug("skipping unknown field", zap.String("field", id))
			continue
		}
		out = append(out, f)
	}
	return out
}

// joinComputed materializes and joins the CTE of every computed field once.
func (c *compilation) joinComputed(qb sq.SelectBuilder, fields []*schema.Field) sq.SelectBuilder {
	if c.mode == ModeCacheView {
		return qb
	}
	for _, f := range fields {
		if !schema.Classify(f).Computed() {
			continue
		}
		qb, _ = c.ctes.join(qb, f)
	}
	return qb
}

// resolveField returns a root field with its expression, preferring the one
// already recorded in the selection.
func (c *compilation) resolveField(id string) (*schema.Field, string, bool) {
	f, ok := c.root.Field(id)
	if !ok {
		return nil, "", false
	}
	if e, ok := c.selection.Get(id); ok {
		return f, e, true
	}
	e, _ := c.selects.expr(f)
	return f, e, true
}

func (c *compilation) filterCond() sq.Sqlizer {
	if c.desc.Filter == nil {
		return nil
	}
	return c.dialect.Filter().Build(c.desc.Filter, dialect.FilterContext{
		Resolve: c.resolveField,
		ResolveRef: func(id string) (string, bool) {
			_, e, ok := c.resolveField(id)
			return e, ok
		},
		CurrentUserID: c.desc.CurrentUserID,
		Logger:        c.logger,
	})
}

func (c *compilation) where(qb sq.SelectBuilder) sq.SelectBuilder {
	if len(c.desc.RestrictRecordIDs) > 0 {
		qb = qb.Where(sq.Eq{column(c.state.MainAlias, schema.ColID): c.desc.RestrictRecordIDs})
	}
	if cond := c.filterCond(); cond != nil {
		qb = qb.Where(cond)
	}
	return qb
}

// applyOrder appends group, sort and default ordering, then the auto number
// tiebreak. Unknown and not-ready fields are skipped.
func (c *compilation) applyOrder(qb sq.SelectBuilder) sq.SelectBuilder {
	for _, it := range c.desc.orderItems() {
		f, expr, ok := c.resolveField(it.FieldID)
		if !ok {
			c.logger.Debug("skipping unknown sort field", zap.String("field", it.FieldID))
			continue
		}
		if _, ready := c.selects.expr(f); !ready {
			c.logger.Debug("skipping sort field not ready", zap.String("field", f.ID))
			continue
		}
		qb = c.dialect.Sort().Apply(qb, f, expr, it.Order)
	}
	return qb.OrderBy(column(c.state.MainAlias, schema.ColAutoNumber) + " ASC")
}

func (c *compilation) finish(qb sq.SelectBuilder, base sq.Sqlizer) *Statement {
	if w := c.ctes.with(base); !w.empty() {
		qb = qb.PrefixExpr(w)
	}
	qb = qb.PlaceholderFormat(c.dialect.Placeholder())

	st := &Statement{
		builder:   qb,
		selection: c.selection,
		mode:      c.mode,
		dialect:   c.dialect.Name(),
		baseCTE:   c.state.BaseCTE,
		ctes:      c.state.CTENames(),
	}
	if ce := c.logger.Check(zap.DebugLevel, "compiled statement"); ce != nil {
		sql, args, err := st.ToSql()
		ce.Write(zap.String("sql", sql), zap.Int("args", len(args)), zap.Error(err))
	}
	return st
}
