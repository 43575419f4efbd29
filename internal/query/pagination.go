package query

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/schema"
	"go.uber.org/zap"
)

// paginationPlan is the planner's decision.
type paginationPlan struct {
	// base is the body of the base CTE, nil when the table is read directly.
	base sq.SelectBuilder
	ok   bool
	// bounded is set when base applies filter, order and LIMIT.
	bounded bool
	bound   int
	reason  string
}

// planPagination decides whether a bounded base sub-query can be read
// instead of the table. It never fails; when in doubt the plan is unbounded.
func (c *compilation) planPagination() paginationPlan {
	desc := c.desc
	restrict := len(desc.RestrictRecordIDs) > 0

	var plan paginationPlan
	switch {
	case desc.Limit <= 0:
		plan.reason = "unbounded"
	default:
		plan.bound = desc.Offset + desc.Limit
		if desc.Offset < 0 {
			plan.bound = desc.Limit
		}
		if id, ok := c.firstUnsafeRef(); ok {
			plan.reason = "computed or unknown field " + id
		} else {
			plan.bounded = true
		}
	}
	c.logger.Debug("pagination plan",
		zap.Bool("bounded", plan.bounded), zap.Int("bound", plan.bound),
		zap.Bool("restricted", restrict), zap.String("reason", plan.reason))

	if !plan.bounded && !restrict {
		return plan
	}

	base := sq.Select("*").From(c.state.Source + " AS " + qi(c.state.MainAlias))
	if restrict {
		base = base.Where(sq.Eq{column(c.state.MainAlias, schema.ColID): desc.RestrictRecordIDs})
	}
	if plan.bounded {
		if cond := c.filterCond(); cond != nil {
			base = base.Where(cond)
		}
		base = c.applyOrder(base).Limit(uint64(plan.bound))
	}
	plan.base = base
	plan.ok = true
	return plan
}

// firstUnsafeRef returns the first filter or ordering field that is computed
// or missing from the root table.
func (c *compilation) firstUnsafeRef() (string, bool) {
	for _, id := range c.desc.referencedFields() {
		f, ok := c.root.Field(id)
		if !ok || schema.Classify(f).Computed() {
			return id, true
		}
	}
	return "", false
}
