package query

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/atlekbai/record_query/internal/schema"
)

const (
	mainAlias = "t"
	baseCTE   = "__base"
)

// qi is shorthand for schema.QuoteIdent.
func qi(name string) string { return schema.QuoteIdent(name) }

// column qualifies a storage column with a table alias.
func column(alias, name string) string { return qi(alias) + "." + qi(name) }

type cteKey struct {
	tableID string
	fieldID string
	// restricted CTEs read the host rows from the base CTE.
	restricted bool
}

type cteEntry struct {
	key    cteKey
	name   string
	body   sq.Sqlizer
	joined bool
}

// QueryPlanState is the mutable state of one compilation. It is never shared
// between calls.
type QueryPlanState struct {
	MainAlias string
	// Source is the quoted table source before any CTE is interposed.
	Source string
	// BaseCTE names the pagination sub-query, empty when none was planned.
	BaseCTE string

	rootID   string
	ctes     map[cteKey]*cteEntry
	order    []*cteEntry
	notReady map[cteKey]bool
	visiting map[cteKey]bool
}

func newPlanState(root *schema.TableDomain, source string) *QueryPlanState {
	return &QueryPlanState{
		MainAlias: mainAlias,
		Source:    source,
		rootID:    root.ID,
		ctes:      make(map[cteKey]*cteEntry),
		notReady:  make(map[cteKey]bool),
		visiting:  make(map[cteKey]bool),
	}
}

// From is the FROM item of the main statement.
func (s *QueryPlanState) From() string {
	if s.BaseCTE != "" {
		return qi(s.BaseCTE) + " AS " + qi(s.MainAlias)
	}
	return s.Source + " AS " + qi(s.MainAlias)
}

func (s *QueryPlanState) rootKey(fieldID string) cteKey {
	return cteKey{tableID: s.rootID, fieldID: fieldID, restricted: s.BaseCTE != ""}
}

// FieldCTE reports the CTE materialized for a root field and whether it is
// joined into the main statement.
func (s *QueryPlanState) FieldCTE(fieldID string) (name string, joined, ok bool) {
	e, ok := s.ctes[s.rootKey(fieldID)]
	if !ok {
		return "", false, false
	}
	return e.name, e.joined, true
}

// NotReady reports whether a root field could not be materialized.
func (s *QueryPlanState) NotReady(fieldID string) bool {
	return s.notReady[s.rootKey(fieldID)]
}

// CTENames lists materialized field CTEs in emission order.
func (s *QueryPlanState) CTENames() []string {
	names := make([]string, 0, len(s.order))
	for _, e := range s.order {
		names = append(names, e.name)
	}
	return names
}

func (s *QueryPlanState) cteName(k cteKey) string {
	switch {
	case k.tableID != s.rootID:
		return "cte_" + k.tableID + "_" + k.fieldID
	case !k.restricted && s.BaseCTE != "":
		return "cte_full_" + k.fieldID
	default:
		return "cte_" + k.fieldID
	}
}

// SelectionMap maps field ids to the SQL expression resolving them.
// Entries are never overwritten.
type SelectionMap struct {
	exprs map[string]string
	order []string
}

func NewSelectionMap() *SelectionMap {
	return &SelectionMap{exprs: make(map[string]string)}
}

// Set records expr for fieldID. It reports false, leaving the map unchanged,
// when a different expression is already recorded.
func (m *SelectionMap) Set(fieldID, expr string) bool {
	if cur, ok := m.exprs[fieldID]; ok {
		return cur == expr
	}
	m.exprs[fieldID] = expr
	m.order = append(m.order, fieldID)
	return true
}

func (m *SelectionMap) Get(fieldID string) (string, bool) {
	e, ok := m.exprs[fieldID]
	return e, ok
}

// FieldIDs returns the recorded ids in insertion order.
func (m *SelectionMap) FieldIDs() []string {
	return append([]string(nil), m.order...)
}

func (m *SelectionMap) Len() int { return len(m.order) }

// Entries returns a copy of the map.
func (m *SelectionMap) Entries() map[string]string {
	out := make(map[string]string, len(m.exprs))
	for k, v := range m.exprs {
		out[k] = v
	}
	return out
}

func (m *SelectionMap) clone() *SelectionMap {
	return &SelectionMap{exprs: m.Entries(), order: m.FieldIDs()}
}
