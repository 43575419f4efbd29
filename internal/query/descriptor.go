package query

import (
	"errors"

	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/filter"
)

var ErrMissingTable = errors.New("query: table id is required")

// SortItem orders by one field.
type SortItem struct {
	FieldID string        `json:"fieldId" yaml:"fieldId"`
	Order   dialect.Order `json:"order,omitempty" yaml:"order,omitempty"`
}

// AggregationField requests statistics over one field.
type AggregationField struct {
	FieldID    string              `json:"fieldId" yaml:"fieldId"`
	Statistics []dialect.Statistic `json:"statistics" yaml:"statistics"`
}

// Descriptor is the logical description of what to fetch.
type Descriptor struct {
	TableID      string             `json:"tableId" yaml:"tableId"`
	Projection   []string           `json:"projection,omitempty" yaml:"projection,omitempty"`
	Filter       *filter.Filter     `json:"filter,omitempty" yaml:"filter,omitempty"`
	Sort         []SortItem         `json:"sort,omitempty" yaml:"sort,omitempty"`
	GroupBy      []SortItem         `json:"groupBy,omitempty" yaml:"groupBy,omitempty"`
	Aggregations []AggregationField `json:"aggregationFields,omitempty" yaml:"aggregationFields,omitempty"`
	Limit        int                `json:"limit,omitempty" yaml:"limit,omitempty"`
	Offset       int                `json:"offset,omitempty" yaml:"offset,omitempty"`

	RestrictRecordIDs []string `json:"restrictRecordIds,omitempty" yaml:"restrictRecordIds,omitempty"`
	CurrentUserID     string   `json:"currentUserId,omitempty" yaml:"currentUserId,omitempty"`

	// DefaultSort is the view's default ordering, applied after Sort.
	DefaultSort *SortItem `json:"defaultSort,omitempty" yaml:"defaultSort,omitempty"`
	// UseCacheView reads from the table's materialized cache view when available.
	UseCacheView bool `json:"useCacheView,omitempty" yaml:"useCacheView,omitempty"`
}

// orderItems is the full ordering: group keys, explicit sort, default sort.
// A field keeps its first position.
func (d *Descriptor) orderItems() []SortItem {
	seen := make(map[string]bool)
	var items []SortItem
	add := func(it SortItem) {
		if it.FieldID == "" || seen[it.FieldID] {
			return
		}
		seen[it.FieldID] = true
		items = append(items, it)
	}
	for _, it := range d.GroupBy {
		add(it)
	}
	for _, it := range d.Sort {
		add(it)
	}
	if d.DefaultSort != nil {
		add(*d.DefaultSort)
	}
	return items
}

// referencedFields lists the ids the filter and ordering depend on.
func (d *Descriptor) referencedFields() []string {
	ids := d.Filter.FieldIDs()
	ids = append(ids, d.Filter.RefFieldIDs()...)
	for _, it := range d.orderItems() {
		ids = append(ids, it.FieldID)
	}
	return dedupe(ids)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
