// Package filter holds the logical predicate tree used by record queries.
package filter

import (
	"fmt"
	"strings"
)

type Conjunction string

const (
	And Conjunction = "and"
	Or  Conjunction = "or"
)

type Operator string

const (
	OpIs             Operator = "is"
	OpIsNot          Operator = "isNot"
	OpContains       Operator = "contains"
	OpDoesNotContain Operator = "doesNotContain"
	OpIsGreater      Operator = "isGreater"
	OpIsGreaterEqual Operator = "isGreaterEqual"
	OpIsLess         Operator = "isLess"
	OpIsLessEqual    Operator = "isLessEqual"
	OpIsEmpty        Operator = "isEmpty"
	OpIsNotEmpty     Operator = "isNotEmpty"
	OpIsAnyOf        Operator = "isAnyOf"
	OpIsNoneOf       Operator = "isNoneOf"
	OpHasAnyOf       Operator = "hasAnyOf"
	OpHasAllOf       Operator = "hasAllOf"
	OpHasNoneOf      Operator = "hasNoneOf"
	OpIsExactly      Operator = "isExactly"
)

var validOps = map[Operator]bool{
	OpIs: true, OpIsNot: true, OpContains: true, OpDoesNotContain: true,
	OpIsGreater: true, OpIsGreaterEqual: true, OpIsLess: true, OpIsLessEqual: true,
	OpIsEmpty: true, OpIsNotEmpty: true, OpIsAnyOf: true, OpIsNoneOf: true,
	OpHasAnyOf: true, OpHasAllOf: true, OpHasNoneOf: true, OpIsExactly: true,
}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool { return validOps[op] }

// Me is the user filter value that resolves to the current user.
const Me = "me"

// Filter is either a leaf (FieldID set) or a group of nested filters.
type Filter struct {
	Conjunction Conjunction `json:"conjunction,omitempty" yaml:"conjunction,omitempty"`
	FilterSet   []*Filter   `json:"filterSet,omitempty" yaml:"filterSet,omitempty"`

	FieldID  string   `json:"fieldId,omitempty" yaml:"fieldId,omitempty"`
	Operator Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// IsLeaf reports whether f is a single field predicate.
func (f *Filter) IsLeaf() bool {
	return f != nil && f.FieldID != ""
}

// FieldIDs returns every field id referenced by the tree in order of first appearance.
func (f *Filter) FieldIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	f.walk(func(leaf *Filter) {
		if !seen[leaf.FieldID] {
			seen[leaf.FieldID] = true
			ids = append(ids, leaf.FieldID)
		}
	})
	return ids
}

// RefFieldIDs returns the ids of fields used as values through FieldRef.
func (f *Filter) RefFieldIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	f.walk(func(leaf *Filter) {
		if ref, ok := AsFieldRef(leaf.Value); ok && !seen[ref] {
			seen[ref] = true
			ids = append(ids, ref)
		}
	})
	return ids
}

func (f *Filter) walk(fn func(*Filter)) {
	if f == nil {
		return
	}
	if f.IsLeaf() {
		fn(f)
		return
	}
	for _, child := range f.FilterSet {
		child.walk(fn)
	}
}

// Items builds an AND group from leaves.
func Items(leaves ...*Filter) *Filter {
	return &Filter{Conjunction: And, FilterSet: leaves}
}

// AsFieldRef recognises a value of the form {"fieldId": "fld..."}.
func AsFieldRef(v any) (string, bool) {
	switch m := v.(type) {
	case map[string]any:
		if id, ok := m["fieldId"].(string); ok && id != "" {
			return id, true
		}
	case map[string]string:
		if id := m["fieldId"]; id != "" {
			return id, true
		}
	}
	return "", false
}

// Values normalises a scalar or list value into a list of strings.
func Values(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(x)}
	}
}

// ParseItem parses a filter value like "is.hello" into a leaf for fieldID.
// List operators split their value on commas.
func ParseItem(fieldID, raw string) (*Filter, error) {
	before, after, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, fmt.Errorf("invalid filter format %q, expected op.value", raw)
	}

	op := Operator(before)
	if !op.Valid() {
		return nil, fmt.Errorf("unknown filter operator %q", op)
	}

	leaf := &Filter{FieldID: fieldID, Operator: op}
	switch op {
	case OpIsEmpty, OpIsNotEmpty:
		if after != "" {
			return nil, fmt.Errorf("%s operator takes no value, got %q", op, after)
		}
	case OpIsAnyOf, OpIsNoneOf, OpHasAnyOf, OpHasAllOf, OpHasNoneOf, OpIsExactly:
		var vals []any
		for _, v := range strings.Split(after, ",") {
			vals = append(vals, v)
		}
		leaf.Value = vals
	default:
		leaf.Value = after
	}
	return leaf, nil
}
