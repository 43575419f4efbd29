package schema

// Shape is how a field's value is reached in SQL.
type Shape int

const (
	ShapeColumn   Shape = iota // plain column on the record table
	ShapeJSON                  // JSON column, array for multi-valued cells
	ShapeComputed              // derived through a field CTE
)

// Computation identifies how a computed field is derived.
type Computation int

const (
	ComputeNone Computation = iota
	ComputeLookup
	ComputeRollup
	ComputeConditionalRollup
	ComputeFormula
)

// ValueKind drives type-dependent SQL (ordering, filtering, aggregation).
type ValueKind int

const (
	ValueText ValueKind = iota
	ValueNumber
	ValueBoolean
	ValueDateTime
	ValueSingleSelect
	ValueMultiSelect
	ValueLink
	ValueUser
	ValueJSON
)

func (k ValueKind) String() string {
	switch k {
	case ValueText:
		return "text"
	case ValueNumber:
		return "number"
	case ValueBoolean:
		return "boolean"
	case ValueDateTime:
		return "dateTime"
	case ValueSingleSelect:
		return "singleSelect"
	case ValueMultiSelect:
		return "multiSelect"
	case ValueLink:
		return "link"
	case ValueUser:
		return "user"
	case ValueJSON:
		return "json"
	}
	return "unknown"
}

// Class is the result of classifying a field.
type Class struct {
	Shape    Shape
	Compute  Computation
	Value    ValueKind
	Multiple bool
}

// Computed reports whether the field needs a field CTE.
func (c Class) Computed() bool {
	return c.Shape == ShapeComputed
}

// Classify returns the SQL shape, computation, value kind and cardinality of a field.
// Unknown types and option shapes fall back to a single-valued text column.
func Classify(f *Field) Class {
	c := Class{
		Compute:  computation(f),
		Value:    valueKind(f),
		Multiple: f.IsMultipleCellValue,
	}
	switch f.Type {
	case FieldMultipleSelect, FieldAttachment:
		if !f.IsLookup {
			c.Multiple = true
		}
	}
	// A multi-valued single select is a lookup through a multi-valued link:
	// its cells are arrays of choice labels.
	if c.Value == ValueSingleSelect && c.Multiple {
		c.Value = ValueMultiSelect
	}

	switch {
	case c.Compute != ComputeNone:
		c.Shape = ShapeComputed
	case f.DBFieldType == DbJSON || c.Multiple:
		c.Shape = ShapeJSON
	default:
		c.Shape = ShapeColumn
	}
	return c
}

func computation(f *Field) Computation {
	if f.IsLookup {
		return ComputeLookup
	}
	switch f.Type {
	case FieldFormula:
		return ComputeFormula
	case FieldRollup:
		return ComputeRollup
	case FieldConditionalRollup:
		return ComputeConditionalRollup
	}
	return ComputeNone
}

func valueKind(f *Field) ValueKind {
	switch f.Type {
	case FieldNumber, FieldRating, FieldAutoNumber:
		return ValueNumber
	case FieldCheckbox:
		return ValueBoolean
	case FieldDate, FieldCreatedTime, FieldLastModifiedTime:
		return ValueDateTime
	case FieldSingleSelect:
		return ValueSingleSelect
	case FieldMultipleSelect:
		return ValueMultiSelect
	case FieldLink:
		return ValueLink
	case FieldUser, FieldCreatedBy, FieldLastModifiedBy:
		return ValueUser
	case FieldAttachment:
		return ValueJSON
	case FieldFormula, FieldRollup, FieldConditionalRollup:
		return cellKind(f.CellValueType)
	case FieldSingleLineText, FieldLongText:
		return ValueText
	}
	return ValueText
}

func cellKind(t CellValueType) ValueKind {
	switch t {
	case CellNumber:
		return ValueNumber
	case CellBoolean:
		return ValueBoolean
	case CellDateTime:
		return ValueDateTime
	}
	return ValueText
}
