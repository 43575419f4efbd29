package schema

import (
	"strings"

	"github.com/atlekbai/record_query/internal/filter"
)

// QuoteIdent quotes a SQL identifier, escaping embedded double quotes.
func QuoteIdent(name string) string {
	return `"` + EscapeMarks(strings.ReplaceAll(name, `"`, `""`)) + `"`
}

// EscapeMarks doubles every '?' so placeholder rewriting keeps it literal.
// Text quoted into SQL must pass through it.
func EscapeMarks(s string) string {
	return strings.ReplaceAll(s, "?", "??")
}

// System columns present on every record table.
const (
	ColID               = "__id"
	ColAutoNumber       = "__auto_number"
	ColCreatedTime      = "__created_time"
	ColLastModifiedTime = "__last_modified_time"
)

type FieldType string

const (
	FieldSingleLineText    FieldType = "singleLineText"
	FieldLongText          FieldType = "longText"
	FieldNumber            FieldType = "number"
	FieldRating            FieldType = "rating"
	FieldAutoNumber        FieldType = "autoNumber"
	FieldCheckbox          FieldType = "checkbox"
	FieldDate              FieldType = "date"
	FieldCreatedTime       FieldType = "createdTime"
	FieldLastModifiedTime  FieldType = "lastModifiedTime"
	FieldSingleSelect      FieldType = "singleSelect"
	FieldMultipleSelect    FieldType = "multipleSelect"
	FieldLink              FieldType = "link"
	FieldUser              FieldType = "user"
	FieldCreatedBy         FieldType = "createdBy"
	FieldLastModifiedBy    FieldType = "lastModifiedBy"
	FieldAttachment        FieldType = "attachment"
	FieldFormula           FieldType = "formula"
	FieldRollup            FieldType = "rollup"
	FieldConditionalRollup FieldType = "conditionalRollup"
)

// CellValueType is the logical type of a single cell element.
type CellValueType string

const (
	CellString   CellValueType = "string"
	CellNumber   CellValueType = "number"
	CellBoolean  CellValueType = "boolean"
	CellDateTime CellValueType = "dateTime"
)

// DbFieldType is the physical column type.
type DbFieldType string

const (
	DbText     DbFieldType = "TEXT"
	DbInteger  DbFieldType = "INTEGER"
	DbReal     DbFieldType = "REAL"
	DbBoolean  DbFieldType = "BOOLEAN"
	DbDateTime DbFieldType = "DATETIME"
	DbJSON     DbFieldType = "JSON"
)

type Relationship string

const (
	ManyOne  Relationship = "manyOne"
	OneOne   Relationship = "oneOne"
	OneMany  Relationship = "oneMany"
	ManyMany Relationship = "manyMany"
)

// TimeNone marks a date formatting without a time component.
const TimeNone = "None"

type Formatting struct {
	Date      string `json:"date,omitempty" yaml:"date,omitempty"`
	Time      string `json:"time,omitempty" yaml:"time,omitempty"`
	TimeZone  string `json:"timeZone,omitempty" yaml:"timeZone,omitempty"`
	Precision *int   `json:"precision,omitempty" yaml:"precision,omitempty"`
}

type Choice struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// Options is the union of every kind-specific option. Members that do not
// apply to a field's type stay at their zero value.
type Options struct {
	Formatting *Formatting `json:"formatting,omitempty" yaml:"formatting,omitempty"`
	Choices    []Choice    `json:"choices,omitempty" yaml:"choices,omitempty"`

	// link
	ForeignTableID  string       `json:"foreignTableId,omitempty" yaml:"foreignTableId,omitempty"`
	Relationship    Relationship `json:"relationship,omitempty" yaml:"relationship,omitempty"`
	FkHostTableName string       `json:"fkHostTableName,omitempty" yaml:"fkHostTableName,omitempty"`
	SelfKeyName     string       `json:"selfKeyName,omitempty" yaml:"selfKeyName,omitempty"`
	ForeignKeyName  string       `json:"foreignKeyName,omitempty" yaml:"foreignKeyName,omitempty"`
	LookupFieldID   string       `json:"lookupFieldId,omitempty" yaml:"lookupFieldId,omitempty"`

	// formula, rollup, conditional rollup
	Expression string         `json:"expression,omitempty" yaml:"expression,omitempty"`
	Filter     *filter.Filter `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// LookupOptions describes the path of a lookup or rollup field.
type LookupOptions struct {
	LinkFieldID    string `json:"linkFieldId" yaml:"linkFieldId"`
	ForeignTableID string `json:"foreignTableId" yaml:"foreignTableId"`
	LookupFieldID  string `json:"lookupFieldId" yaml:"lookupFieldId"`
}

type Field struct {
	ID                  string         `json:"id" yaml:"id"`
	Name                string         `json:"name" yaml:"name"`
	DBFieldName         string         `json:"dbFieldName" yaml:"dbFieldName"`
	Type                FieldType      `json:"type" yaml:"type"`
	CellValueType       CellValueType  `json:"cellValueType,omitempty" yaml:"cellValueType,omitempty"`
	DBFieldType         DbFieldType    `json:"dbFieldType,omitempty" yaml:"dbFieldType,omitempty"`
	IsMultipleCellValue bool           `json:"isMultipleCellValue,omitempty" yaml:"isMultipleCellValue,omitempty"`
	IsLookup            bool           `json:"isLookup,omitempty" yaml:"isLookup,omitempty"`
	LookupOptions       *LookupOptions `json:"lookupOptions,omitempty" yaml:"lookupOptions,omitempty"`
	Options             Options        `json:"options,omitempty" yaml:"options,omitempty"`
}

// HasTime reports whether a date field is formatted with a time component.
// Fields without formatting keep full timestamp precision.
func (f *Field) HasTime() bool {
	if f.Options.Formatting == nil {
		return true
	}
	return f.Options.Formatting.Time != TimeNone
}

// TimeZone returns the configured display timezone, "UTC" when unset.
func (f *Field) TimeZone() string {
	if f.Options.Formatting != nil && f.Options.Formatting.TimeZone != "" {
		return f.Options.Formatting.TimeZone
	}
	return "UTC"
}

// Precision returns the configured numeric display precision.
func (f *Field) Precision() (int, bool) {
	if f.Options.Formatting == nil || f.Options.Formatting.Precision == nil {
		return 0, false
	}
	return *f.Options.Formatting.Precision, true
}

// ChoiceNames returns the declared choice labels in order.
func (f *Field) ChoiceNames() []string {
	names := make([]string, 0, len(f.Options.Choices))
	for _, c := range f.Options.Choices {
		names = append(names, c.Name)
	}
	return names
}

// TableDomain is a read-only snapshot of one table.
type TableDomain struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	DBTableName string   `json:"dbTableName" yaml:"dbTableName"`
	CacheView   string   `json:"cacheView,omitempty" yaml:"cacheView,omitempty"`
	Fields      []*Field `json:"fields" yaml:"fields"`

	byID map[string]*Field
}

// NewTableDomain builds a table snapshot and indexes its fields.
func NewTableDomain(id, name, dbTableName string, fields ...*Field) *TableDomain {
	t := &TableDomain{ID: id, Name: name, DBTableName: dbTableName, Fields: fields}
	t.index()
	return t
}

func (t *TableDomain) index() {
	t.byID = make(map[string]*Field, len(t.Fields))
	for _, f := range t.Fields {
		t.byID[f.ID] = f
	}
}

// Field finds a field by id. Tables built as struct literals have no index
// and are scanned without writing to them.
func (t *TableDomain) Field(id string) (*Field, bool) {
	if t.byID == nil {
		for _, f := range t.Fields {
			if f.ID == id {
				return f, true
			}
		}
		return nil, false
	}
	f, ok := t.byID[id]
	return f, ok
}

// PrimaryField returns the first declared field, used as the record title.
func (t *TableDomain) PrimaryField() *Field {
	if len(t.Fields) == 0 {
		return nil
	}
	return t.Fields[0]
}

// TableName returns the quoted storage table name. Dotted names are quoted per part.
func (t *TableDomain) TableName() string {
	return QuoteQualified(t.DBTableName)
}

// QuoteQualified quotes a possibly schema-qualified name like "bse.tbl".
func QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// Domains is the table graph supplied to one compilation.
type Domains struct {
	root   string
	tables map[string]*TableDomain
}

// NewDomains builds a graph rooted at rootID.
func NewDomains(rootID string, tables ...*TableDomain) *Domains {
	d := &Domains{root: rootID, tables: make(map[string]*TableDomain, len(tables))}
	for _, t := range tables {
		d.tables[t.ID] = t
	}
	return d
}

// Root returns the table the query targets.
func (d *Domains) Root() *TableDomain {
	return d.tables[d.root]
}

// Table finds a table of the graph by id.
func (d *Domains) Table(id string) (*TableDomain, bool) {
	t, ok := d.tables[id]
	return t, ok
}

// Len returns the number of tables in the graph.
func (d *Domains) Len() int {
	return len(d.tables)
}
