package query

import (
	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/filter"
	"github.com/atlekbai/record_query/internal/schema"
	"go.uber.org/zap"
)

func levels() []schema.Choice {
	return []schema.Choice{{Name: "Low"}, {Name: "Medium"}, {Name: "High"}}
}

func tasksTable() *schema.TableDomain {
	return schema.NewTableDomain("tblTasks", "Tasks", "tasks",
		&schema.Field{ID: "fldName", Name: "Name", DBFieldName: "name", Type: schema.FieldSingleLineText,
			CellValueType: schema.CellString, DBFieldType: schema.DbText},
		&schema.Field{ID: "fldAmount", Name: "Amount", DBFieldName: "amount", Type: schema.FieldNumber,
			CellValueType: schema.CellNumber, DBFieldType: schema.DbReal},
		&schema.Field{ID: "fldPriority", Name: "Priority", DBFieldName: "priority", Type: schema.FieldSingleSelect,
			CellValueType: schema.CellString, DBFieldType: schema.DbText, Options: schema.Options{Choices: levels()}},
		&schema.Field{ID: "fldProject", Name: "Project", DBFieldName: "project", Type: schema.FieldLink,
			DBFieldType: schema.DbJSON, Options: schema.Options{
				ForeignTableID:  "tblProjects",
				Relationship:    schema.ManyOne,
				FkHostTableName: "tasks",
				SelfKeyName:     "__id",
				ForeignKeyName:  "__fk_project",
				LookupFieldID:   "fldTitle",
			}},
		&schema.Field{ID: "fldProjectName", Name: "Project name", DBFieldName: "project_name",
			Type: schema.FieldSingleLineText, CellValueType: schema.CellString, IsLookup: true,
			LookupOptions: &schema.LookupOptions{LinkFieldID: "fldProject", ForeignTableID: "tblProjects", LookupFieldID: "fldTitle"}},
		&schema.Field{ID: "fldDouble", Name: "Double", DBFieldName: "double", Type: schema.FieldFormula,
			CellValueType: schema.CellNumber, Options: schema.Options{Expression: "{fldAmount} * 2"}},
		&schema.Field{ID: "fldBroken", Name: "Broken", DBFieldName: "broken", Type: schema.FieldFormula,
			CellValueType: schema.CellNumber, Options: schema.Options{Expression: "{fldNope} + 1"}},
	)
}

func projectsTable() *schema.TableDomain {
	return schema.NewTableDomain("tblProjects", "Projects", "projects",
		&schema.Field{ID: "fldTitle", Name: "Title", DBFieldName: "title", Type: schema.FieldSingleLineText,
			CellValueType: schema.CellString, DBFieldType: schema.DbText},
		&schema.Field{ID: "fldLevel", Name: "Level", DBFieldName: "level", Type: schema.FieldSingleSelect,
			CellValueType: schema.CellString, DBFieldType: schema.DbText, Options: schema.Options{Choices: levels()}},
		&schema.Field{ID: "fldTasks", Name: "Tasks", DBFieldName: "tasks", Type: schema.FieldLink,
			DBFieldType: schema.DbJSON, IsMultipleCellValue: true, Options: schema.Options{
				ForeignTableID:  "tblTasks",
				Relationship:    schema.OneMany,
				FkHostTableName: "tasks",
				SelfKeyName:     "__fk_project",
				ForeignKeyName:  "__id",
				LookupFieldID:   "fldName",
			}},
		&schema.Field{ID: "fldTaskNames", Name: "Task names", DBFieldName: "task_names",
			Type: schema.FieldSingleLineText, CellValueType: schema.CellString, IsLookup: true, IsMultipleCellValue: true,
			LookupOptions: &schema.LookupOptions{LinkFieldID: "fldTasks", ForeignTableID: "tblTasks", LookupFieldID: "fldName"}},
		&schema.Field{ID: "fldTaskCount", Name: "Task count", DBFieldName: "task_count", Type: schema.FieldRollup,
			CellValueType: schema.CellNumber, Options: schema.Options{Expression: "countall({values})"},
			LookupOptions: &schema.LookupOptions{LinkFieldID: "fldTasks", ForeignTableID: "tblTasks", LookupFieldID: "fldName"}},
		&schema.Field{ID: "fldMatching", Name: "Matching amount", DBFieldName: "matching", Type: schema.FieldConditionalRollup,
			CellValueType: schema.CellNumber, Options: schema.Options{
				ForeignTableID: "tblTasks",
				LookupFieldID:  "fldAmount",
				Expression:     "sum({values})",
				Filter: &filter.Filter{
					FieldID:  "fldPriority",
					Operator: filter.OpIs,
					Value:    map[string]any{"fieldId": "fldLevel"},
				},
			}},
	)
}

// peopleTable links to itself: every person has a manager.
func peopleTable() *schema.TableDomain {
	return schema.NewTableDomain("tblPeople", "People", "people",
		&schema.Field{ID: "fldName", DBFieldName: "name", Type: schema.FieldSingleLineText},
		&schema.Field{ID: "fldManager", DBFieldName: "manager", Type: schema.FieldLink, DBFieldType: schema.DbJSON,
			Options: schema.Options{
				ForeignTableID:  "tblPeople",
				Relationship:    schema.ManyOne,
				FkHostTableName: "people",
				SelfKeyName:     "__id",
				ForeignKeyName:  "__fk_manager",
			}},
		&schema.Field{ID: "fldManagerName", DBFieldName: "manager_name", Type: schema.FieldSingleLineText, IsLookup: true,
			LookupOptions: &schema.LookupOptions{LinkFieldID: "fldManager", ForeignTableID: "tblPeople", LookupFieldID: "fldName"}},
		&schema.Field{ID: "fldSkipName", DBFieldName: "skip_name", Type: schema.FieldSingleLineText, IsLookup: true,
			LookupOptions: &schema.LookupOptions{LinkFieldID: "fldManager", ForeignTableID: "tblPeople", LookupFieldID: "fldManagerName"}},
		&schema.Field{ID: "fldLoopA", DBFieldName: "loop_a", Type: schema.FieldFormula,
			CellValueType: schema.CellNumber, Options: schema.Options{Expression: "{fldLoopB} + 1"}},
		&schema.Field{ID: "fldLoopB", DBFieldName: "loop_b", Type: schema.FieldFormula,
			CellValueType: schema.CellNumber, Options: schema.Options{Expression: "{fldLoopA} + 1"}},
	)
}

func newTestService(name string, logger *zap.Logger, tables ...*schema.TableDomain) *Service {
	if len(tables) == 0 {
		tables = []*schema.TableDomain{tasksTable(), projectsTable(), peopleTable()}
	}
	return NewService(schema.NewCacheFromTables(tables...), dialect.New(name), logger)
}

func leaf(field string, op filter.Operator, value any) *filter.Filter {
	return &filter.Filter{FieldID: field, Operator: op, Value: value}
}
