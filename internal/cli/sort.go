package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/schema"
)

type SortOptions struct {
	*RootOptions
	Table string
	Field string
	Desc  bool
}

// SortResult holds the ORDER BY items for one field.
type SortResult struct {
	Field string   `json:"field"`
	Items []string `json:"items"`
}

func (r SortResult) String() string { return strings.Join(r.Items, ", ") }

func NewSortCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SortOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "sort",
		Short:         "Render the ORDER BY items of a field",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSort(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Table, "table", "t", "", "table id")
	cmd.Flags().StringVarP(&opts.Field, "field", "f", "", "field id")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("field")

	return cmd
}

func runSort(cmd *cobra.Command, opts *SortOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cache, err := opts.loadSchema(cmd.Context())
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeLoad, err)
	}
	tbl, err := cache.GetTableDomainByID(cmd.Context(), opts.Table)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeField, err)
	}
	f, ok := tbl.Field(opts.Field)
	if !ok {
		return out.Fail(ExitFailure, ErrCodeField, fmt.Errorf("field %s not found in %s", opts.Field, opts.Table))
	}

	order := dialect.Asc
	if opts.Desc {
		order = dialect.Desc
	}
	expr := schema.QuoteIdent("t") + "." + schema.QuoteIdent(f.DBFieldName)
	d := dialect.New(opts.Dialect)
	items := d.Sort().Clause(f, expr, order)
	for i, it := range items {
		if items[i], err = d.Placeholder().ReplacePlaceholders(it); err != nil {
			return out.Fail(ExitFailure, ErrCodeCompile, err)
		}
	}
	return out.Success(SortResult{Field: f.ID, Items: items}, "")
}
