package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/query"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Query string
	Kind  string
}

// CompileResult is the output of a compile run.
type CompileResult struct {
	SQL       string            `json:"sql"`
	Args      []any             `json:"args"`
	Mode      string            `json:"mode"`
	BaseCTE   string            `json:"baseCte,omitempty"`
	CTEs      []string          `json:"ctes,omitempty"`
	Selection map[string]string `json:"selection"`
}

func (r CompileResult) String() string {
	if len(r.Args) == 0 {
		return r.SQL
	}
	return fmt.Sprintf("%s\nargs: %v", r.SQL, r.Args)
}

func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a query descriptor to SQL",
		Long: `Compile a YAML query descriptor against the tables of --schema.

--kind selects the statement: the record query itself, its count,
or its aggregation.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "query descriptor (YAML)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "query", "statement kind (query|count|aggregate)")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runCompile(cmd *cobra.Command, opts *CompileOptions) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	ctx := cmd.Context()

	cache, err := opts.loadSchema(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeLoad, err)
	}
	desc, err := readDescriptor(opts.Query)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeLoad, err)
	}

	svc := query.NewService(cache, dialect.New(opts.Dialect), opts.logger(cmd.ErrOrStderr()))
	var st *query.Statement
	switch strings.ToLower(opts.Kind) {
	case "query":
		st, err = svc.CreateQueryBuilder(ctx, desc)
	case "count":
		st, err = svc.CreateCountBuilder(ctx, desc)
	case "aggregate":
		st, err = svc.CreateAggregateBuilder(ctx, desc)
	default:
		err = fmt.Errorf("unknown kind %q", opts.Kind)
	}
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeCompile, err)
	}

	sql, args, err := st.ToSql()
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeCompile, err)
	}
	if args == nil {
		args = []any{}
	}
	return out.Success(CompileResult{
		SQL:       sql,
		Args:      args,
		Mode:      string(st.Mode()),
		BaseCTE:   st.BaseCTE(),
		CTEs:      st.CTEs(),
		Selection: st.Selection().Entries(),
	}, uuid.NewString())
}

func readDescriptor(path string) (*query.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	var desc query.Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return &desc, nil
}
