package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlekbai/record_query/internal/dialect"
	"github.com/atlekbai/record_query/internal/schema"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Dialect string
	Schema  string // YAML table fixture
}

var (
	ValidFormats  = []string{"text", "json"}
	ValidDialects = []string{dialect.Postgres, dialect.SQLite}
)

// NewRootCommand creates the root command of the recq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "recq",
		Short: "recq compiles record queries to SQL",
		Long:  "Compile record query descriptors against a table fixture and print the resulting SQL.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !slices.Contains(ValidDialects, opts.Dialect) {
				return fmt.Errorf("invalid dialect %q: must be one of %v", opts.Dialect, ValidDialects)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log compiler decisions to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Dialect, "dialect", dialect.Postgres, "SQL dialect (postgres|sqlite)")
	cmd.PersistentFlags().StringVarP(&opts.Schema, "schema", "s", "", "table fixture (YAML)")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewSortCommand(opts))

	return cmd
}

// loadSchema reads the table fixture into a metadata cache.
func (o *RootOptions) loadSchema(ctx context.Context) (*schema.Cache, error) {
	if o.Schema == "" {
		return nil, fmt.Errorf("--schema is required")
	}
	cache := schema.NewCache()
	if err := cache.Load(ctx, schema.FixtureSource{Path: o.Schema}); err != nil {
		return nil, err
	}
	return cache, nil
}

// logger writes debug logs to w in verbose mode.
func (o *RootOptions) logger(w io.Writer) *zap.Logger {
	if !o.Verbose {
		return zap.NewNop()
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core)
}
