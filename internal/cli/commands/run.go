package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fhirsql/internal/config"
	"github.com/leapstack-labs/fhirsql/pkg/adapter"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	Load string
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <expression>",
		Short: "Compile a FHIRPath expression and execute it",
		Long: `Compile a FHIRPath expression for the configured target and execute it
against the resource table. Use --load to replace the table with NDJSON
resources first.`,
		Example: `  fhirsql run --load patients.ndjson "Patient.name.family"
  fhirsql run --database fhir.duckdb -o json "Patient.birthDate < @1980"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Load, "load", "", "NDJSON file to load into the resource table first")

	return cmd
}

func runRun(cmd *cobra.Command, expr string, opts *RunOptions) error {
	ctx := cmd.Context()
	cfg := config.GetConfig(ctx)
	logger := config.GetLogger(ctx)

	adp, err := connect(ctx, cfg.Target, logger)
	if err != nil {
		return err
	}
	defer func() { _ = adp.Close() }()

	// The engine decides the dialect.
	c, err := newCompiler(cfg, adp.DialectName(), logger)
	if err != nil {
		return err
	}
	res, err := c.CompileString(expr)
	if err != nil {
		return err
	}

	if opts.Load != "" {
		n, err := loadFile(ctx, adp, cfg.Table, opts.Load)
		if err != nil {
			return err
		}
		logger.Info("loaded resources", slog.Int("count", n), slog.String("table", cfg.Table))
	}

	w := cmd.OutOrStdout()
	if cfg.Output == "sql" {
		_, _ = fmt.Fprintln(w, res.SQL)
		_, _ = fmt.Fprintln(w)
	}

	rows, err := adp.Query(ctx, res.SQL)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	cols, values, err := adapter.Collect(rows)
	if err != nil {
		return err
	}
	return renderRows(w, cfg.Output, cols, values)
}
