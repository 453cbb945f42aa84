package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fhirsql/internal/config"
	"github.com/leapstack-labs/fhirsql/pkg/parity"
)

// ErrParityMismatch is returned when the engines disagree.
var ErrParityMismatch = errors.New("parity mismatch")

// ParityOptions holds the flags of the parity command.
type ParityOptions struct {
	Load string
}

// NewParityCommand creates the parity command.
func NewParityCommand() *cobra.Command {
	opts := &ParityOptions{}

	cmd := &cobra.Command{
		Use:   "parity <expression>",
		Short: "Check that DuckDB and PostgreSQL return the same results",
		Long: `Compile a FHIRPath expression for every parity target, execute the
queries concurrently and compare the normalized result rows.

Targets come from the parity section of fhirsql.yaml. Without one, an
in-memory DuckDB is used, plus PostgreSQL when FHIRSQL_POSTGRES_DSN is set.`,
		Example: `  fhirsql parity --load patients.ndjson "Patient.name.given.distinct()"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParity(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Load, "load", "", "NDJSON file to load into every target first")

	return cmd
}

func parityTargets(cfg *config.Config) []*config.TargetConfig {
	if targets := cfg.Parity.Targets(); len(targets) > 0 {
		return targets
	}
	targets := []*config.TargetConfig{{Type: "duckdb"}}
	if dsn := os.Getenv("FHIRSQL_POSTGRES_DSN"); dsn != "" {
		targets = append(targets, &config.TargetConfig{Type: "postgres", Options: map[string]string{"dsn": dsn}})
	}
	return targets
}

func runParity(cmd *cobra.Command, expr string, opts *ParityOptions) error {
	ctx := cmd.Context()
	cfg := config.GetConfig(ctx)
	logger := config.GetLogger(ctx)

	var targets []parity.Target
	for _, tc := range parityTargets(cfg) {
		adp, err := connect(ctx, tc, logger)
		if err != nil {
			return err
		}
		defer func() { _ = adp.Close() }()

		if opts.Load != "" {
			n, err := loadFile(ctx, adp, cfg.Table, opts.Load)
			if err != nil {
				return fmt.Errorf("%s: %w", adp.DialectName(), err)
			}
			logger.Info("loaded resources", slog.String("dialect", adp.DialectName()), slog.Int("count", n))
		}

		c, err := newCompiler(cfg, adp.DialectName(), logger)
		if err != nil {
			return err
		}
		targets = append(targets, parity.Target{Compiler: c, Adapter: adp})
	}

	report, err := parity.NewRunner(logger, targets...).Run(ctx, expr)
	if err != nil {
		return err
	}

	writeReport(cmd.OutOrStdout(), report, cfg.Output == "sql")
	if !report.Match() {
		return ErrParityMismatch
	}
	return nil
}

func writeReport(w io.Writer, report *parity.Report, showSQL bool) {
	failed := make(map[string]parity.Mismatch, len(report.Mismatches))
	for _, m := range report.Mismatches {
		failed[m.Dialect] = m
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"dialect", "rows", "status"})
	for _, o := range report.Outcomes {
		status := "ok"
		if m, ok := failed[o.Dialect]; ok {
			status = "MISMATCH"
			if m.Err != nil {
				status = "ERROR: " + m.Err.Error()
			}
		}
		t.AppendRow(table.Row{o.Dialect, len(o.Rows), status})
	}
	t.Render()

	for _, m := range report.Mismatches {
		for _, row := range m.Missing {
			_, _ = fmt.Fprintf(w, "%s missing: %s\n", m.Dialect, displayRow(row))
		}
		for _, row := range m.Extra {
			_, _ = fmt.Fprintf(w, "%s extra:   %s\n", m.Dialect, displayRow(row))
		}
	}

	if showSQL {
		for _, o := range report.Outcomes {
			_, _ = fmt.Fprintf(w, "\n-- %s\n%s\n", o.Dialect, o.SQL)
		}
	}
}

func displayRow(row string) string {
	return strings.ReplaceAll(row, "\x1f", " | ")
}
