package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fhirsql/internal/config"
)

// NewLoadCommand creates the load command.
func NewLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <ndjson>",
		Short: "Load NDJSON resources into the resource table",
		Long: `Replace the configured resource table of the target with the FHIR
resources in an NDJSON file, one resource per line. Resources without an
id receive a generated one.`,
		Example: `  fhirsql load --database fhir.duckdb patients.ndjson
  fhirsql load --table observations observations.ndjson`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.GetConfig(ctx)

			adp, err := connect(ctx, cfg.Target, config.GetLogger(ctx))
			if err != nil {
				return err
			}
			defer func() { _ = adp.Close() }()

			n, err := loadFile(ctx, adp, cfg.Table, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d resources into %s (%s)\n", n, cfg.Table, adp.DialectName())
			return nil
		},
	}
}
