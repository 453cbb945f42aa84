package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display fhirsql version and build information.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "fhirsql v%s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "FHIRPath to SQL compiler for DuckDB and PostgreSQL (%s)\n", runtime.Version())
		},
	}
}
