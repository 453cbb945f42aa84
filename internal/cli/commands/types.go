package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fhirsql/internal/config"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

// TypesOptions holds the flags of the types command.
type TypesOptions struct {
	Polymorphic bool
}

// NewTypesCommand creates the types command.
func NewTypesCommand() *cobra.Command {
	opts := &TypesOptions{}

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the FHIR types known to the compiler",
		Long: `List the type registry used for ofType, is and as, including the
entries added by the configured types_file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetConfig(cmd.Context())
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			if opts.Polymorphic {
				cols, rows := polymorphicRows(reg)
				return renderRows(cmd.OutOrStdout(), cfg.Output, cols, rows)
			}
			cols, rows := typeRows(reg)
			return renderRows(cmd.OutOrStdout(), cfg.Output, cols, rows)
		},
	}

	cmd.Flags().BoolVar(&opts.Polymorphic, "polymorphic", false, "List choice elements and their variants instead")

	return cmd
}

func typeRows(reg *fhirtypes.Registry) ([]string, [][]any) {
	var rows [][]any
	for _, t := range reg.Types() {
		rows = append(rows, []any{t.Name, t.Kind.String(), t.Primitive, strings.Join(t.Discriminator, ", ")})
	}
	return []string{"type", "kind", "primitive", "discriminator"}, rows
}

func polymorphicRows(reg *fhirtypes.Registry) ([]string, [][]any) {
	var rows [][]any
	for _, name := range reg.PolymorphicElements() {
		rows = append(rows, []any{name, strings.Join(reg.GetPolymorphicVariants(name), ", ")})
	}
	return []string{"element", "variants"}, rows
}
