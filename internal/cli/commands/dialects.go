package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fhirsql/internal/config"
	"github.com/leapstack-labs/fhirsql/pkg/adapter"
	"github.com/leapstack-labs/fhirsql/pkg/dialect"
)

// NewDialectsCommand creates the dialects command.
func NewDialectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List the SQL dialects and execution adapters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetConfig(cmd.Context())
			w := cmd.OutOrStdout()

			if cfg.Output == "json" {
				return renderJSON(w, []string{"dialect", "adapter"}, dialectRows())
			}

			t := table.NewWriter()
			t.SetOutputMirror(w)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"dialect", "adapter", ""})
			for _, r := range dialectRows() {
				mark := ""
				if strings.EqualFold(r[0].(string), cfg.Dialect) {
					mark = "*"
				}
				t.AppendRow(table.Row{r[0], r[1], mark})
			}
			t.Render()
			_, _ = fmt.Fprintf(w, "Adapters: %s\n", strings.Join(adapter.ListAdapters(), ", "))
			return nil
		},
	}
}

func dialectRows() [][]any {
	var rows [][]any
	for _, name := range dialect.List() {
		rows = append(rows, []any{name, adapter.IsRegistered(name)})
	}
	return rows
}
