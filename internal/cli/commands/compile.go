package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fhirsql/internal/config"
	"github.com/leapstack-labs/fhirsql/pkg/compiler"
)

// CompileOptions holds the flags of the compile command.
type CompileOptions struct {
	Plan bool
}

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	opts := &CompileOptions{}

	cmd := &cobra.Command{
		Use:   "compile <expression>",
		Short: "Compile a FHIRPath expression to SQL",
		Long: `Compile a FHIRPath expression into a single SQL query built from
common table expressions, for the configured dialect.`,
		Example: `  fhirsql compile "Patient.name.where(use = 'official').family"
  fhirsql compile --dialect postgres "Observation.value.ofType(Quantity).value"
  fhirsql compile --plan "Patient.name.given.count()"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Plan, "plan", false, "Show the CTEs grouped by dependency level")

	return cmd
}

func runCompile(cmd *cobra.Command, expr string, opts *CompileOptions) error {
	ctx := cmd.Context()
	cfg := config.GetConfig(ctx)
	logger := config.GetLogger(ctx)

	c, err := newCompiler(cfg, cfg.Dialect, logger)
	if err != nil {
		return err
	}
	res, err := c.CompileString(expr)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if cfg.Output == "json" {
		return writeCompileJSON(w, res)
	}
	if opts.Plan {
		return writePlan(w, res)
	}
	_, _ = fmt.Fprintln(w, res.SQL)
	return nil
}

type cteJSON struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
	Query     string   `json:"query"`
}

func writeCompileJSON(w io.Writer, res *compiler.Result) error {
	levels, err := res.Levels()
	if err != nil {
		return err
	}
	ctes := make([]cteJSON, len(res.CTEs))
	for i, c := range res.CTEs {
		ctes[i] = cteJSON{Name: c.Name, DependsOn: c.DependsOn, Query: c.Query}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"sql":    res.SQL,
		"ctes":   ctes,
		"levels": levels,
	})
}

func writePlan(w io.Writer, res *compiler.Result) error {
	levels, err := res.Levels()
	if err != nil {
		return err
	}
	deps := make(map[string][]string, len(res.CTEs))
	for _, c := range res.CTEs {
		deps[c.Name] = c.DependsOn
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"level", "cte", "depends on"})
	for i, level := range levels {
		for _, name := range level {
			t.AppendRow(table.Row{i, name, strings.Join(deps[name], ", ")})
		}
	}
	t.Render()
	return nil
}
