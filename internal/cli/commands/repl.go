package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fhirsql/internal/config"
	"github.com/leapstack-labs/fhirsql/pkg/adapter"
	"github.com/leapstack-labs/fhirsql/pkg/compiler"
	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

const replPrompt = "fhirpath> "

// ReplOptions holds the flags of the repl command.
type ReplOptions struct {
	Execute bool
	Load    string
}

// NewReplCommand creates the repl command.
func NewReplCommand() *cobra.Command {
	opts := &ReplOptions{}

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive FHIRPath shell",
		Long: `Start an interactive shell that compiles each FHIRPath expression and
prints the SQL. With --execute the SQL also runs against the target.`,
		Example: `  fhirsql repl
  fhirsql repl --execute --load patients.ndjson`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepl(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Execute, "execute", "x", false, "Execute expressions against the target")
	cmd.Flags().StringVar(&opts.Load, "load", "", "NDJSON file to load before the first expression (implies --execute)")

	return cmd
}

// replSession is the state of one interactive session.
type replSession struct {
	cmd     *cobra.Command
	cfg     *config.Config
	logger  *slog.Logger
	adp     adapter.Adapter
	c       *compiler.Compiler
	showSQL bool
}

func runRepl(cmd *cobra.Command, opts *ReplOptions) error {
	ctx := cmd.Context()
	s := &replSession{
		cmd:     cmd,
		cfg:     config.GetConfig(ctx),
		logger:  config.GetLogger(ctx),
		showSQL: true,
	}

	dialectName := s.cfg.Dialect
	if opts.Execute || opts.Load != "" {
		adp, err := connect(ctx, s.cfg.Target, s.logger)
		if err != nil {
			return err
		}
		defer func() { _ = adp.Close() }()
		s.adp = adp
		s.showSQL = false
		dialectName = adp.DialectName()

		if opts.Load != "" {
			if err := s.load(opts.Load); err != nil {
				return err
			}
		}
	}
	if err := s.useDialect(dialectName); err != nil {
		return err
	}

	reg, err := s.cfg.Registry()
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile(),
		AutoComplete:    newExpressionCompleter(reg),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "fhirsql REPL (dialect: %s)\n", dialectName)
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if quit := s.dotCommand(line); quit {
				return nil
			}
			continue
		}
		if err := s.eval(line); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(out)
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fhirsql_history")
}

func (s *replSession) useDialect(name string) error {
	c, err := newCompiler(s.cfg, name, s.logger)
	if err != nil {
		return err
	}
	s.c = c
	return nil
}

func (s *replSession) load(path string) error {
	n, err := loadFile(s.cmd.Context(), s.adp, s.cfg.Table, path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), "Loaded %d resources into %s\n", n, s.cfg.Table)
	return nil
}

func (s *replSession) eval(expr string) error {
	res, err := s.c.CompileString(expr)
	if err != nil {
		return err
	}
	out := s.cmd.OutOrStdout()
	if s.showSQL {
		_, _ = fmt.Fprintln(out, res.SQL)
	}
	if s.adp == nil {
		return nil
	}
	rows, err := s.adp.Query(s.cmd.Context(), res.SQL)
	if err != nil {
		return err
	}
	cols, values, err := adapter.Collect(rows)
	if err != nil {
		return err
	}
	return renderRows(out, s.cfg.Output, cols, values)
}

// dotCommand handles a REPL command and reports whether the session ends.
func (s *replSession) dotCommand(line string) bool {
	parts := strings.Fields(line)
	out, errOut := s.cmd.OutOrStdout(), s.cmd.ErrOrStderr()

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		printReplHelp(out)

	case ".sql":
		s.showSQL = !s.showSQL
		_, _ = fmt.Fprintf(out, "SQL display %s\n", onOff(s.showSQL))

	case ".dialect":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(out, "%s (available: %s)\n", s.c.Dialect().Name(), strings.Join(dialect.List(), ", "))
			return false
		}
		if s.adp != nil {
			_, _ = fmt.Fprintf(errOut, "Error: the dialect is fixed by the connected %s target\n", s.adp.DialectName())
			return false
		}
		if err := s.useDialect(parts[1]); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}

	case ".load":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .load <ndjson>")
			return false
		}
		if s.adp == nil {
			_, _ = fmt.Fprintln(errOut, "Error: .load needs --execute")
			return false
		}
		if err := s.load(parts[1]); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return false
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func printReplHelp(w io.Writer) {
	help := `
Commands:
  .help             Show this help message
  .sql              Toggle printing the compiled SQL
  .dialect [name]   Show or switch the SQL dialect (compile-only sessions)
  .load <ndjson>    Replace the resource table (with --execute)
  .quit / .exit     Exit the REPL

Tips:
  - Each line is one FHIRPath expression
  - Use arrow keys to navigate history
  - Tab completes resource types and commands
`
	_, _ = fmt.Fprintln(w, help)
}

// newExpressionCompleter completes dot-commands and resource type names.
func newExpressionCompleter(reg *fhirtypes.Registry) *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, name := range reg.ResourceTypes() {
		items = append(items, readline.PcItem(name))
	}
	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".sql"),
		readline.PcItem(".dialect", readline.PcItemDynamic(func(string) []string { return dialect.List() })),
		readline.PcItem(".load"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
	return readline.NewPrefixCompleter(items...)
}
