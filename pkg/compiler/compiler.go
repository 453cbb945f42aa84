// Package compiler wires the FHIRPath translator to the CTE builder and
// assembler, turning one expression into one SQL statement.
package compiler

import (
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/fhirsql/internal/dag"
	"github.com/leapstack-labs/fhirsql/pkg/cte"
	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/parser"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
	"github.com/leapstack-labs/fhirsql/pkg/translator"
)

// Result is a compiled expression.
type Result struct {
	// SQL is the complete statement, ending in SELECT * FROM <last CTE>;
	SQL string
	// CTEs are in dependency order.
	CTEs []*cte.CTE
	// Fragments is the translator history the CTEs were built from.
	Fragments []fragment.Fragment
}

// Levels groups the CTE names by dependency depth. CTEs on the same level
// read only CTEs of lower levels.
func (r *Result) Levels() ([][]string, error) {
	g := dag.NewGraph()
	for _, c := range r.CTEs {
		g.AddNode(c.Name, c)
	}
	for _, c := range r.CTEs {
		for _, dep := range c.DependsOn {
			if err := g.AddEdge(dep, c.Name); err != nil {
				return nil, err
			}
		}
	}
	return g.GetExecutionLevels()
}

// Compiler compiles FHIRPath for one dialect. It holds only immutable state
// and may be shared by goroutines.
type Compiler struct {
	dialect    dialect.Dialect
	translator *translator.Translator
	builder    *cte.Builder
	assembler  *cte.Assembler
	table      string
	column     string
	logger     *slog.Logger
}

type config struct {
	registry  *fhirtypes.Registry
	logger    *slog.Logger
	table     string
	column    string
	variables map[string]any
	external  []string
}

// Option configures a Compiler.
type Option func(*config)

// WithRegistry replaces the default FHIR type registry.
func WithRegistry(r *fhirtypes.Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithLogger sets the logger shared by every compilation stage.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTable sets the table holding one row per resource.
func WithTable(name string) Option {
	return func(c *config) {
		if name != "" {
			c.table = name
		}
	}
}

// WithResourceColumn sets the column of the resource table holding the
// resource JSON.
func WithResourceColumn(name string) Option {
	return func(c *config) {
		if name != "" {
			c.column = name
		}
	}
}

// WithVariables binds external %variables, given without the % sigil.
func WithVariables(vars map[string]any) Option {
	return func(c *config) {
		for k, v := range vars {
			c.variables[k] = v
		}
	}
}

// WithExternalTables declares tables other than the resource table that
// generated SQL may read.
func WithExternalTables(names ...string) Option {
	return func(c *config) {
		c.external = append(c.external, names...)
	}
}

// New returns a compiler emitting SQL for d.
func New(d dialect.Dialect, opts ...Option) *Compiler {
	cfg := &config{
		logger:    slog.New(slog.DiscardHandler),
		table:     translator.DefaultTable,
		column:    translator.DefaultResourceColumn,
		variables: make(map[string]any),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cteOpts := []cte.Option{
		cte.WithRootTable(cfg.table),
		cte.WithExternalTables(cfg.external...),
		cte.WithLogger(cfg.logger),
	}
	return &Compiler{
		dialect: d,
		translator: translator.New(d,
			translator.WithRegistry(cfg.registry),
			translator.WithLogger(cfg.logger),
			translator.WithConstants(cfg.variables),
		),
		builder:   cte.NewBuilder(d, cteOpts...),
		assembler: cte.NewAssembler(cteOpts...),
		table:     cfg.table,
		column:    cfg.column,
		logger:    cfg.logger,
	}
}

// Dialect returns the dialect the compiler emits.
func (c *Compiler) Dialect() dialect.Dialect { return c.dialect }

// Translator returns the underlying translator.
func (c *Compiler) Translator() *translator.Translator { return c.translator }

// CompileString parses and compiles a FHIRPath expression.
func (c *Compiler) CompileString(expr string) (*Result, error) {
	node, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	return c.Compile(node)
}

// Compile translates node and assembles the resulting CTEs into one query.
func (c *Compiler) Compile(node ast.Node) (*Result, error) {
	ctx := translator.NewContext(c.table, c.column)
	f, err := c.translator.Translate(node, ctx)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	c.translator.Finalize(ctx, f)

	history := ctx.History()
	ctes, err := c.builder.BuildAll(history)
	if err != nil {
		return nil, fmt.Errorf("build CTEs: %w", err)
	}
	ordered, err := c.assembler.OrderByDependencies(ctes)
	if err != nil {
		return nil, fmt.Errorf("order CTEs: %w", err)
	}
	with, err := c.assembler.GenerateWithClause(ordered)
	if err != nil {
		return nil, fmt.Errorf("assemble query: %w", err)
	}
	sql := with + "\n" + cte.GenerateFinalSelect(ordered[len(ordered)-1])

	c.logger.Debug("compiled expression",
		"dialect", c.dialect.Name(),
		"expression", ast.Format(node),
		"ctes", len(ordered),
	)
	return &Result{SQL: sql, CTEs: ordered, Fragments: history}, nil
}
