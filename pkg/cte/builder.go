// Package cte turns translator fragments into named SQL sub-queries and
// assembles them into a single WITH query.
//
// Three CTE shapes are produced:
//
//   - plain: one output row per source row, projecting the fragment expression
//   - aggregate: one row per resource, re-packing element rows into an array
//   - unnest: one row per element of a JSON array, with a 1-based index
//
// Every CTE exposes an id column plus its value column; element-row CTEs
// (value column "item") also expose item_idx.
package cte

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// Default value column names.
const (
	ElementAlias = "item"
	ResultAlias  = "result"
	indexSuffix  = "_idx"
)

// DefaultRootTable is the table holding one row per resource.
const DefaultRootTable = "resources"

// CTE is one named sub-query of the assembled statement.
type CTE struct {
	Name string
	// Query is the SELECT statement without surrounding parentheses.
	Query string
	// DependsOn lists the CTEs the query reads, external tables excluded.
	DependsOn      []string
	RequiresUnnest bool
	Metadata       fragment.Metadata
}

type options struct {
	root     string
	external []string
	logger   *slog.Logger
}

// Option configures a Builder or an Assembler.
type Option func(*options)

// WithRootTable sets the table read by fragments that carry no source. The
// root table is always external.
func WithRootTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.root = name
		}
	}
}

// WithExternalTables declares tables that exist outside the WITH clause.
// Dependencies on them are not CTE edges.
func WithExternalTables(names ...string) Option {
	return func(o *options) {
		o.external = append(o.external, names...)
	}
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		root:   DefaultRootTable,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) externalSet() map[string]bool {
	set := map[string]bool{o.root: true}
	for _, name := range o.external {
		set[name] = true
	}
	return set
}

// Builder converts fragments into CTEs. It holds only immutable
// configuration and may be shared by goroutines.
type Builder struct {
	dialect  dialect.Dialect
	root     string
	external map[string]bool
	logger   *slog.Logger
}

// NewBuilder returns a builder rendering UNNEST clauses for d.
func NewBuilder(d dialect.Dialect, opts ...Option) *Builder {
	o := newOptions(opts)
	return &Builder{
		dialect:  d,
		root:     o.root,
		external: o.externalSet(),
		logger:   o.logger,
	}
}

// BuildAll converts an ordered fragment history, each fragment defaulting
// its source to the CTE built before it.
func (b *Builder) BuildAll(fragments []fragment.Fragment) ([]*CTE, error) {
	ctes := make([]*CTE, 0, len(fragments))
	var previous *CTE
	for _, f := range fragments {
		c, err := b.FragmentToCTE(f, previous)
		if err != nil {
			return nil, err
		}
		ctes = append(ctes, c)
		previous = c
	}
	return ctes, nil
}

// FragmentToCTE builds the CTE for f. A fragment without a source table reads
// previous, or the root table when previous is nil.
func (b *Builder) FragmentToCTE(f fragment.Fragment, previous *CTE) (*CTE, error) {
	name := f.Metadata.CTEName
	if name == "" {
		return nil, &MissingMetadataError{Field: "CTEName"}
	}

	source := f.SourceTable
	if source == "" {
		source = b.root
		if previous != nil {
			source = previous.Name
		}
	}

	var query string
	switch {
	case f.RequiresUnnest:
		q, err := b.WrapUnnestQuery(f, source)
		if err != nil {
			return nil, err
		}
		query = q
	case f.IsAggregate:
		q, err := b.aggregateQuery(f, source)
		if err != nil {
			return nil, err
		}
		query = q
	default:
		query = b.plainQuery(f, source)
	}

	c := &CTE{
		Name:           name,
		Query:          query,
		DependsOn:      b.dependencies(f, source),
		RequiresUnnest: f.RequiresUnnest,
		Metadata:       f.Metadata,
	}
	b.logger.Debug("built CTE", "name", c.Name, "source", source, "depends_on", c.DependsOn)
	return c, nil
}

// WrapUnnestQuery renders the query flattening f's ArrayColumn, read from
// sourceTable, into one row per element.
func (b *Builder) WrapUnnestQuery(f fragment.Fragment, sourceTable string) (string, error) {
	array := strings.TrimSpace(f.Metadata.ArrayColumn)
	if array == "" {
		return "", &MissingMetadataError{CTE: f.Metadata.CTEName, Field: "ArrayColumn"}
	}
	alias := valueAlias(f, ElementAlias)
	idColumn := f.Metadata.IDColumn
	if idColumn == "" {
		idColumn = sourceTable + ".id"
	}
	projection := f.Metadata.ProjectionExpression
	if projection == "" {
		projection = alias + "_src." + alias
	}

	order := alias + "_src." + alias + "_ord"
	if f.Metadata.SourceIndex != "" {
		order = f.Metadata.SourceIndex + ", " + order
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s AS id, %s AS %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s%s FROM %s, %s",
		idColumn, projection, alias, idColumn, order, alias, indexSuffix,
		sourceTable, b.dialect.GenerateLateralUnnest(sourceTable, array, alias))
	writeFilter(&sb, " WHERE ", f.Metadata.FilterCondition)
	return sb.String(), nil
}

func (b *Builder) plainQuery(f fragment.Fragment, source string) string {
	alias := valueAlias(f, ResultAlias)
	id := source + ".id"
	if f.Metadata.IDColumn != "" {
		id = f.Metadata.IDColumn + " AS id"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s, %s AS %s", id, f.Expression, alias)
	if alias == ElementAlias {
		partition := source + ".id"
		if f.Metadata.IDColumn != "" {
			partition = f.Metadata.IDColumn
		}
		over := "PARTITION BY " + partition
		if f.Metadata.SourceIndex != "" {
			over += " ORDER BY " + f.Metadata.SourceIndex
		}
		fmt.Fprintf(&sb, ", ROW_NUMBER() OVER (%s) AS %s%s", over, alias, indexSuffix)
	}
	sb.WriteString(" FROM " + source)
	for _, t := range f.Metadata.JoinTables {
		if t == source {
			continue
		}
		fmt.Fprintf(&sb, " LEFT JOIN %[1]s ON %[1]s.id = %[2]s.id", t, source)
	}
	writeFilter(&sb, " WHERE ", f.Metadata.FilterCondition)
	return sb.String()
}

func (b *Builder) aggregateQuery(f fragment.Fragment, source string) (string, error) {
	pop := f.Metadata.PopulationTable
	if pop == "" {
		return "", &MissingMetadataError{CTE: f.Metadata.CTEName, Field: "PopulationTable"}
	}
	alias := valueAlias(f, ResultAlias)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %[1]s.id, (SELECT %[2]s FROM %[3]s WHERE %[3]s.id = %[1]s.id", pop, f.Expression, source)
	writeFilter(&sb, " AND ", f.Metadata.FilterCondition)
	fmt.Fprintf(&sb, ") AS %s FROM %s", alias, pop)
	return sb.String(), nil
}

// dependencies lists the CTEs f reads, in first-seen order.
func (b *Builder) dependencies(f fragment.Fragment, source string) []string {
	merged := fragment.MergeDependencies(
		[]string{source},
		f.Metadata.JoinTables,
		[]string{f.Metadata.PopulationTable},
		f.Dependencies,
	)
	deps := make([]string, 0, len(merged))
	for _, d := range merged {
		if b.external[d] || d == f.Metadata.CTEName {
			continue
		}
		deps = append(deps, d)
	}
	return deps
}

func valueAlias(f fragment.Fragment, def string) string {
	if f.Metadata.ResultAlias != "" {
		return f.Metadata.ResultAlias
	}
	return def
}

func writeFilter(sb *strings.Builder, keyword, filter string) {
	if filter = strings.TrimSpace(filter); filter != "" {
		sb.WriteString(keyword + filter)
	}
}
