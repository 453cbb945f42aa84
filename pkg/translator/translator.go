// Package translator compiles FHIRPath syntax trees into SQL fragments.
//
// The translator walks the tree once, threading a *Context that tracks the
// current row source, the variable scopes and the row sources (CTEs) created
// so far. Each node yields a fragment.Fragment; iterating functions such as
// where and select fork a new row source and advance Context.CurrentTable.
// Engine syntax is delegated to the injected dialect.Dialect.
package translator

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// Well-known environment constants.
var builtinConstants = map[string]string{
	"%ucum":  "http://unitsofmeasure.org",
	"%sct":   "http://snomed.info/sct",
	"%loinc": "http://loinc.org",
}

// Translator turns AST nodes into fragments. It holds only immutable
// configuration and may be shared by goroutines; per-call state lives in
// the Context.
type Translator struct {
	dialect   dialect.Dialect
	registry  *fhirtypes.Registry
	constants map[string]fragment.Fragment
	logger    *slog.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithRegistry replaces the default FHIR type registry.
func WithRegistry(r *fhirtypes.Registry) Option {
	return func(t *Translator) {
		if r != nil {
			t.registry = r
		}
	}
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithConstants binds external %variables. Values may be strings, booleans,
// integers, floats or decimal.Decimal; names are given without the % sigil.
func WithConstants(vars map[string]any) Option {
	return func(t *Translator) {
		for name, v := range vars {
			t.constants["%"+name] = t.constant(v)
		}
	}
}

// New returns a translator emitting SQL for d.
func New(d dialect.Dialect, opts ...Option) *Translator {
	t := &Translator{
		dialect:   d,
		registry:  fhirtypes.Default(),
		constants: make(map[string]fragment.Fragment),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dialect returns the dialect the translator emits.
func (t *Translator) Dialect() dialect.Dialect { return t.dialect }

// Registry returns the type registry in use.
func (t *Translator) Registry() *fhirtypes.Registry { return t.registry }

// Constants returns the names of the bound external variables, sorted.
func (t *Translator) Constants() []string {
	names := make([]string, 0, len(t.constants))
	for name := range t.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Translate compiles node against ctx.
func (t *Translator) Translate(node ast.Node, ctx *Context) (fragment.Fragment, error) {
	switch n := node.(type) {
	case nil:
		return fragment.Fragment{}, ErrNilNode
	case *ast.Literal:
		return t.literal(n)
	case *ast.Identifier:
		return t.identifier(ctx, n)
	case *ast.Invocation:
		return t.invocation(ctx, n)
	case *ast.Indexer:
		return t.indexer(ctx, n)
	case *ast.Operator:
		return t.operator(ctx, n)
	case *ast.FunctionCall:
		focus, err := t.this(ctx)
		if err != nil {
			return fragment.Fragment{}, err
		}
		return t.call(ctx, focus, n)
	case *ast.TypeOperation:
		return t.typeOperation(ctx, n)
	case *ast.Variable:
		return t.variable(ctx, n.Name)
	}
	return fragment.Fragment{}, &UnsupportedNodeError{Node: fmt.Sprintf("%T", node)}
}

func (t *Translator) literal(n *ast.Literal) (fragment.Fragment, error) {
	var f fragment.Fragment
	switch n.Kind {
	case ast.LiteralEmpty:
		return t.empty(), nil
	case ast.LiteralBoolean:
		if n.Value == "true" {
			f = fragment.Literal("TRUE", fhirtypes.KindBoolean)
		} else {
			f = fragment.Literal("FALSE", fhirtypes.KindBoolean)
		}
	case ast.LiteralString:
		f = fragment.Literal(t.dialect.QuoteString(n.Value), fhirtypes.KindString)
	case ast.LiteralInteger:
		if _, err := strconv.ParseInt(n.Value, 10, 64); err != nil {
			return fragment.Fragment{}, &UnsupportedNodeError{Node: n.Value, Reason: "integer literal out of range"}
		}
		f = fragment.Literal(n.Value, fhirtypes.KindInteger)
	case ast.LiteralDecimal:
		f = fragment.Literal(n.Value, fhirtypes.KindDecimal)
	case ast.LiteralDate:
		f = fragment.Literal(t.dialect.QuoteString(n.Value), fhirtypes.KindDate)
	case ast.LiteralDateTime:
		f = fragment.Literal(t.dialect.QuoteString(n.Value), fhirtypes.KindDateTime)
	case ast.LiteralTime:
		f = fragment.Literal(t.dialect.QuoteString(n.Value), fhirtypes.KindTime)
	case ast.LiteralQuantity:
		return t.quantityLiteral(n.Value, n.Unit), nil
	default:
		return fragment.Fragment{}, &UnsupportedNodeError{Node: n.Kind.String() + " literal"}
	}
	f.Metadata.Value = n.Value
	return f, nil
}

// calendarCodes maps calendar duration keywords to UCUM codes.
var calendarCodes = map[string]string{
	"year": "a", "years": "a",
	"month": "mo", "months": "mo",
	"week": "wk", "weeks": "wk",
	"day": "d", "days": "d",
	"hour": "h", "hours": "h",
	"minute": "min", "minutes": "min",
	"second": "s", "seconds": "s",
	"millisecond": "ms", "milliseconds": "ms",
}

func (t *Translator) quantityLiteral(value, unit string) fragment.Fragment {
	code := unit
	if c, ok := calendarCodes[unit]; ok {
		code = c
	}
	expr := t.dialect.GenerateJSONObject(
		[]string{"value", "unit", "code"},
		[]string{value, t.dialect.QuoteString(unit), t.dialect.QuoteString(code)},
	)
	f := fragment.Literal(expr, fhirtypes.KindQuantity)
	f.ElementKind = fhirtypes.KindQuantity
	f.Metadata.Value = value
	f.Metadata.Unit = unit
	f.Metadata.PathBase = expr
	f.Metadata.Variants = [][]dialect.PathStep{nil}
	f.Metadata.TypePath = []string{"Quantity"}
	return f
}

// empty is the empty collection.
func (t *Translator) empty() fragment.Fragment {
	return fragment.Fragment{Expression: t.dialect.GenerateCast("NULL", fhirtypes.KindJSON), Kind: fhirtypes.KindJSON}
}

func (t *Translator) isEmpty(f fragment.Fragment) bool {
	return f.Expression == t.dialect.GenerateCast("NULL", fhirtypes.KindJSON)
}

// constant converts an external Go value into a literal fragment.
func (t *Translator) constant(v any) fragment.Fragment {
	switch x := v.(type) {
	case nil:
		return t.empty()
	case string:
		return fragment.Literal(t.dialect.QuoteString(x), fhirtypes.KindString)
	case bool:
		if x {
			return fragment.Literal("TRUE", fhirtypes.KindBoolean)
		}
		return fragment.Literal("FALSE", fhirtypes.KindBoolean)
	case int:
		return fragment.Literal(strconv.Itoa(x), fhirtypes.KindInteger)
	case int64:
		return fragment.Literal(strconv.FormatInt(x, 10), fhirtypes.KindInteger)
	case float64:
		return fragment.Literal(decimal.NewFromFloat(x).String(), fhirtypes.KindDecimal)
	case decimal.Decimal:
		return fragment.Literal(x.String(), fhirtypes.KindDecimal)
	}
	return fragment.Literal(t.dialect.QuoteString(fmt.Sprint(v)), fhirtypes.KindString)
}

// this resolves the current focus.
func (t *Translator) this(ctx *Context) (fragment.Fragment, error) {
	return t.variable(ctx, "$this")
}

func (t *Translator) variable(ctx *Context, name string) (fragment.Fragment, error) {
	if f, ok := ctx.Lookup(name); ok {
		if ctx.Inline() {
			f = t.correlate(ctx, f, ctx.CurrentTable)
		}
		return f, nil
	}
	if f, ok := t.constants[name]; ok {
		return f, nil
	}
	if uri, ok := builtinConstants[name]; ok {
		return fragment.Literal(t.dialect.QuoteString(uri), fhirtypes.KindString), nil
	}
	return fragment.Fragment{}, &UnboundVariableError{Name: name}
}

// correlate makes f readable from rows of table. A value from another
// per-resource table becomes a scalar subquery matched on id; values spread
// over element rows are aggregated back into an array first.
func (t *Translator) correlate(ctx *Context, f fragment.Fragment, table string) fragment.Fragment {
	if f.SourceTable == "" || table == "" || f.SourceTable == table {
		return f
	}
	src := f.SourceTable
	var out fragment.Fragment
	if ctx.isElementRows(src) {
		agg := t.dialect.GenerateJSONArrayAgg(f.Expression, ctx.indexColumn(src))
		expr := fmt.Sprintf("(SELECT %s FROM %s WHERE %s.id = %s.id AND %s IS NOT NULL)",
			t.nullIfEmpty(agg), src, src, table, f.Expression)
		out = f.WithExpression(expr, fhirtypes.KindJSON)
		out.ElementKind = elementKind(f)
		out.RequiresUnnest = true
		out.Metadata.IsArray = true
	} else {
		expr := fmt.Sprintf("(SELECT %s FROM %s WHERE %s.id = %s.id)", f.Expression, src, src, table)
		out = f.WithExpression(expr, f.Kind)
		out.ElementKind = f.ElementKind
		out.Metadata.IsArray = f.Metadata.IsArray
		if f.IsJSON() && !f.IsCollection() && !f.Metadata.IsArray {
			out.Metadata.PathBase = expr
			out.Metadata.Variants = [][]dialect.PathStep{nil}
		}
	}
	out.Metadata.TypePath = f.Metadata.TypePath
	out.SourceTable = table
	out.Metadata.SourceIndex = ""
	out.Dependencies = fragment.MergeDependencies(f.Dependencies, []string{src})
	return out
}

func (t *Translator) identifier(ctx *Context, n *ast.Identifier) (fragment.Fragment, error) {
	focus, err := t.this(ctx)
	if err != nil {
		return fragment.Fragment{}, err
	}
	if len(focus.Metadata.TypePath) == 0 && focus.Metadata.PathBase != "" && t.registry.IsResourceType(n.Name) {
		focus.Metadata.TypePath = []string{n.Name}
		return focus, nil
	}
	return t.member(ctx, focus, n.Name)
}

func (t *Translator) invocation(ctx *Context, n *ast.Invocation) (fragment.Fragment, error) {
	target, err := t.Translate(n.Target, ctx)
	if err != nil {
		return fragment.Fragment{}, err
	}
	switch m := n.Member.(type) {
	case *ast.Identifier:
		return t.member(ctx, target, m.Name)
	case *ast.FunctionCall:
		return t.call(ctx, target, m)
	}
	return fragment.Fragment{}, &UnsupportedNodeError{Node: ast.Format(n.Member), Reason: "invalid invocation member"}
}

func (t *Translator) indexer(ctx *Context, n *ast.Indexer) (fragment.Fragment, error) {
	target, err := t.Translate(n.Target, ctx)
	if err != nil {
		return fragment.Fragment{}, err
	}
	target = t.collect(ctx, target)
	idx, err := t.argument(ctx, target, n.Index)
	if err != nil {
		return fragment.Fragment{}, err
	}
	index := t.scalar(idx, fhirtypes.KindInteger)
	var expr string
	if idx.Metadata.Constant {
		if v, _ := strconv.Atoi(idx.Metadata.Value); v < 0 {
			return t.empty(), nil
		}
		expr = t.dialect.GenerateJSONArrayElement(t.array(target), index)
	} else {
		expr = fmt.Sprintf("CASE WHEN %s < 0 THEN NULL ELSE %s END", index, t.dialect.GenerateJSONArrayElement(t.array(target), index))
	}
	out := t.jsonValue(expr, target, idx)
	t.logger.Debug("translated indexer", "target", ast.Format(n.Target), "source", out.SourceTable)
	return out, nil
}

// jsonValue builds a single JSON value derived from the given fragments.
// Member steps on the result extend from expr.
func (t *Translator) jsonValue(expr string, from fragment.Fragment, more ...fragment.Fragment) fragment.Fragment {
	out := fragment.Combine(expr, fhirtypes.KindJSON, append([]fragment.Fragment{from}, more...)...)
	out.RequiresUnnest = false
	out.IsAggregate = from.IsAggregate
	out.ElementKind = elementKind(from)
	out.Metadata.PathBase = expr
	out.Metadata.Variants = [][]dialect.PathStep{nil}
	out.Metadata.TypePath = from.Metadata.TypePath
	return out
}

// scalarResult builds a single native value from the given fragments.
func scalarResult(expr string, kind fhirtypes.Kind, parts ...fragment.Fragment) fragment.Fragment {
	out := fragment.Combine(expr, kind, parts...)
	out.RequiresUnnest = false
	return out
}

// collectionResult builds a JSON array value from the given fragments.
func collectionResult(expr string, elem fhirtypes.Kind, typePath []string, parts ...fragment.Fragment) fragment.Fragment {
	out := fragment.Combine(expr, fhirtypes.KindJSON, parts...)
	out.RequiresUnnest = true
	out.ElementKind = elem
	out.Metadata.IsArray = true
	out.Metadata.ArrayColumn = expr
	out.Metadata.TypePath = typePath
	return out
}

// Finalize makes f the value column of the last row source, adding a
// terminal projection unless f already is. Collections are spread into one
// row per element.
func (t *Translator) Finalize(ctx *Context, f fragment.Fragment) fragment.Fragment {
	if last := ctx.LastCTE(); last != "" && f.Metadata.RowSource && f.SourceTable == last {
		return f
	}
	src := t.sourceOf(ctx, f)
	switch {
	case t.isEmpty(f):
		return t.emitValue(ctx, src, f)
	case f.IsJSON() && isCollection(f):
		return t.emitRows(ctx, src, t.array(f), element(elementAlias+"_src."+elementAlias, f), "", f)
	case ctx.isElementRows(src):
		return t.emitRows(ctx, src, "", f, "")
	}
	return t.emitValue(ctx, src, f)
}
