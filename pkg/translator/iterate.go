package translator

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// position is the zero-based $index derived from a 1-based ordinal column.
func position(ord string) fragment.Fragment {
	return fragment.Fragment{Expression: fmt.Sprintf("(%s - 1)", ord), Kind: fhirtypes.KindInteger}
}

// spread reports whether f holds one value per element row rather than one
// value per resource.
func (t *Translator) spread(ctx *Context, f fragment.Fragment) bool {
	return !ctx.Inline() && f.SourceTable != "" && ctx.isElementRows(f.SourceTable)
}

// collect returns f with all its values gathered into one array per
// resource.
func (t *Translator) collect(ctx *Context, f fragment.Fragment) fragment.Fragment {
	if !t.spread(ctx, f) {
		return f
	}
	return t.repack(ctx, f)
}

// repack emits an aggregate row source holding, per resource, the JSON
// array of the values f takes across element rows.
func (t *Translator) repack(ctx *Context, f fragment.Fragment) fragment.Fragment {
	if isCollection(f) && !f.Metadata.RowSource {
		f = t.elementRows(ctx, f)
	}
	src := f.SourceTable
	value := t.toJSON(f)
	agg := t.dialect.GenerateJSONArrayAgg(value, ctx.indexColumn(src))

	cte := fragment.Fragment{
		Expression:   t.nullIfEmpty(agg),
		SourceTable:  src,
		IsAggregate:  true,
		Kind:         fhirtypes.KindJSON,
		ElementKind:  elementKind(f),
		Dependencies: fragment.MergeDependencies([]string{ctx.RootTable, src}, f.Dependencies),
		Metadata: fragment.Metadata{
			CTEName:         ctx.nextCTEName(),
			ResultAlias:     resultAlias,
			PopulationTable: ctx.RootTable,
			SourceIndex:     ctx.indexColumn(src),
		},
	}
	if !f.Metadata.RowSource {
		cte.Metadata.FilterCondition = fmt.Sprintf("%s IS NOT NULL", f.Expression)
	}
	t.logger.Debug("repacked element rows", "cte", cte.Metadata.CTEName, "source", src)
	return ctx.addRowSource(cte, tableShape{
		Value:       resultAlias,
		Kind:        fhirtypes.KindJSON,
		ElementKind: elementKind(f),
		Collection:  true,
		TypePath:    f.Metadata.TypePath,
	})
}

// elementRows emits a row source with one row per element of f.
func (t *Translator) elementRows(ctx *Context, f fragment.Fragment) fragment.Fragment {
	return t.emitRows(ctx, t.sourceOf(ctx, f), t.array(f), element(elementAlias+"_src."+elementAlias, f), "", f)
}

func (t *Translator) sourceOf(ctx *Context, f fragment.Fragment) string {
	if f.SourceTable == "" {
		return ctx.RootTable
	}
	return f.SourceTable
}

// emitRows records an element-row CTE reading src. A non-empty array is
// flattened with one output row per element; otherwise value is projected
// from each source row.
func (t *Translator) emitRows(ctx *Context, src, array string, value fragment.Fragment, filter string, parts ...fragment.Fragment) fragment.Fragment {
	lists := [][]string{{src}, value.Dependencies}
	for _, p := range parts {
		lists = append(lists, p.Dependencies)
	}
	f := fragment.Fragment{
		Expression:   value.Expression,
		SourceTable:  src,
		Kind:         value.Kind,
		ElementKind:  elementKind(value),
		Dependencies: fragment.MergeDependencies(lists...),
		Metadata: fragment.Metadata{
			CTEName:         ctx.nextCTEName(),
			ResultAlias:     elementAlias,
			FilterCondition: filter,
			SourceIndex:     ctx.indexColumn(src),
		},
	}
	if array != "" {
		f.Expression = elementAlias + "_src." + elementAlias
		f.Kind = fhirtypes.KindJSON
		f.RequiresUnnest = true
		f.Metadata.ArrayColumn = array
	}
	return ctx.addRowSource(f, tableShape{
		Value:       elementAlias,
		Index:       elementAlias + indexSuffix,
		Elements:    true,
		Kind:        f.Kind,
		ElementKind: elementKind(value),
		TypePath:    value.Metadata.TypePath,
	})
}

// emitValue records a row source with one value per resource row of src.
func (t *Translator) emitValue(ctx *Context, src string, value fragment.Fragment, joins ...string) fragment.Fragment {
	collection := value.IsJSON() && isCollection(value)
	expr := value.Expression
	if collection {
		expr = t.array(value)
	}
	f := fragment.Fragment{
		Expression:   expr,
		SourceTable:  src,
		Kind:         value.Kind,
		ElementKind:  elementKind(value),
		Dependencies: fragment.MergeDependencies([]string{src}, joins, value.Dependencies),
		Metadata: fragment.Metadata{
			CTEName:     ctx.nextCTEName(),
			ResultAlias: resultAlias,
			JoinTables:  joins,
		},
	}
	return ctx.addRowSource(f, tableShape{
		Value:       resultAlias,
		Kind:        value.Kind,
		ElementKind: elementKind(value),
		Collection:  collection,
		TypePath:    value.Metadata.TypePath,
	})
}

// argument translates a function argument against the row source of focus.
// Iterating functions inside it compile to correlated subqueries.
func (t *Translator) argument(ctx *Context, focus fragment.Fragment, node ast.Node) (fragment.Fragment, error) {
	prev := ctx.CurrentTable
	if focus.SourceTable != "" {
		ctx.CurrentTable = focus.SourceTable
	}
	exit := ctx.enterInline()
	defer func() {
		exit()
		ctx.CurrentTable = prev
	}()

	f, err := t.Translate(node, ctx)
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.correlate(ctx, f, ctx.CurrentTable), nil
}

// fork is the iteration binding of where, select and friends at the top
// level.
type fork struct {
	src string
	// plain forks keep one row per source row; others flatten array.
	plain bool
	array string
	this  fragment.Fragment
	index fragment.Fragment
}

func (t *Translator) openFork(ctx *Context, f fragment.Fragment) fork {
	src := t.sourceOf(ctx, f)
	if ctx.isElementRows(src) && !isCollection(f) {
		return fork{
			src:   src,
			plain: true,
			this:  f,
			index: position(ctx.indexColumn(src)),
		}
	}
	return fork{
		src:   src,
		array: t.array(f),
		this:  element(elementAlias+"_src."+elementAlias, f),
		index: position(elementAlias + "_src." + elementAlias + "_ord"),
	}
}

// within translates node with the fork's iteration variables bound.
func (t *Translator) within(ctx *Context, fk fork, node ast.Node) (fragment.Fragment, error) {
	return t.iterate(ctx, fk.src, fk.this, fk.index, node)
}

func (t *Translator) iterate(ctx *Context, table string, this, index fragment.Fragment, node ast.Node) (fragment.Fragment, error) {
	restore := ctx.PushScope(map[string]fragment.Fragment{"$this": this, "$index": index})
	exit := ctx.enterInline()
	prev := ctx.CurrentTable
	ctx.CurrentTable = table
	defer func() {
		ctx.CurrentTable = prev
		exit()
		restore()
	}()
	f, err := t.Translate(node, ctx)
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.correlate(ctx, f, table), nil
}

func (t *Translator) where(ctx *Context, f fragment.Fragment, criteria ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	if ctx.Inline() {
		return t.inlineWhere(ctx, f, criteria)
	}
	fk := t.openFork(ctx, f)
	c, err := t.within(ctx, fk, criteria)
	if err != nil {
		return fragment.Fragment{}, err
	}
	filter := t.boolean(c)
	if fk.plain {
		if !f.Metadata.RowSource {
			filter = fmt.Sprintf("%s IS NOT NULL AND %s", f.Expression, filter)
		}
		return t.emitRows(ctx, fk.src, "", f, filter, c), nil
	}
	return t.emitRows(ctx, fk.src, fk.array, fk.this, filter, f, c), nil
}

func (t *Translator) inlineWhere(ctx *Context, f fragment.Fragment, criteria ast.Node) (fragment.Fragment, error) {
	w := ctx.nextAlias('w')
	elem := element(w+"_src."+w, f)
	c, err := t.iterate(ctx, ctx.CurrentTable, elem, position(w+"_src."+w+"_ord"), criteria)
	if err != nil {
		return fragment.Fragment{}, err
	}
	agg := t.dialect.GenerateJSONArrayAgg(elem.Expression, w+"_src."+w+"_ord")
	expr := fmt.Sprintf("(SELECT %s FROM %s WHERE %s)",
		t.nullIfEmpty(agg), t.dialect.GenerateArraySource(t.array(f), w), t.boolean(c))
	return collectionResult(expr, elementKind(f), f.Metadata.TypePath, f, c), nil
}

func (t *Translator) selectFn(ctx *Context, f fragment.Fragment, projection ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	if ctx.Inline() {
		return t.flatMap(ctx, f, func(elem, index fragment.Fragment) (fragment.Fragment, error) {
			return t.iterate(ctx, ctx.CurrentTable, elem, index, projection)
		})
	}
	if src := t.sourceOf(ctx, f); !ctx.isElementRows(src) || isCollection(f) || !f.Metadata.RowSource {
		f = t.elementRows(ctx, f)
	}
	fk := t.openFork(ctx, f)
	p, err := t.within(ctx, fk, projection)
	if err != nil {
		return fragment.Fragment{}, err
	}
	if t.isEmpty(p) {
		return p, nil
	}
	if isCollection(p) {
		return t.emitRows(ctx, fk.src, t.array(p), element(elementAlias+"_src."+elementAlias, p), "", f, p), nil
	}
	return t.emitRows(ctx, fk.src, "", p, fmt.Sprintf("%s IS NOT NULL", p.Expression), f), nil
}

// quantify renders EXISTS over the elements of f satisfying criteria, or,
// for all(), NOT EXISTS over those that do not.
func (t *Translator) quantify(ctx *Context, f fragment.Fragment, criteria ast.Node, all bool) (fragment.Fragment, error) {
	f = t.collect(ctx, f)
	table := ctx.CurrentTable
	if f.SourceTable != "" {
		table = f.SourceTable
	}
	x := ctx.nextAlias('x')
	elem := element(x+"_src."+x, f)
	c, err := t.iterate(ctx, table, elem, position(x+"_src."+x+"_ord"), criteria)
	if err != nil {
		return fragment.Fragment{}, err
	}
	source := t.dialect.GenerateArraySource(t.array(f), x)
	var expr string
	if all {
		expr = fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s WHERE NOT COALESCE(%s, FALSE))", source, t.boolean(c))
	} else {
		expr = fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", source, t.boolean(c))
	}
	out := scalarResult(expr, fhirtypes.KindBoolean, f, c)
	if ctx.Inline() {
		return out, nil
	}
	return t.emitValue(ctx, t.sourceOf(ctx, out), out), nil
}
