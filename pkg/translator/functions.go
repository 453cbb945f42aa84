package translator

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

type handler func(t *Translator, ctx *Context, focus fragment.Fragment, args []ast.Node) (fragment.Fragment, error)

type function struct {
	min, max int
	// collection functions read the whole input collection per resource.
	collection bool
	fn         handler
}

func (f function) arity() string {
	if f.min == f.max {
		return strconv.Itoa(f.min)
	}
	return fmt.Sprintf("%d to %d", f.min, f.max)
}

var functions map[string]function

// Valid FHIRPath functions with no SQL translation.
var fallbackFunctions = map[string]bool{
	"aggregate":   true,
	"repeat":      true,
	"descendants": true,
	"children":    true,
	"resolve":     true,
	"memberOf":    true,
	"conformsTo":  true,
	"toChars":     true,
	"split":       true,
	"join":        true,
	"encode":      true,
	"decode":      true,
	"now":         true,
	"timeOfDay":   true,
	"sort":        true,
	"precision":   true,
}

func init() {
	functions = map[string]function{
		// existence
		"empty":      {0, 0, true, (*Translator).fnEmpty},
		"exists":     {0, 1, true, (*Translator).fnExists},
		"all":        {1, 1, true, (*Translator).fnAll},
		"count":      {0, 0, true, (*Translator).fnCount},
		"hasValue":   {0, 0, true, (*Translator).fnHasValue},
		"allTrue":    {0, 0, true, quantifier(true, true)},
		"anyTrue":    {0, 0, true, quantifier(false, true)},
		"allFalse":   {0, 0, true, quantifier(true, false)},
		"anyFalse":   {0, 0, true, quantifier(false, false)},
		"distinct":   {0, 0, true, (*Translator).fnDistinct},
		"isDistinct": {0, 0, true, (*Translator).fnIsDistinct},
		"subsetOf":   {1, 1, true, (*Translator).fnSubsetOf},
		"supersetOf": {1, 1, true, (*Translator).fnSupersetOf},

		// filtering and projection
		"where":     {1, 1, false, (*Translator).fnWhere},
		"select":    {1, 1, false, (*Translator).fnSelect},
		"ofType":    {1, 1, false, typeFunction(modeOfType)},
		"extension": {1, 1, false, (*Translator).fnExtension},

		// subsetting
		"first":     {0, 0, true, (*Translator).fnFirst},
		"last":      {0, 0, true, (*Translator).fnLast},
		"tail":      {0, 0, true, (*Translator).fnTail},
		"skip":      {1, 1, true, (*Translator).fnSkip},
		"take":      {1, 1, true, (*Translator).fnTake},
		"single":    {0, 0, true, (*Translator).fnSingle},
		"intersect": {1, 1, true, (*Translator).fnIntersect},
		"exclude":   {1, 1, true, (*Translator).fnExclude},
		"union":     {1, 1, true, (*Translator).fnUnion},
		"combine":   {1, 1, true, (*Translator).fnCombine},

		// types
		"is": {1, 1, false, typeFunction(modeIs)},
		"as": {1, 1, false, typeFunction(modeAs)},

		// strings
		"length":         {0, 0, false, stringFunction("length", fhirtypes.KindInteger)},
		"upper":          {0, 0, false, stringFunction("upper", fhirtypes.KindString)},
		"lower":          {0, 0, false, stringFunction("lower", fhirtypes.KindString)},
		"trim":           {0, 0, false, stringFunction("trim", fhirtypes.KindString)},
		"startsWith":     {1, 1, false, (*Translator).fnStartsWith},
		"endsWith":       {1, 1, false, (*Translator).fnEndsWith},
		"contains":       {1, 1, false, (*Translator).fnContains},
		"indexOf":        {1, 1, false, (*Translator).fnIndexOf},
		"substring":      {1, 2, false, (*Translator).fnSubstring},
		"replace":        {2, 2, false, (*Translator).fnReplace},
		"matches":        {1, 1, false, (*Translator).fnMatches},
		"replaceMatches": {2, 2, false, (*Translator).fnReplaceMatches},

		// math
		"abs":      {0, 0, false, (*Translator).fnAbs},
		"ceiling":  {0, 0, false, integerFunction("ceiling")},
		"floor":    {0, 0, false, integerFunction("floor")},
		"truncate": {0, 0, false, integerFunction("truncate")},
		"round":    {0, 1, false, (*Translator).fnRound},
		"sqrt":     {0, 0, false, guardedFunction("sqrt", "%s < 0")},
		"ln":       {0, 0, false, guardedFunction("ln", "%s <= 0")},
		"exp":      {0, 0, false, guardedFunction("exp", "")},
		"log":      {1, 1, false, (*Translator).fnLog},
		"power":    {1, 1, false, (*Translator).fnPower},

		// conversion
		"toString":          {0, 0, false, (*Translator).fnToString},
		"toInteger":         {0, 0, false, conversion(fhirtypes.KindInteger, false)},
		"toDecimal":         {0, 0, false, conversion(fhirtypes.KindDecimal, false)},
		"toBoolean":         {0, 0, false, conversion(fhirtypes.KindBoolean, false)},
		"convertsToInteger": {0, 0, false, conversion(fhirtypes.KindInteger, true)},
		"convertsToDecimal": {0, 0, false, conversion(fhirtypes.KindDecimal, true)},
		"convertsToBoolean": {0, 0, false, conversion(fhirtypes.KindBoolean, true)},
		"convertsToString":  {0, 0, false, (*Translator).fnConvertsToString},

		// utility
		"iif":            {2, 3, false, (*Translator).fnIif},
		"not":            {0, 0, false, (*Translator).fnNot},
		"today":          {0, 0, false, (*Translator).fnToday},
		"trace":          {1, 2, false, (*Translator).fnTrace},
		"defineVariable": {1, 2, false, (*Translator).fnDefineVariable},
		"lowBoundary":    {0, 1, false, boundaryFunction(false)},
		"highBoundary":   {0, 1, false, boundaryFunction(true)},
	}
}

// call applies the named function to focus.
func (t *Translator) call(ctx *Context, focus fragment.Fragment, n *ast.FunctionCall) (fragment.Fragment, error) {
	spec, ok := functions[n.Name]
	if !ok {
		if fallbackFunctions[n.Name] {
			return fragment.Fragment{}, &UnsupportedNodeError{Node: n.Name + "()", Reason: "no SQL translation"}
		}
		return fragment.Fragment{}, &UnknownFunctionError{Name: n.Name}
	}
	if len(n.Args) < spec.min || len(n.Args) > spec.max {
		return fragment.Fragment{}, &ArityError{Name: n.Name, Expected: spec.arity(), Got: len(n.Args)}
	}
	if spec.collection {
		focus = t.collect(ctx, focus)
	}
	out, err := spec.fn(t, ctx, focus, n.Args)
	if err != nil {
		return fragment.Fragment{}, err
	}
	t.logger.Debug("translated function", "name", n.Name, "source", out.SourceTable, "collection", out.IsCollection())
	return out, nil
}

// arguments translates every argument against focus.
func (t *Translator) arguments(ctx *Context, focus fragment.Fragment, nodes []ast.Node) ([]fragment.Fragment, error) {
	out := make([]fragment.Fragment, len(nodes))
	for i, n := range nodes {
		f, err := t.argument(ctx, focus, n)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func (t *Translator) length(f fragment.Fragment) string {
	return fmt.Sprintf("COALESCE(%s, 0)", t.dialect.GenerateJSONArrayLength(t.array(f)))
}

func (t *Translator) fnEmpty(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return fragment.Literal("TRUE", fhirtypes.KindBoolean), nil
	}
	if !isCollection(f) {
		return scalarResult(fmt.Sprintf("(%s IS NULL)", f.Expression), fhirtypes.KindBoolean, f), nil
	}
	return scalarResult(fmt.Sprintf("(%s = 0)", t.length(f)), fhirtypes.KindBoolean, f), nil
}

func (t *Translator) fnExists(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	if len(args) == 1 {
		if t.isEmpty(f) {
			return fragment.Literal("FALSE", fhirtypes.KindBoolean), nil
		}
		return t.quantify(ctx, f, args[0], false)
	}
	if t.isEmpty(f) {
		return fragment.Literal("FALSE", fhirtypes.KindBoolean), nil
	}
	var out fragment.Fragment
	if isCollection(f) {
		out = scalarResult(fmt.Sprintf("(%s > 0)", t.length(f)), fhirtypes.KindBoolean, f)
	} else {
		out = scalarResult(fmt.Sprintf("(%s IS NOT NULL)", f.Expression), fhirtypes.KindBoolean, f)
	}
	// a length check on the current row source needs nothing new
	out.Dependencies = nil
	return out, nil
}

func (t *Translator) fnAll(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return fragment.Literal("TRUE", fhirtypes.KindBoolean), nil
	}
	return t.quantify(ctx, f, args[0], true)
}

func (t *Translator) fnCount(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return fragment.Literal("0", fhirtypes.KindInteger), nil
	}
	return scalarResult(t.length(f), fhirtypes.KindInteger, f), nil
}

func (t *Translator) fnHasValue(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return fragment.Literal("FALSE", fhirtypes.KindBoolean), nil
	}
	if !f.IsJSON() {
		return scalarResult(fmt.Sprintf("(%s IS NOT NULL)", f.Expression), fhirtypes.KindBoolean, f), nil
	}
	v := t.single(f)
	expr := fmt.Sprintf("(%s = 1 AND NOT COALESCE(%s, FALSE))", t.length(f), t.dialect.GenerateJSONKindCheck(v, fhirtypes.KindJSON))
	return scalarResult(expr, fhirtypes.KindBoolean, f), nil
}

// quantifier builds allTrue, anyTrue, allFalse and anyFalse.
func quantifier(all, value bool) handler {
	return func(t *Translator, ctx *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
		if t.isEmpty(f) {
			if all {
				return fragment.Literal("TRUE", fhirtypes.KindBoolean), nil
			}
			return fragment.Literal("FALSE", fhirtypes.KindBoolean), nil
		}
		b := ctx.nextAlias('b')
		pred := t.dialect.GenerateJSONValueCast(b+"_src."+b, fhirtypes.KindBoolean)
		if !value {
			pred = "NOT " + pred
		}
		source := t.dialect.GenerateArraySource(t.array(f), b)
		var expr string
		if all {
			expr = fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s WHERE NOT COALESCE(%s, FALSE))", source, pred)
		} else {
			expr = fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", source, pred)
		}
		return scalarResult(expr, fhirtypes.KindBoolean, f), nil
	}
}

func (t *Translator) fnDistinct(ctx *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	return t.distinct(ctx, f), nil
}

func (t *Translator) fnIsDistinct(ctx *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return fragment.Literal("TRUE", fhirtypes.KindBoolean), nil
	}
	return t.isDistinct(ctx, f), nil
}

func (t *Translator) fnSubsetOf(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	other, err := t.argument(ctx, f, args[0])
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.subsetOf(ctx, f, other), nil
}

func (t *Translator) fnSupersetOf(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	other, err := t.argument(ctx, f, args[0])
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.subsetOf(ctx, other, f), nil
}

func (t *Translator) fnWhere(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.where(ctx, f, args[0])
}

func (t *Translator) fnSelect(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.selectFn(ctx, f, args[0])
}

// extension(url) is shorthand for extension.where(url = <url>).
func (t *Translator) fnExtension(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	ext, err := t.member(ctx, f, "extension")
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.where(ctx, ext, ast.Binary("=", &ast.Identifier{Name: "url"}, args[0]))
}

func typeFunction(mode typeMode) handler {
	return func(t *Translator, ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
		name, err := typeSpecifier(args[0])
		if err != nil {
			return fragment.Fragment{}, err
		}
		return t.typed(ctx, f, name, mode), nil
	}
}

func (t *Translator) fnFirst(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) || !isCollection(f) {
		return f, nil
	}
	return t.jsonValue(t.dialect.GenerateJSONArrayElement(t.array(f), "0"), f), nil
}

func (t *Translator) fnLast(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) || !isCollection(f) {
		return f, nil
	}
	return t.jsonValue(t.dialect.GenerateJSONArrayLast(t.array(f)), f), nil
}

func (t *Translator) fnTail(ctx *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	return t.slice(ctx, f, func(ord string) string { return ord + " > 1" }), nil
}

func (t *Translator) fnSkip(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.sliceBy(ctx, f, args[0], ">")
}

func (t *Translator) fnTake(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.sliceBy(ctx, f, args[0], "<=")
}

// sliceBy keeps the elements whose 1-based position compares to the count
// argument with op.
func (t *Translator) sliceBy(ctx *Context, f fragment.Fragment, node ast.Node, op string) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	n, err := t.argument(ctx, f, node)
	if err != nil {
		return fragment.Fragment{}, err
	}
	if t.isEmpty(n) {
		return t.empty(), nil
	}
	if n.Metadata.Constant && n.Kind == fhirtypes.KindInteger {
		v, _ := strconv.Atoi(n.Metadata.Value)
		switch {
		case op == ">" && v <= 0:
			return f, nil
		case op == "<=" && v <= 0:
			return t.empty(), nil
		}
	}
	count := t.scalar(n, fhirtypes.KindInteger)
	return t.slice(ctx, f, func(ord string) string { return fmt.Sprintf("%s %s %s", ord, op, count) }, n), nil
}

// slice re-aggregates the elements of f whose ordinal satisfies cond.
func (t *Translator) slice(ctx *Context, f fragment.Fragment, cond func(ord string) string, parts ...fragment.Fragment) fragment.Fragment {
	k := ctx.nextAlias('k')
	elem, ord := k+"_src."+k, k+"_src."+k+"_ord"
	expr := fmt.Sprintf("(SELECT %s FROM %s WHERE %s)",
		t.nullIfEmpty(t.dialect.GenerateJSONArrayAgg(elem, ord)), t.dialect.GenerateArraySource(t.array(f), k), cond(ord))
	return collectionResult(expr, elementKind(f), f.Metadata.TypePath, append([]fragment.Fragment{f}, parts...)...)
}

// fnSingle yields the only element of f. Collections with several elements
// give empty.
func (t *Translator) fnSingle(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) || !isCollection(f) {
		return f, nil
	}
	arr := t.array(f)
	expr := fmt.Sprintf("CASE WHEN %s = 1 THEN %s END", t.length(f), t.dialect.GenerateJSONArrayElement(arr, "0"))
	return t.jsonValue(expr, f), nil
}

func (t *Translator) fnIntersect(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	other, err := t.argument(ctx, f, args[0])
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.intersect(ctx, f, other), nil
}

func (t *Translator) fnExclude(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	other, err := t.argument(ctx, f, args[0])
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.exclude(ctx, f, other), nil
}

func (t *Translator) fnUnion(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	other, err := t.argument(ctx, f, args[0])
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.union(ctx, f, other)
}

func (t *Translator) fnCombine(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	other, err := t.argument(ctx, f, args[0])
	if err != nil {
		return fragment.Fragment{}, err
	}
	return t.combine(f, other), nil
}

// bound translates node with $this bound to focus, as iif and
// defineVariable evaluate their arguments.
func (t *Translator) bound(ctx *Context, focus fragment.Fragment, node ast.Node) (fragment.Fragment, error) {
	table := ctx.CurrentTable
	if focus.SourceTable != "" {
		table = focus.SourceTable
	}
	return t.iterate(ctx, table, focus, fragment.Literal("0", fhirtypes.KindInteger), node)
}

func (t *Translator) fnIif(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	branches := make([]fragment.Fragment, 3)
	branches[2] = t.empty()
	for i, node := range args {
		b, err := t.bound(ctx, f, node)
		if err != nil {
			return fragment.Fragment{}, err
		}
		branches[i] = b
	}
	c, a, b := branches[0], branches[1], branches[2]
	if t.isEmpty(c) {
		return b, nil
	}
	if t.isEmpty(a) && t.isEmpty(b) {
		return t.empty(), nil
	}
	cond := t.boolean(c)
	render := func(x fragment.Fragment, as func(fragment.Fragment) string) string {
		if t.isEmpty(x) {
			return "NULL"
		}
		return as(x)
	}
	native := func(x fragment.Fragment) string { return x.Expression }
	var kinds []fhirtypes.Kind
	for _, x := range []fragment.Fragment{a, b} {
		if !t.isEmpty(x) {
			kinds = append(kinds, x.Kind)
		}
	}
	sameNative := kinds[0] != fhirtypes.KindJSON && kinds[0] != fhirtypes.KindQuantity && (len(kinds) == 1 || kinds[0] == kinds[1])
	switch {
	case isCollection(a) || isCollection(b):
		kind := elementKind(a)
		if t.isEmpty(a) || (!t.isEmpty(b) && elementKind(b) != kind) {
			kind = fhirtypes.KindJSON
		}
		expr := fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", cond, render(a, t.array), render(b, t.array))
		return collectionResult(expr, kind, nil, c, a, b), nil
	case sameNative:
		expr := fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", cond, render(a, native), render(b, native))
		return scalarResult(expr, kinds[0], c, a, b), nil
	}
	expr := fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", cond, render(a, t.jsonSingle), render(b, t.jsonSingle))
	out := t.jsonValue(expr, c, a, b)
	out.ElementKind = fhirtypes.KindJSON
	out.Metadata.TypePath = nil
	if ek := elementKind(a); !t.isEmpty(a) && (t.isEmpty(b) || elementKind(b) == ek) {
		out.ElementKind = ek
	}
	return out, nil
}

func (t *Translator) fnNot(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	return t.unary("not", f)
}

// fnToday renders the current date in FHIR text form.
func (t *Translator) fnToday(_ *Context, _ fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	return fragment.Fragment{
		Expression: t.dialect.GenerateCast("current_date", fhirtypes.KindString),
		Kind:       fhirtypes.KindDate,
	}, nil
}

// fnTrace passes its input through; the name is only logged.
func (t *Translator) fnTrace(_ *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	t.logger.Debug("trace", "name", ast.Format(args[0]), "expr", f.Expression)
	return f, nil
}

func (t *Translator) fnDefineVariable(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	name, ok := args[0].(*ast.Literal)
	if !ok || name.Kind != ast.LiteralString {
		return fragment.Fragment{}, &UnsupportedNodeError{Node: ast.Format(args[0]), Reason: "variable name must be a string literal"}
	}
	value := f
	if len(args) == 2 {
		v, err := t.bound(ctx, f, args[1])
		if err != nil {
			return fragment.Fragment{}, err
		}
		value = v
	}
	if err := ctx.Define("%"+name.Value, value); err != nil {
		return fragment.Fragment{}, err
	}
	return f, nil
}

func boundaryFunction(high bool) handler {
	return func(t *Translator, ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
		return t.boundary(ctx, f, args, high)
	}
}
