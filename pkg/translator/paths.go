package translator

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

func pathOf(names ...string) []dialect.PathStep {
	out := make([]dialect.PathStep, len(names))
	for i, n := range names {
		out[i] = dialect.PathStep{Name: n}
	}
	return out
}

func extend(path []dialect.PathStep, step dialect.PathStep) []dialect.PathStep {
	out := make([]dialect.PathStep, len(path), len(path)+1)
	copy(out, path)
	return append(out, step)
}

// element is the fragment for one enumerated array element exposed by a
// row source alias.
func element(expr string, from fragment.Fragment) fragment.Fragment {
	return fragment.Fragment{
		Expression:  expr,
		Kind:        fhirtypes.KindJSON,
		ElementKind: elementKind(from),
		Metadata: fragment.Metadata{
			PathBase: expr,
			Variants: [][]dialect.PathStep{nil},
			TypePath: from.Metadata.TypePath,
		},
	}
}

// member navigates from f into the named child element.
func (t *Translator) member(ctx *Context, f fragment.Fragment, name string) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	if f.Metadata.PathBase == "" {
		switch {
		case !f.IsJSON():
			// primitives have no children
			return t.empty(), nil
		case isCollection(f) && ctx.Inline():
			return t.flatMap(ctx, f, func(elem, _ fragment.Fragment) (fragment.Fragment, error) {
				return t.member(ctx, elem, name)
			})
		case isCollection(f):
			f = t.elementRows(ctx, f)
		default:
			f.Metadata.PathBase = f.Expression
			f.Metadata.Variants = [][]dialect.PathStep{nil}
		}
	}

	typePath := append(append([]string(nil), f.Metadata.TypePath...), name)
	qualified := strings.Join(typePath, ".")
	choiceBase, choiceStep := f.Metadata.ChoiceBase, f.Metadata.ChoiceStep
	elemKind := t.registry.ElementKind(name)

	var variants [][]dialect.PathStep
	if fields := t.registry.GetPolymorphicVariants(qualified); len(fields) > 0 {
		for _, v := range f.Metadata.Variants {
			for _, field := range fields {
				variants = append(variants, extend(v, dialect.PathStep{Name: field}))
			}
		}
		choiceBase, choiceStep = qualified, len(f.Metadata.Variants[0])
		elemKind = fhirtypes.KindJSON
	} else {
		step := dialect.PathStep{Name: name, Array: t.registry.IsRepeating(typePath...)}
		for _, v := range f.Metadata.Variants {
			variants = append(variants, extend(v, step))
		}
	}

	out := t.extract(f, variants)
	out.ElementKind = elemKind
	out.Metadata.ChoiceBase = choiceBase
	out.Metadata.ChoiceStep = choiceStep
	out.Metadata.TypePath = typePath
	return out, nil
}

// extract renders the navigation of f along variants, COALESCEd when a
// choice element produced several.
func (t *Translator) extract(f fragment.Fragment, variants [][]dialect.PathStep) fragment.Fragment {
	exprs := make([]string, len(variants))
	repeating, flattens := false, false
	for i, v := range variants {
		exprs[i] = t.dialect.GenerateJSONExtract(f.Metadata.PathBase, v)
		for _, step := range v {
			repeating = repeating || step.Array
		}
		flattens = flattens || dialect.HasArrayStep(v)
	}
	expr := exprs[0]
	if len(exprs) > 1 {
		expr = fmt.Sprintf("COALESCE(%s)", strings.Join(exprs, ", "))
	}

	return fragment.Fragment{
		Expression:     expr,
		SourceTable:    f.SourceTable,
		RequiresUnnest: repeating,
		IsAggregate:    f.IsAggregate,
		Dependencies:   append([]string(nil), f.Dependencies...),
		Kind:           fhirtypes.KindJSON,
		Metadata: fragment.Metadata{
			ArrayColumn: expr,
			SourceIndex: f.Metadata.SourceIndex,
			IsArray:     flattens,
			PathBase:    f.Metadata.PathBase,
			Variants:    variants,
			TypePath:    f.Metadata.TypePath,
		},
	}
}

// flatMap applies fn to every element of the collection f and flattens the
// results, as one correlated subquery. fn receives each element and its
// zero-based $index.
func (t *Translator) flatMap(ctx *Context, f fragment.Fragment, fn func(elem, index fragment.Fragment) (fragment.Fragment, error)) (fragment.Fragment, error) {
	e := ctx.nextAlias('e')
	elem := element(e+"_src."+e, f)
	inner, err := fn(elem, position(e+"_src."+e+"_ord"))
	if err != nil {
		return fragment.Fragment{}, err
	}
	if t.isEmpty(inner) {
		return inner, nil
	}
	m := ctx.nextAlias('m')
	agg := t.dialect.GenerateJSONArrayAgg(m+"_src."+m, fmt.Sprintf("%s_src.%s_ord, %s_src.%s_ord", e, e, m, m))
	expr := fmt.Sprintf("(SELECT %s FROM %s, %s)",
		t.nullIfEmpty(agg),
		t.dialect.GenerateArraySource(t.array(f), e),
		t.dialect.GenerateLateralUnnest(e+"_src", t.array(inner), m))
	return collectionResult(expr, elementKind(inner), inner.Metadata.TypePath, f, inner), nil
}
