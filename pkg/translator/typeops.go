package translator

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

type typeMode int

const (
	modeIs typeMode = iota
	modeAs
	modeOfType
)

func (t *Translator) typeOperation(ctx *Context, n *ast.TypeOperation) (fragment.Fragment, error) {
	f, err := t.Translate(n.Operand, ctx)
	if err != nil {
		return fragment.Fragment{}, err
	}
	switch n.Op {
	case "is":
		return t.typed(ctx, f, n.TypeName, modeIs), nil
	case "as":
		return t.typed(ctx, f, n.TypeName, modeAs), nil
	}
	return fragment.Fragment{}, &UnknownOperatorError{Op: n.Op}
}

// typeSpecifier extracts the type name from a function argument such as
// Quantity or FHIR.Quantity.
func typeSpecifier(node ast.Node) (string, error) {
	switch n := node.(type) {
	case *ast.Identifier:
		return n.Name, nil
	case *ast.Invocation:
		return ast.Format(n), nil
	case *ast.Literal:
		if n.Kind == ast.LiteralString {
			return n.Value, nil
		}
	}
	return "", &UnsupportedNodeError{Node: ast.Format(node), Reason: "not a type specifier"}
}

// typed implements is, as and ofType. Names that resolve to no type, and
// complex types that cannot be told apart structurally, give empty.
func (t *Translator) typed(ctx *Context, f fragment.Fragment, name string, mode typeMode) fragment.Fragment {
	canonical, ok := t.registry.ResolveToCanonical(name)
	if resource := strings.TrimPrefix(name, "FHIR."); !ok && t.registry.IsResourceType(resource) {
		canonical, ok = resource, true
	}
	if !ok || t.isEmpty(f) {
		t.logger.Debug("type resolves to empty", "type", name)
		return t.empty()
	}
	if untypedChoice(f) {
		return t.narrow(f, canonical, mode)
	}

	if !f.IsJSON() {
		return t.staticType(f, canonical, mode)
	}
	check := t.typeCheck(canonical)
	if check == nil {
		return t.empty()
	}

	if mode == modeIs {
		v := t.single(f)
		expr := fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE COALESCE(%s, FALSE) END", v, check(v))
		return scalarResult(expr, fhirtypes.KindBoolean, f)
	}
	var out fragment.Fragment
	if mode == modeOfType && isCollection(f) {
		o := ctx.nextAlias('o')
		elem := o + "_src." + o
		expr := fmt.Sprintf("(SELECT %s FROM %s WHERE %s)",
			t.nullIfEmpty(t.dialect.GenerateJSONArrayAgg(elem, elem+"_ord")),
			t.dialect.GenerateArraySource(t.array(f), o), check(elem))
		out = collectionResult(expr, fhirtypes.KindJSON, nil, f)
	} else {
		v := t.single(f)
		out = t.jsonValue(fmt.Sprintf("CASE WHEN %s THEN %s END", check(v), v), f)
	}
	return t.retype(out, canonical)
}

// retype records the static type of a narrowed value.
func (t *Translator) retype(f fragment.Fragment, canonical string) fragment.Fragment {
	if kind, ok := t.registry.PrimitiveKind(canonical); ok {
		f.ElementKind = kind
		f.Metadata.TypePath = nil
		return f
	}
	f.ElementKind = fhirtypes.KindJSON
	if info, ok := t.registry.Lookup(canonical); ok && info.Kind == fhirtypes.KindQuantity {
		f.ElementKind = fhirtypes.KindQuantity
	}
	f.Metadata.TypePath = []string{canonical}
	return f
}

// untypedChoice reports whether f ends on a choice element that has not
// been narrowed to one of its variants.
func untypedChoice(f fragment.Fragment) bool {
	return f.Metadata.ChoiceBase != "" && len(f.Metadata.Variants) > 1 && f.Metadata.ChoiceStep == len(f.Metadata.Variants[0])-1
}

// narrow selects the variant of a choice element holding canonical.
func (t *Translator) narrow(f fragment.Fragment, canonical string, mode typeMode) fragment.Fragment {
	field, ok := t.registry.VariantFor(f.Metadata.ChoiceBase, canonical)
	var variants [][]dialect.PathStep
	if ok {
		for _, v := range f.Metadata.Variants {
			if v[f.Metadata.ChoiceStep].Name == field {
				variants = append(variants, v)
			}
		}
	}
	if mode == modeIs {
		cond := "FALSE"
		if len(variants) > 0 {
			cond = fmt.Sprintf("%s IS NOT NULL", t.extract(f, variants).Expression)
		}
		return scalarResult(fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s END", f.Expression, cond), fhirtypes.KindBoolean, f)
	}
	if len(variants) == 0 {
		return t.empty()
	}
	out := t.extract(f, variants)
	return t.retype(out, canonical)
}

// staticType answers type questions about native SQL values from their kind.
func (t *Translator) staticType(f fragment.Fragment, canonical string, mode typeMode) fragment.Fragment {
	kind, ok := t.registry.PrimitiveKind(canonical)
	match := ok && kind == f.Kind
	if mode == modeIs {
		result := "FALSE"
		if match {
			result = "TRUE"
		}
		if f.Metadata.Constant {
			return fragment.Literal(result, fhirtypes.KindBoolean)
		}
		return scalarResult(fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s END", f.Expression, result), fhirtypes.KindBoolean, f)
	}
	if !match {
		return t.empty()
	}
	return f
}

// typeCheck returns a predicate over a JSON value testing membership of
// canonical, or nil when values of the type cannot be recognized.
func (t *Translator) typeCheck(canonical string) func(v string) string {
	d := t.dialect
	if t.registry.IsResourceType(canonical) {
		return func(v string) string {
			rt := d.GenerateJSONValueCast(t.field(v, "resourceType"), fhirtypes.KindString)
			return d.GenerateStringComparison(rt, "=", d.QuoteString(canonical))
		}
	}
	info, ok := t.registry.Lookup(canonical)
	if !ok {
		return nil
	}
	switch {
	case info.Primitive:
		return func(v string) string { return d.GenerateJSONKindCheck(v, info.Kind) }
	case info.Kind == fhirtypes.KindQuantity:
		return func(v string) string { return d.GenerateJSONKindCheck(v, fhirtypes.KindQuantity) }
	case len(info.Discriminator) > 0:
		return func(v string) string {
			fields := make([]string, len(info.Discriminator))
			for i, name := range info.Discriminator {
				fields[i] = d.GenerateJSONHasField(v, name)
			}
			return fmt.Sprintf("(%s AND (%s))", d.GenerateJSONKindCheck(v, fhirtypes.KindJSON), strings.Join(fields, " OR "))
		}
	}
	return nil
}
