package translator

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// Text forms accepted by the string conversions.
const (
	integerPattern = `^[+-]?[0-9]+$`
	decimalPattern = `^[+-]?[0-9]+(\.[0-9]+)?$`
)

const (
	trueStrings  = "('true', 't', 'yes', 'y', '1', '1.0')"
	falseStrings = "('false', 'f', 'no', 'n', '0', '0.0')"
)

// Runtime kinds a JSON value of unknown type is probed for, in order.
var probeKinds = []fhirtypes.Kind{
	fhirtypes.KindBoolean,
	fhirtypes.KindInteger,
	fhirtypes.KindDecimal,
	fhirtypes.KindString,
}

func (t *Translator) fnToString(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	switch {
	case t.isEmpty(f):
		return f, nil
	case f.Metadata.Constant && f.Kind == fhirtypes.KindString:
		return f, nil
	case f.Metadata.Constant && f.Kind == fhirtypes.KindQuantity:
		return fragment.Literal(t.dialect.QuoteString(fmt.Sprintf("%s '%s'", f.Metadata.Value, f.Metadata.Unit)), fhirtypes.KindString), nil
	case f.Metadata.Constant && f.Kind.IsNumeric():
		return fragment.Literal(t.dialect.QuoteString(f.Metadata.Value), fhirtypes.KindString), nil
	case elementKind(f) == fhirtypes.KindQuantity:
		value := t.dialect.GenerateCast(t.field(t.jsonSingle(f), "value"), fhirtypes.KindString)
		expr := fmt.Sprintf("(%s || ' ''' || %s || '''')", value, t.quantityUnit(f))
		return scalarResult(expr, fhirtypes.KindString, f), nil
	}
	return scalarResult(t.text(f), fhirtypes.KindString, f), nil
}

func (t *Translator) fnConvertsToString(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	expr := fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s IS NOT NULL END", t.single(f), t.text(f))
	return scalarResult(expr, fhirtypes.KindBoolean, f), nil
}

// conversion builds toX (test false) and convertsToX (test true) for the
// integer, decimal and boolean targets.
func conversion(target fhirtypes.Kind, test bool) handler {
	return func(t *Translator, _ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
		if t.isEmpty(f) {
			return f, nil
		}
		conv := t.convert(f, target)
		if !test {
			return scalarResult(conv, target, f), nil
		}
		expr := fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s IS NOT NULL END", t.single(f), conv)
		return scalarResult(expr, fhirtypes.KindBoolean, f), nil
	}
}

// convert renders the first value of f converted to target, NULL when the
// value does not convert.
func (t *Translator) convert(f fragment.Fragment, target fhirtypes.Kind) string {
	src := elementKind(f)
	if src != fhirtypes.KindJSON {
		return t.convertFrom(t.scalar(f, src), src, target)
	}
	d := t.dialect
	v := t.single(f)
	expr := "CASE"
	for _, k := range probeKinds {
		expr += fmt.Sprintf(" WHEN %s THEN %s", d.GenerateJSONKindCheck(v, k), t.convertFrom(d.GenerateJSONValueCast(v, k), k, target))
	}
	return expr + " END"
}

// convertFrom converts the native value expr of kind src.
func (t *Translator) convertFrom(expr string, src, target fhirtypes.Kind) string {
	d := t.dialect
	null := d.GenerateCast("NULL", target)
	if src.IsTemporal() {
		src = fhirtypes.KindString
	}
	switch target {
	case fhirtypes.KindInteger:
		switch src {
		case fhirtypes.KindInteger:
			return expr
		case fhirtypes.KindBoolean:
			return fmt.Sprintf("CASE WHEN %[1]s THEN 1 WHEN NOT %[1]s THEN 0 END", expr)
		case fhirtypes.KindString:
			return fmt.Sprintf("CASE WHEN %s THEN %s END",
				d.GenerateRegexMatch(expr, d.QuoteString(integerPattern)), d.GenerateCast(expr, fhirtypes.KindInteger))
		}
	case fhirtypes.KindDecimal:
		switch src {
		case fhirtypes.KindInteger, fhirtypes.KindDecimal:
			return d.GenerateCast(expr, fhirtypes.KindDecimal)
		case fhirtypes.KindBoolean:
			return fmt.Sprintf("CASE WHEN %[1]s THEN %[2]s WHEN NOT %[1]s THEN %[3]s END", expr,
				d.GenerateCast("1", fhirtypes.KindDecimal), d.GenerateCast("0", fhirtypes.KindDecimal))
		case fhirtypes.KindString:
			return fmt.Sprintf("CASE WHEN %s THEN %s END",
				d.GenerateRegexMatch(expr, d.QuoteString(decimalPattern)), d.GenerateCast(expr, fhirtypes.KindDecimal))
		}
	case fhirtypes.KindBoolean:
		switch src {
		case fhirtypes.KindBoolean:
			return expr
		case fhirtypes.KindInteger, fhirtypes.KindDecimal:
			return fmt.Sprintf("CASE WHEN %[1]s = 1 THEN TRUE WHEN %[1]s = 0 THEN FALSE END", expr)
		case fhirtypes.KindString:
			return fmt.Sprintf("CASE WHEN lower(%[1]s) IN %[2]s THEN TRUE WHEN lower(%[1]s) IN %[3]s THEN FALSE END",
				expr, trueStrings, falseStrings)
		}
	}
	return null
}
