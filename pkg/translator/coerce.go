package translator

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// elementKind is the kind of the values a fragment holds: its own kind for
// native values, the element hint for JSON.
func elementKind(f fragment.Fragment) fhirtypes.Kind {
	if f.Kind != fhirtypes.KindJSON {
		return f.Kind
	}
	return f.ElementKind
}

// isCollection reports whether f may hold several values.
func isCollection(f fragment.Fragment) bool {
	return f.IsCollection() || f.Metadata.IsArray
}

// commonKind picks the kind both sides of a comparison are converted to.
func commonKind(a, b fhirtypes.Kind) fhirtypes.Kind {
	switch {
	case a == fhirtypes.KindJSON:
		return b
	case b == fhirtypes.KindJSON, a == b:
		return a
	case a.IsNumeric() && b.IsNumeric():
		return fhirtypes.KindDecimal
	case (a.IsTemporal() || a == fhirtypes.KindString) && (b.IsTemporal() || b == fhirtypes.KindString):
		return fhirtypes.KindString
	}
	return a
}

func (t *Translator) nullIfEmpty(expr string) string {
	return fmt.Sprintf("NULLIF(%s, %s)", expr, t.dialect.EmptyJSONArray())
}

// toJSON renders f as a JSON value.
func (t *Translator) toJSON(f fragment.Fragment) string {
	if f.IsJSON() {
		return f.Expression
	}
	expr := f.Expression
	if f.Metadata.Constant && (f.Kind == fhirtypes.KindString || f.Kind.IsTemporal()) {
		// untyped string literals need a type before JSON conversion
		expr = t.dialect.GenerateCast(expr, fhirtypes.KindString)
	}
	return t.dialect.GenerateToJSON(expr)
}

// array renders f as a JSON array, NULL when empty.
func (t *Translator) array(f fragment.Fragment) string {
	switch {
	case f.IsJSON() && f.Metadata.IsArray:
		return f.Expression
	case f.IsJSON() && f.Metadata.Constant:
		return t.dialect.GenerateJSONArray(f.Expression)
	case f.IsJSON():
		return t.dialect.GenerateArrayNormalize(f.Expression)
	case f.Metadata.Constant:
		return t.dialect.GenerateJSONArray(t.toJSON(f))
	}
	return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s END", f.Expression, t.dialect.GenerateJSONArray(t.toJSON(f)))
}

// single renders the first value of f. Native values are already single.
func (t *Translator) single(f fragment.Fragment) string {
	if f.IsJSON() && isCollection(f) {
		return t.dialect.GenerateJSONArrayElement(t.array(f), "0")
	}
	return f.Expression
}

// jsonSingle renders the first value of f as JSON.
func (t *Translator) jsonSingle(f fragment.Fragment) string {
	if f.IsJSON() {
		return t.single(f)
	}
	return t.toJSON(f)
}

// scalar renders the first value of f as a native SQL value of kind.
func (t *Translator) scalar(f fragment.Fragment, kind fhirtypes.Kind) string {
	switch {
	case f.Kind == kind:
		return t.single(f)
	case kind == fhirtypes.KindQuantity || kind == fhirtypes.KindJSON:
		return t.jsonSingle(f)
	case f.IsJSON():
		return t.dialect.GenerateJSONValueCast(t.single(f), kind)
	case (f.Kind.IsTemporal() || f.Kind == fhirtypes.KindString) && (kind.IsTemporal() || kind == fhirtypes.KindString):
		return f.Expression
	case f.Kind == fhirtypes.KindBoolean && kind.IsNumeric():
		return fmt.Sprintf("CASE WHEN %[1]s THEN 1 WHEN NOT %[1]s THEN 0 END", f.Expression)
	}
	return t.dialect.GenerateCast(f.Expression, kind)
}

// boolean renders f in boolean context: a boolean as itself, any other
// single value as true, empty as NULL.
func (t *Translator) boolean(f fragment.Fragment) string {
	switch {
	case f.Kind == fhirtypes.KindBoolean:
		return f.Expression
	case f.IsJSON() && f.ElementKind == fhirtypes.KindBoolean:
		return t.scalar(f, fhirtypes.KindBoolean)
	case f.IsJSON():
		v := t.single(f)
		return fmt.Sprintf("COALESCE(%s, CASE WHEN %s IS NOT NULL THEN TRUE END)",
			t.dialect.GenerateJSONValueCast(v, fhirtypes.KindBoolean), v)
	}
	return fmt.Sprintf("(%s IS NOT NULL)", f.Expression)
}

// text renders the first value of f as a string. Numbers and booleans are
// converted; complex values become NULL.
func (t *Translator) text(f fragment.Fragment) string {
	k := elementKind(f)
	switch {
	case k == fhirtypes.KindString || k.IsTemporal():
		return t.scalar(f, fhirtypes.KindString)
	case !f.IsJSON():
		return t.dialect.GenerateCast(f.Expression, fhirtypes.KindString)
	case k.IsNumeric() || k == fhirtypes.KindBoolean:
		return t.dialect.GenerateCast(t.single(f), fhirtypes.KindString)
	}
	v := t.single(f)
	return fmt.Sprintf("CASE WHEN %s THEN %s WHEN %s OR %s OR %s THEN %s END",
		t.dialect.GenerateJSONKindCheck(v, fhirtypes.KindString),
		t.dialect.GenerateJSONValueCast(v, fhirtypes.KindString),
		t.dialect.GenerateJSONKindCheck(v, fhirtypes.KindBoolean),
		t.dialect.GenerateJSONKindCheck(v, fhirtypes.KindInteger),
		t.dialect.GenerateJSONKindCheck(v, fhirtypes.KindDecimal),
		t.dialect.GenerateCast(v, fhirtypes.KindString))
}

// number renders f as a native number and reports whether it is an integer
// or a decimal. Quantities contribute their value.
func (t *Translator) number(f fragment.Fragment) (string, fhirtypes.Kind) {
	switch elementKind(f) {
	case fhirtypes.KindInteger:
		return t.scalar(f, fhirtypes.KindInteger), fhirtypes.KindInteger
	case fhirtypes.KindQuantity:
		return t.quantityValue(f), fhirtypes.KindDecimal
	}
	return t.scalar(f, fhirtypes.KindDecimal), fhirtypes.KindDecimal
}

// decimalOf renders f as a native decimal.
func (t *Translator) decimalOf(f fragment.Fragment) string {
	expr, kind := t.number(f)
	if kind == fhirtypes.KindInteger {
		return t.dialect.GenerateCast(expr, fhirtypes.KindDecimal)
	}
	return expr
}

func (t *Translator) field(expr, name string) string {
	return t.dialect.GenerateJSONExtract(expr, pathOf(name))
}

func (t *Translator) quantityValue(f fragment.Fragment) string {
	if f.Metadata.Constant && f.Kind == fhirtypes.KindQuantity {
		return t.dialect.GenerateCast(f.Metadata.Value, fhirtypes.KindDecimal)
	}
	return t.dialect.GenerateJSONValueCast(t.field(t.jsonSingle(f), "value"), fhirtypes.KindDecimal)
}

func (t *Translator) quantityUnit(f fragment.Fragment) string {
	v := t.jsonSingle(f)
	return fmt.Sprintf("COALESCE(%s, %s)",
		t.dialect.GenerateJSONValueCast(t.field(v, "code"), fhirtypes.KindString),
		t.dialect.GenerateJSONValueCast(t.field(v, "unit"), fhirtypes.KindString))
}
