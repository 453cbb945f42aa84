package translator

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

func (t *Translator) fnAbs(_ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	expr, kind := t.number(f)
	return scalarResult(fmt.Sprintf("abs(%s)", expr), kind, f), nil
}

// integerFunction builds ceiling, floor and truncate. Integers pass through.
func integerFunction(name string) handler {
	return func(t *Translator, _ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
		if t.isEmpty(f) {
			return f, nil
		}
		expr, kind := t.number(f)
		if kind != fhirtypes.KindInteger {
			expr = t.dialect.GenerateCast(fmt.Sprintf("%s(%s)", t.dialect.FunctionName(name), expr), fhirtypes.KindInteger)
		}
		return scalarResult(expr, fhirtypes.KindInteger, f), nil
	}
}

// guardedFunction builds a decimal function that is empty where guard (a
// format with one %s) holds for its input.
func guardedFunction(name, guard string) handler {
	return func(t *Translator, _ *Context, f fragment.Fragment, _ []ast.Node) (fragment.Fragment, error) {
		if t.isEmpty(f) {
			return f, nil
		}
		x := t.decimalOf(f)
		expr := t.dialect.GenerateCast(fmt.Sprintf("%s(%s)", t.dialect.FunctionName(name), x), fhirtypes.KindDecimal)
		if guard != "" {
			expr = fmt.Sprintf("CASE WHEN %s THEN NULL ELSE %s END", fmt.Sprintf(guard, x), expr)
		}
		return scalarResult(expr, fhirtypes.KindDecimal, f), nil
	}
}

func (t *Translator) fnRound(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	precision := fragment.Literal("0", fhirtypes.KindInteger)
	if len(args) == 1 {
		p, err := t.argument(ctx, f, args[0])
		if err != nil {
			return fragment.Fragment{}, err
		}
		if t.isEmpty(p) {
			return t.empty(), nil
		}
		precision = p
	}
	expr := t.dialect.GenerateCast(
		fmt.Sprintf("round(%s, %s)", t.decimalOf(f), t.scalar(precision, fhirtypes.KindInteger)),
		fhirtypes.KindDecimal)
	return scalarResult(expr, fhirtypes.KindDecimal, f, precision), nil
}

func (t *Translator) fnLog(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	base, err := t.argument(ctx, f, args[0])
	if err != nil {
		return fragment.Fragment{}, err
	}
	if t.isEmpty(base) {
		return t.empty(), nil
	}
	x, b := t.decimalOf(f), t.decimalOf(base)
	ln := t.dialect.FunctionName("ln")
	expr := fmt.Sprintf("CASE WHEN %[1]s <= 0 OR %[2]s <= 0 OR %[2]s = 1 THEN NULL ELSE %[3]s END", x, b,
		t.dialect.GenerateCast(fmt.Sprintf("%[1]s(%[2]s) / %[1]s(%[3]s)", ln, x, b), fhirtypes.KindDecimal))
	return scalarResult(expr, fhirtypes.KindDecimal, f, base), nil
}

// fnPower is empty where the result is not a real number. Integer operands
// give an integer unless the exponent is negative.
func (t *Translator) fnPower(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	exp, err := t.argument(ctx, f, args[0])
	if err != nil {
		return fragment.Fragment{}, err
	}
	if t.isEmpty(exp) {
		return t.empty(), nil
	}
	b, bk := t.number(f)
	e, ek := t.number(exp)
	pow := t.dialect.FunctionName("power")
	if bk == fhirtypes.KindInteger && ek == fhirtypes.KindInteger {
		expr := fmt.Sprintf("CASE WHEN %s < 0 THEN NULL ELSE %s END", e,
			t.dialect.GenerateCast(fmt.Sprintf("%s(%s, %s)", pow, b, e), fhirtypes.KindInteger))
		return scalarResult(expr, fhirtypes.KindInteger, f, exp), nil
	}
	b, e = t.decimalOf(f), t.decimalOf(exp)
	expr := fmt.Sprintf("CASE WHEN (%[1]s < 0 AND %[2]s <> floor(%[2]s)) OR (%[1]s = 0 AND %[2]s < 0) THEN NULL ELSE %[3]s END", b, e,
		t.dialect.GenerateCast(fmt.Sprintf("%s(%s, %s)", pow, b, e), fhirtypes.KindDecimal))
	return scalarResult(expr, fhirtypes.KindDecimal, f, exp), nil
}
