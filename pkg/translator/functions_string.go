package translator

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// textCall applies render to the text of f and the translated args. An
// empty input or argument gives empty.
func (t *Translator) textCall(ctx *Context, f fragment.Fragment, args []ast.Node, kind fhirtypes.Kind,
	render func(s string, args []fragment.Fragment) string,
) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	vals, err := t.arguments(ctx, f, args)
	if err != nil {
		return fragment.Fragment{}, err
	}
	for _, v := range vals {
		if t.isEmpty(v) {
			return t.empty(), nil
		}
	}
	return scalarResult(render(t.text(f), vals), kind, append([]fragment.Fragment{f}, vals...)...), nil
}

func stringFunction(name string, kind fhirtypes.Kind) handler {
	return func(t *Translator, ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
		return t.textCall(ctx, f, args, kind, func(s string, _ []fragment.Fragment) string {
			return fmt.Sprintf("%s(%s)", t.dialect.FunctionName(name), s)
		})
	}
}

func (t *Translator) fnStartsWith(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.textCall(ctx, f, args, fhirtypes.KindBoolean, func(s string, a []fragment.Fragment) string {
		return fmt.Sprintf("%s(%s, %s)", t.dialect.FunctionName("startsWith"), s, t.text(a[0]))
	})
}

func (t *Translator) fnEndsWith(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.textCall(ctx, f, args, fhirtypes.KindBoolean, func(s string, a []fragment.Fragment) string {
		return t.dialect.GenerateEndsWith(s, t.text(a[0]))
	})
}

func (t *Translator) fnContains(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.textCall(ctx, f, args, fhirtypes.KindBoolean, func(s string, a []fragment.Fragment) string {
		return fmt.Sprintf("(%s >= 0)", t.dialect.GenerateIndexOf(s, t.text(a[0])))
	})
}

func (t *Translator) fnIndexOf(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.textCall(ctx, f, args, fhirtypes.KindInteger, func(s string, a []fragment.Fragment) string {
		return t.dialect.GenerateIndexOf(s, t.text(a[0]))
	})
}

// fnSubstring takes a zero-based start. A start outside the string gives
// empty; a negative length gives the empty string.
func (t *Translator) fnSubstring(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.textCall(ctx, f, args, fhirtypes.KindString, func(s string, a []fragment.Fragment) string {
		start := t.scalar(a[0], fhirtypes.KindInteger)
		fn := t.dialect.FunctionName("substring")
		body := fmt.Sprintf("%s(%s, %s + 1)", fn, s, start)
		if len(a) == 2 {
			body = fmt.Sprintf("%s(%s, %s + 1, GREATEST(%s, 0))", fn, s, start, t.scalar(a[1], fhirtypes.KindInteger))
		}
		return fmt.Sprintf("CASE WHEN %[2]s < 0 OR %[2]s >= %[3]s(%[1]s) THEN NULL ELSE %[4]s END",
			s, start, t.dialect.FunctionName("length"), body)
	})
}

func (t *Translator) fnReplace(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.textCall(ctx, f, args, fhirtypes.KindString, func(s string, a []fragment.Fragment) string {
		return fmt.Sprintf("replace(%s, %s, %s)", s, t.text(a[0]), t.text(a[1]))
	})
}

func (t *Translator) fnMatches(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.textCall(ctx, f, args, fhirtypes.KindBoolean, func(s string, a []fragment.Fragment) string {
		return t.dialect.GenerateRegexMatch(s, t.text(a[0]))
	})
}

func (t *Translator) fnReplaceMatches(ctx *Context, f fragment.Fragment, args []ast.Node) (fragment.Fragment, error) {
	return t.textCall(ctx, f, args, fhirtypes.KindString, func(s string, a []fragment.Fragment) string {
		return fmt.Sprintf("regexp_replace(%s, %s, %s, 'g')", s, t.text(a[0]), t.text(a[1]))
	})
}
