package translator

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

func (t *Translator) operator(ctx *Context, n *ast.Operator) (fragment.Fragment, error) {
	if n.Kind == ast.OpUnary {
		if len(n.Operands) != 1 {
			return fragment.Fragment{}, &ArityError{Name: n.Op, Expected: "1", Got: len(n.Operands)}
		}
		x, err := t.Translate(n.Operands[0], ctx)
		if err != nil {
			return fragment.Fragment{}, err
		}
		return t.unary(n.Op, x)
	}
	if len(n.Operands) != 2 {
		return fragment.Fragment{}, &ArityError{Name: n.Op, Expected: "2", Got: len(n.Operands)}
	}

	before := ctx.CurrentTable
	l, err := t.Translate(n.Operands[0], ctx)
	if err != nil {
		return fragment.Fragment{}, err
	}
	ctx.CurrentTable = before
	r, err := t.Translate(n.Operands[1], ctx)
	if err != nil {
		return fragment.Fragment{}, err
	}

	if !ctx.Inline() && (collectionOperator(n) || divergent(l, r)) {
		l = t.collect(ctx, l)
		r = t.collect(ctx, r)
	}

	var out fragment.Fragment
	switch n.Kind {
	case ast.OpComparison:
		out, err = t.compare(n.Op, l, r)
	case ast.OpLogical:
		out, err = t.logical(n.Op, l, r)
	case ast.OpBinary:
		out, err = t.arithmetic(n.Op, l, r)
	case ast.OpUnion:
		out, err = t.union(ctx, l, r)
	case ast.OpMembership:
		out, err = t.membership(ctx, n.Op, l, r)
	default:
		err = &UnknownOperatorError{Op: n.Op}
	}
	if err != nil {
		return fragment.Fragment{}, err
	}
	if !ctx.Inline() && divergent(l, r) {
		t.logger.Debug("joining operands", "op", n.Op, "left", l.SourceTable, "right", r.SourceTable)
		out = t.emitValue(ctx, l.SourceTable, out, r.SourceTable)
	}
	return out, nil
}

// collectionOperator reports whether the operator compares whole
// collections rather than single values.
func collectionOperator(n *ast.Operator) bool {
	switch n.Kind {
	case ast.OpUnion, ast.OpMembership:
		return true
	case ast.OpComparison:
		return n.Op == "=" || n.Op == "!=" || n.Op == "~" || n.Op == "!~"
	}
	return false
}

// divergent reports whether two operands end on different row sources.
func divergent(l, r fragment.Fragment) bool {
	return l.SourceTable != "" && r.SourceTable != "" && l.SourceTable != r.SourceTable
}

func (t *Translator) compare(op string, l, r fragment.Fragment) (fragment.Fragment, error) {
	switch op {
	case "=", "!=", "<", ">", "<=", ">=":
	case "~", "!~":
		return t.equivalence(op == "!~", l, r), nil
	default:
		return fragment.Fragment{}, &UnknownOperatorError{Op: op}
	}
	if t.isEmpty(l) || t.isEmpty(r) {
		return t.empty(), nil
	}

	d := t.dialect
	if (op == "=" || op == "!=") && (isCollection(l) || isCollection(r)) {
		expr := d.GenerateComparison(d.SerializeJSONValue(t.array(l)), op, d.SerializeJSONValue(t.array(r)))
		return scalarResult(expr, fhirtypes.KindBoolean, l, r), nil
	}

	var expr string
	switch kind := commonKind(elementKind(l), elementKind(r)); {
	case kind == fhirtypes.KindQuantity:
		expr = d.GenerateComparison(t.quantityValue(l), op, t.quantityValue(r))
		if elementKind(l) == fhirtypes.KindQuantity && elementKind(r) == fhirtypes.KindQuantity {
			expr = fmt.Sprintf("CASE WHEN %s = %s THEN %s END", t.quantityUnit(l), t.quantityUnit(r), expr)
		}
	case kind == fhirtypes.KindJSON && (op == "=" || op == "!="):
		expr = d.GenerateComparison(d.SerializeJSONValue(t.jsonSingle(l)), op, d.SerializeJSONValue(t.jsonSingle(r)))
	case kind == fhirtypes.KindJSON:
		a, b := t.single(l), t.single(r)
		expr = fmt.Sprintf("CASE WHEN %s AND %s THEN %s ELSE %s END",
			t.numericCheck(a), t.numericCheck(b),
			d.GenerateComparison(d.GenerateJSONValueCast(a, fhirtypes.KindDecimal), op, d.GenerateJSONValueCast(b, fhirtypes.KindDecimal)),
			d.GenerateStringComparison(t.text(l), op, t.text(r)))
	case kind == fhirtypes.KindString || kind.IsTemporal():
		expr = d.GenerateStringComparison(t.scalar(l, fhirtypes.KindString), op, t.scalar(r, fhirtypes.KindString))
	case kind == fhirtypes.KindBoolean:
		expr = d.GenerateComparison(t.scalar(l, kind), op, t.scalar(r, kind))
	default:
		a, ak := t.number(l)
		b, bk := t.number(r)
		if ak != bk {
			a, b = t.decimalOf(l), t.decimalOf(r)
		}
		expr = d.GenerateComparison(a, op, b)
	}
	return scalarResult(expr, fhirtypes.KindBoolean, l, r), nil
}

func (t *Translator) numericCheck(v string) string {
	return fmt.Sprintf("(%s OR %s)",
		t.dialect.GenerateJSONKindCheck(v, fhirtypes.KindInteger),
		t.dialect.GenerateJSONKindCheck(v, fhirtypes.KindDecimal))
}

// equivalence implements ~ and !~: strings compare case-insensitively
// after trimming, everything else by canonical serialization. Two empty
// collections are equivalent.
func (t *Translator) equivalence(negate bool, l, r fragment.Fragment) fragment.Fragment {
	d := t.dialect
	op := "IS NOT DISTINCT FROM"
	if negate {
		op = "IS DISTINCT FROM"
	}
	kind := commonKind(elementKind(l), elementKind(r))
	if kind == fhirtypes.KindString && !isCollection(l) && !isCollection(r) {
		norm := func(f fragment.Fragment) string {
			return fmt.Sprintf("%s(%s(%s))", d.FunctionName("lower"), d.FunctionName("trim"), t.scalar(f, fhirtypes.KindString))
		}
		return scalarResult(fmt.Sprintf("(%s %s %s)", norm(l), op, norm(r)), fhirtypes.KindBoolean, l, r)
	}
	expr := fmt.Sprintf("(%s %s %s)", d.SerializeJSONValue(t.array(l)), op, d.SerializeJSONValue(t.array(r)))
	return scalarResult(expr, fhirtypes.KindBoolean, l, r)
}

func (t *Translator) logical(op string, l, r fragment.Fragment) (fragment.Fragment, error) {
	a, b := t.boolean(l), t.boolean(r)
	var expr string
	switch op {
	case "and", "or":
		expr = t.dialect.GenerateLogicalCombine(a, op, b)
	case "xor":
		expr = t.dialect.GenerateComparison(a, "!=", b)
	case "implies":
		expr = t.dialect.GenerateLogicalCombine("(NOT "+a+")", "or", b)
	default:
		return fragment.Fragment{}, &UnknownOperatorError{Op: op}
	}
	return scalarResult(expr, fhirtypes.KindBoolean, l, r), nil
}

func (t *Translator) arithmetic(op string, l, r fragment.Fragment) (fragment.Fragment, error) {
	d := t.dialect
	if op == "&" {
		part := func(f fragment.Fragment) string {
			if t.isEmpty(f) {
				return "''"
			}
			return fmt.Sprintf("COALESCE(%s, '')", d.GenerateCast(t.text(f), fhirtypes.KindString))
		}
		return scalarResult(fmt.Sprintf("(%s || %s)", part(l), part(r)), fhirtypes.KindString, l, r), nil
	}
	switch op {
	case "+", "-", "*", "/", "div", "mod":
	default:
		return fragment.Fragment{}, &UnknownOperatorError{Op: op}
	}
	if t.isEmpty(l) || t.isEmpty(r) {
		return t.empty(), nil
	}

	lk, rk := elementKind(l), elementKind(r)
	if op == "+" && (lk == fhirtypes.KindString || rk == fhirtypes.KindString) {
		expr := fmt.Sprintf("(%s || %s)", t.scalar(l, fhirtypes.KindString), t.scalar(r, fhirtypes.KindString))
		return scalarResult(expr, fhirtypes.KindString, l, r), nil
	}
	if lk.IsTemporal() || rk.IsTemporal() || lk == fhirtypes.KindQuantity || rk == fhirtypes.KindQuantity {
		return fragment.Fragment{}, &UnsupportedNodeError{
			Node:   fmt.Sprintf("%s %s %s", lk, op, rk),
			Reason: "date and quantity arithmetic",
		}
	}

	a, ak := t.number(l)
	b, bk := t.number(r)
	integers := ak == fhirtypes.KindInteger && bk == fhirtypes.KindInteger
	da, db := t.decimalOf(l), t.decimalOf(r)
	switch op {
	case "/":
		expr := d.GenerateCast(fmt.Sprintf("%s / NULLIF(%s, 0)", da, db), fhirtypes.KindDecimal)
		return scalarResult(expr, fhirtypes.KindDecimal, l, r), nil
	case "div":
		// truncation toward zero, not floor
		expr := d.GenerateCast(fmt.Sprintf("%s(%s / NULLIF(%s, 0))", d.FunctionName("truncate"), da, db), fhirtypes.KindInteger)
		return scalarResult(expr, fhirtypes.KindInteger, l, r), nil
	case "mod":
		if integers {
			return scalarResult(fmt.Sprintf("(%s %% NULLIF(%s, 0))", a, b), fhirtypes.KindInteger, l, r), nil
		}
		return scalarResult(fmt.Sprintf("(%s %% NULLIF(%s, 0))", da, db), fhirtypes.KindDecimal, l, r), nil
	}
	if integers {
		return scalarResult(fmt.Sprintf("(%s %s %s)", a, op, b), fhirtypes.KindInteger, l, r), nil
	}
	return scalarResult(fmt.Sprintf("(%s %s %s)", da, op, db), fhirtypes.KindDecimal, l, r), nil
}

func (t *Translator) unary(op string, x fragment.Fragment) (fragment.Fragment, error) {
	switch op {
	case "+":
		return x, nil
	case "not":
		out := x.WithExpression(fmt.Sprintf("(NOT %s)", t.boolean(x)), fhirtypes.KindBoolean)
		out.RequiresUnnest = false
		return out, nil
	case "-":
	default:
		return fragment.Fragment{}, &UnknownOperatorError{Op: op}
	}
	if t.isEmpty(x) {
		return x, nil
	}
	if x.Metadata.Constant && (x.Kind.IsNumeric() || x.Kind == fhirtypes.KindQuantity) {
		v := "-" + x.Metadata.Value
		if rest, ok := strings.CutPrefix(x.Metadata.Value, "-"); ok {
			v = rest
		}
		if x.Kind == fhirtypes.KindQuantity {
			return t.quantityLiteral(v, x.Metadata.Unit), nil
		}
		out := fragment.Literal(v, x.Kind)
		out.Metadata.Value = v
		return out, nil
	}
	if elementKind(x) == fhirtypes.KindQuantity {
		return fragment.Fragment{}, &UnsupportedNodeError{Node: "-" + x.Expression, Reason: "quantity negation"}
	}
	expr, kind := t.number(x)
	out := x.WithExpression(fmt.Sprintf("(-%s)", expr), kind)
	out.RequiresUnnest = false
	return out, nil
}

// membership implements `elem in coll` and `coll contains elem`.
func (t *Translator) membership(ctx *Context, op string, l, r fragment.Fragment) (fragment.Fragment, error) {
	elem, coll := l, r
	switch op {
	case "in":
	case "contains":
		elem, coll = r, l
	default:
		return fragment.Fragment{}, &UnknownOperatorError{Op: op}
	}
	if t.isEmpty(elem) {
		return t.empty(), nil
	}
	return scalarResult(t.memberOf(ctx, elem, coll), fhirtypes.KindBoolean, l, r), nil
}

// memberOf tests whether the single value elem occurs in coll.
func (t *Translator) memberOf(ctx *Context, elem, coll fragment.Fragment) string {
	if t.isEmpty(coll) {
		return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE FALSE END", t.single(elem))
	}
	d := t.dialect
	m := ctx.nextAlias('m')
	v := t.jsonSingle(elem)
	return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE EXISTS (SELECT 1 FROM %s WHERE %s = %s) END",
		v, d.GenerateArraySource(t.array(coll), m), d.SerializeJSONValue(m+"_src."+m), d.SerializeJSONValue(v))
}

func (t *Translator) union(ctx *Context, l, r fragment.Fragment) (fragment.Fragment, error) {
	switch {
	case t.isEmpty(l) && t.isEmpty(r):
		return t.empty(), nil
	case t.isEmpty(l):
		return t.distinct(ctx, r), nil
	case t.isEmpty(r):
		return t.distinct(ctx, l), nil
	}
	kind, typePath := elementKind(l), l.Metadata.TypePath
	if kind != elementKind(r) {
		kind, typePath = fhirtypes.KindJSON, nil
	}
	expr := t.dedup(ctx, t.dialect.GenerateJSONArrayConcat(t.array(l), t.array(r)), nil, true)
	return collectionResult(expr, kind, typePath, l, r), nil
}
