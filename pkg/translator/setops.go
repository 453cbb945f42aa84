package translator

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// dedup enumerates the JSON array arr, keeps the elements accepted by
// filter (nil keeps all) and re-aggregates them in their original order.
// With first set only the first occurrence of every serialized value
// survives.
func (t *Translator) dedup(ctx *Context, arr string, filter func(elem string) string, first bool) string {
	d := t.dialect
	s := ctx.nextAlias('s')
	elem := s + "_src." + s
	ord := s + "_src." + s + "_ord"
	inner := fmt.Sprintf("SELECT %s AS v, %s AS o", elem, ord)
	if first {
		inner += fmt.Sprintf(", ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS rn", d.SerializeJSONValue(elem), ord)
	}
	inner += " FROM " + d.GenerateArraySource(arr, s)
	if filter != nil {
		inner += " WHERE " + filter(elem)
	}
	outer := s + "_d"
	expr := fmt.Sprintf("(SELECT %s FROM (%s) AS %s",
		t.nullIfEmpty(d.GenerateJSONArrayAgg(outer+".v", outer+".o")), inner, outer)
	if first {
		expr += fmt.Sprintf(" WHERE %s.rn = 1", outer)
	}
	return expr + ")"
}

// inArray renders a predicate testing elem's serialized presence in arr.
func (t *Translator) inArray(ctx *Context, elem, arr string) string {
	d := t.dialect
	o := ctx.nextAlias('o')
	return fmt.Sprintf("%s IN (SELECT %s FROM %s)",
		d.SerializeJSONValue(elem), d.SerializeJSONValue(o+"_src."+o), d.GenerateArraySource(arr, o))
}

func (t *Translator) distinct(ctx *Context, f fragment.Fragment) fragment.Fragment {
	if t.isEmpty(f) {
		return f
	}
	expr := t.dedup(ctx, t.array(f), nil, true)
	return collectionResult(expr, elementKind(f), f.Metadata.TypePath, f)
}

func (t *Translator) isDistinct(ctx *Context, f fragment.Fragment) fragment.Fragment {
	d := t.dialect
	length := func(arr string) string { return fmt.Sprintf("COALESCE(%s, 0)", d.GenerateJSONArrayLength(arr)) }
	expr := fmt.Sprintf("(%s = %s)", length(t.array(f)), length(t.dedup(ctx, t.array(f), nil, true)))
	return scalarResult(expr, fhirtypes.KindBoolean, f)
}

func (t *Translator) intersect(ctx *Context, f, other fragment.Fragment) fragment.Fragment {
	if t.isEmpty(f) || t.isEmpty(other) {
		return t.empty()
	}
	arr := t.array(other)
	expr := t.dedup(ctx, t.array(f), func(elem string) string { return t.inArray(ctx, elem, arr) }, true)
	return collectionResult(expr, elementKind(f), f.Metadata.TypePath, f, other)
}

// exclude keeps duplicates of f and its order.
func (t *Translator) exclude(ctx *Context, f, other fragment.Fragment) fragment.Fragment {
	if t.isEmpty(f) || t.isEmpty(other) {
		return f
	}
	arr := t.array(other)
	expr := t.dedup(ctx, t.array(f), func(elem string) string { return "NOT " + t.inArray(ctx, elem, arr) }, false)
	return collectionResult(expr, elementKind(f), f.Metadata.TypePath, f, other)
}

// subsetOf reports whether every element of f occurs in other.
func (t *Translator) subsetOf(ctx *Context, f, other fragment.Fragment) fragment.Fragment {
	d := t.dialect
	s := ctx.nextAlias('s')
	elem := s + "_src." + s
	cond := "TRUE"
	if !t.isEmpty(other) {
		cond = "NOT " + t.inArray(ctx, elem, t.array(other))
	}
	expr := fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s WHERE %s)", d.GenerateArraySource(t.array(f), s), cond)
	if t.isEmpty(f) {
		expr = "TRUE"
	}
	return scalarResult(expr, fhirtypes.KindBoolean, f, other)
}

func (t *Translator) combine(f, other fragment.Fragment) fragment.Fragment {
	switch {
	case t.isEmpty(other):
		return f
	case t.isEmpty(f):
		return other
	}
	kind, typePath := elementKind(f), f.Metadata.TypePath
	if kind != elementKind(other) {
		kind, typePath = fhirtypes.KindJSON, nil
	}
	expr := t.nullIfEmpty(t.dialect.GenerateJSONArrayConcat(t.array(f), t.array(other)))
	return collectionResult(expr, kind, typePath, f, other)
}
