// Package postgres renders FHIRPath SQL for PostgreSQL. Resources are stored
// in a jsonb column.
package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

// Name is the registry key of this dialect.
const Name = "postgres"

// Collation used for case-sensitive, byte-wise string comparison.
const Collation = `"C"`

// Dialect is the PostgreSQL implementation of dialect.Dialect.
type Dialect struct{}

var _ dialect.Dialect = (*Dialect)(nil)

// New returns the PostgreSQL dialect.
func New() *Dialect { return &Dialect{} }

func init() {
	dialect.Register(New())
}

// Name implements dialect.Dialect.
func (d *Dialect) Name() string { return Name }

// QuoteString implements dialect.Dialect.
func (d *Dialect) QuoteString(s string) string { return dialect.QuoteLiteral(s) }

// GenerateJSONExtract implements dialect.Dialect. Plain paths use the ->
// operator; flattening paths go through a lax-mode jsonpath.
func (d *Dialect) GenerateJSONExtract(base string, path []dialect.PathStep) string {
	if len(path) == 0 {
		return base
	}
	if !dialect.HasArrayStep(path) {
		var sb strings.Builder
		sb.WriteString(dialect.Paren(base))
		for _, step := range path {
			sb.WriteString(" -> ")
			sb.WriteString(d.QuoteString(step.Name))
		}
		return "(" + sb.String() + ")"
	}
	var jp strings.Builder
	jp.WriteString("$")
	for _, step := range path {
		jp.WriteString(`."` + strings.ReplaceAll(step.Name, `"`, `\"`) + `"`)
		if step.Array {
			jp.WriteString("[*]")
		}
	}
	return fmt.Sprintf("NULLIF(jsonb_path_query_array(%s, %s), '[]'::jsonb)", base, d.QuoteString(jp.String()))
}

func scalarText(expr string) string {
	return fmt.Sprintf("(%s #>> '{}')", expr)
}

// GenerateJSONValueCast implements dialect.Dialect.
func (d *Dialect) GenerateJSONValueCast(expr string, kind fhirtypes.Kind) string {
	switch kind {
	case fhirtypes.KindString, fhirtypes.KindDate, fhirtypes.KindDateTime, fhirtypes.KindTime:
		return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'string' THEN %s END", expr, scalarText(expr))
	case fhirtypes.KindInteger:
		return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'number' AND %s ~ '^-?[0-9]+$' THEN CAST(%s AS BIGINT) END",
			expr, scalarText(expr), scalarText(expr))
	case fhirtypes.KindDecimal:
		return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'number' THEN CAST(%s AS NUMERIC) END", expr, scalarText(expr))
	case fhirtypes.KindBoolean:
		return fmt.Sprintf("CASE WHEN jsonb_typeof(%s) = 'boolean' THEN CAST(%s AS BOOLEAN) END", expr, scalarText(expr))
	}
	return expr
}

// GenerateToJSON implements dialect.Dialect.
func (d *Dialect) GenerateToJSON(expr string) string {
	return fmt.Sprintf("to_jsonb(%s)", expr)
}

// GenerateJSONArray implements dialect.Dialect.
func (d *Dialect) GenerateJSONArray(elems ...string) string {
	return fmt.Sprintf("jsonb_build_array(%s)", strings.Join(elems, ", "))
}

// GenerateJSONObject implements dialect.Dialect.
func (d *Dialect) GenerateJSONObject(keys []string, values []string) string {
	parts := make([]string, 0, len(keys)*2)
	for i, k := range keys {
		parts = append(parts, d.QuoteString(k), values[i])
	}
	return fmt.Sprintf("jsonb_build_object(%s)", strings.Join(parts, ", "))
}

// GenerateJSONSetField implements dialect.Dialect.
func (d *Dialect) GenerateJSONSetField(obj, field, value string) string {
	return fmt.Sprintf("jsonb_set(%s, %s, to_jsonb(%s))", obj, d.QuoteString("{"+field+"}"), value)
}

// GenerateArrayNormalize implements dialect.Dialect.
func (d *Dialect) GenerateArrayNormalize(expr string) string {
	return fmt.Sprintf("CASE WHEN %[1]s IS NULL OR jsonb_typeof(%[1]s) = 'null' THEN NULL WHEN jsonb_typeof(%[1]s) = 'array' THEN %[1]s ELSE jsonb_build_array(%[1]s) END", expr)
}

// GenerateJSONArrayConcat implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayConcat(left, right string) string {
	return fmt.Sprintf("(COALESCE(%s, '[]'::jsonb) || COALESCE(%s, '[]'::jsonb))", left, right)
}

// GenerateJSONArrayLength implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayLength(expr string) string {
	return fmt.Sprintf("CAST(jsonb_array_length(%s) AS BIGINT)", expr)
}

// GenerateJSONArrayElement implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayElement(expr, index string) string {
	if n, err := strconv.Atoi(index); err == nil {
		return fmt.Sprintf("(%s -> %d)", dialect.Paren(expr), n)
	}
	return fmt.Sprintf("(%s -> CAST(%s AS INTEGER))", dialect.Paren(expr), index)
}

// GenerateJSONArrayLast implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayLast(expr string) string {
	return fmt.Sprintf("(%s -> -1)", dialect.Paren(expr))
}

const (
	datePattern     = `^[0-9]{4}(-[0-9]{2}(-[0-9]{2})?)?$`
	dateTimePattern = `^[0-9]{4}(-[0-9]{2}(-[0-9]{2}(T[0-9]{2}(:[0-9]{2}(:[0-9]{2}(\.[0-9]+)?)?)?(Z|[+-][0-9]{2}:[0-9]{2})?)?)?)?$`
	timePattern     = `^[0-9]{2}(:[0-9]{2}(:[0-9]{2}(\.[0-9]+)?)?)?$`
)

// GenerateJSONKindCheck implements dialect.Dialect. Integers and decimals
// are told apart by the presence of a fraction or exponent in the number text.
func (d *Dialect) GenerateJSONKindCheck(expr string, kind fhirtypes.Kind) string {
	switch kind {
	case fhirtypes.KindString:
		return fmt.Sprintf("jsonb_typeof(%s) = 'string'", expr)
	case fhirtypes.KindInteger:
		return fmt.Sprintf("(jsonb_typeof(%s) = 'number' AND %s ~ '^-?[0-9]+$')", expr, scalarText(expr))
	case fhirtypes.KindDecimal:
		return fmt.Sprintf("(jsonb_typeof(%s) = 'number' AND %s ~ '[.eE]')", expr, scalarText(expr))
	case fhirtypes.KindBoolean:
		return fmt.Sprintf("jsonb_typeof(%s) = 'boolean'", expr)
	case fhirtypes.KindDate:
		return d.stringMatching(expr, datePattern)
	case fhirtypes.KindDateTime:
		return d.stringMatching(expr, dateTimePattern)
	case fhirtypes.KindTime:
		return d.stringMatching(expr, timePattern)
	case fhirtypes.KindQuantity:
		return fmt.Sprintf("(jsonb_typeof(%[1]s) = 'object' AND %[2]s)", expr, d.GenerateJSONHasField(expr, "value"))
	}
	return fmt.Sprintf("jsonb_typeof(%s) = 'object'", expr)
}

func (d *Dialect) stringMatching(expr, pattern string) string {
	return fmt.Sprintf("(jsonb_typeof(%s) = 'string' AND %s ~ '%s')", expr, scalarText(expr), pattern)
}

// GenerateJSONHasField implements dialect.Dialect.
func (d *Dialect) GenerateJSONHasField(expr, field string) string {
	return fmt.Sprintf("(%s -> %s) IS NOT NULL", dialect.Paren(expr), d.QuoteString(field))
}

// EmptyJSONArray implements dialect.Dialect.
func (d *Dialect) EmptyJSONArray() string { return "'[]'::jsonb" }

// GenerateLateralUnnest implements dialect.Dialect.
func (d *Dialect) GenerateLateralUnnest(_, arrayColumn, alias string) string {
	return "LATERAL " + d.GenerateArraySource(arrayColumn, alias)
}

// GenerateArraySource implements dialect.Dialect.
func (d *Dialect) GenerateArraySource(arrayExpr, alias string) string {
	return fmt.Sprintf("jsonb_array_elements(%s) WITH ORDINALITY AS %[2]s_src(%[2]s, %[2]s_ord)", arrayExpr, alias)
}

// GenerateJSONArrayAgg implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayAgg(expr, orderBy string) string {
	return fmt.Sprintf("jsonb_agg(%s ORDER BY %s)", expr, orderBy)
}

// GenerateLogicalCombine implements dialect.Dialect.
func (d *Dialect) GenerateLogicalCombine(left, op, right string) string {
	return fmt.Sprintf("(%s %s %s)", dialect.Paren(left), strings.ToUpper(op), dialect.Paren(right))
}

// GenerateComparison implements dialect.Dialect.
func (d *Dialect) GenerateComparison(left, op, right string) string {
	return fmt.Sprintf("(%s %s %s)", dialect.Paren(left), dialect.NormalizeOp(op), dialect.Paren(right))
}

// GenerateStringComparison implements dialect.Dialect. The database default
// collation may be linguistic, so the comparison is pinned to "C".
func (d *Dialect) GenerateStringComparison(left, op, right string) string {
	return fmt.Sprintf("(%s COLLATE %s %s %s COLLATE %s)",
		dialect.Paren(left), Collation, dialect.NormalizeOp(op), dialect.Paren(right), Collation)
}

// SerializeJSONValue implements dialect.Dialect. trim_scale makes 1 and 1.0
// serialize identically; other values use jsonb's canonical text.
func (d *Dialect) SerializeJSONValue(expr string) string {
	return fmt.Sprintf("CASE WHEN jsonb_typeof(%[1]s) = 'number' THEN CAST(trim_scale(CAST(%[2]s AS NUMERIC)) AS TEXT) ELSE CAST(%[1]s AS TEXT) END",
		expr, scalarText(expr))
}

var functionNames = map[string]string{
	"ceiling":    "ceil",
	"truncate":   "trunc",
	"power":      "power",
	"startsWith": "starts_with",
	"indexOf":    "strpos",
	"length":     "length",
	"ln":         "ln",
	"exp":        "exp",
	"sqrt":       "sqrt",
	"abs":        "abs",
	"floor":      "floor",
	"round":      "round",
	"upper":      "upper",
	"lower":      "lower",
	"trim":       "btrim",
	"replace":    "replace",
	"substring":  "substr",
}

// FunctionName implements dialect.Dialect.
func (d *Dialect) FunctionName(name string) string {
	if n, ok := functionNames[name]; ok {
		return n
	}
	return name
}

// GenerateRegexMatch implements dialect.Dialect.
func (d *Dialect) GenerateRegexMatch(subject, pattern string) string {
	return fmt.Sprintf("(%s ~ %s)", dialect.Paren(subject), dialect.Paren(pattern))
}

// GenerateEndsWith implements dialect.Dialect.
func (d *Dialect) GenerateEndsWith(s, suffix string) string {
	return fmt.Sprintf("(right(%[1]s, length(%[2]s)) = %[2]s)", s, suffix)
}

// GenerateIndexOf implements dialect.Dialect.
func (d *Dialect) GenerateIndexOf(s, sub string) string {
	return fmt.Sprintf("(strpos(%s, %s) - 1)", s, sub)
}

// TypeName implements dialect.Dialect.
func (d *Dialect) TypeName(kind fhirtypes.Kind) string {
	switch kind {
	case fhirtypes.KindInteger:
		return "BIGINT"
	case fhirtypes.KindDecimal:
		return "NUMERIC"
	case fhirtypes.KindBoolean:
		return "BOOLEAN"
	case fhirtypes.KindString, fhirtypes.KindDate, fhirtypes.KindDateTime, fhirtypes.KindTime:
		return "TEXT"
	}
	return "JSONB"
}

// GenerateCast implements dialect.Dialect.
func (d *Dialect) GenerateCast(expr string, kind fhirtypes.Kind) string {
	return fmt.Sprintf("CAST(%s AS %s)", expr, d.TypeName(kind))
}

// GenerateLastDayOfMonth implements dialect.Dialect.
func (d *Dialect) GenerateLastDayOfMonth(yearMonth string) string {
	return fmt.Sprintf("to_char(date_trunc('month', CAST(%s || '-01' AS DATE)) + INTERVAL '1 month' - INTERVAL '1 day', 'DD')", yearMonth)
}
