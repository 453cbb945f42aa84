// Package duckdb renders FHIRPath SQL for DuckDB. Resources are stored in a
// JSON column and navigated with DuckDB's json extension.
package duckdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

// Name is the registry key of this dialect.
const Name = "duckdb"

// DecimalType is used for every decimal value so arithmetic stays exact.
const DecimalType = "DECIMAL(38,18)"

// Dialect is the DuckDB implementation of dialect.Dialect.
type Dialect struct{}

var _ dialect.Dialect = (*Dialect)(nil)

// New returns the DuckDB dialect.
func New() *Dialect { return &Dialect{} }

func init() {
	dialect.Register(New())
}

// Name implements dialect.Dialect.
func (d *Dialect) Name() string { return Name }

// QuoteString implements dialect.Dialect.
func (d *Dialect) QuoteString(s string) string { return dialect.QuoteLiteral(s) }

func jsonPath(path []dialect.PathStep, wildcard bool) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, step := range path {
		sb.WriteByte('.')
		if dialect.IsPlainIdentifier(step.Name) {
			sb.WriteString(step.Name)
		} else {
			sb.WriteString(`"` + strings.ReplaceAll(step.Name, `"`, `\"`) + `"`)
		}
		if wildcard && step.Array {
			sb.WriteString("[*]")
		}
	}
	return strings.ReplaceAll(sb.String(), "'", "''")
}

// GenerateJSONExtract implements dialect.Dialect. Flattening paths return a
// DuckDB list which is converted back to a JSON array.
func (d *Dialect) GenerateJSONExtract(base string, path []dialect.PathStep) string {
	if len(path) == 0 {
		return base
	}
	if !dialect.HasArrayStep(path) {
		return fmt.Sprintf("json_extract(%s, '%s')", base, jsonPath(path, false))
	}
	return fmt.Sprintf("nullif(to_json(json_extract(%s, '%s')), '[]')", base, jsonPath(path, true))
}

func scalarText(expr string) string {
	return fmt.Sprintf("json_extract_string(%s, '$')", expr)
}

// GenerateJSONValueCast implements dialect.Dialect.
func (d *Dialect) GenerateJSONValueCast(expr string, kind fhirtypes.Kind) string {
	switch kind {
	case fhirtypes.KindString, fhirtypes.KindDate, fhirtypes.KindDateTime, fhirtypes.KindTime:
		return fmt.Sprintf("CASE WHEN json_type(%s) = 'VARCHAR' THEN %s END", expr, scalarText(expr))
	case fhirtypes.KindInteger:
		return fmt.Sprintf("CASE WHEN json_type(%s) IN ('BIGINT', 'UBIGINT') THEN CAST(%s AS BIGINT) END",
			expr, scalarText(expr))
	case fhirtypes.KindDecimal:
		return fmt.Sprintf("CASE WHEN json_type(%s) IN ('BIGINT', 'UBIGINT', 'DOUBLE') THEN CAST(%s AS %s) END",
			expr, scalarText(expr), DecimalType)
	case fhirtypes.KindBoolean:
		return fmt.Sprintf("CASE WHEN json_type(%s) = 'BOOLEAN' THEN CAST(%s AS BOOLEAN) END", expr, scalarText(expr))
	}
	return expr
}

// GenerateToJSON implements dialect.Dialect.
func (d *Dialect) GenerateToJSON(expr string) string {
	return fmt.Sprintf("to_json(%s)", expr)
}

// GenerateJSONArray implements dialect.Dialect.
func (d *Dialect) GenerateJSONArray(elems ...string) string {
	return fmt.Sprintf("json_array(%s)", strings.Join(elems, ", "))
}

// GenerateJSONObject implements dialect.Dialect.
func (d *Dialect) GenerateJSONObject(keys []string, values []string) string {
	parts := make([]string, 0, len(keys)*2)
	for i, k := range keys {
		parts = append(parts, d.QuoteString(k), values[i])
	}
	return fmt.Sprintf("json_object(%s)", strings.Join(parts, ", "))
}

// GenerateJSONSetField implements dialect.Dialect.
func (d *Dialect) GenerateJSONSetField(obj, field, value string) string {
	return fmt.Sprintf("json_merge_patch(%s, json_object(%s, %s))", obj, d.QuoteString(field), value)
}

// GenerateArrayNormalize implements dialect.Dialect.
func (d *Dialect) GenerateArrayNormalize(expr string) string {
	return fmt.Sprintf("CASE WHEN %[1]s IS NULL OR json_type(%[1]s) = 'NULL' THEN NULL WHEN json_type(%[1]s) = 'ARRAY' THEN %[1]s ELSE json_array(%[1]s) END", expr)
}

func list(expr string) string {
	return fmt.Sprintf("COALESCE(json_extract(%s, '$[*]'), CAST([] AS JSON[]))", expr)
}

// GenerateJSONArrayConcat implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayConcat(left, right string) string {
	return fmt.Sprintf("to_json(list_concat(%s, %s))", list(left), list(right))
}

// GenerateJSONArrayLength implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayLength(expr string) string {
	return fmt.Sprintf("CAST(json_array_length(%s) AS BIGINT)", expr)
}

// GenerateJSONArrayElement implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayElement(expr, index string) string {
	if n, err := strconv.Atoi(index); err == nil {
		return fmt.Sprintf("json_extract(%s, '$[%d]')", expr, n)
	}
	return fmt.Sprintf("json_extract(%s, '$[' || CAST(%s AS VARCHAR) || ']')", expr, index)
}

// GenerateJSONArrayLast implements dialect.Dialect.
func (d *Dialect) GenerateJSONArrayLast(expr string) string {
	return fmt.Sprintf("json_extract(%s, '$[#-1]')", expr)
}

const (
	datePattern     = `[0-9]{4}(-[0-9]{2}(-[0-9]{2})?)?`
	dateTimePattern = `[0-9]{4}(-[0-9]{2}(-[0-9]{2}(T[0-9]{2}(:[0-9]{2}(:[0-9]{2}(\.[0-9]+)?)?)?(Z|[+-][0-9]{2}:[0-9]{2})?)?)?)?`
	timePattern     = `[0-9]{2}(:[0-9]{2}(:[0-9]{2}(\.[0-9]+)?)?)?`
)

// GenerateJSONKindCheck implements dialect.Dialect.
func (d *Dialect) GenerateJSONKindCheck(expr string, kind fhirtypes.Kind) string {
	switch kind {
	case fhirtypes.KindString:
		return fmt.Sprintf("json_type(%s) = 'VARCHAR'", expr)
	case fhirtypes.KindInteger:
		return fmt.Sprintf("json_type(%s) IN ('BIGINT', 'UBIGINT')", expr)
	case fhirtypes.KindDecimal:
		return fmt.Sprintf("json_type(%s) = 'DOUBLE'", expr)
	case fhirtypes.KindBoolean:
		return fmt.Sprintf("json_type(%s) = 'BOOLEAN'", expr)
	case fhirtypes.KindDate:
		return d.stringMatching(expr, datePattern)
	case fhirtypes.KindDateTime:
		return d.stringMatching(expr, dateTimePattern)
	case fhirtypes.KindTime:
		return d.stringMatching(expr, timePattern)
	case fhirtypes.KindQuantity:
		return fmt.Sprintf("(json_type(%[1]s) = 'OBJECT' AND %[2]s)", expr, d.GenerateJSONHasField(expr, "value"))
	}
	return fmt.Sprintf("json_type(%s) = 'OBJECT'", expr)
}

func (d *Dialect) stringMatching(expr, pattern string) string {
	return fmt.Sprintf("(json_type(%s) = 'VARCHAR' AND regexp_full_match(%s, '%s'))", expr, scalarText(expr), pattern)
}

// GenerateJSONHasField implements dialect.Dialect.
func (d *Dialect) GenerateJSONHasField(expr, field string) string {
	return fmt.Sprintf("json_extract(%s, '%s') IS NOT NULL", expr, jsonPath([]dialect.PathStep{{Name: field}}, false))
}

// EmptyJSONArray implements dialect.Dialect.
func (d *Dialect) EmptyJSONArray() string { return "CAST('[]' AS JSON)" }

// GenerateLateralUnnest implements dialect.Dialect. DuckDB has no WITH
// ORDINALITY for unnest, so the ordinal is produced by a parallel unnest of
// generate_series over the same list.
func (d *Dialect) GenerateLateralUnnest(_, arrayColumn, alias string) string {
	return "LATERAL " + d.GenerateArraySource(arrayColumn, alias)
}

// GenerateArraySource implements dialect.Dialect.
func (d *Dialect) GenerateArraySource(arrayExpr, alias string) string {
	l := fmt.Sprintf("json_extract(%s, '$[*]')", arrayExpr)
	return fmt.Sprintf("(SELECT unnest(%[1]s) AS %[2]s, unnest(generate_series(1, len(%[1]s))) AS %[2]s_ord) AS %[2]s_src",
		l, alias)
}

// GenerateJSONArrayAgg implements dialect.Dialect. json_group_array is a
// macro in DuckDB and rejects ORDER BY, so the ordered list aggregate is
// converted instead. Zero rows give NULL, as jsonb_agg does.
func (d *Dialect) GenerateJSONArrayAgg(expr, orderBy string) string {
	return fmt.Sprintf("to_json(list(%s ORDER BY %s))", expr, orderBy)
}

// GenerateLogicalCombine implements dialect.Dialect.
func (d *Dialect) GenerateLogicalCombine(left, op, right string) string {
	return fmt.Sprintf("(%s %s %s)", dialect.Paren(left), strings.ToUpper(op), dialect.Paren(right))
}

// GenerateComparison implements dialect.Dialect.
func (d *Dialect) GenerateComparison(left, op, right string) string {
	return fmt.Sprintf("(%s %s %s)", dialect.Paren(left), dialect.NormalizeOp(op), dialect.Paren(right))
}

// GenerateStringComparison implements dialect.Dialect. DuckDB compares
// VARCHAR byte-wise unless a collation is requested, so no clause is added.
func (d *Dialect) GenerateStringComparison(left, op, right string) string {
	return d.GenerateComparison(left, op, right)
}

// SerializeJSONValue implements dialect.Dialect. Numbers are rendered at a
// fixed scale so 1 and 1.0 serialize identically.
func (d *Dialect) SerializeJSONValue(expr string) string {
	return fmt.Sprintf("CASE WHEN json_type(%[1]s) IN ('BIGINT', 'UBIGINT', 'DOUBLE') THEN CAST(CAST(%[2]s AS %[3]s) AS VARCHAR) ELSE CAST(%[1]s AS VARCHAR) END",
		expr, scalarText(expr), DecimalType)
}

var functionNames = map[string]string{
	"ceiling":    "ceil",
	"truncate":   "trunc",
	"power":      "pow",
	"startsWith": "starts_with",
	"indexOf":    "instr",
	"length":     "length",
	"ln":         "ln",
	"exp":        "exp",
	"sqrt":       "sqrt",
	"abs":        "abs",
	"floor":      "floor",
	"round":      "round",
	"upper":      "upper",
	"lower":      "lower",
	"trim":       "trim",
	"replace":    "replace",
	"substring":  "substring",
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
	return fmt.Sprintf("regexp_matches(%s, %s)", subject, pattern)
}

// GenerateEndsWith implements dialect.Dialect.
func (d *Dialect) GenerateEndsWith(s, suffix string) string {
	return fmt.Sprintf("suffix(%s, %s)", s, suffix)
}

// GenerateIndexOf implements dialect.Dialect.
func (d *Dialect) GenerateIndexOf(s, sub string) string {
	return fmt.Sprintf("(instr(%s, %s) - 1)", s, sub)
}

// TypeName implements dialect.Dialect.
func (d *Dialect) TypeName(kind fhirtypes.Kind) string {
	switch kind {
	case fhirtypes.KindInteger:
		return "BIGINT"
	case fhirtypes.KindDecimal:
		return DecimalType
	case fhirtypes.KindBoolean:
		return "BOOLEAN"
	case fhirtypes.KindString, fhirtypes.KindDate, fhirtypes.KindDateTime, fhirtypes.KindTime:
		return "VARCHAR"
	}
	return "JSON"
}

// GenerateCast implements dialect.Dialect.
func (d *Dialect) GenerateCast(expr string, kind fhirtypes.Kind) string {
	return fmt.Sprintf("CAST(%s AS %s)", expr, d.TypeName(kind))
}

// GenerateLastDayOfMonth implements dialect.Dialect.
func (d *Dialect) GenerateLastDayOfMonth(yearMonth string) string {
	return fmt.Sprintf("strftime(last_day(CAST(%s || '-01' AS DATE)), '%%d')", yearMonth)
}
