// Package dialect defines the per-engine SQL syntax contract used by the
// FHIRPath translator and the CTE builder.
//
// A Dialect only renders syntax. Every decision about FHIRPath semantics is
// made upstream; two dialects handed the same inputs must produce SQL that
// yields identical result sets on their engines. Concrete dialects live in
// pkg/dialects/* and register themselves from init().
package dialect

import (
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

// PathStep is one member access in a JSON path.
type PathStep struct {
	// Name is the JSON field name.
	Name string
	// Array marks the field as repeating. Steps after an array step are
	// applied to every element and the result is flattened.
	Array bool
}

// Dialect renders engine-specific SQL. All methods are pure string
// transformations.
type Dialect interface {
	// Name is the registry key (lower case).
	Name() string

	// QuoteString renders s as a SQL string literal.
	QuoteString(s string) string

	// GenerateJSONExtract navigates base along path. When a non-final step is
	// an array the result is a flattened JSON array, NULL when nothing matches.
	GenerateJSONExtract(base string, path []PathStep) string
	// GenerateJSONValueCast converts a JSON scalar to a SQL value of kind.
	// Values that do not convert become NULL.
	GenerateJSONValueCast(expr string, kind fhirtypes.Kind) string
	// GenerateToJSON wraps a SQL scalar as JSON.
	GenerateToJSON(expr string) string
	// GenerateJSONArray builds a JSON array from JSON elements.
	GenerateJSONArray(elems ...string) string
	// GenerateJSONObject builds a JSON object from key/value pairs. Keys are
	// plain field names; values are SQL expressions.
	GenerateJSONObject(keys []string, values []string) string
	// GenerateJSONSetField returns obj with field replaced by the SQL value.
	// Other keys are kept as they are.
	GenerateJSONSetField(obj, field, value string) string
	// GenerateArrayNormalize turns any JSON value into an array: NULL and
	// JSON null stay NULL, arrays pass through, anything else is wrapped.
	GenerateArrayNormalize(expr string) string
	// GenerateJSONArrayConcat concatenates two JSON arrays, treating NULL as empty.
	GenerateJSONArrayConcat(left, right string) string
	// GenerateJSONArrayLength returns the element count of a JSON array.
	GenerateJSONArrayLength(expr string) string
	// GenerateJSONArrayElement returns the element at a zero-based index.
	GenerateJSONArrayElement(expr, index string) string
	// GenerateJSONArrayLast returns the final element of a JSON array.
	GenerateJSONArrayLast(expr string) string
	// GenerateJSONKindCheck tests whether a JSON value holds a scalar of kind.
	GenerateJSONKindCheck(expr string, kind fhirtypes.Kind) string
	// GenerateJSONHasField tests whether a JSON object carries field.
	GenerateJSONHasField(expr, field string) string
	// EmptyJSONArray is the literal empty JSON array.
	EmptyJSONArray() string

	// GenerateLateralUnnest renders the LATERAL clause that flattens
	// arrayColumn (read from source) into rows exposed as
	// <alias>_src.<alias> and <alias>_src.<alias>_ord (1-based).
	GenerateLateralUnnest(source, arrayColumn, alias string) string
	// GenerateArraySource renders a FROM item enumerating a JSON array with
	// the same column naming as GenerateLateralUnnest, for use in subqueries.
	GenerateArraySource(arrayExpr, alias string) string
	// GenerateJSONArrayAgg aggregates values into a JSON array ordered by orderBy.
	GenerateJSONArrayAgg(expr, orderBy string) string

	// GenerateLogicalCombine joins two boolean expressions with AND or OR.
	GenerateLogicalCombine(left, op, right string) string
	// GenerateComparison renders a comparison between non-string values.
	GenerateComparison(left, op, right string) string
	// GenerateStringComparison renders a case-sensitive string comparison.
	GenerateStringComparison(left, op, right string) string
	// SerializeJSONValue renders a JSON value as canonical text so equal
	// values compare equal regardless of their source.
	SerializeJSONValue(expr string) string

	// FunctionName maps a canonical function name to the engine's spelling.
	FunctionName(name string) string
	// GenerateRegexMatch tests subject against a regular expression.
	GenerateRegexMatch(subject, pattern string) string
	// GenerateEndsWith tests whether s ends with suffix.
	GenerateEndsWith(s, suffix string) string
	// GenerateIndexOf returns the zero-based position of sub in s, -1 if absent.
	GenerateIndexOf(s, sub string) string
	// TypeName is the SQL type used for values of kind.
	TypeName(kind fhirtypes.Kind) string
	// GenerateCast converts a SQL value to kind.
	GenerateCast(expr string, kind fhirtypes.Kind) string
	// GenerateLastDayOfMonth returns the two-digit last day of the month
	// given a 'YYYY-MM' text expression.
	GenerateLastDayOfMonth(yearMonth string) string
}
