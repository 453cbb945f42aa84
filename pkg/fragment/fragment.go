// Package fragment holds the intermediate unit produced by the FHIRPath
// translator: a SQL expression plus the row-source and dependency metadata
// the CTE layer needs to place it.
package fragment

import (
	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

// Metadata carries the optional inputs of the CTE builder.
type Metadata struct {
	// ArrayColumn is the JSON array expression flattened by an UNNEST CTE.
	ArrayColumn string
	// ResultAlias names the value column of the CTE (default "item" for
	// unnest CTEs, "result" otherwise).
	ResultAlias string
	// IDColumn is the row identity carried through the CTE
	// (default <source>.id).
	IDColumn string
	// ProjectionExpression is selected per flattened element instead of the
	// element itself.
	ProjectionExpression string

	// CTEName is the name reserved for the CTE built from this fragment.
	CTEName string
	// FilterCondition becomes the WHERE clause of the CTE.
	FilterCondition string
	// SourceIndex is the ordering column of the source rows, if any.
	SourceIndex string
	// PopulationTable is the table that supplies one row per resource for
	// aggregate fragments.
	PopulationTable string
	// JoinTables are LEFT JOINed to the source on id.
	JoinTables []string
	// RowSource marks a fragment whose expression is exactly the value
	// column of SourceTable.
	RowSource bool
	// Constant marks a non-null literal value. Value and Unit keep the
	// literal text for compile-time folding.
	Constant bool
	Value    string
	Unit     string
	// IsArray marks an expression known to yield a JSON array or NULL, so it
	// needs no normalization before being enumerated.
	IsArray bool

	// Path is the JSON navigation that produced Expression, kept so later
	// member steps extend it instead of nesting extractions. Variants holds
	// one path per concrete choice type when a polymorphic element was
	// crossed.
	PathBase   string
	Variants   [][]dialect.PathStep
	ChoiceBase string
	ChoiceStep int
	TypePath   []string
}

// Fragment is one translated piece of SQL. Fragments are values: builders
// return modified copies and never mutate their inputs.
type Fragment struct {
	Expression     string
	SourceTable    string
	RequiresUnnest bool
	IsAggregate    bool
	Dependencies   []string
	// Kind is the SQL representation of Expression: KindJSON for JSON
	// values, a scalar kind for native SQL values.
	Kind fhirtypes.Kind
	// ElementKind is the known kind of the JSON content when Kind is KindJSON.
	ElementKind fhirtypes.Kind
	Metadata    Metadata
}

// IsJSON reports whether the expression yields a JSON value.
func (f Fragment) IsJSON() bool {
	return f.Kind == fhirtypes.KindJSON || f.Kind == fhirtypes.KindQuantity
}

// IsCollection reports whether the value may hold more than one element.
func (f Fragment) IsCollection() bool {
	return f.RequiresUnnest
}

// WithExpression returns a copy with a new expression and kind. Path
// metadata is dropped since the expression no longer is a plain extraction.
func (f Fragment) WithExpression(expr string, kind fhirtypes.Kind) Fragment {
	out := f
	out.Expression = expr
	out.Kind = kind
	out.ElementKind = fhirtypes.KindJSON
	out.Metadata.PathBase = ""
	out.Metadata.Variants = nil
	out.Metadata.ChoiceBase = ""
	out.Metadata.TypePath = nil
	out.Metadata.RowSource = false
	out.Metadata.Constant = false
	out.Metadata.Value = ""
	out.Metadata.Unit = ""
	out.Metadata.IsArray = false
	out.Dependencies = append([]string(nil), f.Dependencies...)
	return out
}

// Literal returns a constant fragment with no source and no dependencies.
func Literal(expr string, kind fhirtypes.Kind) Fragment {
	return Fragment{Expression: expr, Kind: kind, Metadata: Metadata{Constant: true}}
}

// MergeDependencies concatenates dependency lists, keeping the first
// occurrence of each name.
func MergeDependencies(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, dep := range list {
			if dep == "" || seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
		}
	}
	return out
}

// Combine folds several fragments into one carrying expr: flags are ORed,
// dependencies merged, and the source table taken from the first fragment
// that has one.
func Combine(expr string, kind fhirtypes.Kind, parts ...Fragment) Fragment {
	out := Fragment{Expression: expr, Kind: kind}
	lists := make([][]string, 0, len(parts))
	for _, p := range parts {
		out.RequiresUnnest = out.RequiresUnnest || p.RequiresUnnest
		out.IsAggregate = out.IsAggregate || p.IsAggregate
		if out.SourceTable == "" {
			out.SourceTable = p.SourceTable
			out.Metadata.SourceIndex = p.Metadata.SourceIndex
		}
		lists = append(lists, p.Dependencies)
	}
	out.Dependencies = MergeDependencies(lists...)
	return out
}
