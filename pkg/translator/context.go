package translator

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// Default names of the table holding one row per resource.
const (
	DefaultTable          = "resources"
	DefaultResourceColumn = "resource"
)

// Value column names of generated row sources.
const (
	elementAlias = "item"
	resultAlias  = "result"
	indexSuffix  = "_idx"
	ctePrefix    = "cte_"
)

// tableShape describes the columns of a row source.
type tableShape struct {
	// Value is the column holding the focus value.
	Value string
	// Index is the 1-based position column of element-row tables.
	Index string
	// Elements is true when the table holds one row per collection element
	// rather than one row per resource.
	Elements bool
	Kind     fhirtypes.Kind
	// ElementKind is the kind of the JSON content when Kind is KindJSON.
	ElementKind fhirtypes.Kind
	// Collection is true when a per-resource value column holds an array.
	Collection bool
	TypePath   []string
}

type scope map[string]fragment.Fragment

// Context is the mutable state of one translation. It is created per
// Translate call and must not be shared between goroutines.
type Context struct {
	// CurrentTable is the row source the next fragment reads from.
	CurrentTable string
	// RootTable holds one row per resource with columns (id, ResourceColumn).
	RootTable      string
	ResourceColumn string

	tables  map[string]tableShape
	scopes  []scope
	history []fragment.Fragment
	cteSeq  int
	subSeq  int
	inline  int
}

// NewContext returns a context rooted at table, whose resource JSON lives in
// column. Empty arguments select the defaults.
func NewContext(table, column string) *Context {
	if table == "" {
		table = DefaultTable
	}
	if column == "" {
		column = DefaultResourceColumn
	}
	c := &Context{
		CurrentTable:   table,
		RootTable:      table,
		ResourceColumn: column,
		tables: map[string]tableShape{
			table: {Value: column},
		},
	}
	root := c.RootFocus()
	c.scopes = []scope{{
		"$this":     root,
		"%resource": root,
		"%context":  root,
	}}
	return c
}

// RootFocus is the fragment for the resource column of the root table.
func (c *Context) RootFocus() fragment.Fragment {
	expr := c.RootTable + "." + c.ResourceColumn
	return fragment.Fragment{
		Expression:  expr,
		SourceTable: c.RootTable,
		Kind:        fhirtypes.KindJSON,
		Metadata: fragment.Metadata{
			RowSource: true,
			PathBase:  expr,
			Variants:  [][]dialect.PathStep{nil},
		},
	}
}

// History returns the row-source fragments created so far, in creation order.
func (c *Context) History() []fragment.Fragment {
	return append([]fragment.Fragment(nil), c.history...)
}

// LastCTE returns the name of the most recently created row source, or "".
func (c *Context) LastCTE() string {
	if len(c.history) == 0 {
		return ""
	}
	return c.history[len(c.history)-1].Metadata.CTEName
}

// PushScope opens a variable scope. The returned func restores the previous
// scope stack and must be called on every exit path.
func (c *Context) PushScope(vars map[string]fragment.Fragment) (restore func()) {
	n := len(c.scopes)
	s := make(scope, len(vars))
	for k, v := range vars {
		s[k] = v
	}
	c.scopes = append(c.scopes, s)
	return func() { c.scopes = c.scopes[:n] }
}

// Lookup resolves a variable, innermost scope first.
func (c *Context) Lookup(name string) (fragment.Fragment, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if f, ok := c.scopes[i][name]; ok {
			return f, true
		}
	}
	return fragment.Fragment{}, false
}

// Define binds name in the innermost scope.
func (c *Context) Define(name string, f fragment.Fragment) error {
	top := c.scopes[len(c.scopes)-1]
	if _, ok := top[name]; ok {
		return &RedefinedVariableError{Name: name}
	}
	top[name] = f
	return nil
}

// Depth is the number of open scopes.
func (c *Context) Depth() int {
	return len(c.scopes)
}

// enterInline switches nested where/select/exists to correlated subqueries
// until the returned func is called.
func (c *Context) enterInline() func() {
	c.inline++
	return func() { c.inline-- }
}

// Inline reports whether row sources are currently compiled as subqueries.
func (c *Context) Inline() bool {
	return c.inline > 0
}

func (c *Context) nextCTEName() string {
	c.cteSeq++
	return fmt.Sprintf("%s%d", ctePrefix, c.cteSeq)
}

// nextAlias returns a unique subquery alias such as w3.
func (c *Context) nextAlias(prefix byte) string {
	c.subSeq++
	return fmt.Sprintf("%c%d", prefix, c.subSeq)
}

func (c *Context) shape(table string) tableShape {
	return c.tables[table]
}

// isElementRows reports whether table holds one row per collection element.
func (c *Context) isElementRows(table string) bool {
	return c.tables[table].Elements
}

// indexColumn returns the qualified index column of table, or "".
func (c *Context) indexColumn(table string) string {
	s := c.tables[table]
	if s.Index == "" {
		return ""
	}
	return table + "." + s.Index
}

// addRowSource records a CTE-producing fragment and makes its table current.
func (c *Context) addRowSource(f fragment.Fragment, s tableShape) fragment.Fragment {
	name := f.Metadata.CTEName
	c.history = append(c.history, f)
	c.tables[name] = s
	c.CurrentTable = name
	return c.focusOf(name)
}

// focusOf returns the fragment reading the value column of table.
func (c *Context) focusOf(table string) fragment.Fragment {
	s := c.tables[table]
	expr := table + "." + s.Value
	f := fragment.Fragment{
		Expression:     expr,
		SourceTable:    table,
		Kind:           s.Kind,
		ElementKind:    s.ElementKind,
		RequiresUnnest: s.Collection,
		Dependencies:   []string{table},
		Metadata: fragment.Metadata{
			RowSource:   true,
			SourceIndex: c.indexColumn(table),
			TypePath:    s.TypePath,
			IsArray:     s.Collection,
		},
	}
	if s.Kind == fhirtypes.KindJSON && !s.Collection {
		f.Metadata.PathBase = expr
		f.Metadata.Variants = [][]dialect.PathStep{nil}
	}
	return f
}
