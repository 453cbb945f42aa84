// Package ast defines the closed set of FHIRPath expression nodes consumed by
// the SQL translator.
//
// Node is sealed: only types in this package implement it, so a type switch
// over the node kinds below is exhaustive.
package ast

// Position is a location in the source expression.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// IsValid returns true if the position is valid (line > 0).
func (p Position) IsValid() bool {
	return p.Line > 0
}

// Node is a FHIRPath expression node.
type Node interface {
	Pos() Position
	node()
}

// LiteralKind is the type of a literal.
type LiteralKind int

// Literal kinds.
const (
	LiteralEmpty LiteralKind = iota // {}
	LiteralBoolean
	LiteralString
	LiteralInteger
	LiteralDecimal
	LiteralDate
	LiteralDateTime
	LiteralTime
	LiteralQuantity
)

var literalKindNames = [...]string{
	LiteralEmpty:    "empty",
	LiteralBoolean:  "boolean",
	LiteralString:   "string",
	LiteralInteger:  "integer",
	LiteralDecimal:  "decimal",
	LiteralDate:     "date",
	LiteralDateTime: "dateTime",
	LiteralTime:     "time",
	LiteralQuantity: "quantity",
}

func (k LiteralKind) String() string {
	if int(k) < len(literalKindNames) {
		return literalKindNames[k]
	}
	return "unknown"
}

// Literal is a constant. Value holds the unquoted text: string contents,
// the number as written, or the date/time without the leading '@'.
// Quantities keep the number in Value and the unit in Unit.
type Literal struct {
	Kind     LiteralKind
	Value    string
	Unit     string
	Position Position
}

// Identifier is a member name evaluated against the current focus.
type Identifier struct {
	Name     string
	Position Position
}

// Invocation applies Member (an Identifier or FunctionCall) to the result of
// Target.
type Invocation struct {
	Target   Node
	Member   Node
	Position Position
}

// Indexer selects one element of a collection: Target[Index].
type Indexer struct {
	Target   Node
	Index    Node
	Position Position
}

// FunctionCall is a function invoked on the current focus. When it appears as
// the Member of an Invocation the focus is the invocation target.
type FunctionCall struct {
	Name     string
	Args     []Node
	Position Position
}

// OperatorKind groups operators by how they are translated.
type OperatorKind int

// Operator kinds.
const (
	OpUnary OperatorKind = iota
	OpBinary
	OpComparison
	OpLogical
	OpUnion
	OpMembership
)

var operatorKindNames = [...]string{
	OpUnary:      "unary",
	OpBinary:     "binary",
	OpComparison: "comparison",
	OpLogical:    "logical",
	OpUnion:      "union",
	OpMembership: "membership",
}

func (k OperatorKind) String() string {
	if int(k) < len(operatorKindNames) {
		return operatorKindNames[k]
	}
	return "unknown"
}

// Operator is a unary or binary operator. Arity is not enforced here; the
// translator rejects operand counts that do not fit the kind.
type Operator struct {
	Kind     OperatorKind
	Op       string
	Operands []Node
	Position Position
}

// TypeOperation is `Operand is Type` or `Operand as Type`.
type TypeOperation struct {
	Op       string
	Operand  Node
	TypeName string
	Position Position
}

// Variable is an invocation term: $this, $index, $total, or an environment
// variable written %name. Name keeps the sigil.
type Variable struct {
	Name     string
	Position Position
}

func (*Literal) node()       {}
func (*Identifier) node()    {}
func (*Invocation) node()    {}
func (*Indexer) node()       {}
func (*FunctionCall) node()  {}
func (*Operator) node()      {}
func (*TypeOperation) node() {}
func (*Variable) node()      {}

// Pos implements Node.
func (n *Literal) Pos() Position { return n.Position }

// Pos implements Node.
func (n *Identifier) Pos() Position { return n.Position }

// Pos implements Node.
func (n *Invocation) Pos() Position { return n.Position }

// Pos implements Node.
func (n *Indexer) Pos() Position { return n.Position }

// Pos implements Node.
func (n *FunctionCall) Pos() Position { return n.Position }

// Pos implements Node.
func (n *Operator) Pos() Position { return n.Position }

// Pos implements Node.
func (n *TypeOperation) Pos() Position { return n.Position }

// Pos implements Node.
func (n *Variable) Pos() Position { return n.Position }
