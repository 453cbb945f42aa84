package ast

// Constructors for assembling trees by hand, mainly in tests.

// Str returns a string literal.
func Str(s string) *Literal { return &Literal{Kind: LiteralString, Value: s} }

// Int returns an integer literal.
func Int(v string) *Literal { return &Literal{Kind: LiteralInteger, Value: v} }

// Dec returns a decimal literal.
func Dec(v string) *Literal { return &Literal{Kind: LiteralDecimal, Value: v} }

// Bool returns a boolean literal.
func Bool(v bool) *Literal {
	if v {
		return &Literal{Kind: LiteralBoolean, Value: "true"}
	}
	return &Literal{Kind: LiteralBoolean, Value: "false"}
}

// Empty returns the empty collection literal {}.
func Empty() *Literal { return &Literal{Kind: LiteralEmpty} }

// Path builds a chain of member invocations: Path("Patient", "name") is
// Patient.name.
func Path(names ...string) Node {
	var n Node
	for _, name := range names {
		id := &Identifier{Name: name}
		if n == nil {
			n = id
			continue
		}
		n = &Invocation{Target: n, Member: id}
	}
	return n
}

// Call invokes a function on target. A nil target calls it on the focus.
func Call(target Node, name string, args ...Node) Node {
	fn := &FunctionCall{Name: name, Args: args}
	if target == nil {
		return fn
	}
	return &Invocation{Target: target, Member: fn}
}

// Member appends a member step to target.
func Member(target Node, name string) Node {
	return &Invocation{Target: target, Member: &Identifier{Name: name}}
}

// Binary builds a binary operator node, classifying op by its spelling.
func Binary(op string, left, right Node) *Operator {
	return &Operator{Kind: ClassifyBinary(op), Op: op, Operands: []Node{left, right}}
}

// Unary builds a unary operator node.
func Unary(op string, operand Node) *Operator {
	return &Operator{Kind: OpUnary, Op: op, Operands: []Node{operand}}
}

// Var returns a variable reference ($this, %resource, ...).
func Var(name string) *Variable { return &Variable{Name: name} }

// ClassifyBinary returns the operator kind for a binary operator spelling.
func ClassifyBinary(op string) OperatorKind {
	switch op {
	case "=", "!=", "~", "!~", "<", ">", "<=", ">=":
		return OpComparison
	case "and", "or", "xor", "implies":
		return OpLogical
	case "|":
		return OpUnion
	case "in", "contains":
		return OpMembership
	}
	return OpBinary
}
