package ast

import (
	"strings"
)

// Format renders a node back to FHIRPath text. Binary operators are fully
// parenthesized so the output reparses to the same tree.
func Format(n Node) string {
	var sb strings.Builder
	format(&sb, n)
	return sb.String()
}

func format(sb *strings.Builder, n Node) {
	switch n := n.(type) {
	case nil:
		sb.WriteString("{}")
	case *Literal:
		formatLiteral(sb, n)
	case *Identifier:
		if isPlain(n.Name) {
			sb.WriteString(n.Name)
		} else {
			sb.WriteString("`" + n.Name + "`")
		}
	case *Variable:
		sb.WriteString(n.Name)
	case *Invocation:
		format(sb, n.Target)
		sb.WriteByte('.')
		format(sb, n.Member)
	case *Indexer:
		format(sb, n.Target)
		sb.WriteByte('[')
		format(sb, n.Index)
		sb.WriteByte(']')
	case *FunctionCall:
		sb.WriteString(n.Name)
		sb.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, a)
		}
		sb.WriteByte(')')
	case *Operator:
		if len(n.Operands) == 1 {
			sb.WriteString(n.Op)
			format(sb, n.Operands[0])
			return
		}
		sb.WriteByte('(')
		for i, o := range n.Operands {
			if i > 0 {
				sb.WriteString(" " + n.Op + " ")
			}
			format(sb, o)
		}
		sb.WriteByte(')')
	case *TypeOperation:
		sb.WriteByte('(')
		format(sb, n.Operand)
		sb.WriteString(" " + n.Op + " " + n.TypeName)
		sb.WriteByte(')')
	}
}

func formatLiteral(sb *strings.Builder, l *Literal) {
	switch l.Kind {
	case LiteralEmpty:
		sb.WriteString("{}")
	case LiteralString:
		sb.WriteString("'" + EscapeString(l.Value) + "'")
	case LiteralDate, LiteralDateTime:
		sb.WriteString("@" + l.Value)
	case LiteralTime:
		sb.WriteString("@T" + l.Value)
	case LiteralQuantity:
		sb.WriteString(l.Value + " '" + EscapeString(l.Unit) + "'")
	default:
		sb.WriteString(l.Value)
	}
}

// EscapeString escapes a string literal body for FHIRPath.
func EscapeString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return r.Replace(s)
}

func isPlain(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
