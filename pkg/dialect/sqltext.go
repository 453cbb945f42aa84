package dialect

import (
	"strings"
)

// QuoteLiteral renders s as a standard SQL string literal ('' escaping).
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// IsPlainIdentifier reports whether s can appear unquoted in a JSON path.
func IsPlainIdentifier(s string) bool {
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

// HasArrayStep reports whether any step before the last is an array, which
// makes the extraction a flattening one.
func HasArrayStep(path []PathStep) bool {
	for i := 0; i < len(path)-1; i++ {
		if path[i].Array {
			return true
		}
	}
	return false
}

// NormalizeOp maps FHIRPath comparison spellings onto SQL ones.
func NormalizeOp(op string) string {
	switch op {
	case "!=":
		return "<>"
	case "==":
		return "="
	}
	return op
}

// Paren wraps expr in parentheses unless it already is a single
// parenthesized group or a plain token.
func Paren(expr string) string {
	if isWrapped(expr) || isAtom(expr) {
		return expr
	}
	return "(" + expr + ")"
}

func isAtom(expr string) bool {
	if expr == "" {
		return false
	}
	for _, r := range expr {
		switch {
		case r == '_', r == '.', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func isWrapped(expr string) bool {
	if len(expr) < 2 || expr[0] != '(' || expr[len(expr)-1] != ')' {
		return false
	}
	depth := 0
	inString := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if c == '\'' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(expr)-1 {
				return false
			}
		}
	}
	return depth == 0
}
