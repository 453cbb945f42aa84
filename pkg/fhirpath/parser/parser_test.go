package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
)

func TestParse_Format(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"path", "Patient.name.family", "Patient.name.family"},
		{"function", "Patient.name.where(use = 'official')", "Patient.name.where((use = 'official'))"},
		{"select", "Patient.name.where(use='official').select(family)", "Patient.name.where((use = 'official')).select(family)"},
		{"union", "(1|2|2|3).distinct()", "(((1 | 2) | 2) | 3).distinct()"},
		{"precedence mult over add", "1 + 2 * 3", "(1 + (2 * 3))"},
		{"left assoc", "10 - 2 - 3", "((10 - 2) - 3)"},
		{"and over or", "a or b and c", "(a or (b and c))"},
		{"implies lowest", "a implies b or c", "(a implies (b or c))"},
		{"equality below inequality", "a = b < c", "(a = (b < c))"},
		{"union above comparison", "a | b = c", "((a | b) = c)"},
		{"is", "value is Quantity", "(value is Quantity)"},
		{"qualified type", "value as System.String", "(value as System.String)"},
		{"type function", "value.ofType(Quantity).unit", "value.ofType(Quantity).unit"},
		{"indexer", "name[0].given", "name[0].given"},
		{"unary minus", "-5 + 2", "(-5 + 2)"},
		{"variables", "$this.id = %resource.id", "($this.id = %resource.id)"},
		{"delimited var", "%`vs-name`", "%vs-name"},
		{"empty", "{}", "{}"},
		{"date", "@2020-01-15", "@2020-01-15"},
		{"datetime tz", "@2020-01-15T10:30:00+01:00", "@2020-01-15T10:30:00+01:00"},
		{"time", "@T14:30", "@T14:30"},
		{"quantity", "5.5 'mg'", "5.5 'mg'"},
		{"calendar quantity", "4 days", "4 'days'"},
		{"keyword member", "name.given.contains('a')", "name.given.contains('a')"},
		{"membership", "'a' in name.given", "('a' in name.given)"},
		{"div mod", "7 div 2 mod 3", "((7 div 2) mod 3)"},
		{"string escape", `'it\'s'`, `'it\'s'`},
		{"comment", "Patient.name // trailing\n.family", "Patient.name.family"},
		{"delimited identifier", "Patient.`given name`", "Patient.`given name`"},
		{"integer invocation", "1.toString()", "1.toString()"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ast.Format(n))
		})
	}
}

func TestParse_Nodes(t *testing.T) {
	n, err := Parse("Observation.value.ofType(Quantity)")
	require.NoError(t, err)

	inv, ok := n.(*ast.Invocation)
	require.True(t, ok)
	fn, ok := inv.Member.(*ast.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "ofType", fn.Name)
	require.Len(t, fn.Args, 1)
	assert.Equal(t, &ast.Identifier{Name: "Quantity", Position: ast.Position{Line: 1, Column: 26, Offset: 25}}, fn.Args[0])

	n, err = Parse("1.5")
	require.NoError(t, err)
	lit := n.(*ast.Literal)
	assert.Equal(t, ast.LiteralDecimal, lit.Kind)
	assert.Equal(t, "1.5", lit.Value)

	n, err = Parse("10 'mg'")
	require.NoError(t, err)
	lit = n.(*ast.Literal)
	assert.Equal(t, ast.LiteralQuantity, lit.Kind)
	assert.Equal(t, "10", lit.Value)
	assert.Equal(t, "mg", lit.Unit)

	n, err = Parse("a != b")
	require.NoError(t, err)
	op := n.(*ast.Operator)
	assert.Equal(t, ast.OpComparison, op.Kind)
	assert.Equal(t, "!=", op.Op)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unterminated string", "'abc"},
		{"missing paren", "where(a = b"},
		{"dangling operator", "1 +"},
		{"trailing input", "a b"},
		{"bad token", "a ? b"},
		{"empty", ""},
		{"bad escape", `'\q'`},
		{"missing member", "Patient."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			var pe *ParseError
			var le *LexError
			assert.True(t, errors.As(err, &pe) || errors.As(err, &le), "error should be positional: %v", err)
		})
	}
}

func TestParseError_Error(t *testing.T) {
	err := &ParseError{Pos: ast.Position{Line: 1, Column: 4}, Message: "boom"}
	assert.Equal(t, "parse error at line 1, column 4: boom", err.Error())
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("(") })
	assert.NotPanics(t, func() { MustParse("Patient.id") })
}
