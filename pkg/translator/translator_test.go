package translator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fhirsql/internal/testutil"
	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/dialects/duckdb"
	"github.com/leapstack-labs/fhirsql/pkg/dialects/postgres"
	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/parser"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

func newTranslator(t *testing.T, d dialect.Dialect, opts ...Option) *Translator {
	t.Helper()
	return New(d, append([]Option{WithLogger(testutil.NewTestLogger(t))}, opts...)...)
}

func translate(t *testing.T, expr string) (fragment.Fragment, *Context) {
	t.Helper()
	tr := newTranslator(t, duckdb.New())
	ctx := NewContext("", "")
	f, err := tr.Translate(parser.MustParse(expr), ctx)
	require.NoError(t, err, expr)
	return f, ctx
}

func TestTranslate_WhereSelect(t *testing.T) {
	f, ctx := translate(t, "Patient.name.where(use = 'official').select(family)")

	history := ctx.History()
	require.Len(t, history, 2)

	where := history[0]
	assert.Equal(t, "cte_1", where.Metadata.CTEName)
	assert.True(t, where.RequiresUnnest)
	assert.Equal(t, []string{"resources"}, where.Dependencies)
	assert.Equal(t, "resources", where.SourceTable)
	assert.Contains(t, where.Metadata.FilterCondition, "'official'")
	assert.Contains(t, where.Metadata.ArrayColumn, "$.name")

	sel := history[1]
	assert.Equal(t, "cte_2", sel.Metadata.CTEName)
	assert.False(t, sel.RequiresUnnest)
	assert.Equal(t, []string{"cte_1"}, sel.Dependencies)
	assert.Equal(t, "cte_1", sel.SourceTable)
	assert.Contains(t, sel.Expression, "$.family")
	assert.Contains(t, sel.Metadata.FilterCondition, "IS NOT NULL")

	assert.True(t, f.Metadata.RowSource)
	assert.Equal(t, "cte_2", f.SourceTable)
	assert.Equal(t, "cte_2", ctx.CurrentTable)

	// nothing left to project
	tr := newTranslator(t, duckdb.New())
	assert.Equal(t, f, tr.Finalize(ctx, f))
	assert.Len(t, ctx.History(), 2)
}

func TestTranslate_ExistsWithoutCriteria(t *testing.T) {
	f, ctx := translate(t, "Patient.name.exists()")
	assert.Empty(t, ctx.History())
	assert.Empty(t, f.Dependencies)
	assert.Equal(t, fhirtypes.KindBoolean, f.Kind)
	assert.NotContains(t, f.Expression, "SELECT")
}

func TestTranslate_Literals(t *testing.T) {
	tests := []struct {
		expr string
		want string
		kind fhirtypes.Kind
	}{
		{"'it''s'", "'it''s'", fhirtypes.KindString},
		{`'it\'s'`, "'it''s'", fhirtypes.KindString},
		{"42", "42", fhirtypes.KindInteger},
		{"1.50", "1.50", fhirtypes.KindDecimal},
		{"true", "TRUE", fhirtypes.KindBoolean},
		{"@2014-01-25", "'2014-01-25'", fhirtypes.KindDate},
		{"{}", "CAST(NULL AS JSON)", fhirtypes.KindJSON},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, ctx := translate(t, tt.expr)
			assert.Equal(t, tt.want, f.Expression)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Empty(t, f.Dependencies)
			assert.Empty(t, ctx.History())
		})
	}
}

func TestTranslate_QuantityLiteral(t *testing.T) {
	f, _ := translate(t, "4 days")
	assert.Equal(t, fhirtypes.KindQuantity, f.Kind)
	assert.Contains(t, f.Expression, "'value', 4")
	assert.Contains(t, f.Expression, "'code', 'd'")
}

func TestTranslate_Polymorphic(t *testing.T) {
	f, _ := translate(t, "Observation.value.unit")
	assert.True(t, strings.HasPrefix(f.Expression, "COALESCE("), f.Expression)
	assert.Contains(t, f.Expression, "$.valueQuantity.unit")
}

func TestTranslate_ValueMembers(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		contains string
	}{
		{"contact point value", "Patient.telecom.value", "$.telecom[*].value'"},
		{"identifier value", "Patient.identifier.value", "$.identifier[*].value'"},
		{"concrete choice field", "Observation.valueQuantity.value", "$.valueQuantity.value'"},
		{"after as", "Observation.value.as(Quantity).value", "$.valueQuantity.value'"},
		{"after ofType", "Observation.value.ofType(Quantity).value", "$.valueQuantity.value'"},
		{"extension value", "Patient.extension.value", "$.extension[*].valueString'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ctx := translate(t, tt.expr)
			sql := f.Expression
			for _, h := range ctx.History() {
				sql += "\n" + h.Expression + "\n" + h.Metadata.ArrayColumn
			}
			assert.Contains(t, sql, tt.contains)
			assert.NotContains(t, sql, "valueQuantity.valueQuantity")
			if tt.name != "extension value" {
				assert.NotContains(t, sql, "valueString")
			}
		})
	}
}

func TestTranslate_TypeOperations(t *testing.T) {
	t.Run("choice narrowing", func(t *testing.T) {
		f, _ := translate(t, "Observation.value.ofType(Quantity)")
		assert.Contains(t, f.Expression, "$.valueQuantity")
		assert.NotContains(t, f.Expression, "valueString")
		assert.Equal(t, fhirtypes.KindQuantity, f.ElementKind)
	})

	tests := []struct {
		name string
		expr string
	}{
		{"indistinguishable complex type", "Patient.contact.ofType(Age)"},
		{"as indistinguishable complex type", "Patient.contact as Age"},
		{"unknown type", "Patient.name.ofType(NoSuchType)"},
		{"absent choice variant", "Observation.value.ofType(Age)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := translate(t, tt.expr)
			assert.Equal(t, "CAST(NULL AS JSON)", f.Expression)
		})
	}

	t.Run("static is", func(t *testing.T) {
		f, _ := translate(t, "1 is Integer")
		assert.Equal(t, "TRUE", f.Expression)
		f, _ = translate(t, "'a' is System.Integer")
		assert.Equal(t, "FALSE", f.Expression)
	})
}

func TestTranslate_DebugLog(t *testing.T) {
	tests := []struct {
		expr string
		msg  string
	}{
		{"Patient.name.trace('names')", "trace"},
		{"Patient.name.ofType(NoSuchType)", "type resolves to empty"},
		{"Patient.name.count()", "translated function"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			logger, records := testutil.NewRecordingLogger(t)
			tr := New(duckdb.New(), WithLogger(logger))
			_, err := tr.Translate(parser.MustParse(tt.expr), NewContext("", ""))
			require.NoError(t, err)
			assert.Contains(t, records.Messages(), tt.msg)
		})
	}
}

func TestTranslate_Distinct(t *testing.T) {
	f, ctx := translate(t, "(1 | 2 | 2 | 3).distinct()")
	assert.Empty(t, ctx.History())
	assert.Contains(t, f.Expression, "ROW_NUMBER() OVER (PARTITION BY")
	assert.Contains(t, f.Expression, ".rn = 1")
	assert.Contains(t, f.Expression, "to_json(list(")
	assert.True(t, f.IsCollection())
}

func TestTranslate_Div(t *testing.T) {
	f, _ := translate(t, "-7 div 2")
	assert.Contains(t, f.Expression, "trunc(")
	assert.Contains(t, f.Expression, "AS BIGINT")
	assert.Equal(t, fhirtypes.KindInteger, f.Kind)
}

func TestTranslate_StringComparison(t *testing.T) {
	tr := newTranslator(t, postgres.New())
	f, err := tr.Translate(parser.MustParse("'a' < 'B'"), NewContext("", ""))
	require.NoError(t, err)
	assert.Contains(t, f.Expression, `COLLATE "C"`)
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name        string
		node        ast.Node
		target      any
		malformed   bool
		unsupported bool
	}{
		{"unknown function", parser.MustParse("Patient.frobnicate()"), new(*UnknownFunctionError), true, false},
		{"function arity", parser.MustParse("Patient.name.where()"), new(*ArityError), true, false},
		{"too many arguments", parser.MustParse("Patient.name.first(1)"), new(*ArityError), true, false},
		{"unbound variable", parser.MustParse("%undefined"), new(*UnboundVariableError), true, false},
		{"index outside iteration", parser.MustParse("$index"), new(*UnboundVariableError), true, false},
		{"redefined variable", parser.MustParse("defineVariable('a', 1).defineVariable('a', 2)"), new(*RedefinedVariableError), true, false},
		{"unary arity", &ast.Operator{Kind: ast.OpUnary, Op: "-"}, new(*ArityError), true, false},
		{"binary arity", &ast.Operator{Kind: ast.OpBinary, Op: "+", Operands: []ast.Node{ast.Int("1")}}, new(*ArityError), true, false},
		{"unknown operator", &ast.Operator{Kind: ast.OpBinary, Op: "^", Operands: []ast.Node{ast.Int("1"), ast.Int("2")}}, new(*UnknownOperatorError), true, false},
		{"no translation", parser.MustParse("Patient.descendants()"), new(*UnsupportedNodeError), false, true},
		{"date arithmetic", parser.MustParse("@2014-01-01 + 1 day"), new(*UnsupportedNodeError), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTranslator(t, duckdb.New())
			_, err := tr.Translate(tt.node, NewContext("", ""))
			require.Error(t, err)
			assert.True(t, errors.As(err, tt.target), "unexpected error type %T", err)
			assert.Equal(t, tt.malformed, IsMalformed(err))
			assert.Equal(t, tt.unsupported, IsUnsupported(err))
		})
	}

	t.Run("nil node", func(t *testing.T) {
		_, err := newTranslator(t, duckdb.New()).Translate(nil, NewContext("", ""))
		assert.ErrorIs(t, err, ErrNilNode)
		assert.True(t, IsMalformed(err))
	})
}

func TestTranslate_ArityErrorDetails(t *testing.T) {
	_, err := newTranslator(t, duckdb.New()).Translate(parser.MustParse("Patient.name.substring()"), NewContext("", ""))
	var arity *ArityError
	require.ErrorAs(t, err, &arity)
	assert.Equal(t, "substring", arity.Name)
	assert.Equal(t, "1 to 2", arity.Expected)
	assert.Equal(t, 0, arity.Got)
}

func TestTranslate_Deterministic(t *testing.T) {
	exprs := []string{
		"Patient.name.where(use = 'official').select(family)",
		"Patient.name.given.distinct().count()",
		"Observation.value.ofType(Quantity).value > 5",
	}
	for _, d := range []dialect.Dialect{duckdb.New(), postgres.New()} {
		for _, expr := range exprs {
			t.Run(d.Name()+"/"+expr, func(t *testing.T) {
				tr := newTranslator(t, d)
				run := func() []fragment.Fragment {
					ctx := NewContext("", "")
					f, err := tr.Translate(parser.MustParse(expr), ctx)
					require.NoError(t, err)
					tr.Finalize(ctx, f)
					return ctx.History()
				}
				assert.Equal(t, run(), run())
			})
		}
	}
}

func TestTranslate_Compiles(t *testing.T) {
	exprs := []string{
		"Patient.name.count()",
		"Patient.name.given.first().upper()",
		"Patient.birthDate.lowBoundary()",
		"Patient.name.where(use = 'official').exists()",
		"Patient.telecom.all(system = 'phone')",
		"Patient.name.exists(given.exists())",
		"iif(Patient.active, 'yes', 'no')",
		"'abcdef'.substring(1, 3)",
		"2.power(3)",
		"'42'.toInteger() + 1",
		"'1.5'.convertsToDecimal()",
		"Patient.name.skip(1).take(1)",
		"Patient.name.tail().single()",
		"Patient.identifier.value.isDistinct()",
		"Patient.name.given.union(Patient.name.family)",
		"Patient.name.given.combine(Patient.name.family).exclude('x')",
		"today() >= Patient.birthDate",
		"Patient.name[0].given",
		"Patient.name.select(given.where($this.startsWith('J')))",
		"Patient.name.given.select($index)",
		"Patient.extension('http://example.org/ext').value",
		"Patient.name.family & ', ' & Patient.name.given.first()",
		"(Patient.active | true).allTrue()",
		"Observation.value.ofType(Quantity).highBoundary(2)",
		"1.587.lowBoundary(2)",
		"@2014-01.highBoundary()",
		"defineVariable('fam', Patient.name.family).select(%fam)",
		"Patient.gender in ('male' | 'female')",
		"Patient.name.family ~ 'SMITH'",
		"%resource.id",
		"Patient.deceased is Boolean",
		"Observation.value as Quantity",
	}
	for _, d := range []dialect.Dialect{duckdb.New(), postgres.New()} {
		for _, expr := range exprs {
			t.Run(d.Name()+"/"+expr, func(t *testing.T) {
				tr := newTranslator(t, d)
				ctx := NewContext("", "")
				f, err := tr.Translate(parser.MustParse(expr), ctx)
				require.NoError(t, err)
				out := tr.Finalize(ctx, f)
				assert.True(t, out.Metadata.RowSource)
				assert.NotEmpty(t, ctx.History())
				assert.Equal(t, ctx.LastCTE(), out.SourceTable)
			})
		}
	}
}

func TestWithConstants(t *testing.T) {
	tr := newTranslator(t, duckdb.New(), WithConstants(map[string]any{"limit": 3, "code": "abc"}))
	assert.Equal(t, []string{"%code", "%limit"}, tr.Constants())

	f, err := tr.Translate(parser.MustParse("%limit + 1"), NewContext("", ""))
	require.NoError(t, err)
	assert.Equal(t, "(3 + 1)", f.Expression)

	f, err = tr.Translate(parser.MustParse("%ucum"), NewContext("", ""))
	require.NoError(t, err)
	assert.Equal(t, "'http://unitsofmeasure.org'", f.Expression)
}
