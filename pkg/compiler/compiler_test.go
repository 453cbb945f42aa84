package compiler

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fhirsql/internal/testutil"
	"github.com/leapstack-labs/fhirsql/pkg/cte"
	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/dialects/duckdb"
	"github.com/leapstack-labs/fhirsql/pkg/dialects/postgres"
	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/translator"
)

func newCompiler(t *testing.T, d dialect.Dialect, opts ...Option) *Compiler {
	t.Helper()
	return New(d, append([]Option{WithLogger(testutil.NewTestLogger(t))}, opts...)...)
}

func TestCompile_OfficialFamilyNames(t *testing.T) {
	for _, d := range []dialect.Dialect{duckdb.New(), postgres.New()} {
		t.Run(d.Name(), func(t *testing.T) {
			res, err := newCompiler(t, d).CompileString("Patient.name.where(use = 'official').select(family)")
			require.NoError(t, err)

			require.Len(t, res.CTEs, 2)
			require.Len(t, res.Fragments, 2)
			assert.Equal(t, "cte_1", res.CTEs[0].Name)
			assert.Equal(t, "cte_2", res.CTEs[1].Name)
			assert.True(t, res.CTEs[0].RequiresUnnest)
			assert.Empty(t, res.CTEs[0].DependsOn)
			assert.Equal(t, []string{"cte_1"}, res.CTEs[1].DependsOn)

			assert.True(t, strings.HasPrefix(res.SQL, "WITH cte_1 AS ("))
			assert.True(t, strings.HasSuffix(res.SQL, "SELECT * FROM cte_2;"))
			assert.Equal(t, 1, strings.Count(res.SQL, "LATERAL"))
			assert.Contains(t, res.SQL, "'official'")
		})
	}
}

func TestCompile_TerminalProjection(t *testing.T) {
	tests := []struct {
		expr   string
		ctes   int
		unnest bool
	}{
		{"1 + 1", 1, false},
		{"Patient.active", 1, false},
		{"Patient.name", 1, true},
		{"Patient.name.given", 1, true},
		{"Patient.name.exists()", 1, false},
		{"Patient.name.where(use = 'official')", 1, true},
	}

	c := newCompiler(t, duckdb.New())
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res, err := c.CompileString(tt.expr)
			require.NoError(t, err)
			require.Len(t, res.CTEs, tt.ctes)

			last := res.CTEs[len(res.CTEs)-1]
			assert.Equal(t, tt.unnest, last.RequiresUnnest)
			assert.True(t, strings.HasSuffix(res.SQL, "SELECT * FROM "+last.Name+";"))
		})
	}
}

func TestCompile_Distinct(t *testing.T) {
	res, err := newCompiler(t, duckdb.New()).CompileString("(1 | 2 | 2 | 3).distinct()")
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "ROW_NUMBER()")
	assert.True(t, strings.HasSuffix(res.SQL, ";"))
}

func TestCompile_Options(t *testing.T) {
	c := newCompiler(t, postgres.New(),
		WithTable("patients"),
		WithResourceColumn("doc"),
		WithVariables(map[string]any{"system": "http://loinc.org"}),
	)

	res, err := c.CompileString("Patient.identifier.where(system = %system).value")
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "FROM patients")
	assert.Contains(t, res.SQL, "patients.doc")
	assert.Contains(t, res.SQL, "'http://loinc.org'")
	assert.NotContains(t, res.SQL, "resources")
	assert.Equal(t, "postgres", c.Dialect().Name())
	assert.Equal(t, []string{"%system"}, c.Translator().Constants())
}

func TestCompile_Errors(t *testing.T) {
	c := newCompiler(t, duckdb.New())

	t.Run("parse", func(t *testing.T) {
		_, err := c.CompileString("Patient.name.where(")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse")
	})

	t.Run("unknown function", func(t *testing.T) {
		_, err := c.CompileString("Patient.name.frobnicate()")
		require.Error(t, err)
		assert.True(t, translator.IsMalformed(err))

		var unknown *translator.UnknownFunctionError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "frobnicate", unknown.Name)
	})

	t.Run("unbound variable", func(t *testing.T) {
		_, err := c.CompileString("%missing")
		assert.True(t, translator.IsMalformed(err))
	})

	t.Run("nil node", func(t *testing.T) {
		_, err := c.Compile(nil)
		assert.ErrorIs(t, err, translator.ErrNilNode)
	})
}

func TestCompile_Deterministic(t *testing.T) {
	const expr = "Patient.name.given.union(Patient.name.family)"
	for _, d := range []dialect.Dialect{duckdb.New(), postgres.New()} {
		c := New(d)
		first, err := c.CompileString(expr)
		require.NoError(t, err)
		for range 5 {
			again, err := c.CompileString(expr)
			require.NoError(t, err)
			assert.Equal(t, first.SQL, again.SQL)
		}
	}
}

func TestCompile_Concurrent(t *testing.T) {
	c := New(duckdb.New())
	want, err := c.CompileString("Patient.name.select(given.where($this.startsWith('J')))")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.CompileString("Patient.name.select(given.where($this.startsWith('J')))")
			if err == nil {
				results[i] = res.SQL
			}
		}()
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want.SQL, got)
	}
}

func TestCompile_AST(t *testing.T) {
	res, err := New(duckdb.New()).Compile(ast.Call(ast.Path("Patient", "name"), "count"))
	require.NoError(t, err)
	assert.Len(t, res.CTEs, 1)
}

func TestResult_Levels(t *testing.T) {
	res, err := New(duckdb.New()).CompileString("Patient.name.where(use = 'official').select(family)")
	require.NoError(t, err)

	levels, err := res.Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"cte_1"}, {"cte_2"}}, levels)
}

func TestCompile_AssemblesOrderedCTEs(t *testing.T) {
	res, err := newCompiler(t, duckdb.New()).CompileString("Patient.name.where(use = 'official').select(family).count() > 0")
	require.NoError(t, err)

	want, err := cte.NewAssembler().AssembleQuery(res.CTEs)
	require.NoError(t, err)
	assert.Equal(t, want, res.SQL)
	assert.True(t, strings.HasSuffix(res.SQL, "SELECT * FROM "+res.CTEs[len(res.CTEs)-1].Name+";"))
}
