package cte

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fhirsql/pkg/dialects/duckdb"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

func cte(name string, deps ...string) *CTE {
	return &CTE{Name: name, Query: "SELECT 1", DependsOn: deps}
}

func names(ctes []*CTE) []string {
	out := make([]string, len(ctes))
	for i, c := range ctes {
		out[i] = c.Name
	}
	return out
}

func TestAssembler_OrderByDependencies(t *testing.T) {
	tests := []struct {
		name  string
		input []*CTE
		want  []string
	}{
		{
			name:  "already ordered",
			input: []*CTE{cte("cte_1"), cte("cte_2", "cte_1"), cte("cte_3", "cte_2")},
			want:  []string{"cte_1", "cte_2", "cte_3"},
		},
		{
			name:  "reversed",
			input: []*CTE{cte("cte_3", "cte_2"), cte("cte_2", "cte_1"), cte("cte_1")},
			want:  []string{"cte_1", "cte_2", "cte_3"},
		},
		{
			name:  "independent keep input order",
			input: []*CTE{cte("b"), cte("a"), cte("c")},
			want:  []string{"b", "a", "c"},
		},
		{
			name:  "external tables are not edges",
			input: []*CTE{cte("cte_1", "resources"), cte("cte_2", "resources", "cte_1")},
			want:  []string{"cte_1", "cte_2"},
		},
		{
			name:  "join",
			input: []*CTE{cte("cte_3", "cte_1", "cte_2"), cte("cte_1"), cte("cte_2")},
			want:  []string{"cte_1", "cte_2", "cte_3"},
		},
	}

	a := NewAssembler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, err := a.OrderByDependencies(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(ordered))
		})
	}
}

func TestAssembler_OrderByDependencies_Errors(t *testing.T) {
	a := NewAssembler()

	t.Run("cycle", func(t *testing.T) {
		_, err := a.OrderByDependencies([]*CTE{cte("a", "b"), cte("b", "a")})
		var cycle *CircularDependencyError
		require.ErrorAs(t, err, &cycle)
		assert.Equal(t, []string{"a", "b", "a"}, cycle.Cycle)
	})

	t.Run("unknown dependency", func(t *testing.T) {
		_, err := a.OrderByDependencies([]*CTE{cte("cte_1", "cte_9")})
		var unknown *UnknownDependencyError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "cte_1", unknown.CTE)
		assert.Equal(t, "cte_9", unknown.Dependency)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := a.OrderByDependencies([]*CTE{cte("cte_1"), cte("cte_1")})
		var dup *DuplicateNameError
		require.ErrorAs(t, err, &dup)
	})

	t.Run("declared external table", func(t *testing.T) {
		_, err := NewAssembler(WithExternalTables("cte_9")).OrderByDependencies([]*CTE{cte("cte_1", "cte_9")})
		assert.NoError(t, err)
	})
}

func TestAssembler_GenerateWithClause(t *testing.T) {
	a := NewAssembler()

	_, err := a.GenerateWithClause(nil)
	assert.ErrorIs(t, err, ErrNoCTEs)

	one, err := a.GenerateWithClause([]*CTE{cte("cte_1")})
	require.NoError(t, err)
	assert.Equal(t, "WITH cte_1 AS (\n  SELECT 1\n)", one)

	three, err := a.GenerateWithClause([]*CTE{cte("cte_1"), cte("cte_2"), cte("cte_3")})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(three, "),\n"))
	assert.True(t, strings.HasPrefix(three, "WITH cte_1 AS ("))
	assert.True(t, strings.HasSuffix(three, "cte_3 AS (\n  SELECT 1\n)"))
}

func TestGenerateFinalSelect(t *testing.T) {
	assert.Equal(t, "SELECT * FROM cte_7;", GenerateFinalSelect(cte("cte_7")))
}

func TestAssembler_AssembleQuery(t *testing.T) {
	b := NewBuilder(duckdb.New())
	ctes, err := b.BuildAll([]fragment.Fragment{officialNames(), families()})
	require.NoError(t, err)

	// Input order must not matter.
	ctes[0], ctes[1] = ctes[1], ctes[0]

	sql, err := NewAssembler().AssembleQuery(ctes)
	require.NoError(t, err)
	newGoldie(t).Assert(t, "assembled_duckdb", []byte(sql+"\n"))

	_, err = NewAssembler().AssembleQuery(nil)
	assert.ErrorIs(t, err, ErrNoCTEs)
}
