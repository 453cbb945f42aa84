package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

func TestMergeDependencies(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]string
		want  []string
	}{
		{"empty", nil, nil},
		{"single", [][]string{{"cte_1"}}, []string{"cte_1"}},
		{"shared dependency", [][]string{{"cte_1"}, {"cte_1"}}, []string{"cte_1"}},
		{"first seen order", [][]string{{"cte_2", "cte_1"}, {"cte_1", "cte_3"}}, []string{"cte_2", "cte_1", "cte_3"}},
		{"blank names dropped", [][]string{{"", "cte_1"}}, []string{"cte_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeDependencies(tt.lists...))
		})
	}
}

func TestMergeDependencies_Idempotent(t *testing.T) {
	once := MergeDependencies([]string{"cte_1", "cte_2"}, []string{"cte_2"})
	twice := MergeDependencies(once, once)
	assert.Equal(t, once, twice)
}

func TestCombine(t *testing.T) {
	left := Fragment{
		Expression:     "a",
		SourceTable:    "cte_1",
		RequiresUnnest: true,
		Dependencies:   []string{"cte_1"},
		Metadata:       Metadata{SourceIndex: "cte_1.item_idx"},
	}
	right := Fragment{
		Expression:   "b",
		SourceTable:  "cte_2",
		IsAggregate:  true,
		Dependencies: []string{"cte_1", "cte_2"},
	}

	got := Combine("(a = b)", fhirtypes.KindBoolean, left, right)
	assert.Equal(t, "(a = b)", got.Expression)
	assert.Equal(t, fhirtypes.KindBoolean, got.Kind)
	assert.Equal(t, "cte_1", got.SourceTable)
	assert.Equal(t, "cte_1.item_idx", got.Metadata.SourceIndex)
	assert.True(t, got.RequiresUnnest)
	assert.True(t, got.IsAggregate)
	assert.Equal(t, []string{"cte_1", "cte_2"}, got.Dependencies)
}

func TestCombine_LiteralHasNoSource(t *testing.T) {
	got := Combine("x", fhirtypes.KindInteger, Literal("1", fhirtypes.KindInteger), Fragment{SourceTable: "resources"})
	assert.Equal(t, "resources", got.SourceTable)
	assert.Empty(t, got.Dependencies)
}

func TestWithExpression_DoesNotMutate(t *testing.T) {
	f := Fragment{
		Expression:   "json_extract(r, '$.a')",
		Dependencies: []string{"cte_1"},
		Metadata: Metadata{
			PathBase: "r",
			Variants: [][]dialect.PathStep{{{Name: "a"}}},
		},
	}
	g := f.WithExpression("upper(x)", fhirtypes.KindString)
	g.Dependencies[0] = "changed"

	assert.Equal(t, "cte_1", f.Dependencies[0])
	assert.Equal(t, "r", f.Metadata.PathBase)
	assert.Empty(t, g.Metadata.PathBase)
	assert.Nil(t, g.Metadata.Variants)
	assert.False(t, g.IsJSON())
	assert.True(t, f.IsJSON())
}
