package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

func TestGenerateJSONExtract(t *testing.T) {
	d := New()

	tests := []struct {
		name string
		path []dialect.PathStep
		want string
	}{
		{
			name: "scalar path",
			path: []dialect.PathStep{{Name: "birthDate"}},
			want: "(r.resource -> 'birthDate')",
		},
		{
			name: "nested",
			path: []dialect.PathStep{{Name: "meta"}, {Name: "versionId"}},
			want: "(r.resource -> 'meta' -> 'versionId')",
		},
		{
			name: "flattening path",
			path: []dialect.PathStep{{Name: "name", Array: true}, {Name: "family"}},
			want: `NULLIF(jsonb_path_query_array(r.resource, '$."name"[*]."family"'), '[]'::jsonb)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.GenerateJSONExtract("r.resource", tt.path))
		})
	}
}

func TestGenerateLateralUnnest(t *testing.T) {
	d := New()
	assert.Equal(t,
		"LATERAL jsonb_array_elements(cte_1.item) WITH ORDINALITY AS item_src(item, item_ord)",
		d.GenerateLateralUnnest("cte_1", "cte_1.item", "item"))
}

func TestGenerateStringComparison(t *testing.T) {
	d := New()
	assert.Equal(t, `('ABC' COLLATE "C" = 'abc' COLLATE "C")`, d.GenerateStringComparison("'ABC'", "=", "'abc'"))
	assert.Equal(t, "(a <> b)", d.GenerateComparison("a", "!=", "b"))
	assert.Equal(t, "(x OR y)", d.GenerateLogicalCombine("x", "or", "y"))
}

func TestSerializeJSONValue(t *testing.T) {
	got := New().SerializeJSONValue("v")
	assert.Contains(t, got, "trim_scale")
	assert.Contains(t, got, "jsonb_typeof(v) = 'number'")
}

func TestTypeNames(t *testing.T) {
	d := New()
	assert.Equal(t, "NUMERIC", d.TypeName(fhirtypes.KindDecimal))
	assert.Equal(t, "TEXT", d.TypeName(fhirtypes.KindString))
	assert.Equal(t, "JSONB", d.TypeName(fhirtypes.KindJSON))
	assert.Equal(t, "strpos", d.FunctionName("indexOf"))
	assert.Equal(t, "(strpos(s, 'x') - 1)", d.GenerateIndexOf("s", "'x'"))
}

func TestArrayHelpers(t *testing.T) {
	d := New()
	assert.Equal(t, "(x -> 0)", d.GenerateJSONArrayElement("x", "0"))
	assert.Equal(t, "(x -> -1)", d.GenerateJSONArrayLast("x"))
	assert.Equal(t, "jsonb_agg(v ORDER BY o)", d.GenerateJSONArrayAgg("v", "o"))
	assert.Equal(t, "(COALESCE(a, '[]'::jsonb) || COALESCE(b, '[]'::jsonb))", d.GenerateJSONArrayConcat("a", "b"))
	assert.Equal(t, "jsonb_set(q, '{value}', to_jsonb(v))", d.GenerateJSONSetField("q", "value", "v"))
}
