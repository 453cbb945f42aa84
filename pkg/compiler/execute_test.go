package compiler_test

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fhirsql/internal/testutil"
	"github.com/leapstack-labs/fhirsql/pkg/adapter"
	adpduckdb "github.com/leapstack-labs/fhirsql/pkg/adapters/duckdb"
	"github.com/leapstack-labs/fhirsql/pkg/compiler"
	"github.com/leapstack-labs/fhirsql/pkg/dialects/duckdb"
	"github.com/leapstack-labs/fhirsql/pkg/parity"
)

// duckdbEngine returns an in-memory DuckDB holding the patient fixture in
// resources and the observation fixture in observations.
func duckdbEngine(t *testing.T) adapter.Adapter {
	t.Helper()
	ctx := context.Background()
	adp := adpduckdb.New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(ctx, adapter.Config{Type: "duckdb"}))
	t.Cleanup(func() { _ = adp.Close() })

	for table, fixture := range map[string]string{
		"resources":    "patients.ndjson",
		"observations": "observations.ndjson",
	} {
		_, err := adp.LoadResources(ctx, table, bytes.NewReader(testutil.Fixture(t, fixture)))
		require.NoError(t, err)
	}
	return adp
}

// evaluate runs expr and returns the non-null result values per resource
// id, in collection order.
func evaluate(t *testing.T, adp adapter.Adapter, c *compiler.Compiler, expr string) map[string][]string {
	t.Helper()
	res, err := c.CompileString(expr)
	require.NoError(t, err, expr)

	rows, err := adp.Query(context.Background(), res.SQL)
	require.NoError(t, err, res.SQL)
	cols, values, err := adapter.Collect(rows)
	require.NoError(t, err)

	if idx := slices.Index(cols, "item_idx"); idx >= 0 {
		slices.SortStableFunc(values, func(a, b []any) int {
			return cmp.Or(
				cmp.Compare(fmt.Sprint(a[0]), fmt.Sprint(b[0])),
				cmp.Compare(ordinal(a[idx]), ordinal(b[idx])),
			)
		})
	}

	out := make(map[string][]string)
	for _, row := range values {
		if row[1] == nil {
			continue
		}
		id := fmt.Sprint(row[0])
		out[id] = append(out[id], parity.NormalizeValue(row[1]))
	}
	return out
}

func ordinal(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	}
	return 0
}

// perPatient repeats values for every patient in the fixture.
func perPatient(values ...string) map[string][]string {
	return map[string][]string{"p1": values, "p2": values, "p3": values}
}

func TestExecute_DuckDB_Patients(t *testing.T) {
	adp := duckdbEngine(t)
	c := compiler.New(duckdb.New(), compiler.WithLogger(testutil.NewTestLogger(t)))

	tests := []struct {
		expr string
		want map[string][]string
	}{
		{
			expr: "Patient.name.where(use = 'official').select(family)",
			want: map[string][]string{"p1": {"Chalmers"}, "p2": {"Windsor"}},
		},
		{
			expr: "Patient.name.given",
			want: map[string][]string{"p1": {"Peter", "James", "Jim"}, "p2": {"Charles"}},
		},
		{
			expr: "Patient.name.given.distinct()",
			want: map[string][]string{"p1": {"Peter", "James", "Jim"}, "p2": {"Charles"}},
		},
		{
			expr: "Patient.name.given.count()",
			want: map[string][]string{"p1": {"3"}, "p2": {"1"}, "p3": {"0"}},
		},
		{
			expr: "Patient.name.given.tail()",
			want: map[string][]string{"p1": {"James", "Jim"}},
		},
		{
			expr: "Patient.name.where(use = 'official').family = 'Chalmers'",
			want: map[string][]string{"p1": {"true"}, "p2": {"false"}},
		},
		{
			expr: "Patient.telecom.value",
			want: map[string][]string{"p1": {"(03) 5555 6473"}},
		},
		{
			expr: "Patient.identifier.value",
			want: map[string][]string{"p2": {"MRN1"}},
		},
		{expr: "(2 | 1).combine(2 | 3 | 1).distinct()", want: perPatient("2", "1", "3")},
		{expr: "(1 | 2 | 2 | 3).distinct()", want: perPatient("1", "2", "3")},
		{expr: "(1 | 2 | 3).exclude(2)", want: perPatient("1", "3")},
		{expr: "(1 | 2 | 3 | 2).intersect(2 | 3)", want: perPatient("2", "3")},
		{expr: "(1 | 2).isDistinct()", want: perPatient("true")},
		{expr: "(1 | 2).combine(2).isDistinct()", want: perPatient("false")},
		{expr: "2 in (1 | 2)", want: perPatient("true")},
		{expr: "7 div 2", want: perPatient("3")},
		{expr: "-7 div 2", want: perPatient("-3")},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluate(t, adp, c, tt.expr))
		})
	}
}

func TestExecute_DuckDB_Observations(t *testing.T) {
	adp := duckdbEngine(t)
	c := compiler.New(duckdb.New(),
		compiler.WithLogger(testutil.NewTestLogger(t)),
		compiler.WithTable("observations"),
	)

	tests := []struct {
		expr string
		want map[string][]string
	}{
		{
			expr: "Observation.value.unit",
			want: map[string][]string{"o1": {"lbs"}, "o2": {"beats/minute"}},
		},
		{
			expr: "Observation.valueQuantity.value",
			want: map[string][]string{"o1": {"185.5"}, "o2": {"72"}},
		},
		{
			expr: "Observation.value.as(Quantity).value",
			want: map[string][]string{"o1": {"185.5"}, "o2": {"72"}},
		},
		{
			expr: "Observation.value.ofType(Quantity).unit",
			want: map[string][]string{"o1": {"lbs"}, "o2": {"beats/minute"}},
		},
		{
			expr: "Observation.value.ofType(string)",
			want: map[string][]string{"o3": {"pending"}},
		},
		{
			expr: "Observation.value.ofType(Age)",
			want: map[string][]string{},
		},
		{
			expr: "Observation.effective.lowBoundary()",
			want: map[string][]string{"o1": {"2016-03-28T09:30:00.000Z"}},
		},
		{
			expr: "Observation.effective.highBoundary()",
			want: map[string][]string{"o1": {"2016-03-28T09:30:00.999Z"}},
		},
		{
			expr: "Observation.valueQuantity.lowBoundary().value",
			want: map[string][]string{"o1": {"185.45"}, "o2": {"71.5"}},
		},
		{
			expr: "Observation.valueQuantity.lowBoundary().unit",
			want: map[string][]string{"o1": {"lbs"}, "o2": {"beats/minute"}},
		},
		{
			expr: "Observation.valueQuantity.lowBoundary().system",
			want: map[string][]string{"o1": {"http://unitsofmeasure.org"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluate(t, adp, c, tt.expr))
		})
	}
}
