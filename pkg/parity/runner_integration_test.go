//go:build integration

package parity

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/fhirsql/internal/testutil"
	"github.com/leapstack-labs/fhirsql/pkg/adapter"
	adpduckdb "github.com/leapstack-labs/fhirsql/pkg/adapters/duckdb"
	adppostgres "github.com/leapstack-labs/fhirsql/pkg/adapters/postgres"
	"github.com/leapstack-labs/fhirsql/pkg/compiler"
	"github.com/leapstack-labs/fhirsql/pkg/dialects/duckdb"
	"github.com/leapstack-labs/fhirsql/pkg/dialects/postgres"
)

func integrationTargets(t *testing.T) []Target {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)
	fixture := testutil.Fixture(t, "patients.ndjson")

	duck := adpduckdb.New(logger)
	require.NoError(t, duck.Connect(ctx, adapter.Config{Type: "duckdb"}))
	t.Cleanup(func() { _ = duck.Close() })
	_, err := duck.LoadResources(ctx, "resources", bytes.NewReader(fixture))
	require.NoError(t, err)

	targets := []Target{{Compiler: compiler.New(duckdb.New()), Adapter: duck}}

	if dsn := os.Getenv("FHIRSQL_POSTGRES_DSN"); dsn != "" {
		pg := adppostgres.New(logger)
		require.NoError(t, pg.Connect(ctx, adapter.Config{Type: "postgres", Options: map[string]string{"dsn": dsn}}))
		t.Cleanup(func() { _ = pg.Close() })
		_, err := pg.LoadResources(ctx, "fhirsql_parity_resources", bytes.NewReader(fixture))
		require.NoError(t, err)
		t.Cleanup(func() { _ = pg.Exec(ctx, "DROP TABLE IF EXISTS fhirsql_parity_resources") })

		targets = append(targets, Target{
			Compiler: compiler.New(postgres.New(), compiler.WithTable("fhirsql_parity_resources")),
			Adapter:  pg,
		})
	}
	return targets
}

func TestRunner_Engines(t *testing.T) {
	runner := NewRunner(testutil.NewTestLogger(t), integrationTargets(t)...)

	exprs := []string{
		"Patient.name.where(use = 'official').select(family)",
		"Patient.name.given",
		"Patient.name.given.distinct()",
		"Patient.name.given.count()",
		"Patient.active",
		"Patient.gender = 'female'",
		"Patient.birthDate",
		"Patient.telecom.where(system = 'phone').value",
		"Patient.name.exists(use = 'usual')",
		"(1 | 2 | 2 | 3).distinct()",
		"2.50 * 2",
	}

	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			report, err := runner.Run(context.Background(), expr)
			require.NoError(t, err)
			for _, o := range report.Outcomes {
				require.NoError(t, o.Err, "%s:\n%s", o.Dialect, o.SQL)
			}
			assert.True(t, report.Match(), "mismatches: %+v", report.Mismatches)
		})
	}
}
