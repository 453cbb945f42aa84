package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Register adapters and dialects via init()
	_ "github.com/leapstack-labs/fhirsql/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/fhirsql/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/fhirsql/pkg/dialects/duckdb"
	_ "github.com/leapstack-labs/fhirsql/pkg/dialects/postgres"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fhirsql.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("dialect", "", "")
	fs.String("table", "", "")
	fs.String("types-file", "", "")
	fs.String("database", "", "")
	fs.StringP("output", "o", "", "")
	fs.BoolP("verbose", "v", false, "")
	return fs
}

func TestTargetConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		target    TargetConfig
		errSubstr string
	}{
		{name: "empty type", target: TargetConfig{}, errSubstr: "target type is required"},
		{name: "duckdb", target: TargetConfig{Type: "duckdb"}},
		{name: "duckdb uppercase", target: TargetConfig{Type: "DuckDB"}},
		{name: "postgres", target: TargetConfig{Type: "postgres"}},
		{name: "unknown", target: TargetConfig{Type: "mysql"}, errSubstr: "unknown adapter type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	loaded, err := Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, loaded.File)
	assert.Equal(t, "duckdb", loaded.Dialect)
	assert.Equal(t, "resources", loaded.Table)
	assert.Equal(t, "resource", loaded.ResourceColumn)
	assert.Equal(t, "table", loaded.Output)
	assert.Equal(t, "duckdb", loaded.Target.Type)
	assert.Empty(t, loaded.Parity.Targets())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
table: patients
target:
  type: postgres
  host: localhost
  user: ${FHIRSQL_TEST_USER}
parity:
  duckdb:
    type: duckdb
  postgres:
    type: postgres
    options:
      dsn: postgres://localhost/fhir
variables:
  system: http://loinc.org
`)
	t.Setenv("FHIRSQL_TEST_USER", "alice")

	loaded, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, loaded.File)
	assert.Equal(t, "patients", loaded.Table)
	assert.Equal(t, "postgres", loaded.Dialect, "dialect follows the target")
	assert.Equal(t, 5432, loaded.Target.Port)
	assert.Equal(t, "alice", loaded.Target.User)
	assert.Equal(t, "http://loinc.org", loaded.Variables["system"])

	targets := loaded.Parity.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, "duckdb", targets[0].Type)
	assert.Equal(t, "postgres://localhost/fhir", targets[1].Options["dsn"])
}

func TestLoad_FileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fhirsql.yml"), []byte("table: obs\n"), 0o600))
	t.Chdir(dir)

	loaded, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "obs", loaded.Table)
	assert.Equal(t, filepath.Join(dir, "fhirsql.yml"), loaded.File)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, "table: from_file\noutput: csv\n")
	t.Setenv("FHIRSQL_TABLE", "from_env")
	t.Setenv("FHIRSQL_TARGET__DATABASE", "env.duckdb")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--output", "json"}))

	loaded, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from_env", loaded.Table, "env beats file")
	assert.Equal(t, "json", loaded.Output, "flag beats file")
	assert.Equal(t, "env.duckdb", loaded.Target.Database)

	require.NoError(t, flags.Parse([]string{"--table", "from_flag", "--database", "flag.duckdb"}))
	loaded, err = Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "from_flag", loaded.Table, "flag beats env")
	assert.Equal(t, "flag.duckdb", loaded.Target.Database)
}

func TestLoad_DialectFlagSetsTarget(t *testing.T) {
	t.Chdir(t.TempDir())
	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--dialect", "postgres"}))

	loaded, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "postgres", loaded.Dialect)
	assert.Equal(t, "postgres", loaded.Target.Type)
}

func TestLoad_TypesFileRelativeToConfig(t *testing.T) {
	path := writeConfig(t, "types_file: types.yaml\n")

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "types.yaml"), loaded.TypesFile)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		errSubstr string
	}{
		{"unknown dialect", "dialect: oracle\n", "unknown dialect"},
		{"unknown output", "output: xml\n", "unknown output format"},
		{"unknown target", "target:\n  type: mysql\n", "invalid target configuration"},
		{"unknown parity target", "parity:\n  postgres:\n    type: mysql\n", "invalid parity target"},
		{"malformed yaml", "table: [\n", "error reading config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestConfig_Registry(t *testing.T) {
	cfg := &Config{}
	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.True(t, reg.IsResourceType("Patient"))

	dir := t.TempDir()
	typesFile := filepath.Join(dir, "types.yaml")
	require.NoError(t, os.WriteFile(typesFile, []byte("resources: [Specimen2]\n"), 0o600))

	cfg.TypesFile = typesFile
	reg, err = cfg.Registry()
	require.NoError(t, err)
	assert.True(t, reg.IsResourceType("Specimen2"))
	assert.True(t, reg.IsResourceType("Patient"), "defaults are kept")

	cfg.TypesFile = filepath.Join(dir, "missing.yaml")
	_, err = cfg.Registry()
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, GetLogger(ctx))
	assert.Equal(t, DefaultDialect, GetConfig(ctx).Dialect)

	cfg := &Config{Dialect: "postgres"}
	assert.Same(t, cfg, GetConfig(WithConfig(ctx, cfg)))
}
