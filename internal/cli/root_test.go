package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command in an empty working directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fhirsql v"+Version)
}

func TestHelpCommand(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, name := range []string{"compile", "run", "parity", "repl", "dialects", "types", "load", "version", "completion"} {
		assert.Contains(t, out, name)
	}
}

func TestCompileCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains []string
	}{
		{
			name:     "duckdb default",
			args:     []string{"compile", "Patient.name.where(use = 'official').select(family)"},
			contains: []string{"WITH cte_1 AS (", "json_extract", "FROM resources", "SELECT * FROM cte_2;"},
		},
		{
			name:     "postgres dialect",
			args:     []string{"compile", "--dialect", "postgres", "Patient.name.family"},
			contains: []string{"jsonb_array_elements", "WITH ORDINALITY"},
		},
		{
			name:     "custom table",
			args:     []string{"compile", "--table", "patients", "Patient.active"},
			contains: []string{"FROM patients"},
		},
		{
			name:     "plan",
			args:     []string{"compile", "--plan", "Patient.name.where(use = 'official').select(family)"},
			contains: []string{"cte_1", "cte_2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			if tt.name == "plan" {
				assert.NotContains(t, out, "SELECT")
			}
		})
	}
}

func TestCompileCommand_JSON(t *testing.T) {
	out, err := execute(t, "compile", "-o", "json", "Patient.name.where(use = 'official').select(family)")
	require.NoError(t, err)

	var got struct {
		SQL  string `json:"sql"`
		CTEs []struct {
			Name      string   `json:"name"`
			DependsOn []string `json:"depends_on"`
		} `json:"ctes"`
		Levels [][]string `json:"levels"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Contains(t, got.SQL, "WITH cte_1")
	require.Len(t, got.CTEs, 2)
	assert.Equal(t, []string{"cte_1"}, got.CTEs[1].DependsOn)
	assert.Equal(t, [][]string{{"cte_1"}, {"cte_2"}}, got.Levels)
}

func TestCompileCommand_Errors(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		errSubstr string
	}{
		{"parse error", []string{"compile", "Patient.name.where("}, "parse"},
		{"unknown function", []string{"compile", "Patient.name.frobnicate()"}, "frobnicate"},
		{"unknown dialect", []string{"compile", "--dialect", "oracle", "Patient.name"}, "unknown dialect"},
		{"missing argument", []string{"compile"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestCompileCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "fhirsql.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("dialect: postgres\ntable: fhir_resources\n"), 0o600))

	out, err := execute(t, "--config", cfgFile, "compile", "Patient.gender")
	require.NoError(t, err)
	assert.Contains(t, out, "FROM fhir_resources")
	assert.Contains(t, out, "->")
}

func TestDialectsCommand(t *testing.T) {
	out, err := execute(t, "dialects")
	require.NoError(t, err)
	assert.Contains(t, out, "duckdb")
	assert.Contains(t, out, "postgres")
	assert.Contains(t, out, "Adapters:")
}

func TestTypesCommand(t *testing.T) {
	out, err := execute(t, "types")
	require.NoError(t, err)
	assert.Contains(t, out, "HumanName")
	assert.Contains(t, out, "Quantity")

	out, err = execute(t, "types", "--polymorphic", "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "element,variants")
	assert.Contains(t, out, "valueQuantity")
}

func TestCompletionCommand(t *testing.T) {
	out, err := execute(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "fhirsql")
}
