package config

import "github.com/leapstack-labs/fhirsql/pkg/cte"

// Default configuration values.
const (
	DefaultDialect        = "duckdb"
	DefaultTable          = cte.DefaultRootTable
	DefaultResourceColumn = "resource"
	DefaultOutput         = "table"
)

// OutputModes lists the accepted values of the output setting.
var OutputModes = []string{"table", "json", "csv", "sql"}

// ConfigFileNames are searched, in order, when no config file is given.
var ConfigFileNames = []string{"fhirsql.yaml", "fhirsql.yml"}

func defaults() map[string]any {
	return map[string]any{
		"dialect":         DefaultDialect,
		"table":           DefaultTable,
		"resource_column": DefaultResourceColumn,
		"output":          DefaultOutput,
		"verbose":         false,
	}
}

// ApplyTargetDefaults fills in type-specific target defaults.
func ApplyTargetDefaults(t *TargetConfig) {
	if t == nil {
		return
	}
	if t.Type == "postgres" && t.Port == 0 {
		t.Port = 5432
	}
}
