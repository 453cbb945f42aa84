// Package config loads fhirsql settings from defaults, fhirsql.yaml, FHIRSQL_
// environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/fhirsql/pkg/adapter"
	"github.com/leapstack-labs/fhirsql/pkg/dialect"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
)

// TargetConfig holds database target configuration.
type TargetConfig struct {
	Type string `koanf:"type"` // duckdb, postgres

	// File-based databases (DuckDB); empty means in-memory
	Database string `koanf:"database"`

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Additional driver-specific options, e.g. dsn or sslmode
	Options map[string]string `koanf:"options"`

	// Params holds adapter-specific configuration (DuckDB extensions and settings)
	Params map[string]any `koanf:"params"`
}

// AdapterConfig converts the target into the adapter connection settings.
func (t *TargetConfig) AdapterConfig() adapter.Config {
	return adapter.Config{
		Type:     strings.ToLower(t.Type),
		Path:     t.Database,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Options:  t.Options,
		Params:   t.Params,
	}
}

// Validate checks the target against the adapter registry.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if !adapter.IsRegistered(strings.ToLower(t.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      t.Type,
			Available: adapter.ListAdapters(),
		}
	}
	return nil
}

// ParityConfig names the engines a parity run compares. DuckDB is the
// reference; a nil Postgres target limits the run to DuckDB.
type ParityConfig struct {
	DuckDB   *TargetConfig `koanf:"duckdb"`
	Postgres *TargetConfig `koanf:"postgres"`
}

// Targets returns the configured parity targets, reference first.
func (p *ParityConfig) Targets() []*TargetConfig {
	var out []*TargetConfig
	if p == nil {
		return out
	}
	for _, t := range []*TargetConfig{p.DuckDB, p.Postgres} {
		if t != nil && t.Type != "" {
			out = append(out, t)
		}
	}
	return out
}

// Config holds all fhirsql settings.
type Config struct {
	Dialect        string         `koanf:"dialect"`
	Table          string         `koanf:"table"`
	ResourceColumn string         `koanf:"resource_column"`
	TypesFile      string         `koanf:"types_file"`
	Output         string         `koanf:"output"`
	Verbose        bool           `koanf:"verbose"`
	Variables      map[string]any `koanf:"variables"`
	Target         *TargetConfig  `koanf:"target"`
	Parity         *ParityConfig  `koanf:"parity"`
}

// Registry returns the default FHIR type registry, extended by TypesFile
// when one is configured.
func (c *Config) Registry() (*fhirtypes.Registry, error) {
	if c.TypesFile == "" {
		return fhirtypes.Default(), nil
	}
	f, err := os.Open(c.TypesFile)
	if err != nil {
		return nil, fmt.Errorf("opening types file: %w", err)
	}
	defer func() { _ = f.Close() }()

	b := fhirtypes.DefaultBuilder()
	if err := b.LoadYAML(f); err != nil {
		return nil, fmt.Errorf("%s: %w", c.TypesFile, err)
	}
	return b.Build(), nil
}

// Validate checks the dialect, output mode and target.
func (c *Config) Validate() error {
	if _, err := dialect.Lookup(c.Dialect); err != nil {
		return err
	}
	if !isOutputMode(c.Output) {
		return fmt.Errorf("unknown output format %q (available: %s)", c.Output, strings.Join(OutputModes, ", "))
	}
	if c.Target != nil {
		if err := c.Target.Validate(); err != nil {
			return fmt.Errorf("invalid target configuration: %w", err)
		}
	}
	for _, t := range c.Parity.Targets() {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid parity target: %w", err)
		}
	}
	return nil
}

func isOutputMode(s string) bool {
	for _, m := range OutputModes {
		if m == s {
			return true
		}
	}
	return false
}
