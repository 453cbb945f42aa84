// Package commands implements the fhirsql subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/leapstack-labs/fhirsql/internal/config"
	"github.com/leapstack-labs/fhirsql/pkg/adapter"
	"github.com/leapstack-labs/fhirsql/pkg/compiler"
	"github.com/leapstack-labs/fhirsql/pkg/dialect"
)

// newCompiler builds a compiler for dialectName using the configured table,
// type registry and variables.
func newCompiler(cfg *config.Config, dialectName string, logger *slog.Logger) (*compiler.Compiler, error) {
	d, err := dialect.Lookup(dialectName)
	if err != nil {
		return nil, err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	return compiler.New(d,
		compiler.WithRegistry(reg),
		compiler.WithLogger(logger),
		compiler.WithTable(cfg.Table),
		compiler.WithResourceColumn(cfg.ResourceColumn),
		compiler.WithVariables(cfg.Variables),
	), nil
}

// connect opens the adapter for target.
func connect(ctx context.Context, target *config.TargetConfig, logger *slog.Logger) (adapter.Adapter, error) {
	return adapter.Open(ctx, target.AdapterConfig(), logger)
}

// loadFile replaces table with the NDJSON resources in path.
func loadFile(ctx context.Context, adp adapter.Adapter, table, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	n, err := adp.LoadResources(ctx, table, f)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return n, nil
}
