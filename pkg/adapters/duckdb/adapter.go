// Package duckdb provides a DuckDB execution adapter for compiled FHIRPath SQL.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/leapstack-labs/fhirsql/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "duckdb"
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" as the path for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}
	setup, err := params.statements()
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	// An in-memory database lives in one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}
	for _, stmt := range setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// LoadResources replaces table with the NDJSON resources read from r.
func (a *Adapter) LoadResources(ctx context.Context, table string, r io.Reader) (int, error) {
	if a.DB == nil {
		return 0, adapter.ErrNotConnected
	}
	if err := adapter.ValidateTableName(table); err != nil {
		return 0, err
	}
	resources, err := adapter.ReadResources(r)
	if err != nil {
		return 0, err
	}
	return a.InsertResources(ctx, resources, resourceDDL(table), insertSQL(table))
}

func resourceDDL(table string) []string {
	return []string{fmt.Sprintf("CREATE OR REPLACE TABLE %s (id VARCHAR, resource JSON)", table)}
}

func insertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (id, resource) VALUES (?, ?)", table)
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
