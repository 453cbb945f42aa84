// Package adapter provides the execution adapter contract used to run
// compiled FHIRPath SQL against a database engine.
//
// Concrete adapters live in pkg/adapters/ subdirectories and register
// themselves from init(). Every adapter stores resources in a two column
// table: id (text) and resource (the engine's JSON type).
package adapter

import (
	"context"
	"database/sql"
	"io"
)

// Config holds configuration for connecting to a database.
type Config struct {
	Type     string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Options  map[string]string
	// Params holds adapter specific settings, decoded by each adapter.
	Params map[string]any
}

// Rows wraps sql.Rows to provide a consistent interface.
type Rows struct {
	*sql.Rows
}

// Adapter defines the interface that all execution adapters must implement.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// LoadResources replaces table with the NDJSON resources read from r and
	// returns the number of rows loaded.
	LoadResources(ctx context.Context, table string, r io.Reader) (int, error)

	// DialectName is the name of the SQL dialect the engine speaks.
	DialectName() string
}
