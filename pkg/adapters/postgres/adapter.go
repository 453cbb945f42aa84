// Package postgres provides a PostgreSQL execution adapter for compiled
// FHIRPath SQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/leapstack-labs/fhirsql/pkg/adapter"
)

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
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
	return "postgres"
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	dsn := buildPostgresDSN(cfg)

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a PostgreSQL connection string. A "dsn" option
// is used verbatim.
func buildPostgresDSN(cfg adapter.Config) string {
	if dsn, ok := cfg.Options["dsn"]; ok && dsn != "" {
		return dsn
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}

	return dsn
}

// LoadResources replaces table with the NDJSON resources read from r, using
// COPY for the rows.
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

	for _, stmt := range resourceDDL(table) {
		if err := a.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("failed to create resource table: %w", err)
		}
	}
	if err := a.copyResources(ctx, table, resources); err != nil {
		return 0, fmt.Errorf("failed to copy resources: %w", err)
	}
	a.Logger.Debug("loaded resources", slog.String("table", table), slog.Int("count", len(resources)))
	return len(resources), nil
}

func resourceDDL(table string) []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", table),
		fmt.Sprintf("CREATE TABLE %s (id TEXT, resource JSONB)", table),
	}
}

// copyResources streams resources through the pgx COPY protocol.
func (a *Adapter) copyResources(ctx context.Context, table string, resources []adapter.Resource) error {
	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		pgxConn := driverConn.(*stdlib.Conn).Conn()
		_, err := pgxConn.CopyFrom(ctx, tableIdentifier(table), []string{"id", "resource"},
			pgx.CopyFromSlice(len(resources), func(i int) ([]any, error) {
				return []any{resources[i].ID, json.RawMessage(resources[i].JSON)}, nil
			}))
		return err
	})
}

func tableIdentifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
