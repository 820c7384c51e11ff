// Package db opens the DuckDB database that mirrors the parcel source.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-parcels/internal/logging"
)

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir    string
	DBName     string
	Extensions []string
}

// Open returns a DuckDB connection and loads the configured extensions.
// Extension failures are logged, not fatal.
func Open(ctx context.Context, cfg Config, log *logging.Logger) (*sql.DB, error) {
	if log == nil {
		log = logging.Nop()
	}

	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		dsn = filepath.Join(duckdbDir, cfg.DBName+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to duckdb: %w", err)
	}

	for _, ext := range cfg.Extensions {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			log.Warn(ctx, "duckdb extension unavailable", zap.String("extension", ext), zap.Error(err))
		}
	}
	log.Info(ctx, "duckdb opened", zap.String("path", dsn))
	return conn, nil
}
