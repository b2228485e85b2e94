package database

import (
	"context"
	"fmt"
	"log/slog"
)

// Open returns the executor for driver: "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string, opts Options, logger *slog.Logger) (Executor, error) {
	switch driver {
	case "postgres", "postgresql", "pgx":
		return OpenPostgres(ctx, dsn, opts, logger)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, dsn, opts, logger)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}
}
