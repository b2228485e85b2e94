package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nugget/datalookup/internal/catalog"
)

// Options configure an executor.
type Options struct {
	// Schema is the schema introspected and queried. Defaults to
	// "public" for Postgres and "main" for SQLite.
	Schema string
	// MaxConns caps the pool size. Zero keeps the driver default.
	MaxConns int32
	// QueryTimeout bounds each statement. Zero means no bound beyond
	// the caller's context.
	QueryTimeout time.Duration
}

// Postgres executes statements through a pgx pool whose sessions are
// read-only.
type Postgres struct {
	pool    *pgxpool.Pool
	schema  string
	timeout time.Duration
	logger  *slog.Logger
}

// OpenPostgres connects to dsn and verifies connectivity.
//
// Every pooled session runs with default_transaction_read_only, and
// every statement additionally runs inside a READ ONLY transaction.
func OpenPostgres(ctx context.Context, dsn string, opts Options, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("database: parse DSN: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}

	timeoutMS := opts.QueryTimeout.Milliseconds()
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"); err != nil {
			return fmt.Errorf("database: set read only: %w", err)
		}
		if timeoutMS > 0 {
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutMS)); err != nil {
				return fmt.Errorf("database: set statement_timeout: %w", err)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	schema := opts.Schema
	if schema == "" {
		schema = "public"
	}
	logger.Info("postgres pool ready",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"schema", schema,
		"max_conns", poolCfg.MaxConns,
	)
	return &Postgres{pool: pool, schema: schema, timeout: opts.QueryTimeout, logger: logger}, nil
}

// Dialect implements Executor.
func (p *Postgres) Dialect() string { return "postgres" }

// Schema implements Executor.
func (p *Postgres) Schema() string { return p.schema }

// Ping checks connectivity to the database.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close shuts down the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

// readOnly runs fn inside a READ ONLY transaction that is always rolled
// back.
func (p *Postgres) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(tx)
}

// Query implements Executor.
func (p *Postgres) Query(ctx context.Context, sql string, maxRows int) (*ResultSet, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rs := &ResultSet{}
	err := p.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql)
		if err != nil {
			return err
		}
		defer rows.Close()

		for _, fd := range rows.FieldDescriptions() {
			rs.Columns = append(rs.Columns, fd.Name)
		}
		for rows.Next() {
			if maxRows > 0 && len(rs.Rows) >= maxRows {
				rs.Truncated = true
				break
			}
			vals, err := rows.Values()
			if err != nil {
				return err
			}
			row := make([]any, len(vals))
			for i, v := range vals {
				row[i] = normalizeValue(v)
			}
			rs.Rows = append(rs.Rows, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, classifyPostgres(sql, err)
	}
	rs.Elapsed = time.Since(start)
	return rs, nil
}

// Explain implements Executor.
func (p *Postgres) Explain(ctx context.Context, sql string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var lines []string
	err := p.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, "EXPLAIN "+sql)
		if err != nil {
			return err
		}
		plan, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		lines = plan
		return nil
	})
	if err != nil {
		return "", classifyPostgres(sql, err)
	}
	return strings.Join(lines, "\n"), nil
}

// Columns implements catalog.Introspector.
func (p *Postgres) Columns(ctx context.Context, table string) ([]catalog.Column, error) {
	const q = `SELECT column_name, data_type, is_nullable = 'YES', ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := p.pool.Query(ctx, q, p.schema, table)
	if err != nil {
		return nil, fmt.Errorf("database: introspect %q: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Column, error) {
		var c catalog.Column
		err := row.Scan(&c.Name, &c.Type, &c.Nullable, &c.Position)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("database: introspect %q: %w", table, err)
	}
	return cols, nil
}
