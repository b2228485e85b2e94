package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies database failures on statements the guard allowed.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindUnknownTable
	KindUnknownColumn
	KindSyntax
	KindTimeout
	KindReadOnly
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnknownTable:
		return "unknown_table"
	case KindUnknownColumn:
		return "unknown_column"
	case KindSyntax:
		return "syntax"
	case KindTimeout:
		return "timeout"
	case KindReadOnly:
		return "read_only"
	default:
		return "other"
	}
}

// QueryError is a database-reported failure. The agent relays Error()
// to the model as an observation, so messages stay short and concrete.
type QueryError struct {
	Kind ErrorKind
	SQL  string
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("database: %s: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Hint suggests what the model should try next.
func (e *QueryError) Hint() string {
	switch e.Kind {
	case KindUnknownTable:
		return "Check the table name with sql_db_list_tables and double-quote it to preserve case."
	case KindUnknownColumn:
		return "Check the column names with sql_db_schema before querying."
	case KindSyntax:
		return "Fix the SQL syntax and try again."
	case KindTimeout:
		return "The query took too long. Narrow it with WHERE filters or a smaller LIMIT."
	default:
		return ""
	}
}

func classifyPostgres(sql string, err error) error {
	if err == nil {
		return nil
	}
	qe := &QueryError{SQL: sql, Err: err}
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case "42P01": // undefined_table
			qe.Kind = KindUnknownTable
		case "42703": // undefined_column
			qe.Kind = KindUnknownColumn
		case "42601": // syntax_error
			qe.Kind = KindSyntax
		case "57014": // query_canceled, raised by statement_timeout
			qe.Kind = KindTimeout
		case "25006": // read_only_sql_transaction
			qe.Kind = KindReadOnly
		}
	case errors.Is(err, context.DeadlineExceeded):
		qe.Kind = KindTimeout
	}
	return qe
}

func classifySQLite(sql string, err error) error {
	if err == nil {
		return nil
	}
	qe := &QueryError{SQL: sql, Err: err}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "interrupted"):
		qe.Kind = KindTimeout
	case strings.Contains(msg, "no such table"):
		qe.Kind = KindUnknownTable
	case strings.Contains(msg, "no such column"):
		qe.Kind = KindUnknownColumn
	case strings.Contains(msg, "syntax error"):
		qe.Kind = KindSyntax
	case strings.Contains(msg, "readonly") || strings.Contains(msg, "read-only") || strings.Contains(msg, "query_only"):
		qe.Kind = KindReadOnly
	}
	return qe
}
