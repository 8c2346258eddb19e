// Package sqldb runs warehouse queries through database/sql drivers:
// Postgres (pgx), Snowflake (gosnowflake) and BigQuery (viant/bigquery).
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/snowflakedb/gosnowflake"
	_ "github.com/viant/bigquery"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/query"
)

type Engine struct {
	db      *sql.DB
	driver  string
	session []string
}

// Open connects using cfg.Driver as the database/sql driver name.
func Open(ctx context.Context, cfg config.WarehouseConfig) (*Engine, error) {
	switch cfg.Driver {
	case "pgx", "snowflake", "bigquery":
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("warehouse dsn is required for driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s warehouse: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s warehouse: %w", cfg.Driver, err)
	}
	return New(db, cfg.Driver, cfg.SessionStatements()), nil
}

func New(db *sql.DB, driver string, session []string) *Engine {
	return &Engine{db: db, driver: driver, session: append([]string(nil), session...)}
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Query runs the session statements and the query on one connection so that
// session state such as the current schema applies. RowLimit caps how many
// rows are read; the statement itself is sent unchanged.
func (e *Engine) Query(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := strings.TrimSpace(request.SQL)
	if sqlText == "" {
		return query.Result{}, &query.ExecutionError{Message: "sql is required"}
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("acquire %s connection: %w", e.driver, err)
	}
	defer func() { _ = conn.Close() }()

	for _, statement := range e.session {
		if _, err := conn.ExecContext(ctx, statement); err != nil {
			return query.Result{}, executionError(err)
		}
	}

	start := time.Now()
	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, executionError(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, executionError(err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		if request.RowLimit > 0 && len(resultRows) >= request.RowLimit {
			break
		}
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return query.Result{}, executionError(err)
		}
		for i, value := range values {
			if raw, ok := value.([]byte); ok {
				values[i] = string(raw)
			}
		}
		resultRows = append(resultRows, values)
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, executionError(err)
	}
	return query.Result{Columns: columns, Rows: resultRows, Duration: time.Since(start)}, nil
}

// executionError keeps the driver's message text and error code.
func executionError(err error) *query.ExecutionError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &query.ExecutionError{Message: pgErr.Message, Code: pgErr.Code, Err: err}
	}
	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		code := ""
		if sfErr.Number != 0 {
			code = strconv.Itoa(sfErr.Number)
		}
		return &query.ExecutionError{Message: sfErr.Message, Code: code, Err: err}
	}
	return &query.ExecutionError{Message: err.Error(), Err: err}
}
