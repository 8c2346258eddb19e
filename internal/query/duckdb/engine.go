// Package duckdb is an embedded warehouse. Tables are either native DuckDB
// tables in the database file or views over parquet objects pulled from the
// object store.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"

	"github.com/snowchat/snowchat/internal/query"
	"github.com/snowchat/snowchat/internal/storage"
)

type Options struct {
	// Path of the database file; empty opens an in-memory database.
	Path          string
	Store         storage.ObjectStore
	ParquetPrefix string
}

type Engine struct {
	db      *sql.DB
	store   storage.ObjectStore
	prefix  string
	workDir string
}

func Open(ctx context.Context, opts Options) (*Engine, error) {
	db, err := sql.Open("duckdb", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &Engine{db: db, store: opts.Store, prefix: opts.ParquetPrefix}, nil
}

func (e *Engine) Close() error {
	err := e.db.Close()
	if e.workDir != "" {
		_ = os.RemoveAll(e.workDir)
	}
	return err
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// LoadViews downloads every parquet object under the configured prefix and
// exposes each table directory as a view. It returns the table names.
func (e *Engine) LoadViews(ctx context.Context) ([]string, error) {
	if e.store == nil || strings.TrimSpace(e.prefix) == "" {
		return nil, nil
	}
	objects, err := e.store.List(ctx, strings.Trim(e.prefix, "/")+"/")
	if err != nil {
		return nil, fmt.Errorf("list parquet objects: %w", err)
	}

	if e.workDir == "" {
		e.workDir, err = os.MkdirTemp("", "snowchat-parquet-")
		if err != nil {
			return nil, fmt.Errorf("create parquet dir: %w", err)
		}
	}

	files := map[string][]string{}
	for index, object := range objects {
		table, ok := storage.ParquetTable(e.prefix, object.Key)
		if !ok {
			continue
		}
		localPath := filepath.Join(e.workDir, fmt.Sprintf("%s_%04d.parquet", table, index))
		if err := e.download(ctx, object.Key, localPath); err != nil {
			return nil, err
		}
		files[table] = append(files[table], localPath)
	}

	tables := make([]string, 0, len(files))
	for table, paths := range files {
		sort.Strings(paths)
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(table), quoteStringList(paths))
		if _, err := e.db.ExecContext(ctx, viewSQL); err != nil {
			return nil, fmt.Errorf("create view %q: %w", table, err)
		}
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables, nil
}

func (e *Engine) download(ctx context.Context, key, localPath string) error {
	reader, err := e.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %q: %w", localPath, err)
	}
	return file.Close()
}

func (e *Engine) Query(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, &query.ExecutionError{Message: "sql is required"}
	}
	if request.RowLimit > 0 {
		// The newline keeps a trailing -- comment from swallowing the paren.
		sqlText = fmt.Sprintf("SELECT * FROM (%s\n) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, executionError(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, executionError(err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return query.Result{}, executionError(err)
	}
	uuidColumns := make([]bool, len(types))
	for i, columnType := range types {
		uuidColumns[i] = strings.EqualFold(columnType.DatabaseTypeName(), "UUID")
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return query.Result{}, executionError(err)
		}
		resultRows = append(resultRows, normalizeRow(values, uuidColumns))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, executionError(err)
	}

	return query.Result{Columns: columns, Rows: resultRows, Duration: time.Since(start)}, nil
}

func executionError(err error) *query.ExecutionError {
	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		return &query.ExecutionError{Message: duckErr.Msg, Code: fmt.Sprintf("duckdb-%d", duckErr.Type), Err: err}
	}
	return &query.ExecutionError{Message: err.Error(), Err: err}
}

func normalizeRow(values []any, uuidColumns []bool) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		if uuidColumns[i] {
			if id, ok := asUUID(value); ok {
				normalized[i] = id
				continue
			}
		}
		normalized[i] = normalizeValue(value)
	}
	return normalized
}

// normalizeValue maps driver types onto plain Go values. DECIMAL keeps its
// exact digits as a json.Number.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case duckdb.Decimal:
		return json.Number(decimalString(typed))
	case *duckdb.Decimal:
		if typed == nil {
			return nil
		}
		return json.Number(decimalString(*typed))
	case duckdb.Interval:
		return map[string]any{"months": typed.Months, "days": typed.Days, "micros": typed.Micros}
	case duckdb.Map:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(normalizeValue(key))] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return typed
	}
}

func decimalString(d duckdb.Decimal) string {
	if d.Value == nil {
		return "0"
	}
	digits := new(big.Int).Abs(d.Value).String()
	scale := int(d.Scale)
	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if d.Value.Sign() < 0 {
		digits = "-" + digits
	}
	return digits
}

func asUUID(value any) (string, bool) {
	switch typed := value.(type) {
	case []byte:
		id, err := uuid.FromBytes(typed)
		if err != nil {
			return "", false
		}
		return id.String(), true
	case string:
		if id, err := uuid.Parse(typed); err == nil {
			return id.String(), true
		}
		return "", false
	case fmt.Stringer:
		if id, err := uuid.Parse(typed.String()); err == nil {
			return id.String(), true
		}
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Array && v.Len() == 16 && v.Type().Elem().Kind() == reflect.Uint8 {
		var id uuid.UUID
		reflect.Copy(reflect.ValueOf(id[:]), v)
		return id.String(), true
	}
	return "", false
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
