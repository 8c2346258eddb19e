package duckdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/marcboeker/go-duckdb/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/snowchat/snowchat/internal/cache/memory"
	"github.com/snowchat/snowchat/internal/query"
	"github.com/snowchat/snowchat/internal/storage"
)

type order struct {
	ID       int64   `parquet:"id"`
	Customer string  `parquet:"customer"`
	Amount   float64 `parquet:"amount"`
}

func openEngine(t *testing.T, store storage.ObjectStore) *Engine {
	t.Helper()
	engine, err := Open(context.Background(), Options{Store: store, ParquetPrefix: "warehouse"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestLoadViewsExposesParquetTables(t *testing.T) {
	first := buildParquet(t, []order{{ID: 1, Customer: "acme", Amount: 10}, {ID: 2, Customer: "acme", Amount: 5}})
	second := buildParquet(t, []order{{ID: 3, Customer: "globex", Amount: 7}})
	store := &memoryStore{objects: map[string][]byte{
		"warehouse/orders/part-0001.parquet": first,
		"warehouse/orders/part-0002.parquet": second,
		"warehouse/orders/_SUCCESS":          []byte(""),
	}}
	engine := openEngine(t, store)

	tables, err := engine.LoadViews(context.Background())
	if err != nil {
		t.Fatalf("LoadViews() error = %v", err)
	}
	if len(tables) != 1 || tables[0] != "orders" {
		t.Fatalf("LoadViews() = %v", tables)
	}

	result, err := engine.Query(context.Background(), query.Request{
		SQL: "SELECT customer, SUM(amount) AS total FROM orders GROUP BY customer ORDER BY customer;",
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 2 || result.Rows[0][0] != "acme" || result.Rows[0][1] != float64(15) {
		t.Fatalf("Query() rows = %#v", result.Rows)
	}
}

func TestQueryAppliesRowLimit(t *testing.T) {
	engine := openEngine(t, nil)
	result, err := engine.Query(context.Background(), query.Request{SQL: "SELECT * FROM range(10)", RowLimit: 3})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 3 || len(result.Columns) != 1 {
		t.Fatalf("Query() = %d rows, %v", len(result.Rows), result.Columns)
	}
}

func TestQueryReturnsExecutionErrorVerbatim(t *testing.T) {
	engine := openEngine(t, nil)
	_, err := engine.Query(context.Background(), query.Request{SQL: "SELECT foo FROM missing_table"})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Query() error = %T %v, want *query.ExecutionError", err, err)
	}
	if !strings.Contains(execErr.Message, "missing_table") {
		t.Fatalf("Message = %q", execErr.Message)
	}
}

func TestLoadViewsWithoutStoreIsNoop(t *testing.T) {
	tables, err := openEngine(t, nil).LoadViews(context.Background())
	if err != nil || len(tables) != 0 {
		t.Fatalf("LoadViews() = %v, %v", tables, err)
	}
}

func TestQueryToleratesTrailingLineComment(t *testing.T) {
	engine := openEngine(t, nil)
	for _, sqlText := range []string{
		"SELECT 1 AS one -- trailing comment",
		"SELECT 1 AS one\n-- a comment on its own line",
		"SELECT 1 AS one;",
	} {
		result, err := engine.Query(context.Background(), query.Request{SQL: sqlText, RowLimit: 1000})
		if err != nil {
			t.Fatalf("Query(%q) error = %v", sqlText, err)
		}
		if len(result.Rows) != 1 || result.Rows[0][0] != int32(1) {
			t.Fatalf("Query(%q) rows = %#v", sqlText, result.Rows)
		}
	}
}

func TestQueryNormalizesDecimalAndUUID(t *testing.T) {
	engine := openEngine(t, nil)
	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE sales (id UUID, region VARCHAR, revenue DECIMAL(10,2))`,
		`INSERT INTO sales VALUES
			('0b6f6b8e-3c4b-4f0e-9a57-6f1f2b8f4c11', 'emea', 12.50),
			('5d2a1e90-7e3b-4c55-8f1a-1b2c3d4e5f60', 'emea', 7.25),
			('9a7b6c5d-4e3f-4a1b-8c9d-0e1f2a3b4c5d', 'apac', -0.05)`,
	} {
		if _, err := engine.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}

	result, err := engine.Query(ctx, query.Request{
		SQL:      "SELECT region, CAST(SUM(revenue) AS DECIMAL(12,2)) AS revenue FROM sales GROUP BY region ORDER BY region",
		RowLimit: 1000,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	want := [][]any{{"apac", json.Number("-0.05")}, {"emea", json.Number("19.75")}}
	if !reflect.DeepEqual(result.Rows, want) {
		t.Fatalf("Query() rows = %#v, want %#v", result.Rows, want)
	}

	ids, err := engine.Query(ctx, query.Request{SQL: "SELECT id FROM sales WHERE region = 'apac'"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if ids.Rows[0][0] != "9a7b6c5d-4e3f-4a1b-8c9d-0e1f2a3b4c5d" {
		t.Fatalf("uuid = %#v", ids.Rows[0][0])
	}
}

func TestExecutorHandlesNaNAndMapResults(t *testing.T) {
	executor := query.NewExecutor(openEngine(t, nil), memory.New(), query.ExecutorOptions{RowLimit: 1000})
	ctx := context.Background()

	nan, err := executor.Execute(ctx, "SELECT 'nan'::DOUBLE AS x, 'inf'::DOUBLE AS y", true)
	if err != nil {
		t.Fatalf("Execute(nan) error = %v", err)
	}
	if nan.Rows[0][0] != nil || nan.Rows[0][1] != nil {
		t.Fatalf("Execute(nan) rows = %#v", nan.Rows)
	}

	mapped, err := executor.Execute(ctx, "SELECT MAP {'a': 1} AS m, INTERVAL 2 DAY AS d", false)
	if err != nil {
		t.Fatalf("Execute(map) error = %v", err)
	}
	m, ok := mapped.Rows[0][0].(map[string]any)
	if !ok || m["a"] != json.Number("1") {
		t.Fatalf("map = %#v", mapped.Rows[0][0])
	}
	d, ok := mapped.Rows[0][1].(map[string]any)
	if !ok || d["days"] != json.Number("2") {
		t.Fatalf("interval = %#v", mapped.Rows[0][1])
	}
}

func TestDecimalString(t *testing.T) {
	tests := []struct {
		value int64
		scale uint8
		want  string
	}{
		{1250, 2, "12.50"},
		{5, 3, "0.005"},
		{-5, 2, "-0.05"},
		{42, 0, "42"},
	}
	for _, tt := range tests {
		got := decimalString(duckdb.Decimal{Width: 10, Scale: tt.scale, Value: big.NewInt(tt.value)})
		if got != tt.want {
			t.Fatalf("decimalString(%d, %d) = %q, want %q", tt.value, tt.scale, got, tt.want)
		}
	}
}

func buildParquet(t *testing.T, rows []order) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[order](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet: %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	payload, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (m *memoryStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Delete(context.Context, string) error {
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, payload := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(payload))})
		}
	}
	return out, nil
}
