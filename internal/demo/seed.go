package demo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/snowchat/snowchat/internal/storage"
)

// Docs holds the schema documentation for the demo tables, keyed by file
// name. It is what ingest embeds so retrieval can find the tables.
var Docs = map[string]string{
	"customers.md": `# CUSTOMERS

One row per customer account.

| column | type | description |
|---|---|---|
| customer_id | BIGINT | primary key |
| name | VARCHAR | full name |
| country | VARCHAR | ISO 3166 alpha-2 country code, e.g. US, DE |
| segment | VARCHAR | consumer, small_business or enterprise |
| signup_date | VARCHAR | account creation date, YYYY-MM-DD |
`,
	"orders.md": `# ORDERS

One row per order. Join to CUSTOMERS on customer_id.

| column | type | description |
|---|---|---|
| order_id | BIGINT | primary key |
| customer_id | BIGINT | references customers.customer_id |
| order_date | VARCHAR | YYYY-MM-DD; cast with CAST(order_date AS DATE) |
| status | VARCHAR | shipped, pending, returned or cancelled |
| channel | VARCHAR | web, mobile or store |
| amount | DOUBLE | order total; 0 for cancelled orders |
| currency | VARCHAR | always USD |
`,
}

type Seeder struct {
	Store  storage.ObjectStore
	Prefix string
	Logger *slog.Logger
}

// Upload writes each table as one parquet object at
// <prefix>/<table>/part-00000.parquet and returns the keys. A part already
// stored with the same size is left alone; the generator is deterministic per
// seed so a rerun does not rewrite the bucket.
func (s Seeder) Upload(ctx context.Context, data Dataset) ([]string, error) {
	if s.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	customers, err := encode(data.Customers)
	if err != nil {
		return nil, fmt.Errorf("encode customers: %w", err)
	}
	orders, err := encode(data.Orders)
	if err != nil {
		return nil, fmt.Errorf("encode orders: %w", err)
	}

	tables := []struct {
		name    string
		payload []byte
		rows    int
	}{
		{"customers", customers, len(data.Customers)},
		{"orders", orders, len(data.Orders)},
	}
	keys := make([]string, 0, len(tables))
	for _, table := range tables {
		key := path.Join(s.Prefix, table.name, "part-00000.parquet")
		info, err := s.Store.Stat(ctx, key)
		switch {
		case err == nil && info.Size == int64(len(table.payload)):
			logger.InfoContext(ctx, "demo table unchanged", slog.String("key", key))
			keys = append(keys, key)
			continue
		case err != nil && !errors.Is(err, storage.ErrObjectNotFound):
			return keys, fmt.Errorf("stat %s: %w", key, err)
		}
		if err := storage.WriteObject(ctx, s.Store, key, table.payload, "application/vnd.apache.parquet"); err != nil {
			return keys, fmt.Errorf("upload %s: %w", key, err)
		}
		logger.InfoContext(ctx, "demo table uploaded", slog.String("key", key), slog.Int("rows", table.rows))
		keys = append(keys, key)
	}
	return keys, nil
}

// WriteDocs writes Docs into dir, creating it if needed.
func WriteDocs(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create docs dir: %w", err)
	}
	written := make([]string, 0, len(Docs))
	for _, name := range []string{"customers.md", "orders.md"} {
		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, []byte(Docs[name]), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func encode[T any](rows []T) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
