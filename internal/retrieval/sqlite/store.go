// Package sqlite is a single-file schema store for local use. Embeddings are
// kept as JSON arrays and ranked in process by cosine similarity, which is
// fine for the few hundred chunks a warehouse schema produces.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/snowchat/snowchat/internal/retrieval"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open schema store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping schema store: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS documents (
	source TEXT NOT NULL,
	chunk INTEGER NOT NULL,
	content TEXT NOT NULL,
	checksum TEXT NOT NULL,
	embedding TEXT NOT NULL,
	PRIMARY KEY (source, chunk)
)`)
	return err
}

func (s *Store) Match(ctx context.Context, embedding []float32, topK int) ([]retrieval.Snippet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content, source, embedding FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []retrieval.Snippet
	for rows.Next() {
		var content, source, raw string
		if err := rows.Scan(&content, &source, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var stored []float32
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", source, err)
		}
		out = append(out, retrieval.Snippet{
			Text:   content,
			Source: source,
			Score:  cosine(embedding, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, docs []retrieval.Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cleared := map[string]bool{}
	for _, doc := range docs {
		if !cleared[doc.Source] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE source = ?`, doc.Source); err != nil {
				return fmt.Errorf("delete documents for %s: %w", doc.Source, err)
			}
			cleared[doc.Source] = true
		}
		raw, err := json.Marshal(doc.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (source, chunk, content, checksum, embedding) VALUES (?, ?, ?, ?, ?)`,
			doc.Source, doc.Chunk, doc.Content, doc.Checksum, string(raw),
		); err != nil {
			return fmt.Errorf("insert document %s#%d: %w", doc.Source, doc.Chunk, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit documents: %w", err)
	}
	return nil
}

func (s *Store) Checksums(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query document checksums: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]string{}
	for rows.Next() {
		var source, checksum string
		if err := rows.Scan(&source, &checksum); err != nil {
			return nil, fmt.Errorf("scan document checksum: %w", err)
		}
		out[source] = checksum
	}
	return out, rows.Err()
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
