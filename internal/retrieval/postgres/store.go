// Package postgres stores schema documentation chunks in a pgvector table and
// matches them through the match_documents SQL function.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/snowchat/snowchat/internal/retrieval"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping schema store db: %w", err)
	}
	return nil
}

func (s *Store) Match(ctx context.Context, embedding []float32, topK int) ([]retrieval.Snippet, error) {
	query := `
SELECT content, source, similarity
FROM match_documents($1::vector, $2)`
	rows, err := s.db.QueryContext(ctx, query, vectorLiteral(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("match documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []retrieval.Snippet
	for rows.Next() {
		var snippet retrieval.Snippet
		if err := rows.Scan(&snippet.Text, &snippet.Source, &snippet.Score); err != nil {
			return nil, fmt.Errorf("scan document match: %w", err)
		}
		out = append(out, snippet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Upsert replaces every chunk of each source present in docs.
func (s *Store) Upsert(ctx context.Context, docs []retrieval.Document) error {
	if len(docs) == 0 {
		return nil
	}
	bySource := map[string][]retrieval.Document{}
	for _, doc := range docs {
		bySource[doc.Source] = append(bySource[doc.Source], doc)
	}
	sources := make([]string, 0, len(bySource))
	for source := range bySource {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, source := range sources {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE source = $1`, source); err != nil {
			return fmt.Errorf("delete documents for %s: %w", source, err)
		}
		for _, doc := range bySource[source] {
			query := `
INSERT INTO documents (source, chunk, content, checksum, embedding)
VALUES ($1, $2, $3, $4, $5::vector)`
			if _, err := tx.ExecContext(ctx, query, doc.Source, doc.Chunk, doc.Content, doc.Checksum, vectorLiteral(doc.Embedding)); err != nil {
				return fmt.Errorf("insert document %s#%d: %w", doc.Source, doc.Chunk, err)
			}
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// vectorLiteral renders an embedding in pgvector's text input format.
func vectorLiteral(values []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
