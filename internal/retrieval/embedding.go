package retrieval

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Document is one chunk of schema documentation as stored in a VectorStore.
type Document struct {
	Source    string
	Chunk     int
	Content   string
	Checksum  string
	Embedding []float32
}

type VectorStore interface {
	Match(ctx context.Context, embedding []float32, topK int) ([]Snippet, error)
	Upsert(ctx context.Context, docs []Document) error
	Checksums(ctx context.Context) (map[string]string, error)
}

// EmbeddingSearcher embeds the query and asks the store for its nearest chunks.
type EmbeddingSearcher struct {
	Embedder Embedder
	Store    VectorStore
}

func (s EmbeddingSearcher) Search(ctx context.Context, query string, topK int) ([]Snippet, error) {
	vectors, err := s.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}
	snippets, err := s.Store.Match(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("match documents: %w", err)
	}
	return snippets, nil
}

func Checksum(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}
