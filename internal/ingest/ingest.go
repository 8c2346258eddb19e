// Package ingest loads markdown schema documentation into a vector store.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/snowchat/snowchat/internal/retrieval"
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

type Report struct {
	Files   int
	Skipped int
	Chunks  int
}

type Ingester struct {
	embedder retrieval.Embedder
	store    retrieval.VectorStore
	cfg      Config
	logger   *slog.Logger
}

func New(embedder retrieval.Embedder, store retrieval.VectorStore, cfg Config, logger *slog.Logger) *Ingester {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ingester{embedder: embedder, store: store, cfg: cfg, logger: logger}
}

// Run embeds every *.md file under fsys whose md5 differs from what the store
// already holds for that path.
func (i *Ingester) Run(ctx context.Context, fsys fs.FS) (Report, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(p), ".md") {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("walk docs: %w", err)
	}
	sort.Strings(files)

	existing, err := i.store.Checksums(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load checksums: %w", err)
	}

	var report Report
	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return report, fmt.Errorf("read %s: %w", file, err)
		}
		report.Files++
		checksum := retrieval.Checksum(content)
		if existing[file] == checksum {
			report.Skipped++
			i.logger.DebugContext(ctx, "document unchanged", slog.String("source", file))
			continue
		}

		chunks := Split(string(content), i.cfg.ChunkSize, i.cfg.ChunkOverlap)
		if len(chunks) == 0 {
			continue
		}
		docs, err := i.embedChunks(ctx, file, checksum, chunks)
		if err != nil {
			return report, err
		}
		if err := i.store.Upsert(ctx, docs); err != nil {
			return report, fmt.Errorf("store %s: %w", file, err)
		}
		report.Chunks += len(docs)
		i.logger.InfoContext(ctx, "document ingested",
			slog.String("source", file),
			slog.Int("chunks", len(docs)),
		)
	}
	return report, nil
}

func (i *Ingester) embedChunks(ctx context.Context, source, checksum string, chunks []string) ([]retrieval.Document, error) {
	docs := make([]retrieval.Document, 0, len(chunks))
	for start := 0; start < len(chunks); start += i.cfg.BatchSize {
		end := start + i.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		vectors, err := i.embedder.Embed(ctx, chunks[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", source, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed %s: expected %d vectors, got %d", source, end-start, len(vectors))
		}
		for j, vector := range vectors {
			docs = append(docs, retrieval.Document{
				Source:    source,
				Chunk:     start + j,
				Content:   chunks[start+j],
				Checksum:  checksum,
				Embedding: vector,
			})
		}
	}
	return docs, nil
}
