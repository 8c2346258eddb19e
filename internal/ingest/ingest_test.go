package ingest

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"unicode/utf8"

	"github.com/snowchat/snowchat/internal/retrieval"
)

func TestSplitPacksParagraphs(t *testing.T) {
	text := "# PRODUCTS\n\nid, name\n\ncategory"
	got := Split(text, 100, 0)
	if len(got) != 1 || got[0] != "# PRODUCTS\n\nid, name\n\ncategory" {
		t.Fatalf("Split() = %#v", got)
	}

	got = Split(text, 12, 0)
	want := []string{"# PRODUCTS", "id, name", "category"}
	if len(got) != len(want) {
		t.Fatalf("Split() = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Split()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitWindowsLongParagraphWithOverlap(t *testing.T) {
	text := strings.Repeat("é", 25)
	got := Split(text, 10, 2)
	if len(got) != 3 {
		t.Fatalf("len(Split()) = %d, want 3: %#v", len(got), got)
	}
	for _, chunk := range got {
		if n := utf8.RuneCountInString(chunk); n > 10 {
			t.Fatalf("chunk has %d runes, want <= 10", n)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	if got := Split("\n\n  \n\n", 1000, 0); len(got) != 0 {
		t.Fatalf("Split() = %#v, want none", got)
	}
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text))}
	}
	return out, nil
}

type memoryStore struct {
	sums map[string]string
	docs []retrieval.Document
}

func (m *memoryStore) Match(context.Context, []float32, int) ([]retrieval.Snippet, error) {
	return nil, nil
}

func (m *memoryStore) Upsert(_ context.Context, docs []retrieval.Document) error {
	for _, doc := range docs {
		m.sums[doc.Source] = doc.Checksum
	}
	m.docs = append(m.docs, docs...)
	return nil
}

func (m *memoryStore) Checksums(context.Context) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range m.sums {
		out[k] = v
	}
	return out, nil
}

func TestRunSkipsUnchangedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"products.md":      {Data: []byte("PRODUCTS(id, name, category)")},
		"orders/orders.md": {Data: []byte("ORDER_DETAILS(order_id, amount)")},
		"notes.txt":        {Data: []byte("ignored")},
	}
	store := &memoryStore{sums: map[string]string{
		"products.md": retrieval.Checksum([]byte("PRODUCTS(id, name, category)")),
	}}
	embedder := &fakeEmbedder{}

	report, err := New(embedder, store, Config{ChunkSize: 1000}, nil).Run(context.Background(), fsys)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Files != 2 || report.Skipped != 1 || report.Chunks != 1 {
		t.Fatalf("Run() report = %+v", report)
	}
	if len(store.docs) != 1 || store.docs[0].Source != "orders/orders.md" {
		t.Fatalf("stored docs = %+v", store.docs)
	}

	report, err = New(embedder, store, Config{ChunkSize: 1000}, nil).Run(context.Background(), fsys)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Skipped != 2 || embedder.calls != 1 {
		t.Fatalf("second Run() report = %+v, embed calls = %d", report, embedder.calls)
	}
}

func TestRunBatchesEmbeddings(t *testing.T) {
	fsys := fstest.MapFS{
		"big.md": {Data: []byte("a\n\nb\n\nc\n\nd\n\ne")},
	}
	store := &memoryStore{sums: map[string]string{}}
	embedder := &fakeEmbedder{}

	report, err := New(embedder, store, Config{ChunkSize: 1, BatchSize: 2}, nil).Run(context.Background(), fsys)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Chunks != 5 || embedder.calls != 3 {
		t.Fatalf("report = %+v, embed calls = %d", report, embedder.calls)
	}
	for i, doc := range store.docs {
		if doc.Chunk != i {
			t.Fatalf("docs[%d].Chunk = %d", i, doc.Chunk)
		}
	}
}
