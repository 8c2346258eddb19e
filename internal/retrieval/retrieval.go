// Package retrieval finds schema documentation relevant to a question.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Separator joins snippets when a Context is rendered into a prompt.
const Separator = "\n\n"

var ErrEmptyQuery = errors.New("retrieval query is required")

type Snippet struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// Context is the ordered result of one retrieval, most relevant first.
// The zero value is a valid empty context.
type Context struct {
	Snippets []Snippet `json:"snippets"`
}

func (c Context) Empty() bool {
	return len(c.Snippets) == 0
}

func (c Context) Text() string {
	parts := make([]string, 0, len(c.Snippets))
	for _, snippet := range c.Snippets {
		parts = append(parts, snippet.Text)
	}
	return strings.Join(parts, Separator)
}

// Searcher is the vector store boundary.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Snippet, error)
}

// RetrievalError wraps any failure of the search collaborator.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve schema context: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

type Retriever struct {
	searcher Searcher
	topK     int
}

func NewRetriever(searcher Searcher, topK int) *Retriever {
	if topK <= 0 {
		topK = 4
	}
	return &Retriever{searcher: searcher, topK: topK}
}

func (r *Retriever) Retrieve(ctx context.Context, query string) (Context, error) {
	if strings.TrimSpace(query) == "" {
		return Context{}, ErrEmptyQuery
	}
	if r == nil || r.searcher == nil {
		return Context{}, nil
	}
	snippets, err := r.searcher.Search(ctx, query, r.topK)
	if err != nil {
		return Context{}, &RetrievalError{Query: query, Err: err}
	}

	out := make([]Snippet, 0, len(snippets))
	for _, snippet := range snippets {
		if strings.TrimSpace(snippet.Text) == "" {
			continue
		}
		out = append(out, snippet)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > r.topK {
		out = out[:r.topK]
	}
	return Context{Snippets: out}, nil
}
