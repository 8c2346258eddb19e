// Package cache defines the query result cache. Keys are the exact SQL text a
// statement was executed with; no normalization is applied.
package cache

import "context"

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set overwrites any previous value; repeated writes are harmless.
	Set(ctx context.Context, key string, value []byte) error
}

// Nop never hits and drops every write.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Nop) Set(context.Context, string, []byte) error { return nil }
