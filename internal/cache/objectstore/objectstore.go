// Package objectstore shares the query cache between processes through an
// S3-compatible bucket.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/snowchat/snowchat/internal/storage"
)

// entry is the stored object. Key is kept so a hash collision reads as a miss.
type entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type Store struct {
	objects storage.ObjectStore
}

func New(objects storage.ObjectStore) *Store {
	return &Store{objects: objects}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := storage.ReadObject(ctx, s.objects, storage.QueryCacheKey(key))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored entry
	if err := json.Unmarshal(payload, &stored); err != nil || !json.Valid(stored.Value) {
		// Unreadable entries are evicted so the next Set can replace them.
		if delErr := s.objects.Delete(ctx, storage.QueryCacheKey(key)); delErr != nil {
			return nil, false, fmt.Errorf("evict unreadable cache entry: %w", delErr)
		}
		return nil, false, nil
	}
	if stored.Key != key {
		return nil, false, nil
	}
	return []byte(stored.Value), true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("cache value must be JSON")
	}
	payload, err := json.Marshal(entry{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return storage.WriteObject(ctx, s.objects, storage.QueryCacheKey(key), payload, "application/json")
}
