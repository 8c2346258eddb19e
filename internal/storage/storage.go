// Package storage is the object store seam shared by the query cache and the
// parquet-backed warehouse.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns every object under prefix, keys relative to the store root.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ReadObject fetches a whole object into memory.
func ReadObject(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return payload, nil
}

func WriteObject(ctx context.Context, store ObjectStore, key string, payload []byte, contentType string) error {
	_, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), PutOptions{ContentType: contentType})
	return err
}
