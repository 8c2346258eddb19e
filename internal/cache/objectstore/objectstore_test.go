package objectstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/snowchat/snowchat/internal/storage"
)

func TestSetThenGet(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	store := New(objects)

	if _, ok, err := store.Get(ctx, "SELECT 1"); ok || err != nil {
		t.Fatalf("Get() on empty store = %v, %v", ok, err)
	}
	if err := store.Set(ctx, "SELECT 1", []byte(`{"rows":[[1]]}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := store.Get(ctx, "SELECT 1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if string(got) != `{"rows":[[1]]}` {
		t.Fatalf("Get() = %s", got)
	}
	if _, ok := objects.data[storage.QueryCacheKey("SELECT 1")]; !ok {
		t.Fatalf("object not written under QueryCacheKey")
	}
}

func TestGetTreatsKeyMismatchAsMiss(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	objects.data[storage.QueryCacheKey("SELECT 1")] = []byte(`{"key":"SELECT 2","value":{}}`)

	if _, ok, err := New(objects).Get(ctx, "SELECT 1"); ok || err != nil {
		t.Fatalf("Get() = %v, %v, want miss", ok, err)
	}
}

func TestGetEvictsUnreadableEntry(t *testing.T) {
	ctx := context.Background()
	objects := newMemoryObjects()
	key := storage.QueryCacheKey("SELECT 1")
	objects.data[key] = []byte("{truncated")

	if _, ok, err := New(objects).Get(ctx, "SELECT 1"); ok || err != nil {
		t.Fatalf("Get() = %v, %v, want miss", ok, err)
	}
	if _, ok := objects.data[key]; ok {
		t.Fatal("unreadable entry was not deleted")
	}
}

func TestSetRejectsNonJSON(t *testing.T) {
	if err := New(newMemoryObjects()).Set(context.Background(), "k", []byte("nope")); err == nil {
		t.Fatal("expected error for non-JSON value")
	}
}

type memoryObjects struct {
	data map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{data: map[string][]byte{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.data[key] = payload
	return storage.ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	payload, ok := m.data[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (m *memoryObjects) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	payload, ok := m.data[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memoryObjects) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, payload := range m.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(payload))})
		}
	}
	return out, nil
}
