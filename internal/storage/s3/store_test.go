package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/snowchat/snowchat/internal/storage"
)

func TestPutResolvesKeyUnderRoot(t *testing.T) {
	api := newFakeAPI()
	store := newWithAPI("snowchat", "/prod/", api)

	info, err := store.Put(context.Background(), "/query-cache/abc.json", bytes.NewBufferString("{}"), 2, storage.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := api.objects["prod/query-cache/abc.json"]; !ok {
		t.Fatalf("objects = %v", api.keys())
	}
	if info.Key != "/query-cache/abc.json" {
		t.Fatalf("Put().Key = %q", info.Key)
	}
	if api.contentTypes["prod/query-cache/abc.json"] != "application/json" {
		t.Fatalf("content type not forwarded")
	}
}

func TestObjectKeyRejectsTraversal(t *testing.T) {
	store := newWithAPI("snowchat", "", newFakeAPI())
	for _, key := range []string{"", "  ", "../secrets", "a/../../b", ".."} {
		if _, err := store.objectKey(key); err == nil {
			t.Fatalf("objectKey(%q) expected error", key)
		}
	}
}

func TestGetMissingObjectIsNotFound(t *testing.T) {
	store := newWithAPI("snowchat", "", newFakeAPI())
	_, err := store.Get(context.Background(), "query-cache/missing.json")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	store := newWithAPI("snowchat", "", newFakeAPI())
	if err := store.Delete(context.Background(), "missing.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestListStripsRoot(t *testing.T) {
	api := newFakeAPI()
	api.objects["prod/warehouse/orders/part-1.parquet"] = []byte("x")
	api.objects["prod/warehouse/customers/part-1.parquet"] = []byte("yy")
	api.objects["prod/query-cache/a.json"] = []byte("{}")
	store := newWithAPI("snowchat", "prod", api)

	objects, err := store.List(context.Background(), "warehouse/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("List() = %+v", objects)
	}
	for _, object := range objects {
		if !strings.HasPrefix(object.Key, "warehouse/") {
			t.Fatalf("List() key = %q, want root stripped", object.Key)
		}
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	api := newFakeAPI()
	store := newWithAPI("snowchat", "", api)
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if !api.bucketCreated {
		t.Fatal("expected CreateBucket to be called")
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"https://minio.example.com", false, "minio.example.com", true},
		{"http://localhost:9000", false, "localhost:9000", false},
		{"localhost:9000", true, "localhost:9000", true},
	}
	for _, tt := range tests {
		host, secure, err := splitEndpoint(tt.raw, tt.useSSL)
		if err != nil {
			t.Fatalf("splitEndpoint(%q) error = %v", tt.raw, err)
		}
		if host != tt.wantHost || secure != tt.wantSecure {
			t.Fatalf("splitEndpoint(%q) = %q/%v", tt.raw, host, secure)
		}
	}
	if _, _, err := splitEndpoint("", false); err == nil {
		t.Fatal("expected empty endpoint error")
	}
}

type fakeAPI struct {
	objects       map[string][]byte
	contentTypes  map[string]string
	bucketCreated bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeAPI) keys() []string {
	out := make([]string, 0, len(f.objects))
	for key := range f.objects {
		out = append(out, key)
	}
	return out
}

func (f *fakeAPI) Put(_ context.Context, _, key string, reader io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	payload, _ := io.ReadAll(reader)
	f.objects[key] = payload
	f.contentTypes[key] = contentType
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (f *fakeAPI) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	payload, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (f *fakeAPI) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	payload, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}

func (f *fakeAPI) Delete(_ context.Context, _, key string) error {
	if _, ok := f.objects[key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeAPI) List(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, payload := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(payload))})
		}
	}
	return out, nil
}

func (f *fakeAPI) BucketExists(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeAPI) CreateBucket(context.Context, string, string) error {
	f.bucketCreated = true
	return nil
}
