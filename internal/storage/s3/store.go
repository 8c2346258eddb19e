// Package s3 implements storage.ObjectStore on any S3-compatible endpoint
// (MinIO in development) through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/storage"
)

// bucketAPI is the slice of the minio client the store needs.
type bucketAPI interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
}

type Store struct {
	api    bucketAPI
	bucket string
	root   string
}

func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	api, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	store := &Store{api: api, bucket: bucket, root: cleanRoot(cfg.Prefix)}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newWithAPI(bucket, root string, api bucketAPI) *Store {
	return &Store{api: api, bucket: bucket, root: cleanRoot(root)}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.Put(ctx, s.bucket, objectKey, body, size, opts.ContentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put %s/%s: %w", s.bucket, objectKey, err)
	}
	info.Key = key
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.api.Get(ctx, s.bucket, objectKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, storage.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, objectKey, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.Stat(ctx, s.bucket, objectKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", s.bucket, objectKey, err)
	}
	info.Key = key
	return info, nil
}

// Delete is idempotent: a missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	err = s.api.Delete(ctx, s.bucket, objectKey)
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("delete %s/%s: %w", s.bucket, objectKey, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	listPrefix := strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if s.root != "" {
		listPrefix = s.root + "/" + listPrefix
	}
	objects, err := s.api.List(ctx, s.bucket, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", s.bucket, listPrefix, err)
	}
	out := make([]storage.ObjectInfo, 0, len(objects))
	for _, object := range objects {
		if s.root != "" {
			object.Key = strings.TrimPrefix(object.Key, s.root+"/")
		}
		out = append(out, object)
	}
	return out, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.CreateBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// objectKey resolves key under the store root and refuses keys that climb out
// of it.
func (s *Store) objectKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	if s.root == "" {
		return cleaned, nil
	}
	return s.root + "/" + cleaned, nil
}

func cleanRoot(root string) string {
	root = strings.Trim(strings.TrimSpace(root), "/")
	if root == "" {
		return ""
	}
	if root = path.Clean(root); root == "." {
		return ""
	}
	return root
}

func dial(cfg config.ObjectStoreConfig) (*minioAPI, error) {
	endpoint, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &minioAPI{client: client}, nil
}

// splitEndpoint accepts either host:port or a URL; an https URL forces TLS.
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("object store endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse object store endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("object store endpoint host is required")
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

type minioAPI struct {
	client *minio.Client
}

func (m *minioAPI) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	info, err := m.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, translate(err)
	}
	return storage.ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag}, nil
}

func (m *minioAPI) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	// GetObject is lazy; Stat surfaces NoSuchKey before the caller reads.
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translate(err)
	}
	return object, nil
}

func (m *minioAPI) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translate(err)
	}
	return storage.ObjectInfo{Key: info.Key, Size: info.Size, ETag: info.ETag, LastModified: info.LastModified}, nil
}

func (m *minioAPI) Delete(ctx context.Context, bucket, key string) error {
	return translate(m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (m *minioAPI) List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for object := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, translate(object.Err)
		}
		out = append(out, storage.ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			ETag:         object.ETag,
			LastModified: object.LastModified,
		})
	}
	return out, nil
}

func (m *minioAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	return exists, translate(err)
}

func (m *minioAPI) CreateBucket(ctx context.Context, bucket, region string) error {
	return translate(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
