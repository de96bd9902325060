package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage implements Store on MinIO or any S3 compatible service.
type MinioStorage struct {
	client *minio.Client
	bucket string
	prefix string
}

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // prepended to every key, e.g. "rostros"
	UseSSL    bool
}

func NewMinioStorage(opts MinioOptions) (*MinioStorage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client for '%s': %w", opts.Endpoint, err)
	}
	logger.Infof("media.store: Initialized MinioStorage at %s/%s/%s", opts.Endpoint, opts.Bucket, opts.Prefix)
	return NewMinioStorageWithClient(client, opts.Bucket, opts.Prefix), nil
}

func NewMinioStorageWithClient(client *minio.Client, bucket, prefix string) *MinioStorage {
	return &MinioStorage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *MinioStorage) objectName(key string) string {
	return path.Join(s.prefix, key)
}

func isMissing(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// EnsureDir creates the bucket when it does not exist yet.
func (s *MinioStorage) EnsureDir(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: failed to check bucket '%s': %v", ErrPersistence, s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: failed to create bucket '%s': %v", ErrPersistence, s.bucket, err)
	}
	logger.Infof("media.store: Created bucket %s", s.bucket)
	return nil
}

func (s *MinioStorage) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), r, size, minio.PutObjectOptions{
		ContentType: contentTypeFor(key),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload '%s': %v", ErrPersistence, key, err)
	}
	return nil
}

func (s *MinioStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	name := s.objectName(key)
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		if isMissing(err) {
			return nil, fmt.Errorf("asset not found at '%s': %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to stat '%s': %v", ErrPersistence, key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open '%s': %v", ErrPersistence, key, err)
	}
	return obj, nil
}

func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
	if err != nil && !isMissing(err) {
		return fmt.Errorf("%w: failed to delete '%s': %v", ErrPersistence, key, err)
	}
	return nil
}

func (s *MinioStorage) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := s.objectName(prefix)
	if prefix == "" && s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: failed to list bucket '%s': %v", ErrPersistence, s.bucket, obj.Err)
		}
		key := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
