package blob

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"linkvault/cfg"
)

// ErrNotFound is returned when an object key has no blob behind it. Callers
// deleting a paste treat this as already-gone rather than a failure.
var ErrNotFound = errors.New("blob: object not found")

// Store holds file paste payloads. Text pastes never touch the store.
type Store interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Remove(ctx context.Context, key string) error
}

type MinIO struct {
	client *minio.Client
	bucket string
}

func NewMinIO(cfg *cfg.Cfg) (*MinIO, error) {
	if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey.Value() == "" {
		return nil, errors.New("minio configuration is incomplete")
	}
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey.Value(), ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "initialize minio client")
	}
	m := &MinIO{client: client, bucket: cfg.MinioBucket}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return errors.Wrap(err, "check bucket existence")
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return errors.Wrap(err, "create bucket")
		}
	}
	return nil
}

// Put streams data into the bucket. Size may be -1 when the caller does not
// know the length up front; minio falls back to multipart upload.
func (m *MinIO) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return errors.Wrap(err, "put object")
}

// Get streams an object back without buffering it in memory.
func (m *MinIO) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, errors.Wrap(err, "get object")
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, errors.Wrap(err, "stat object")
	}
	return obj, stat.Size, nil
}

// Remove deletes an object. A missing object is reported as ErrNotFound so
// record deletion can proceed regardless.
func (m *MinIO) Remove(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return errors.Wrap(err, "remove object")
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
