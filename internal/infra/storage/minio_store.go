package storage

import (
	"bytes"
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"image-edit-service/internal/config"
	"image-edit-service/internal/domain"
	"image-edit-service/internal/domain/ports/storage"
)

var _ storage.BlobStore = (*MinioStore)(nil)

// MinioStore implements the BlobStore port against any S3-compatible
// endpoint. The client is long-lived and shared across concurrent callers;
// only a successful bucket check is cached, so a transient failure (storage
// still starting, a canceled request context) is retried on the next call.
type MinioStore struct {
	client *minio.Client
	bucket string
	log    *zerolog.Logger

	ensureMu sync.Mutex
	checked  bool
}

func NewMinioStore(cfg config.StorageConfig, log *zerolog.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "connect", Key: cfg.Endpoint, Err: err}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, log: log}, nil
}

// EnsureBucket creates the bucket when missing. A successful check is done
// at most once per process; a failed check is never cached.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.checked {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &domain.StorageError{Op: "head-bucket", Key: s.bucket, Err: err}
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return &domain.StorageError{Op: "make-bucket", Key: s.bucket, Err: err}
		}
		s.log.Info().Str("bucket", s.bucket).Msg("created storage bucket")
	}
	s.checked = true
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", &domain.StorageError{Op: "put", Key: key, Err: err}
	}
	s.log.Info().Str("key", key).Str("bucket", s.bucket).Int("size", len(data)).Msg("uploaded object")
	return key, nil
}

func (s *MinioStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", &domain.StorageError{Op: "sign", Key: key, Err: err}
	}
	return u.String(), nil
}
