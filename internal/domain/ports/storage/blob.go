package storage

import (
	"context"
	"time"
)

// BlobStore is the port for content-addressed object storage. Implementations
// are long-lived and safe for concurrent use; a successful bucket check is
// done at most once per process and failed checks are retried.
type BlobStore interface {
	// EnsureBucket performs idempotent one-time setup before first use.
	EnsureBucket(ctx context.Context) error
	// Upload writes data under key and returns the stored key.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// SignedURL returns a time-limited read URL for key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
